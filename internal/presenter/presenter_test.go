package presenter

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/deskrun/deskrun/internal/output"
	"github.com/deskrun/deskrun/internal/terminal"
)

func TestHeadless_Text(t *testing.T) {
	var out bytes.Buffer

	w := output.NewWriter(&out, &bytes.Buffer{}, &terminal.Info{})

	err := Headless{Out: w}.Present(context.Background(), Endpoint{URL: "http://127.0.0.1:40810", Header: "X-Shared-Secret"})
	if err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	if !strings.Contains(out.String(), "Session ready at http://127.0.0.1:40810") {
		t.Errorf("output = %q", out.String())
	}
}

func TestHeadless_JSON(t *testing.T) {
	var out bytes.Buffer

	w := output.NewWriter(&out, &bytes.Buffer{}, &terminal.Info{})
	w.JSON = true

	if err := (Headless{Out: w}).Present(context.Background(), Endpoint{URL: "http://127.0.0.1:5000", Header: "X-Shared-Secret"}); err != nil {
		t.Fatal(err)
	}

	var got map[string]string
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}

	if got["url"] != "http://127.0.0.1:5000" {
		t.Errorf("url = %q", got["url"])
	}
}

func TestFunc(t *testing.T) {
	var seen string

	p := Func(func(_ context.Context, ep Endpoint) error {
		seen = ep.URL
		return nil
	})

	if err := p.Present(context.Background(), Endpoint{URL: "http://127.0.0.1:1"}); err != nil {
		t.Fatal(err)
	}

	if seen != "http://127.0.0.1:1" {
		t.Errorf("seen = %q", seen)
	}
}
