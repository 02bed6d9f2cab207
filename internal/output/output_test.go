package output

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/deskrun/deskrun/internal/terminal"
	"github.com/deskrun/deskrun/internal/testutil"
)

// testTerminal returns a terminal.Info for testing (non-TTY, no color).
func testTerminal() *terminal.Info {
	return &terminal.Info{
		IsTTY:   false,
		NoColor: true,
		Width:   80,
		Height:  24,
	}
}

func TestWriter_QuietMode(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
	}{
		{"print", func(w *Writer) { w.Print("hello %s", "world") }},
		{"println", func(w *Writer) { w.Println("hello") }},
		{"success", func(w *Writer) { w.Success("ok") }},
		{"warning", func(w *Writer) { w.Warning("careful") }},
		{"info", func(w *Writer) { w.Info("fyi") }},
		{"muted", func(w *Writer) { w.Muted("quiet") }},
		{"fields", func(w *Writer) { w.Fields([]KeyValue{{"url", "http://127.0.0.1:40810"}}) }},
		{"list", func(w *Writer) { w.List([]string{"--www-port"}) }},
		{"heading", func(w *Writer) { w.Heading("Launch") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			w := NewWriter(&buf, &buf, testTerminal())
			w.Quiet = true
			tt.write(w)

			if buf.Len() != 0 {
				t.Errorf("quiet mode wrote %q", buf.String())
			}
		})
	}
}

func TestWriter_FailureIgnoresQuiet(t *testing.T) {
	var out, errBuf bytes.Buffer

	w := NewWriter(&out, &errBuf, testTerminal())
	w.Quiet = true
	w.Failure("session exited with %s", "exit code 1")

	if got := errBuf.String(); got != XMark+" session exited with exit code 1\n" {
		t.Errorf("Failure() = %q", got)
	}

	if out.Len() != 0 {
		t.Errorf("Failure() wrote to stdout: %q", out.String())
	}
}

func TestWriter_Fields(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.Fields([]KeyValue{
		{"url", "http://127.0.0.1:40810"},
		{"install root", "/opt/app"},
	})

	want := "  url           http://127.0.0.1:40810\n  install root  /opt/app\n"
	if got := buf.String(); got != want {
		t.Errorf("Fields() = %q, want %q", got, want)
	}
}

func TestWriter_PrintYAML(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	if err := w.PrintYAML(map[string]any{"url": "http://127.0.0.1:40810", "args": []string{"desktop"}}); err != nil {
		t.Fatalf("PrintYAML() error = %v", err)
	}

	want := "args:\n  - desktop\nurl: http://127.0.0.1:40810\n"
	if got := buf.String(); got != want {
		t.Errorf("PrintYAML() = %q, want %q", got, want)
	}
}

func TestWriter_Context(t *testing.T) {
	w := NewWriter(&bytes.Buffer{}, &bytes.Buffer{}, testTerminal())
	ctx := w.WithContext(context.Background())

	if FromContext(ctx) != w {
		t.Error("FromContext() did not return stored writer")
	}

	if FromContext(context.Background()) == nil {
		t.Error("FromContext() without writer returned nil")
	}
}

func TestWriter_SetNoColor(t *testing.T) {
	term := &terminal.Info{IsTTY: true}
	w := NewWriter(&bytes.Buffer{}, &bytes.Buffer{}, term)
	w.SetNoColor(true)

	if w.Terminal().ColorEnabled() {
		t.Error("ColorEnabled() = true after SetNoColor(true)")
	}
}

func TestSpinner_DisabledFallback(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	s := w.Spinner("Waiting for session")
	s.Start()
	s.StopWithSuccess("Session answered")

	got := buf.String()
	if !strings.HasPrefix(got, "Waiting for session... done\n") {
		t.Errorf("spinner output = %q", got)
	}

	if !strings.Contains(got, CheckMark+" Session answered") {
		t.Errorf("spinner output missing success line: %q", got)
	}
}

func TestSpinner_SilentInJSONMode(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.JSON = true

	s := w.Spinner("Waiting")
	s.Start()
	s.StopWithFailure("nope")

	if buf.Len() != 0 {
		t.Errorf("spinner wrote %q in JSON mode", buf.String())
	}
}

func TestPrintJSON_Golden(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())

	err := w.PrintJSON(struct {
		URL  string   `json:"url"`
		Args []string `json:"args"`
	}{
		URL:  "http://127.0.0.1:40810",
		Args: []string{"--program-mode", "desktop"},
	})
	if err != nil {
		t.Fatalf("PrintJSON() error = %v", err)
	}

	testutil.AssertGolden(t, buf.String(), "json_output.golden")
}

func TestStatusMessages_Golden(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())

	w.Heading("Launch")
	w.Success("Session ready at %s", "http://127.0.0.1:40810")
	w.Warning("Runtime home not configured, using %s", "/usr/lib/R")
	w.Info("Metrics on %s", "127.0.0.1:9464")
	w.Muted("Press Ctrl+C to stop the session")

	testutil.AssertGolden(t, buf.String(), "status_messages.golden")
}
