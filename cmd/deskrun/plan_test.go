package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"runtime"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/deskrun/deskrun/internal/environ"
	clierrors "github.com/deskrun/deskrun/internal/errors"
	"github.com/deskrun/deskrun/internal/output"
	"github.com/deskrun/deskrun/internal/paths"
	"github.com/deskrun/deskrun/internal/terminal"
	"github.com/deskrun/deskrun/internal/testutil"
)

// fixturePlan builds a plan against an in-memory Linux R install.
func fixturePlan(t *testing.T, devMode bool) LaunchPlan {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fixture uses slash-separated paths")
	}

	fsys := fstest.MapFS{
		"opt/R/4.4/lib/R":       &fstest.MapFile{Mode: fs.ModeDir},
		"opt/R/4.4/lib/R/share": &fstest.MapFile{Mode: fs.ModeDir},
		"opt/R/4.4/lib/R/doc":   &fstest.MapFile{Mode: fs.ModeDir},
	}

	env := environ.NewBuilder(environ.Options{RuntimeHome: "/opt/R/4.4/lib/R"},
		environ.WithPlatform("linux"),
		environ.WithStat(func(name string) (fs.FileInfo, error) {
			return fs.Stat(fsys, strings.TrimPrefix(name, "/"))
		}),
		environ.WithGetenv(func(key string) string {
			if key == "LD_LIBRARY_PATH" {
				return "/usr/local/lib"
			}

			return ""
		}),
		environ.WithLookPath(func(string) (string, error) { return "", errors.New("not on PATH") }),
	)

	inst, err := paths.ResolveInstallation("/opt/deskrun", "")
	if err != nil {
		t.Fatalf("ResolveInstallation() error = %v", err)
	}

	plan, err := buildPlan(context.Background(), inst, env, devMode, 40810)
	if err != nil {
		t.Fatalf("buildPlan() error = %v", err)
	}

	return plan
}

func TestPlan_TextGolden(t *testing.T) {
	plan := fixturePlan(t, true)

	var buf bytes.Buffer

	out := output.NewWriter(&buf, &buf, &terminal.Info{NoColor: true, Width: 80, Height: 24})
	renderPlan(out, plan)

	testutil.AssertGolden(t, buf.String(), "plan_text.golden")
}

func TestPlan_StructuredGolden(t *testing.T) {
	plan := fixturePlan(t, true)

	testutil.AssertGoldenJSON(t, plan, "plan.json")
	testutil.AssertGoldenYAML(t, plan, "plan.yaml")
}

func TestPlan_RedactsCredentials(t *testing.T) {
	plan := fixturePlan(t, true)

	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Args []string          `json:"args"`
		Env  map[string]string `json:"env"`
	}

	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if got := decoded.Env["RS_SHARED_SECRET"]; got != redacted {
		t.Errorf("env RS_SHARED_SECRET = %q, want %q", got, redacted)
	}

	for i, arg := range decoded.Args {
		if arg == "--launcher-token" && decoded.Args[i+1] != redacted {
			t.Errorf("launcher token = %q, want %q", decoded.Args[i+1], redacted)
		}
	}

	if last := decoded.Args[len(decoded.Args)-2:]; last[0] != "--show-help-home" || last[1] != "1" {
		t.Errorf("args end with %q, want first-run hint", last)
	}
}

func TestPlan_EphemeralPort(t *testing.T) {
	plan := fixturePlan(t, false)

	if plan.PortMode != "ephemeral" {
		t.Errorf("PortMode = %q, want ephemeral", plan.PortMode)
	}

	if plan.URL == "http://127.0.0.1:40810" {
		t.Errorf("URL = %q, want an ephemeral port", plan.URL)
	}

	if plan.GateScope != plan.URL+"/*" {
		t.Errorf("GateScope = %q, want %q", plan.GateScope, plan.URL+"/*")
	}
}

func TestPlan_RuntimeMissing(t *testing.T) {
	env := environ.NewBuilder(environ.Options{},
		environ.WithPlatform("linux"),
		environ.WithGetenv(func(string) string { return "" }),
		environ.WithStat(func(string) (fs.FileInfo, error) { return nil, fs.ErrNotExist }),
		environ.WithLookPath(func(string) (string, error) { return "", errors.New("not on PATH") }),
	)

	_, err := buildPlan(context.Background(), paths.Installation{}, env, true, 40810)

	var cliErr *clierrors.CLIError
	if !errors.As(err, &cliErr) || cliErr.Code != clierrors.ExitEnvironment {
		t.Fatalf("buildPlan() error = %v, want ExitEnvironment CLIError", err)
	}
}
