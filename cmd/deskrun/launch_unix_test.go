//go:build unix

package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	clierrors "github.com/deskrun/deskrun/internal/errors"
)

// fakeInstall lays out an install root whose session binary runs script.
// An empty script leaves the binary out.
func fakeInstall(t *testing.T, script string, mode os.FileMode) string {
	t.Helper()

	root := t.TempDir()

	for _, dir := range []string{"conf", "session"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := os.WriteFile(filepath.Join(root, "conf", "rdesktop-dev.conf"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if script != "" {
		if err := os.WriteFile(filepath.Join(root, "session", "rsession"), []byte("#!/bin/sh\n"+script+"\n"), mode); err != nil {
			t.Fatal(err)
		}
	}

	return root
}

func runLaunchArgs(t *testing.T, root string, extra ...string) int {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	args := []string{
		"launch",
		"--quiet",
		"--log-stderr", "off",
		"--log-file", filepath.Join(t.TempDir(), "deskrun.log"),
		"--install-root", root,
		"--runtime-home", t.TempDir(),
		"--dev=false",
	}

	return run(append(args, extra...), io.Discard)
}

func TestLaunch_ExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		root  func(t *testing.T) string
		extra []string
		want  int
	}{
		{
			name: "install root missing",
			root: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing") },
			want: clierrors.ExitConfig,
		},
		{
			name: "session binary missing",
			root: func(t *testing.T) string { return fakeInstall(t, "", 0) },
			want: clierrors.ExitSpawn,
		},
		{
			name: "session binary not executable",
			root: func(t *testing.T) string { return fakeInstall(t, "exit 0", 0o644) },
			want: clierrors.ExitSpawn,
		},
		{
			name:  "session exits before ready",
			root:  func(t *testing.T) string { return fakeInstall(t, "exit 3", 0o755) },
			extra: []string{"--ready-timeout", "10s"},
			want:  clierrors.ExitChild,
		},
		{
			name: "session exits with readiness off",
			root: func(t *testing.T) string { return fakeInstall(t, "exit 1", 0o755) },
			want: clierrors.ExitChild,
		},
		{
			name:  "session never answers",
			root:  func(t *testing.T) string { return fakeInstall(t, "exec sleep 30", 0o755) },
			extra: []string{"--ready-timeout", "300ms"},
			want:  clierrors.ExitTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runLaunchArgs(t, tt.root(t), tt.extra...); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}
