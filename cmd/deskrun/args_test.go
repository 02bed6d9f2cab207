package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"

	clierrors "github.com/deskrun/deskrun/internal/errors"
)

// walkCommands calls fn for root and every command below it.
func walkCommands(root *cobra.Command, fn func(*cobra.Command)) {
	fn(root)

	for _, child := range root.Commands() {
		walkCommands(child, fn)
	}
}

// collectAllCommands returns every command in the tree, root included.
func collectAllCommands(root *cobra.Command) []*cobra.Command {
	var all []*cobra.Command

	walkCommands(root, func(cmd *cobra.Command) { all = append(all, cmd) })

	return all
}

func TestRunnableCommandsValidateArgs(t *testing.T) {
	var missing []string

	walkCommands(newRootCmd(), func(cmd *cobra.Command) {
		if cmd.Runnable() && cmd.Args == nil {
			missing = append(missing, cmd.CommandPath())
		}
	})

	if len(missing) > 0 {
		t.Errorf("commands without an Args validator:\n  %s", strings.Join(missing, "\n  "))
	}
}

// executeUsageError runs args against a fresh root and returns the
// usage error it must produce.
func executeUsageError(t *testing.T, args ...string) *clierrors.CLIError {
	t.Helper()

	root := newRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		t.Fatalf("%v: Execute() error = nil, want usage error", args)
	}

	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) {
		t.Fatalf("%v: error %T (%v), want *CLIError", args, err, err)
	}

	if cliErr.Code != clierrors.ExitUsage {
		t.Errorf("%v: code = %d, want ExitUsage", args, cliErr.Code)
	}

	if !strings.Contains(cliErr.Hint, "--help") {
		t.Errorf("%v: hint = %q, want a --help pointer", args, cliErr.Hint)
	}

	return cliErr
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	for _, path := range []string{"launch", "plan", "doctor", "version"} {
		t.Run(path, func(t *testing.T) {
			cliErr := executeUsageError(t, path, "--secret-file", "x")

			if !strings.Contains(cliErr.Message, "unknown flag") {
				t.Errorf("message = %q, want unknown flag", cliErr.Message)
			}

			if want := "deskrun " + path; !strings.Contains(cliErr.Hint, want) {
				t.Errorf("hint = %q, want command path %q", cliErr.Hint, want)
			}
		})
	}
}

func TestPositionalArgsAreRejected(t *testing.T) {
	for _, path := range []string{"launch", "plan", "paths", "version"} {
		t.Run(path, func(t *testing.T) {
			cliErr := executeUsageError(t, path, "/opt/deskrun")

			if !strings.Contains(cliErr.Message, "accepts no arguments") {
				t.Errorf("message = %q, want 'accepts no arguments'", cliErr.Message)
			}
		})
	}
}
