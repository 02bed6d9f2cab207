// Package errors provides structured CLI error types for deskrun.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// so every fatal launch failure reaches the operator the same way.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess     = 0  // Successful execution
	ExitGeneral     = 1  // General error, also a non-zero child exit
	ExitConfig      = 4  // Configuration error
	ExitTimeout     = 5  // Readiness timeout
	ExitEnvironment = 6  // Runtime could not be located
	ExitSpawn       = 7  // Session binary could not be started
	ExitGate        = 8  // Request gate could not be installed
	ExitChild       = 9  // Child exited before the endpoint was presented
	ExitUsage       = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Launch error taxonomy ---

// InstallRootNotFound returns a configuration error for a missing install root.
func InstallRootNotFound(path string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Unable to find install root %s", path),
		Hint:    "Pass --install-root or set install.root with 'deskrun config set install.root <dir>'",
		Code:    ExitConfig,
	}
}

// ConfigFileNotFound returns a configuration error for a missing session config file.
func ConfigFileNotFound(path string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Session config file not found: %s", path),
		Hint:    "Pass --config-file or set install.config_file",
		Code:    ExitConfig,
	}
}

// ConfigFailed returns an error for configuration load or save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your deskrun config directory or run 'deskrun doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// EnvironmentFailed returns an error when the session runtime cannot be prepared.
func EnvironmentFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Failed to prepare environment",
		Hint:    "Install R, or point deskrun at it with --runtime-home or R_HOME",
		Cause:   cause,
		Code:    ExitEnvironment,
	}
}

// SpawnFailed returns an error when the session binary cannot be started.
func SpawnFailed(path string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to start session %s", path),
		Hint:    "Check that the session binary exists and is executable, or run 'deskrun doctor'",
		Cause:   cause,
		Code:    ExitSpawn,
	}
}

// GateFailed returns an error when the request gate cannot be registered.
func GateFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Failed to install request gate",
		Hint:    "The session was stopped; requests to it would not have been authenticated",
		Cause:   cause,
		Code:    ExitGate,
	}
}

// ChildExitedEarly returns an error when the session exits before it is presented.
func ChildExitedEarly(status string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Session exited before it was ready (%s)", status),
		Hint:    "Run with --log-level=debug to see the session output",
		Code:    ExitChild,
	}
}

// ReadinessTimeout returns an error when the session never answers on its port.
func ReadinessTimeout(url, timeout string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Session at %s did not respond within %s", url, timeout),
		Hint:    "Increase --ready-timeout or inspect the session output with --log-level=debug",
		Code:    ExitTimeout,
	}
}

// NoFreePort returns an error when no loopback port could be allocated.
func NoFreePort(cause error) *CLIError {
	return &CLIError{
		Message: "No free loopback port available",
		Hint:    "Pass --port to pin a port, or free up ephemeral ports",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// SessionFailed returns an error when the session exits non-zero after launch.
func SessionFailed(status string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Session exited with %s", status),
		Hint:    containsHint(status),
		Code:    ExitGeneral,
	}
}

func containsHint(status string) string {
	if containsAny(status, "signal", "killed") {
		return "The session was terminated by a signal"
	}

	return "Run with --log-level=debug for the session output"
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
