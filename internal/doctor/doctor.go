// Package doctor checks that a machine can launch a session.
//
// Each check covers one launch prerequisite:
//   - the install root and its session config file
//   - the session binary
//   - the R runtime the session links against
//   - the loopback port the session will listen on
//   - locked memory for the shared secret
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/deskrun/deskrun/internal/environ"
	"github.com/deskrun/deskrun/internal/launch"
	"github.com/deskrun/deskrun/internal/paths"
	"github.com/deskrun/deskrun/internal/secret"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// String returns the lowercase status name used in JSON output.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Inputs are the resolved settings the default checks inspect.
type Inputs struct {
	Installation paths.Installation
	Environment  *environ.Builder
	DevMode      bool
	Port         int
}

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a runner with the default launch checks.
func New(in Inputs) *Runner {
	r := &Runner{}

	r.AddCheck("Install root", func(context.Context) Result { return checkInstallRoot(in.Installation) })
	r.AddCheck("Config file", func(context.Context) Result { return checkConfigFile(in.Installation) })
	r.AddCheck("Session binary", func(context.Context) Result { return checkSessionBinary(in.Installation) })
	r.AddCheck("R runtime", func(ctx context.Context) Result { return checkRuntime(ctx, in.Environment) })
	r.AddCheck("Session port", func(context.Context) Result { return checkPort(in.DevMode, in.Port) })
	r.AddCheck("Secret memory", func(context.Context) Result { return checkSecretMemory() })

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

func checkInstallRoot(inst paths.Installation) Result {
	info, err := os.Stat(inst.Root)
	if err != nil || !info.IsDir() {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not found", inst.Root),
			Detail:  "Set install.root or pass --install-root",
		}
	}

	return Result{Status: StatusPass, Message: inst.Root}
}

func checkConfigFile(inst paths.Installation) Result {
	if _, err := os.Stat(inst.ConfigFile); err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not found", inst.ConfigFile),
			Detail:  "Set install.config_file or pass --config-file",
		}
	}

	return Result{Status: StatusPass, Message: inst.ConfigFile}
}

func checkSessionBinary(inst paths.Installation) Result {
	info, err := os.Stat(inst.SessionBinary)

	switch {
	case err != nil:
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not found", inst.SessionBinary),
			Detail:  "Build the session target or point install.root at an existing build",
		}
	case info.IsDir(), info.Mode().Perm()&0o111 == 0:
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not executable", inst.SessionBinary),
			Detail:  "chmod +x the session binary",
		}
	}

	return Result{Status: StatusPass, Message: inst.SessionBinary}
}

func checkRuntime(ctx context.Context, b *environ.Builder) Result {
	if b == nil {
		return Result{Status: StatusWarn, Message: "Not checked"}
	}

	home, err := b.ResolveRuntimeHome(ctx)
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: "R installation not found",
			Detail:  "Install R, or set runtime.home / R_HOME",
		}
	}

	return Result{Status: StatusPass, Message: home}
}

func checkPort(devMode bool, port int) Result {
	if !devMode {
		p, err := launch.EphemeralPort{}.Port()
		if err != nil {
			return Result{Status: StatusFail, Message: "No free loopback port", Detail: err.Error()}
		}

		return Result{Status: StatusPass, Message: fmt.Sprintf("ephemeral (e.g. %d)", p)}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(launch.Host, strconv.Itoa(port)))
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d is in use", port),
			Detail:  "Another session may be running; stop it or set session.port",
		}
	}

	_ = ln.Close()

	return Result{Status: StatusPass, Message: fmt.Sprintf("%d (fixed, development mode)", port)}
}

func checkSecretMemory() (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Status: StatusFail, Message: "No entropy source", Detail: fmt.Sprint(r)}
		}
	}()

	p := secret.New()
	defer func() { _ = p.Close() }()

	_ = p.EnsureSharedSecret()

	if !p.Locked() {
		return Result{
			Status:  StatusWarn,
			Message: "Secret held in swappable memory",
			Detail:  "Raise the memlock limit (ulimit -l) to keep secrets out of swap",
		}
	}

	return Result{Status: StatusPass, Message: "Locked against swap"}
}

// RenderResults formats diagnostic results to the given output writer.
func RenderResults(results []Result, printFn, successFn, warningFn, failureFn, mutedFn func(format string, args ...any)) {
	maxNameLen := 0
	for _, r := range results {
		if len(r.Name) > maxNameLen {
			maxNameLen = len(r.Name)
		}
	}

	for _, r := range results {
		padding := maxNameLen - len(r.Name) + 4

		switch r.Status {
		case StatusPass:
			successFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusWarn:
			warningFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusFail:
			failureFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		default:
			printFn("%s %-*s%s\n", r.Status.Symbol(), len(r.Name)+padding, r.Name, r.Message)
		}

		if r.Detail != "" {
			mutedFn("    %s", r.Detail)
		}
	}
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

// Failed reports whether any result failed.
func Failed(results []Result) bool {
	_, failed, _ := Summary(results)
	return failed > 0
}

// ErrChecksFailed is returned by callers when Failed reports true.
var ErrChecksFailed = errors.New("one or more checks failed")

const (
	checkMark   = "\u2713" // ✓
	xMark       = "\u2717" // ✗
	warningMark = "\u26A0" // ⚠
)
