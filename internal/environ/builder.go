// Package environ computes the environment the session process runs with.
//
// Builder locates the R runtime, derives its home-relative variables and the
// platform's dynamic library search path, and returns them as an Env. It
// never changes the launcher's own environment; the supervisor overlays the
// result at spawn time.
package environ

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/deskrun/deskrun/internal/observability"
	"github.com/deskrun/deskrun/internal/paths"
)

// Variable names set by Prepare.
const (
	VarRHome          = "R_HOME"
	VarRShareDir      = "R_SHARE_DIR"
	VarRIncludeDir    = "R_INCLUDE_DIR"
	VarRDocDir        = "R_DOC_DIR"
	VarInsertLibs     = "DYLD_INSERT_LIBRARIES"
	VarCrashHandler   = "RS_CRASH_HANDLER_PATH"
	VarSleepOnStartup = "RSTUDIO_SESSION_SLEEP_ON_STARTUP"
)

const defaultLDPathTimeout = 5 * time.Second

// ErrRuntimeNotFound is returned when no R installation can be located.
var ErrRuntimeNotFound = errors.New("R runtime not found")

// EnvironmentError reports why the session environment could not be built.
type EnvironmentError struct {
	Op  string
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment: %s: %v", e.Op, e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// Options are the user-facing knobs of the environment.
type Options struct {
	// RuntimeHome is tried before any discovery when set.
	RuntimeHome string
	// CrashHandler is exported to the session when the file exists.
	CrashHandler string
	// SleepOnStartup makes the session pause so a debugger can attach.
	SleepOnStartup int
	// LDPathTimeout bounds the install's r-ldpath helper.
	LDPathTimeout time.Duration
}

// Builder computes session environments. The zero value is not usable; call NewBuilder.
type Builder struct {
	opts Options

	goos     string
	getenv   func(string) string
	lookPath func(string) (string, error)
	stat     func(string) (fs.FileInfo, error)
	output   func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// BuilderOption replaces one of the Builder's platform hooks.
type BuilderOption func(*Builder)

// WithPlatform overrides runtime.GOOS.
func WithPlatform(goos string) BuilderOption {
	return func(b *Builder) { b.goos = goos }
}

// WithGetenv overrides how ambient variables are read.
func WithGetenv(fn func(string) string) BuilderOption {
	return func(b *Builder) { b.getenv = fn }
}

// WithLookPath overrides executable lookup on PATH.
func WithLookPath(fn func(string) (string, error)) BuilderOption {
	return func(b *Builder) { b.lookPath = fn }
}

// WithStat overrides filesystem checks.
func WithStat(fn func(string) (fs.FileInfo, error)) BuilderOption {
	return func(b *Builder) { b.stat = fn }
}

// WithCommandOutput overrides how helper commands are run.
func WithCommandOutput(fn func(ctx context.Context, name string, args ...string) ([]byte, error)) BuilderOption {
	return func(b *Builder) { b.output = fn }
}

// NewBuilder creates a Builder for the host platform.
func NewBuilder(opts Options, bopts ...BuilderOption) *Builder {
	if opts.LDPathTimeout <= 0 {
		opts.LDPathTimeout = defaultLDPathTimeout
	}

	b := &Builder{
		opts:     opts,
		goos:     runtime.GOOS,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
		stat:     os.Stat,
		output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}

	for _, opt := range bopts {
		opt(b)
	}

	return b
}

// LibraryPathVar returns the dynamic library search variable for goos.
func LibraryPathVar(goos string) string {
	switch goos {
	case "darwin":
		return "DYLD_FALLBACK_LIBRARY_PATH"
	case "windows":
		return "PATH"
	default:
		return "LD_LIBRARY_PATH"
	}
}

// Prepare builds the session environment for inst.
func (b *Builder) Prepare(ctx context.Context, inst paths.Installation) (Env, error) {
	logger := observability.FromContext(ctx).With("component", "environ")

	home, err := b.ResolveRuntimeHome(ctx)
	if err != nil {
		return Env{}, err
	}

	vars := map[string]string{VarRHome: home}

	for key, sub := range map[string]string{
		VarRShareDir:   "share",
		VarRIncludeDir: "include",
		VarRDocDir:     "doc",
	} {
		if dir, ok := b.runtimeSubdir(home, sub); ok {
			vars[key] = dir
		}
	}

	libVar := LibraryPathVar(b.goos)
	entries := []string{b.runtimeLibDir(home)}
	entries = append(entries, b.ldPathExtras(ctx, inst)...)
	entries = append(entries, b.splitList(b.getenv(libVar))...)
	vars[libVar] = strings.Join(dedupe(entries), b.listSeparator())

	if b.goos == "darwin" {
		libR := filepath.Join(home, "lib", "libR.dylib")
		if info, statErr := b.stat(libR); statErr == nil && !info.IsDir() {
			abs, absErr := filepath.Abs(libR)
			if absErr != nil {
				abs = libR
			}

			vars[VarInsertLibs] = abs
		}
	}

	if handler := b.opts.CrashHandler; handler != "" {
		if _, statErr := b.stat(handler); statErr == nil {
			vars[VarCrashHandler] = handler
		} else {
			logger.Warn("crash handler not found, skipping", "path", handler)
		}
	}

	if b.opts.SleepOnStartup > 0 {
		vars[VarSleepOnStartup] = strconv.Itoa(b.opts.SleepOnStartup)
	}

	logger.Debug("environment prepared", "runtime_home", home, "library_var", libVar, "vars", len(vars))

	return NewEnv(vars), nil
}

// ResolveRuntimeHome finds the R home. Candidates are tried in order: the
// configured home, ambient R_HOME, `R RHOME`, then well-known directories.
func (b *Builder) ResolveRuntimeHome(ctx context.Context) (string, error) {
	logger := observability.FromContext(ctx).With("component", "environ")

	var tried []string

	try := func(source, dir string) (string, bool) {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return "", false
		}

		tried = append(tried, dir)

		if b.isDir(dir) {
			logger.Debug("runtime home resolved", "source", source, "path", dir)
			return filepath.Clean(dir), true
		}

		logger.Debug("runtime home candidate missing", "source", source, "path", dir)

		return "", false
	}

	if home, ok := try("config", b.opts.RuntimeHome); ok {
		return home, nil
	}

	if home, ok := try("env", b.getenv(VarRHome)); ok {
		return home, nil
	}

	if rBin, err := b.lookPath("R"); err == nil {
		out, runErr := b.output(ctx, rBin, "RHOME")
		if runErr == nil {
			if home, ok := try("R RHOME", string(out)); ok {
				return home, nil
			}
		}
	}

	for _, dir := range wellKnownHomes(b.goos) {
		if home, ok := try("well-known", dir); ok {
			return home, nil
		}
	}

	return "", &EnvironmentError{
		Op:  "resolve runtime home",
		Err: fmt.Errorf("%w (tried %s)", ErrRuntimeNotFound, strings.Join(tried, ", ")),
	}
}

func wellKnownHomes(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"/Library/Frameworks/R.framework/Resources"}
	case "windows":
		return []string{`C:\Program Files\R\R-release`}
	default:
		return []string{"/usr/lib/R", "/usr/local/lib/R", "/opt/R/current/lib/R"}
	}
}

// runtimeSubdir prefers <home>/<sub>, then the Debian-style /usr/share/R/<sub>.
func (b *Builder) runtimeSubdir(home, sub string) (string, bool) {
	candidates := []string{filepath.Join(home, sub)}
	if b.goos != "windows" {
		candidates = append(candidates, filepath.Join("/usr/share/R", sub))
	}

	for _, dir := range candidates {
		if b.isDir(dir) {
			return dir, true
		}
	}

	return "", false
}

func (b *Builder) runtimeLibDir(home string) string {
	if b.goos == "windows" {
		return filepath.Join(home, "bin", "x64")
	}

	return filepath.Join(home, "lib")
}

// ldPathExtras runs the install's r-ldpath helper when present. Its output is
// a list of extra library directories; failures are logged and ignored.
func (b *Builder) ldPathExtras(ctx context.Context, inst paths.Installation) []string {
	if b.goos == "windows" || inst.Root == "" {
		return nil
	}

	script := inst.LDPathScript()
	if info, err := b.stat(script); err != nil || info.IsDir() {
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, b.opts.LDPathTimeout)
	defer cancel()

	out, err := b.output(runCtx, script)
	if err != nil {
		observability.FromContext(ctx).Warn("r-ldpath helper failed", "path", script, "error", err)
		return nil
	}

	return b.splitList(string(out))
}

func (b *Builder) isDir(path string) bool {
	info, err := b.stat(path)
	return err == nil && info.IsDir()
}

func (b *Builder) listSeparator() string {
	if b.goos == "windows" {
		return ";"
	}

	return ":"
}

func (b *Builder) splitList(value string) []string {
	var out []string

	for _, part := range strings.Split(value, b.listSeparator()) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func dedupe(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))

	for _, e := range entries {
		if _, ok := seen[e]; ok {
			continue
		}

		seen[e] = struct{}{}
		out = append(out, e)
	}

	return out
}
