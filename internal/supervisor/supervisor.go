// Package supervisor spawns the session process and reports on it.
//
// Launch starts the executable with the caller's arguments untouched and an
// environment overlaid on the launcher's own. Output and exit are delivered
// asynchronously as Events; nothing a subscriber does can stall the child's
// pipes.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deskrun/deskrun/internal/ansi"
	"github.com/deskrun/deskrun/internal/observability"
)

const (
	defaultQueueSize = 1024
	maxLineBytes     = 1 << 20

	// DefaultDrainGrace is how long output may keep flowing after the child
	// is reaped before its pipes are detached.
	DefaultDrainGrace = 250 * time.Millisecond

	streamStdout = "stdout"
	streamStderr = "stderr"
)

// Recorder receives counters about supervised processes. metrics.Collector implements it.
type Recorder interface {
	SpawnFailure(reason string)
	ChildOutputLine(stream string)
	ChildDroppedEvents(n int)
	ChildExit(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) SpawnFailure(string)    {}
func (nopRecorder) ChildOutputLine(string) {}
func (nopRecorder) ChildDroppedEvents(int) {}
func (nopRecorder) ChildExit(string)       {}

// Supervisor launches child processes.
type Supervisor struct {
	observers []Observer
	queueSize  int
	drainGrace time.Duration
	recorder   Recorder
	logger     *slog.Logger
	dir        string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithObserver registers an observer on every child before it starts, so no
// event is missed.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, o) }
}

// WithQueueSize bounds the per-child event queue.
func WithQueueSize(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithDrainGrace bounds how long output is read after the child exits.
// Background helpers that inherit the pipes cannot delay the exit event
// beyond it.
func WithDrainGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.drainGrace = d
		}
	}
}

// WithRecorder reports counters to r.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the diagnostic sink for child output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithDir sets the working directory of launched children.
func WithDir(dir string) Option {
	return func(s *Supervisor) { s.dir = dir }
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{queueSize: defaultQueueSize, drainGrace: DefaultDrainGrace, recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Launch starts exe with args and the ambient environment overlaid by env.
// Failures to start are returned as *SpawnError and no Child is produced.
func (s *Supervisor) Launch(ctx context.Context, exe string, args []string, env map[string]string) (*Child, error) {
	logger := s.logger
	if logger == nil {
		logger = observability.FromContext(ctx)
	}

	logger = logger.With("component", "supervisor")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := preflight(exe)
	if err != nil {
		s.spawnFailed(logger, err)
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Env = MergeEnv(os.Environ(), env)
	cmd.Dir = s.dir
	setProcessGroup(cmd)

	// Plain pipes rather than StdoutPipe: Wait then returns as soon as the
	// child is reaped, whoever else still holds the write ends.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()

	closeAll(stdoutW, stderrW)

	if startErr != nil {
		closeAll(stdout, stderr)

		spawnErr := &SpawnError{Path: exe, Reason: classify(startErr), Err: startErr}
		s.spawnFailed(logger, spawnErr)

		return nil, spawnErr
	}

	child := &Child{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		queue:     make(chan Event, s.queueSize),
		done:      make(chan struct{}),
		observers: slices.Clone(s.observers),
		recorder:  s.recorder,
		logger:    logger.With("pid", cmd.Process.Pid),
	}

	logger.Info("child process started", "path", path, "pid", child.pid, "args", len(args))

	go child.dispatch()
	go child.supervise(stdout, stderr, s.drainGrace)

	return child, nil
}

func (s *Supervisor) spawnFailed(logger *slog.Logger, err error) {
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) {
		s.recorder.SpawnFailure(string(spawnErr.Reason))
		logger.Error("child process failed to start", "path", spawnErr.Path, "reason", spawnErr.Reason, "error", spawnErr.Err)
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// MergeEnv overlays env on ambient (KEY=VALUE entries). Later keys win and
// the result is sorted by key. On Windows keys match case-insensitively, so
// an overlay of PATH replaces the ambient Path instead of sitting beside it.
func MergeEnv(ambient []string, env map[string]string) []string {
	return mergeEnv(ambient, env, runtime.GOOS == "windows")
}

func mergeEnv(ambient []string, env map[string]string, foldCase bool) []string {
	type entry struct{ key, value string }

	slot := func(key string) string {
		if foldCase {
			return strings.ToUpper(key)
		}

		return key
	}

	merged := make(map[string]entry, len(ambient)+len(env))

	for _, kv := range ambient {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		merged[slot(key)] = entry{key, value}
	}

	for _, key := range slices.Sorted(maps.Keys(env)) {
		merged[slot(key)] = entry{key, env[key]}
	}

	out := make([]string, 0, len(merged))
	for _, s := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, merged[s].key+"="+merged[s].value)
	}

	return out
}

// supervise reaps the child while draining both streams and emits the exit
// event last. Output still open drainGrace after the child is reaped belongs
// to a descendant; the pipes are closed so the exit is not held back.
func (c *Child) supervise(stdout, stderr *os.File, drainGrace time.Duration) {
	defer closeAll(stdout, stderr)

	var g errgroup.Group

	g.Go(func() error { return c.drain(stdout, streamStdout, OutputLine) })
	g.Go(func() error { return c.drain(stderr, streamStderr, ErrorLine) })

	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	waitErr := c.cmd.Wait()

	timer := time.NewTimer(drainGrace)
	defer timer.Stop()

	var drainErr error

	select {
	case drainErr = <-drained:
	case <-timer.C:
		c.logger.Warn("child exited but its output is still open, detaching", "grace", drainGrace)
		closeAll(stdout, stderr)

		drainErr = <-drained
	}

	if drainErr != nil {
		c.logger.Warn("child output drain failed", "error", drainErr)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		c.logger.Warn("child wait failed", "error", waitErr)
	}

	status := exitStatusFrom(c.cmd.ProcessState)

	if dropped := c.dropped.Load(); dropped > 0 {
		c.recorder.ChildDroppedEvents(int(dropped))
		c.logger.Warn("child events dropped", "count", dropped)
	}

	c.recorder.ChildExit(status.Outcome())

	if status.Success() {
		c.logger.Info("child process exited", "code", status.Code)
	} else {
		c.logger.Error("child process exited", "code", status.Code, "signal", status.Signal)
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	// The dispatcher keeps reading, so this send cannot block for long.
	c.queue <- Event{Kind: Exited, Status: status}
	close(c.queue)
}

func (c *Child) drain(r io.Reader, stream string, kind EventKind) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := ansi.Strip(strings.TrimRight(scanner.Text(), "\r"))

		c.recorder.ChildOutputLine(stream)
		c.logger.Info(line, "stream", stream)
		c.enqueue(Event{Kind: kind, Line: line})
	}

	err := scanner.Err()
	if err == nil {
		return nil
	}

	// Keep the pipe flowing even after an oversized line.
	if _, copyErr := io.Copy(io.Discard, r); copyErr != nil && !errors.Is(copyErr, os.ErrClosed) {
		return fmt.Errorf("%s: %w", stream, copyErr)
	}

	if errors.Is(err, bufio.ErrTooLong) {
		c.logger.Warn("child output line too long, rest of stream discarded", "stream", stream)
		return nil
	}

	if errors.Is(err, os.ErrClosed) {
		return nil
	}

	return fmt.Errorf("%s: %w", stream, err)
}

func (c *Child) enqueue(ev Event) {
	select {
	case c.queue <- ev:
	default:
		c.dropped.Add(1)
	}
}
