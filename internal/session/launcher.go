// Package session runs the launch sequence for the first session.
//
// The sequence is fixed: prepare the environment, build the launch context,
// spawn the session, install the request gate, and present the endpoint.
// Presentation never happens before the gate exists or after the session has
// already exited.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/deskrun/deskrun/internal/environ"
	"github.com/deskrun/deskrun/internal/gate"
	"github.com/deskrun/deskrun/internal/launch"
	"github.com/deskrun/deskrun/internal/observability"
	"github.com/deskrun/deskrun/internal/paths"
	"github.com/deskrun/deskrun/internal/presenter"
	"github.com/deskrun/deskrun/internal/secret"
	"github.com/deskrun/deskrun/internal/supervisor"
)

const (
	defaultTerminateGrace = 5 * time.Second
	defaultStartupGrace   = 750 * time.Millisecond
)

// Environment computes the session's environment.
type Environment interface {
	Prepare(ctx context.Context, inst paths.Installation) (environ.Env, error)
}

// ContextBuilder produces the launch context.
type ContextBuilder interface {
	Build(confPath string) (*launch.Context, error)
}

// Spawner starts the session process.
type Spawner interface {
	Launch(ctx context.Context, exe string, args []string, env map[string]string) (*supervisor.Child, error)
}

// GateInstaller registers the request gate for urlPrefix.
type GateInstaller func(base http.RoundTripper, urlPrefix string, provider func() string) (*gate.Gate, error)

// Recorder counts state transitions. metrics.Collector implements it.
type Recorder interface {
	Transition(from, to string)
}

// Config wires the launch sequence together. Installation, Secrets,
// Environment, Contexts, Spawner and Presenter are required.
type Config struct {
	Installation paths.Installation
	Secrets      *secret.Provisioner
	Environment  Environment
	Contexts     ContextBuilder
	Spawner      Spawner
	Presenter    presenter.Presenter

	// InstallGate defaults to gate.Install.
	InstallGate GateInstaller
	// Transport is the gate's base transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Recorder  Recorder

	// ReadyTimeout enables the readiness probe when positive.
	ReadyTimeout time.Duration
	// StartupGrace is how long a freshly spawned session is watched for an
	// immediate exit before the gate is installed, when readiness is off.
	StartupGrace   time.Duration
	TerminateGrace time.Duration
	UserAgent      string
}

// Launcher runs the launch sequence once.
type Launcher struct {
	cfg Config

	mu       sync.Mutex
	state    State
	launched bool
}

// NewLauncher validates cfg and returns a Launcher in state Unstarted.
func NewLauncher(cfg Config) (*Launcher, error) {
	switch {
	case cfg.Secrets == nil:
		return nil, errors.New("session: secrets provisioner is required")
	case cfg.Environment == nil:
		return nil, errors.New("session: environment builder is required")
	case cfg.Contexts == nil:
		return nil, errors.New("session: launch context builder is required")
	case cfg.Spawner == nil:
		return nil, errors.New("session: spawner is required")
	case cfg.Presenter == nil:
		return nil, errors.New("session: presenter is required")
	}

	if cfg.InstallGate == nil {
		cfg.InstallGate = func(base http.RoundTripper, urlPrefix string, provider func() string) (*gate.Gate, error) {
			return gate.Install(base, urlPrefix, provider)
		}
	}

	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = defaultTerminateGrace
	}

	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = defaultStartupGrace
	}

	return &Launcher{cfg: cfg}, nil
}

// State returns the current launch state.
func (l *Launcher) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// LaunchFirstSession runs the whole sequence. On success the session is
// Running and its endpoint has been presented. Any failure after spawn stops
// the child before returning.
func (l *Launcher) LaunchFirstSession(ctx context.Context) (*Session, error) {
	l.mu.Lock()
	if l.launched {
		l.mu.Unlock()
		return nil, ErrAlreadyLaunched
	}

	l.launched = true
	l.mu.Unlock()

	inst := l.cfg.Installation

	ctx, span := observability.StartLaunchSpan(ctx, inst.SessionBinary)
	defer span.End()

	logger := observability.FromContext(ctx).With("component", "session")

	if err := inst.Check(); err != nil {
		return nil, err
	}

	// The secret must exist before the child's environment is computed.
	sharedSecret := l.cfg.Secrets.EnsureSharedSecret()

	env, err := l.cfg.Environment.Prepare(ctx, inst)
	if err != nil {
		return nil, err
	}

	l.transition(ctx, EnvironmentPrepared)

	lctx, err := l.cfg.Contexts.Build(inst.ConfigFile)
	if err != nil {
		return nil, err
	}

	lctx = lctx.WithFirstRun()
	l.transition(ctx, ContextBuilt)

	childEnv := env.With(secret.EnvVar, sharedSecret).Map()

	child, err := l.cfg.Spawner.Launch(ctx, inst.SessionBinary, lctx.Args(), childEnv)
	if err != nil {
		return nil, err
	}

	l.transition(ctx, ProcessSpawned)
	logger.Info("session spawned", "url", lctx.URL(), "pid", child.PID())

	if err := l.settle(ctx, child); err != nil {
		return nil, err
	}

	g, err := l.cfg.InstallGate(l.cfg.Transport, lctx.Scope(), l.cfg.Secrets.SharedSecretProvider())
	if err != nil {
		l.abort(ctx, child, "gate installation failed")
		return nil, fmt.Errorf("%w: %w", ErrGateInstall, err)
	}

	l.transition(ctx, GateInstalled)

	var before []gate.Interceptor
	if l.cfg.UserAgent != "" {
		before = append(before, gate.UserAgent(l.cfg.UserAgent))
	}

	client := g.Client(0, before...)

	if l.cfg.ReadyTimeout > 0 {
		if err := l.waitReady(ctx, client, lctx.URL(), child); err != nil {
			l.abort(ctx, child, "session not ready")
			return nil, err
		}
	}

	if err := l.exitedEarly(child); err != nil {
		return nil, err
	}

	ep := presenter.Endpoint{URL: lctx.URL(), Client: client, Header: gate.Header}
	if err := l.cfg.Presenter.Present(ctx, ep); err != nil {
		l.abort(ctx, child, "presentation failed")
		return nil, fmt.Errorf("present session: %w", err)
	}

	l.transition(ctx, PresentationReady)
	l.transition(ctx, Running)

	// Register last so Terminated can only follow Running.
	child.Subscribe(func(ev supervisor.Event) {
		if ev.Kind == supervisor.Exited {
			l.transition(context.WithoutCancel(ctx), Terminated)
		}
	})

	return &Session{context: lctx, child: child, client: client, launcher: l}, nil
}

// settle returns a ChildExitError if the child exits within the startup
// grace. With readiness enabled the probe watches for exits instead, so only
// an exit that has already happened is checked.
func (l *Launcher) settle(ctx context.Context, child *supervisor.Child) error {
	if l.cfg.ReadyTimeout > 0 {
		return l.exitedEarly(child)
	}

	timer := time.NewTimer(l.cfg.StartupGrace)
	defer timer.Stop()

	select {
	case <-child.Done():
		return l.exitedEarly(child)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.abort(ctx, child, "launch canceled")
		return ctx.Err()
	}
}

func (l *Launcher) exitedEarly(child *supervisor.Child) error {
	select {
	case <-child.Done():
	default:
		return nil
	}

	status, _ := child.Status()

	return &ChildExitError{State: l.State(), Status: status}
}

// waitReady polls the endpoint through the gated client until any HTTP
// response arrives.
func (l *Launcher) waitReady(ctx context.Context, client *http.Client, url string, child *supervisor.Child) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()

	logger := observability.FromContext(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	probe := func() (struct{}, error) {
		if err := l.exitedEarly(child); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/", http.NoBody)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			logger.Debug("session not answering yet", "url", url, "error", err)
			return struct{}{}, err
		}

		_ = resp.Body.Close()

		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(l.cfg.ReadyTimeout),
	)
	if err == nil {
		return nil
	}

	var exitErr *ChildExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	if exitErr := l.exitedEarly(child); exitErr != nil {
		return exitErr
	}

	return fmt.Errorf("%w within %s: %w", ErrReadinessTimeout, l.cfg.ReadyTimeout, err)
}

// abort stops a child whose launch cannot complete.
func (l *Launcher) abort(ctx context.Context, child *supervisor.Child, reason string) {
	logger := observability.FromContext(ctx)
	logger.Warn("aborting launch, stopping session", "reason", reason, "pid", child.PID())

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.TerminateGrace)
	defer cancel()

	if err := child.Terminate(stopCtx); err != nil {
		logger.Error("failed to stop session", "error", err)
	}
}

func (l *Launcher) transition(ctx context.Context, to State) {
	l.mu.Lock()
	from := l.state

	if !validTransition(from, to) {
		l.mu.Unlock()
		observability.FromContext(ctx).Error("invalid launch state transition", "from", from, "to", to)

		return
	}

	l.state = to
	l.mu.Unlock()

	observability.FromContext(ctx).Info("launch state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	observability.RecordTransition(ctx, from.String(), to.String())

	if l.cfg.Recorder != nil {
		l.cfg.Recorder.Transition(from.String(), to.String())
	}
}
