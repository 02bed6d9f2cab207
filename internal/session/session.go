package session

import (
	"context"
	"net/http"

	"github.com/deskrun/deskrun/internal/launch"
	"github.com/deskrun/deskrun/internal/supervisor"
)

// Session is a running first session.
type Session struct {
	context  *launch.Context
	child    *supervisor.Child
	client   *http.Client
	launcher *Launcher
}

// URL returns the session endpoint.
func (s *Session) URL() string {
	return s.context.URL()
}

// Context returns the launch context the session was started with.
func (s *Session) Context() *launch.Context {
	return s.context
}

// Client returns the gated HTTP client for the session.
func (s *Session) Client() *http.Client {
	return s.client
}

// PID returns the session's process id.
func (s *Session) PID() int {
	return s.child.PID()
}

// State returns the launch state.
func (s *Session) State() State {
	return s.launcher.State()
}

// Wait blocks until the session exits or ctx ends.
func (s *Session) Wait(ctx context.Context) (supervisor.ExitStatus, error) {
	select {
	case <-s.child.Done():
		status, _ := s.child.Status()
		return status, nil
	case <-ctx.Done():
		return supervisor.ExitStatus{}, ctx.Err()
	}
}

// Stop terminates the session, escalating to a kill after the configured grace period.
func (s *Session) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.launcher.cfg.TerminateGrace)
	defer cancel()

	return s.child.Terminate(ctx)
}
