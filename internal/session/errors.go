package session

import (
	"errors"
	"fmt"

	"github.com/deskrun/deskrun/internal/supervisor"
)

var (
	// ErrChildExitedEarly means the session exited before it was presented.
	ErrChildExitedEarly = errors.New("session exited before it was presented")
	// ErrGateInstall wraps failures to register the request gate.
	ErrGateInstall = errors.New("gate installation failed")
	// ErrReadinessTimeout means the session never answered on its port.
	ErrReadinessTimeout = errors.New("session did not become ready")
	// ErrAlreadyLaunched is returned by a second LaunchFirstSession call.
	ErrAlreadyLaunched = errors.New("first session already launched")
)

// ChildExitError reports an exit observed before presentation.
type ChildExitError struct {
	State  State
	Status supervisor.ExitStatus
}

func (e *ChildExitError) Error() string {
	return fmt.Sprintf("%v in state %s (%s)", ErrChildExitedEarly, e.State, e.Status)
}

// Is matches ErrChildExitedEarly.
func (e *ChildExitError) Is(target error) bool {
	return target == ErrChildExitedEarly
}
