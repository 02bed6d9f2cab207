package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
)

// Reason classifies why a process could not be started.
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonNotExecutable    Reason = "not_executable"
	ReasonPermissionDenied Reason = "permission_denied"
)

// SpawnError is returned by Launch when the executable cannot be started.
// It is never retried.
type SpawnError struct {
	Path   string
	Reason Reason
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// preflight resolves exe and checks it can be executed before fork.
func preflight(exe string) (string, error) {
	path := exe
	if filepath.Base(exe) == exe {
		found, err := exec.LookPath(exe)
		if err != nil {
			return "", &SpawnError{Path: exe, Reason: ReasonNotFound, Err: err}
		}

		path = found
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", &SpawnError{Path: exe, Reason: classify(err), Err: err}
	}

	if info.IsDir() {
		return "", &SpawnError{Path: exe, Reason: ReasonNotExecutable, Err: errors.New("is a directory")}
	}

	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", &SpawnError{Path: exe, Reason: ReasonNotExecutable, Err: fmt.Errorf("mode %s has no execute bit", info.Mode().Perm())}
	}

	return path, nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return ReasonPermissionDenied
	default:
		return ReasonNotExecutable
	}
}
