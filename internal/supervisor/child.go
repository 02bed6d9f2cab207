package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
)

// EventKind identifies a child event.
type EventKind int

const (
	OutputLine EventKind = iota
	ErrorLine
	Exited
)

func (k EventKind) String() string {
	switch k {
	case OutputLine:
		return "output"
	case ErrorLine:
		return "error"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one notification about a child. Line is set for output events,
// Status for Exited.
type Event struct {
	Kind   EventKind
	Line   string
	Status ExitStatus
}

// Observer receives events in order on the child's dispatcher goroutine.
type Observer func(Event)

// ExitStatus is how a child ended. Signal is empty unless the child was killed.
type ExitStatus struct {
	Code   int
	Signal string
}

// Success reports a zero exit code.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == ""
}

// Outcome is a metric label: clean, error or signal.
func (s ExitStatus) Outcome() string {
	switch {
	case s.Signal != "":
		return "signal"
	case s.Code == 0:
		return "clean"
	default:
		return "error"
	}
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal " + s.Signal
	}

	return fmt.Sprintf("exit code %d", s.Code)
}

// Child is a running session process. Only this package signals or reaps it.
type Child struct {
	cmd      *exec.Cmd
	pid      int
	queue    chan Event
	done     chan struct{}
	dropped  atomic.Int64
	recorder Recorder
	logger   *slog.Logger

	mu        sync.Mutex
	observers []Observer
	finished  bool
	status    ExitStatus
}

// PID returns the child's process id.
func (c *Child) PID() int {
	return c.pid
}

// Subscribe registers o for subsequent events. Subscribing after the child has
// exited delivers the Exited event immediately.
func (c *Child) Subscribe(o Observer) {
	c.mu.Lock()

	if c.finished {
		status := c.status
		c.mu.Unlock()
		o(Event{Kind: Exited, Status: status})

		return
	}

	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Done is closed once the Exited event has been delivered.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Status returns the exit status once Done is closed.
func (c *Child) Status() (ExitStatus, bool) {
	select {
	case <-c.done:
	default:
		return ExitStatus{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status, true
}

// Dropped returns how many output events were not queued because observers fell behind.
func (c *Child) Dropped() int64 {
	return c.dropped.Load()
}

// Terminate asks the child's process group to stop and escalates to a kill
// when ctx ends first. It returns once the child has been reaped.
func (c *Child) Terminate(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.logger.Info("terminating child process")

	if err := terminateGroup(c.pid); err != nil {
		c.logger.Warn("graceful termination failed", "error", err)
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
	}

	c.logger.Warn("child did not stop in time, killing")

	if err := killGroup(c.pid); err != nil {
		return fmt.Errorf("kill child %d: %w", c.pid, err)
	}

	<-c.done

	return nil
}

func (c *Child) dispatch() {
	for ev := range c.queue {
		c.mu.Lock()
		observers := slices.Clone(c.observers)

		if ev.Kind == Exited {
			c.finished = true
		}
		c.mu.Unlock()

		for _, o := range observers {
			o(ev)
		}
	}

	close(c.done)
}
