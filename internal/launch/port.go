package launch

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

const defaultMaxAttempts = 8

// ErrNoFreePort is returned when a port policy cannot produce a usable port.
var ErrNoFreePort = errors.New("no free loopback port")

// PortPolicy picks the port the session listens on.
type PortPolicy interface {
	Port() (int, error)
}

// PortFunc adapts a function to PortPolicy.
type PortFunc func() (int, error)

// Port calls f.
func (f PortFunc) Port() (int, error) { return f() }

// FixedPort always returns the same port. Used in development mode so the
// endpoint is reproducible.
type FixedPort int

// Port returns p.
func (p FixedPort) Port() (int, error) {
	if p <= 0 || p > 65535 {
		return 0, fmt.Errorf("%w: invalid fixed port %d", ErrNoFreePort, int(p))
	}

	return int(p), nil
}

// EphemeralPort asks the OS for a free loopback port, then binds it a second
// time to check nobody took it in between. Each draw that fails the check is
// retried with a new port, up to MaxAttempts.
type EphemeralPort struct {
	MaxAttempts int
	// Listen is net.Listen when nil.
	Listen func(network, address string) (net.Listener, error)
}

// Port draws a port.
func (e EphemeralPort) Port() (int, error) {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	listen := e.Listen
	if listen == nil {
		listen = net.Listen
	}

	var lastErr error

	for range attempts {
		port, err := draw(listen)
		if err != nil {
			lastErr = err
			continue
		}

		probe, err := listen("tcp", net.JoinHostPort(Host, strconv.Itoa(port)))
		if err != nil {
			lastErr = fmt.Errorf("port %d taken after draw: %w", port, err)
			continue
		}

		if err := probe.Close(); err != nil {
			lastErr = err
			continue
		}

		return port, nil
	}

	return 0, fmt.Errorf("%w after %d attempts: %w", ErrNoFreePort, attempts, lastErr)
}

func draw(listen func(network, address string) (net.Listener, error)) (int, error) {
	l, err := listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		return 0, err
	}

	addr, ok := l.Addr().(*net.TCPAddr)
	_ = l.Close()

	if !ok || addr.Port == 0 {
		return 0, fmt.Errorf("unexpected listener address %v", l.Addr())
	}

	return addr.Port, nil
}

// PolicyFor returns FixedPort(port) in development mode and EphemeralPort otherwise.
func PolicyFor(devMode bool, port int) PortPolicy {
	if devMode {
		return FixedPort(port)
	}

	return EphemeralPort{}
}
