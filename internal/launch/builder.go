package launch

import (
	"sync"
)

// Builder assembles Contexts. The port is drawn once and reused, so every
// Build with the same config path returns an identical Context.
type Builder struct {
	policy PortPolicy
	token  func() string

	mu   sync.Mutex
	port int
}

// NewBuilder creates a Builder that takes ports from policy and the launcher
// token from token.
func NewBuilder(policy PortPolicy, token func() string) *Builder {
	return &Builder{policy: policy, token: token}
}

// Build returns the launch context for confPath. The only failure is a port
// policy that cannot produce a port, reported as ErrNoFreePort.
func (b *Builder) Build(confPath string) (*Context, error) {
	port, err := b.resolvePort()
	if err != nil {
		return nil, err
	}

	return newContext(port, confPath, b.token()), nil
}

func (b *Builder) resolvePort() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port != 0 {
		return b.port, nil
	}

	port, err := b.policy.Port()
	if err != nil {
		return 0, err
	}

	b.port = port

	return port, nil
}
