// Package secret generates and holds the launcher's per-process credentials.
//
// A Provisioner owns two independent random values: the shared secret, which
// the session receives in its environment and which every request to the
// session carries in a header, and the launcher token, which the session
// receives as a command-line argument. Both are created on first use and
// returned unchanged afterwards.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

const (
	// SharedSecretBytes is the entropy of the shared secret (256 bits).
	SharedSecretBytes = 32
	// LauncherTokenBytes is the entropy of the launcher token (128 bits).
	LauncherTokenBytes = 16

	// EnvVar is the variable the session reads the shared secret from.
	EnvVar = "RS_SHARED_SECRET"
)

// EntropyError is the panic value raised when a credential cannot be drawn
// from the random source.
type EntropyError struct {
	Err error
}

func (e *EntropyError) Error() string {
	return e.Err.Error()
}

func (e *EntropyError) Unwrap() error {
	return e.Err
}

// Provisioner is the process-wide credential store. Create one in the entry
// point and pass it to the components that need it.
type Provisioner struct {
	random io.Reader

	mu     sync.RWMutex
	secret *buffer
	token  *buffer
	closed bool
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) Option {
	return func(p *Provisioner) {
		p.random = r
	}
}

// New creates an empty Provisioner. No randomness is drawn until first use.
func New(opts ...Option) *Provisioner {
	p := &Provisioner{random: rand.Reader}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// EnsureSharedSecret returns the shared secret, generating it on the first
// call. Concurrent first calls generate exactly one value. It panics with an
// *EntropyError if the entropy source fails, since the launcher cannot run
// without a secret.
func (p *Provisioner) EnsureSharedSecret() string {
	return p.ensure(&p.secret, SharedSecretBytes)
}

// LauncherToken returns the launcher token, generating it on the first call.
// It is drawn separately from the shared secret and has a different length,
// so the two never compare equal.
func (p *Provisioner) LauncherToken() string {
	return p.ensure(&p.token, LauncherTokenBytes)
}

func (p *Provisioner) ensure(slot **buffer, size int) string {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		panic("secret: provisioner used after Close")
	}

	if *slot != nil {
		value := (*slot).String()
		p.mu.RUnlock()

		return value
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		panic("secret: provisioner used after Close")
	}

	if *slot == nil {
		buf, err := p.draw(size)
		if err != nil {
			panic(&EntropyError{Err: err})
		}

		*slot = buf
	}

	return (*slot).String()
}

// Rotate replaces the shared secret with a new value and returns it.
// Readers observe either the old or the new value in full.
func (p *Provisioner) Rotate() (string, error) {
	buf, err := p.draw(SharedSecretBytes)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		buf.wipe()
		return "", fmt.Errorf("secret: provisioner closed")
	}

	old := p.secret
	p.secret = buf
	old.wipe()

	return buf.String(), nil
}

// SharedSecretProvider returns a function that reads the current shared secret.
func (p *Provisioner) SharedSecretProvider() func() string {
	return p.EnsureSharedSecret
}

// Locked reports whether the generated values live in memory locked against swap.
func (p *Provisioner) Locked() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, buf := range []*buffer{p.secret, p.token} {
		if buf != nil && !buf.locked() {
			return false
		}
	}

	return true
}

// Close zeroes both values and releases their memory. Close is idempotent.
func (p *Provisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.secret.wipe()
	p.token.wipe()
	p.secret, p.token = nil, nil

	return nil
}

func (p *Provisioner) draw(size int) (*buffer, error) {
	raw := make([]byte, size)
	if _, err := io.ReadFull(p.random, raw); err != nil {
		return nil, fmt.Errorf("secret: read random source: %w", err)
	}

	encoded := make([]byte, hex.EncodedLen(size))
	hex.Encode(encoded, raw)
	clear(raw)

	return newBuffer(encoded), nil
}
