// Package gate stamps the shared secret onto requests bound for the session.
//
// A Gate is an http.RoundTripper scoped to the session's origin. Requests in
// scope leave with the X-Shared-Secret header set to the secret's current
// value; everything else passes through unchanged.
package gate

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Header carries the shared secret.
const Header = "X-Shared-Secret"

// Recorder counts gated requests. metrics.Collector implements it.
type Recorder interface {
	GateRequest(stamped bool)
}

// Gate adds the shared secret to in-scope requests.
type Gate struct {
	scope    Scope
	provider func() string
	next     http.RoundTripper
	recorder Recorder
}

// Option configures a Gate.
type Option func(*Gate)

// WithRecorder counts requests on r.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// Install registers a gate for urlPrefix in front of base. provider is read
// once per request, so a rotated secret takes effect on the next request.
// A nil base uses http.DefaultTransport.
func Install(base http.RoundTripper, urlPrefix string, provider func() string, opts ...Option) (*Gate, error) {
	if provider == nil {
		return nil, errors.New("gate: nil secret provider")
	}

	scope, err := ParseScope(urlPrefix)
	if err != nil {
		return nil, err
	}

	if base == nil {
		base = http.DefaultTransport
	}

	g := &Gate{scope: scope, provider: provider, next: base}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Scope returns the gate's scope.
func (g *Gate) Scope() Scope {
	return g.scope
}

// Matches reports whether req will be stamped.
func (g *Gate) Matches(req *http.Request) bool {
	return req != nil && g.scope.Matches(req.URL)
}

// Intercept returns req stamped with the secret when it is in scope, and req
// itself otherwise. The caller's request is never modified.
func (g *Gate) Intercept(req *http.Request) (*http.Request, error) {
	if !g.Matches(req) {
		g.record(false)
		return req, nil
	}

	value := g.provider()
	if value == "" {
		return nil, fmt.Errorf("gate: empty shared secret for %s", g.scope.Origin())
	}

	stamped := req.Clone(req.Context())
	stamped.Header.Set(Header, value)
	g.record(true)

	return stamped, nil
}

// RoundTrip implements http.RoundTripper.
func (g *Gate) RoundTrip(req *http.Request) (*http.Response, error) {
	out, err := g.Intercept(req)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	return g.next.RoundTrip(out)
}

// Client returns an HTTP client for the session. Requests are traced, run
// through before in order, and then stamped by the gate.
func (g *Gate) Client(timeout time.Duration, before ...Interceptor) *http.Client {
	var rt http.RoundTripper = g
	if len(before) > 0 {
		rt = NewChain(g, before...)
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(rt),
		Timeout:   timeout,
	}
}

func (g *Gate) record(stamped bool) {
	if g.recorder != nil {
		g.recorder.GateRequest(stamped)
	}
}

func closeBody(req *http.Request) {
	if req != nil && req.Body != nil {
		_ = req.Body.Close()
	}
}
