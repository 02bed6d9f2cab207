package gate

import "net/http"

// Interceptor inspects a request before it is sent and returns the request to
// send in its place. It must not modify its argument.
type Interceptor interface {
	Intercept(req *http.Request) (*http.Request, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(req *http.Request) (*http.Request, error)

// Intercept calls f.
func (f InterceptorFunc) Intercept(req *http.Request) (*http.Request, error) {
	return f(req)
}

// Chain runs interceptors in order before handing the request to its base transport.
type Chain struct {
	base         http.RoundTripper
	interceptors []Interceptor
}

// NewChain creates a Chain over base. A nil base uses http.DefaultTransport.
func NewChain(base http.RoundTripper, interceptors ...Interceptor) *Chain {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Chain{base: base, interceptors: interceptors}
}

// RoundTrip implements http.RoundTripper.
func (c *Chain) RoundTrip(req *http.Request) (*http.Response, error) {
	for _, in := range c.interceptors {
		next, err := in.Intercept(req)
		if err != nil {
			closeBody(req)
			return nil, err
		}

		req = next
	}

	return c.base.RoundTrip(req)
}

// UserAgent sets the User-Agent header on requests that do not carry one.
func UserAgent(ua string) Interceptor {
	return InterceptorFunc(func(req *http.Request) (*http.Request, error) {
		if req.Header.Get("User-Agent") != "" {
			return req, nil
		}

		out := req.Clone(req.Context())
		out.Header.Set("User-Agent", ua)

		return out, nil
	})
}
