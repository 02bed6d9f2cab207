// Package presenter hands a ready session endpoint to whatever displays it.
package presenter

import (
	"context"
	"net/http"

	"github.com/deskrun/deskrun/internal/output"
)

// Endpoint is what a presentation client needs to talk to the session.
// Client already attaches Header to every in-scope request.
type Endpoint struct {
	URL    string
	Client *http.Client
	Header string
}

// Presenter shows a session to the user.
type Presenter interface {
	Present(ctx context.Context, ep Endpoint) error
}

// Func adapts a function to Presenter.
type Func func(ctx context.Context, ep Endpoint) error

// Present calls f.
func (f Func) Present(ctx context.Context, ep Endpoint) error {
	return f(ctx, ep)
}

// Headless prints the endpoint and leaves display to the user.
type Headless struct {
	Out *output.Writer
}

type endpointJSON struct {
	URL    string `json:"url"`
	Header string `json:"header"`
}

// Present writes the endpoint URL.
func (h Headless) Present(ctx context.Context, ep Endpoint) error {
	out := h.Out
	if out == nil {
		out = output.FromContext(ctx)
	}

	if out.JSON {
		return out.PrintJSON(endpointJSON{URL: ep.URL, Header: ep.Header})
	}

	out.Success("Session ready at %s", ep.URL)
	out.Muted("Requests to this endpoint need the %s header; press Ctrl+C to stop the session", ep.Header)

	return nil
}
