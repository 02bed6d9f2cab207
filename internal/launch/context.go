// Package launch derives the loopback endpoint and argument list for a session.
package launch

import (
	"slices"
	"strconv"
)

// Host is the only interface the session listens on.
const Host = "127.0.0.1"

// ProgramMode is passed to the session as --program-mode.
const ProgramMode = "desktop"

// Context describes one launch attempt. It is immutable; accessors return copies.
type Context struct {
	host string
	port string
	url  string
	args []string
}

func newContext(port int, confPath, token string) *Context {
	p := strconv.Itoa(port)

	return &Context{
		host: Host,
		port: p,
		url:  "http://" + Host + ":" + p,
		args: []string{
			"--config-file", confPath,
			"--program-mode", ProgramMode,
			"--www-port", p,
			"--launcher-token", token,
		},
	}
}

// Host returns the loopback host.
func (c *Context) Host() string { return c.host }

// Port returns the session port as a decimal string.
func (c *Context) Port() string { return c.port }

// URL returns the endpoint, http://host:port with no trailing slash.
func (c *Context) URL() string { return c.url }

// Scope returns the request pattern that covers the endpoint and every path below it.
func (c *Context) Scope() string { return c.url + "/*" }

// Args returns a copy of the session argument list.
func (c *Context) Args() []string { return slices.Clone(c.args) }

// WithFirstRun returns a copy whose arguments end with the first-run help hint.
// Only the first session of a process is launched with it.
func (c *Context) WithFirstRun() *Context {
	return c.WithArgs("--show-help-home", "1")
}

// WithArgs returns a copy with extra arguments appended in order.
func (c *Context) WithArgs(extra ...string) *Context {
	out := *c
	out.args = append(slices.Clone(c.args), extra...)

	return &out
}
