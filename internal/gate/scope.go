package gate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidScope is returned for patterns that are not of the form scheme://host:port/path/*.
var ErrInvalidScope = errors.New("invalid gate scope")

// Scope is an exact origin plus a path prefix.
type Scope struct {
	scheme     string
	host       string
	port       string
	pathPrefix string
}

// ParseScope parses a pattern such as "http://127.0.0.1:40810/*". The origin
// must be exact; the only wildcard allowed is the trailing "*" after a "/".
func ParseScope(pattern string) (Scope, error) {
	invalid := func(reason string) (Scope, error) {
		return Scope{}, fmt.Errorf("%w %q: %s", ErrInvalidScope, pattern, reason)
	}

	base, ok := strings.CutSuffix(pattern, "/*")
	if !ok {
		return invalid("must end with /*")
	}

	if strings.Contains(base, "*") {
		return invalid("wildcards are only allowed at the end")
	}

	u, err := url.Parse(base + "/")
	if err != nil {
		return invalid(err.Error())
	}

	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return invalid("scheme must be http or https")
	case u.Hostname() == "":
		return invalid("missing host")
	case u.User != nil:
		return invalid("user info not allowed")
	case u.RawQuery != "" || u.ForceQuery || u.Fragment != "":
		return invalid("query and fragment not allowed")
	}

	return Scope{
		scheme:     u.Scheme,
		host:       strings.ToLower(u.Hostname()),
		port:       effectivePort(u),
		pathPrefix: u.EscapedPath(),
	}, nil
}

// Matches reports whether u is inside the scope.
func (s Scope) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}

	if !strings.EqualFold(u.Scheme, s.scheme) ||
		strings.ToLower(u.Hostname()) != s.host ||
		effectivePort(u) != s.port {
		return false
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	return strings.HasPrefix(path, s.pathPrefix)
}

// Origin returns scheme://host:port.
func (s Scope) Origin() string {
	return s.scheme + "://" + net.JoinHostPort(s.host, s.port)
}

// String returns the scope as a pattern.
func (s Scope) String() string {
	return s.Origin() + s.pathPrefix + "*"
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	default:
		return "80"
	}
}
