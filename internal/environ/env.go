package environ

import (
	"maps"
	"slices"
)

// Env is an immutable set of environment variables for the session process.
type Env struct {
	vars map[string]string
}

// NewEnv copies vars into a new Env.
func NewEnv(vars map[string]string) Env {
	return Env{vars: maps.Clone(vars)}
}

// Get returns the value for key.
func (e Env) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Len returns the number of variables.
func (e Env) Len() int {
	return len(e.vars)
}

// Keys returns the variable names in sorted order.
func (e Env) Keys() []string {
	return slices.Sorted(maps.Keys(e.vars))
}

// Map returns a copy of the variables.
func (e Env) Map() map[string]string {
	out := make(map[string]string, len(e.vars))
	maps.Copy(out, e.vars)

	return out
}

// With returns a copy of e with key set to value.
func (e Env) With(key, value string) Env {
	out := e.Map()
	out[key] = value

	return Env{vars: out}
}

// Pairs returns KEY=VALUE entries sorted by key.
func (e Env) Pairs() []string {
	keys := e.Keys()
	out := make([]string, 0, len(keys))

	for _, k := range keys {
		out = append(out, k+"="+e.vars[k])
	}

	return out
}
