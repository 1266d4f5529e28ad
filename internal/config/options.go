package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/vk/buildgrid/internal/errdefs"
)

// Options are resolved option values keyed by name. Front ends read them as
// plain strings; interpreting them is up to the build scripts.
type Options map[string]string

// ParseDefines parses "name=value" pairs as given to -D. A bare "name" is
// shorthand for "name=true". Later definitions win.
func ParseDefines(defines []string) (Options, error) {
	opts := Options{}
	for _, d := range defines {
		name, value, ok := strings.Cut(d, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errdefs.Configf("-D "+d, "option name must not be empty")
		}
		if !validName(name) {
			return nil, errdefs.Configf("-D "+d, "invalid option name %q", name)
		}
		if !ok {
			value = "true"
		}
		opts[name] = value
	}
	return opts, nil
}

func validName(name string) bool {
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Bool interprets an option as a boolean. Missing options yield def.
func (o Options) Bool(name string, def bool) (bool, error) {
	v, ok := o[name]
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errdefs.Configf(name, "expected a boolean, got %q", v)
	}
	return b, nil
}

// Defines renders the options back into sorted -D arguments.
func (o Options) Defines() []string {
	names := make([]string, 0, len(o))
	for n := range o {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n + "=" + o[n]
	}
	return out
}
