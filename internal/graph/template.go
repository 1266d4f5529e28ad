package graph

import (
	"fmt"
	"sort"
	"strings"
)

// refKind tells which namespace a placeholder reads from.
type refKind int

const (
	refNone refKind = iota
	refVar
	refInput
	refOutput
)

func (k refKind) String() string {
	switch k {
	case refVar:
		return "variable"
	case refInput:
		return "input group"
	case refOutput:
		return "output group"
	}
	return "literal"
}

// arg is one parsed argv template element. A placeholder surrounded by a
// prefix or suffix expands once per bound value.
type arg struct {
	kind   refKind
	name   string
	prefix string
	suffix string
}

// parseArg parses "$name", "${name}", "$<group", "${<group}", "$@group" and
// "${@group}" placeholders. "$$" is a literal dollar sign. At most one
// placeholder is allowed per argument.
func parseArg(s string) (arg, error) {
	var (
		a     arg
		buf   strings.Builder
		found bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' {
			buf.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return arg{}, fmt.Errorf("dangling '$' in %q", s)
		}
		if s[i+1] == '$' {
			buf.WriteByte('$')
			i++
			continue
		}
		if found {
			return arg{}, fmt.Errorf("more than one placeholder in %q", s)
		}

		var ref string
		if s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return arg{}, fmt.Errorf("unterminated '${' in %q", s)
			}
			ref = s[i+2 : i+2+end]
			i += 2 + end
		} else {
			j := i + 1
			if s[j] == '<' || s[j] == '@' {
				j++
			}
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			ref = s[i+1 : j]
			i = j - 1
		}

		kind, name := refVar, ref
		if strings.HasPrefix(ref, "<") {
			kind, name = refInput, ref[1:]
		} else if strings.HasPrefix(ref, "@") {
			kind, name = refOutput, ref[1:]
		}
		if name == "" {
			return arg{}, fmt.Errorf("empty placeholder in %q", s)
		}
		a.kind, a.name = kind, name
		a.prefix = buf.String()
		buf.Reset()
		found = true
	}
	if found {
		a.suffix = buf.String()
	} else {
		a.prefix = buf.String()
	}
	return a, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// template is a parsed command list.
type template [][]arg

func parseCommands(commands [][]string) (template, error) {
	out := make(template, len(commands))
	for i, argv := range commands {
		if len(argv) == 0 {
			return nil, fmt.Errorf("command %d is empty", i)
		}
		out[i] = make([]arg, len(argv))
		for j, s := range argv {
			a, err := parseArg(s)
			if err != nil {
				return nil, fmt.Errorf("command %d: %w", i, err)
			}
			out[i][j] = a
		}
	}
	return out, nil
}

// bindings is what a build set supplies to its operator's template.
type bindings struct {
	vars    map[string][]string
	inputs  map[string][]string
	outputs map[string][]string
}

func (b bindings) lookup(a arg) ([]string, bool) {
	var m map[string][]string
	switch a.kind {
	case refVar:
		m = b.vars
	case refInput:
		m = b.inputs
	case refOutput:
		m = b.outputs
	default:
		return nil, true
	}
	v, ok := m[a.name]
	return v, ok
}

// missing lists every placeholder of t the bindings do not provide, sorted.
func (t template) missing(b bindings) []string {
	seen := map[string]bool{}
	for _, argv := range t {
		for _, a := range argv {
			if _, ok := b.lookup(a); !ok {
				seen[a.kind.String()+" "+a.name] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// expand substitutes b into t. Callers check missing first.
func (t template) expand(b bindings) [][]string {
	out := make([][]string, 0, len(t))
	for _, argv := range t {
		cmd := make([]string, 0, len(argv))
		for _, a := range argv {
			if a.kind == refNone {
				cmd = append(cmd, a.prefix)
				continue
			}
			vals, _ := b.lookup(a)
			for _, v := range vals {
				cmd = append(cmd, a.prefix+v+a.suffix)
			}
		}
		out = append(out, cmd)
	}
	return out
}

// expandString expands a single-argument template such as a depfile path.
// List values are joined with spaces.
func expandString(s string, b bindings) (string, error) {
	a, err := parseArg(s)
	if err != nil {
		return "", err
	}
	if a.kind == refNone {
		return a.prefix, nil
	}
	vals, ok := b.lookup(a)
	if !ok {
		return "", fmt.Errorf("%s %q is not bound", a.kind, a.name)
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = a.prefix + v + a.suffix
	}
	return strings.Join(parts, " "), nil
}
