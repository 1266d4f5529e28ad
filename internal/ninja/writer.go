package ninja

import (
	"bytes"
	"fmt"
	"strings"
)

// Var is one "key = value" binding of a rule or build statement. Values are
// written verbatim so they may reference other ninja variables; use Escape
// for literal text.
type Var struct {
	Key   string
	Value string
}

// Writer renders ninja manifest syntax into memory. The first invalid
// value is remembered and returned by Bytes.
type Writer struct {
	buf bytes.Buffer
	err error
}

// Escape makes s a literal ninja value.
func Escape(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// EscapePath makes p usable in a build statement's path list.
func EscapePath(p string) string {
	return pathEscaper.Replace(p)
}

var pathEscaper = strings.NewReplacer("$", "$$", " ", "$ ", ":", "$:")

func (w *Writer) check(s string) {
	if w.err == nil && strings.ContainsAny(s, "\n\r") {
		w.err = fmt.Errorf("value %q contains a line break", s)
	}
}

// Comment writes a "#" comment line.
func (w *Writer) Comment(text string) {
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&w.buf, "# %s\n", line)
	}
}

// Newline writes an empty line.
func (w *Writer) Newline() { w.buf.WriteByte('\n') }

// Variable writes a top level binding.
func (w *Writer) Variable(key, value string) {
	w.variable(key, value, 0)
}

func (w *Writer) variable(key, value string, indent int) {
	w.check(key)
	w.check(value)
	fmt.Fprintf(&w.buf, "%s%s = %s\n", strings.Repeat("  ", indent), key, value)
}

// Rule writes a rule with its bindings. Empty values are skipped.
func (w *Writer) Rule(name string, vars ...Var) {
	w.check(name)
	fmt.Fprintf(&w.buf, "rule %s\n", name)
	w.vars(vars)
}

// Build writes a build statement. Paths are escaped by the writer.
func (w *Writer) Build(outputs []string, rule string, inputs, implicit, orderOnly []string, vars ...Var) {
	var line strings.Builder
	line.WriteString("build")
	w.paths(&line, outputs)
	line.WriteString(": ")
	line.WriteString(rule)
	w.paths(&line, inputs)
	if len(implicit) > 0 {
		line.WriteString(" |")
		w.paths(&line, implicit)
	}
	if len(orderOnly) > 0 {
		line.WriteString(" ||")
		w.paths(&line, orderOnly)
	}
	line.WriteByte('\n')
	w.buf.WriteString(line.String())
	w.vars(vars)
}

func (w *Writer) paths(b *strings.Builder, paths []string) {
	for _, p := range paths {
		w.check(p)
		b.WriteByte(' ')
		b.WriteString(EscapePath(p))
	}
}

func (w *Writer) vars(vars []Var) {
	for _, v := range vars {
		if v.Value == "" {
			continue
		}
		w.variable(v.Key, v.Value, 1)
	}
}

// Default writes a default statement.
func (w *Writer) Default(paths ...string) {
	if len(paths) == 0 {
		return
	}
	var line strings.Builder
	line.WriteString("default")
	w.paths(&line, paths)
	line.WriteByte('\n')
	w.buf.WriteString(line.String())
}

// Include writes an include statement.
func (w *Writer) Include(path string) {
	w.check(path)
	fmt.Fprintf(&w.buf, "include %s\n", EscapePath(path))
}

// Bytes returns the rendered manifest or the first error.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}
