package ninja

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/kballard/go-shellquote"
	"github.com/vk/buildgrid/internal/graph"
)

// ScriptName is the file name of the flattened script of b.
func ScriptName(b *graph.BuildSet) string {
	return b.Operator.RuleName() + "." + strconv.Itoa(b.Index) + ".sh"
}

// RenderScript flattens b into a POSIX shell script that creates the output
// directories, applies the environment and working directory and runs every
// command, stopping at the first failure.
func RenderScript(b *graph.BuildSet) []byte {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "#!/bin/sh")
	fmt.Fprintf(&buf, "# %s #%d (%s)\n", b.Operator.ID, b.Index, b.Hash())
	fmt.Fprintln(&buf, "set -e")

	dirs := outputDirs(b)
	if len(dirs) > 0 {
		fmt.Fprintf(&buf, "mkdir -p %s\n", shellquote.Join(dirs...))
	}
	if b.Cwd != "" {
		fmt.Fprintf(&buf, "cd %s\n", shellquote.Join(b.Cwd))
	}
	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "export %s=%s\n", k, shellquote.Join(b.Env[k]))
	}
	for _, argv := range b.Commands() {
		fmt.Fprintln(&buf, shellquote.Join(argv...))
	}
	return buf.Bytes()
}

func outputDirs(b *graph.BuildSet) []string {
	seen := map[string]bool{}
	var dirs []string
	for _, o := range b.OutputFiles() {
		d := filepath.Dir(o)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// writeScript stores the script of b under dir and returns its path. An
// unchanged script is left untouched so its timestamp stays stable.
func writeScript(dir string, b *graph.BuildSet) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating script directory: %w", err)
	}
	path := filepath.Join(dir, ScriptName(b))
	content := RenderScript(b)
	if prev, err := os.ReadFile(path); err == nil && bytes.Equal(prev, content) {
		return path, nil
	}
	if err := os.WriteFile(path, content, 0o755); err != nil {
		return "", fmt.Errorf("writing script %s: %w", path, err)
	}
	return path, nil
}
