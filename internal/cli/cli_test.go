package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/regen"
)

const script = `
option "greeting" {
  default = "hello"
}

project "demo" {
  target "main" {
    operator "say" {
      commands = [["sh", "-c", "echo ${option.greeting} > $@out"]]
      build_set {
        outputs = { out = [output_path("say.txt")] }
      }
    }
  }
}
`

func writeScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.hcl"), []byte(script), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Run(context.Background(), &out, &errOut, args)
	return out.String(), errOut.String(), err
}

func TestRun_Help(t *testing.T) {
	out, _, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "configure")
	assert.NotContains(t, out, "client <target>", "internal commands stay hidden")
}

func TestRun_UsageErrors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"configure", "--nope"}},
		{name: "unexpected argument", args: []string{"configure", "extra"}},
		{name: "bad variant", args: []string{"configure", "--variant", "fast"}},
		{name: "bad mode", args: []string{"configure", "--mode", "remote"}},
		{name: "bad define", args: []string{"configure", "-D", "=x"}},
		{name: "bad log level", args: []string{"configure", "--log-level", "trace"}},
		{name: "client arity", args: []string{"client", "only-one"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := run(t, tc.args...)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, CodeUsage, exitErr.Code, exitErr.Message)
		})
	}
}

func TestRun_ConfigureThenRegen(t *testing.T) {
	dir := writeScript(t)
	buildDir := filepath.Join(dir, "out")

	out, _, err := run(t, "configure", "-f", dir, "--build-dir", buildDir, "-D", "greeting=hi", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "manifest written (generation 0, buffer build.ping.ninja)")
	assert.FileExists(t, filepath.Join(buildDir, regen.RootManifest))

	st, err := regen.LoadState(buildDir)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"greeting": "hi"}, st.Settings.Options)

	// The generator edge reuses the recorded settings.
	_, _, err = run(t, "regen", "--build-dir", buildDir, "--log-level", "error")
	require.NoError(t, err)
	st2, err := regen.LoadState(buildDir)
	require.NoError(t, err)
	assert.Equal(t, st.Generation, st2.Generation)

	out, _, err = run(t, "configure", "-f", dir, "--build-dir", buildDir, "-D", "greeting=hi", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "manifest up to date")
}

func TestRun_GraphReusesStoredConfig(t *testing.T) {
	dir := writeScript(t)
	buildDir := filepath.Join(dir, "out")
	_, _, err := run(t, "configure", "-f", dir, "--build-dir", buildDir, "--log-level", "error")
	require.NoError(t, err)

	// No -f: the script location comes from the build directory.
	out, _, err := run(t, "graph", "--build-dir", buildDir, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph buildgrid {")
	assert.Contains(t, out, "demo@main")
}

func TestRun_RegenUnconfigured(t *testing.T) {
	_, _, err := run(t, "regen", "--build-dir", t.TempDir())
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, CodeUsage, exitErr.Code)
}

func TestRun_ClientWithoutServer(t *testing.T) {
	t.Setenv("BUILDGRID_SERVER", "")
	_, _, err := run(t, "client", "demo@main", "demo@main:say", "0", "abc")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, CodeUsage, exitErr.Code)
	assert.Contains(t, exitErr.Message, "BUILDGRID_SERVER")
}

func TestToExitError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "plain", err: errors.New("boom"), want: CodeGeneric},
		{name: "exit error passes through", err: &ExitError{Code: 42, Message: "x"}, want: 42},
		{name: "configuration", err: errdefs.Configf("x", "bad"), want: CodeUsage},
		{name: "integrity", err: errdefs.DuplicateIDError("target", "a@b"), want: CodeIntegrity},
		{name: "export", err: &errdefs.ExportError{Err: errors.New("x")}, want: CodeIntegrity},
		{name: "backend", err: &errdefs.BackendUnavailableError{Binary: "ninja"}, want: CodeBackend},
		{name: "stale", err: &errdefs.StalenessError{Target: "a@b"}, want: CodeStale},
		{name: "execution", err: &errdefs.ExecutionError{Subject: "ninja", Code: 7}, want: 7},
		{name: "wrapped execution", err: fmt.Errorf("build: %w", &errdefs.ExecutionError{Code: 9}), want: 9},
		{name: "execution without code", err: &errdefs.ExecutionError{}, want: CodeGeneric},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, toExitError(tc.err).Code)
		})
	}
}
