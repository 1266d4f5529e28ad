package regen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestRegenerate_DoubleBuffer(t *testing.T) {
	dir := t.TempDir()
	c := &Controller{BuildDir: dir, Self: []string{"/usr/bin/buildgrid"}}
	ctx := context.Background()
	scripts := []string{"/src/BUILD.hcl"}
	settings := Settings{File: "/src", Variant: "debug", Mode: "server"}

	res, err := c.Regenerate(ctx, []byte("# gen A\n"), scripts, settings)
	require.NoError(t, err)
	assert.Equal(t, Result{Generation: 0, Active: pingBuffer, Changed: true}, res)
	assert.Equal(t, "# gen A\n", readFile(t, dir, pingBuffer))

	root := readFile(t, dir, RootManifest)
	assert.Contains(t, root, "ninja_required_version = 1.7.1\n")
	assert.Contains(t, root, "generation = 0\n")
	assert.Contains(t, root, "rule regenerate\n  command = /usr/bin/buildgrid regen --build-dir "+dir+"\n")
	assert.Contains(t, root, "  generator = 1\n  restat = 1\n")
	assert.Contains(t, root, "build build.ninja: regenerate /src/BUILD.hcl\n")
	assert.Contains(t, root, "include build.ping.ninja\n")

	res, err = c.Regenerate(ctx, []byte("# gen B\n"), scripts, settings)
	require.NoError(t, err)
	assert.Equal(t, Result{Generation: 1, Active: pongBuffer, Changed: true}, res)
	assert.Equal(t, "# gen B\n", readFile(t, dir, pongBuffer))
	assert.Equal(t, "# gen A\n", readFile(t, dir, pingBuffer), "the previously active buffer is not touched")
	assert.Contains(t, readFile(t, dir, RootManifest), "include build.pong.ninja\n")

	st, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Generation)
	assert.Equal(t, pongBuffer, st.Active)
	assert.Equal(t, scripts, st.Scripts)
	assert.Equal(t, settings, st.Settings)
}

func TestRegenerate_FixedPoint(t *testing.T) {
	dir := t.TempDir()
	c := &Controller{BuildDir: dir, Self: []string{"buildgrid"}}
	ctx := context.Background()
	body := []byte("rule x\n  command = true\n")
	scripts := []string{"/src/a.hcl", "/src/b.hcl"}

	_, err := c.Regenerate(ctx, body, scripts, Settings{})
	require.NoError(t, err)
	root1 := readFile(t, dir, RootManifest)
	buf1 := readFile(t, dir, pingBuffer)
	info1, err := os.Stat(filepath.Join(dir, RootManifest))
	require.NoError(t, err)

	res, err := c.Regenerate(ctx, body, scripts, Settings{})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, res.Generation)
	assert.Equal(t, root1, readFile(t, dir, RootManifest))
	assert.Equal(t, buf1, readFile(t, dir, pingBuffer))
	info2, err := os.Stat(filepath.Join(dir, RootManifest))
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
	_, err = os.Stat(filepath.Join(dir, pongBuffer))
	assert.True(t, os.IsNotExist(err))
}

func TestRegenerate_ScriptListChangeRewritesRootOnly(t *testing.T) {
	dir := t.TempDir()
	c := &Controller{BuildDir: dir, Self: []string{"buildgrid"}}
	ctx := context.Background()
	body := []byte("# body\n")

	_, err := c.Regenerate(ctx, body, []string{"/a.hcl"}, Settings{})
	require.NoError(t, err)
	res, err := c.Regenerate(ctx, body, []string{"/a.hcl", "/b.hcl"}, Settings{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 0, res.Generation)
	assert.Contains(t, readFile(t, dir, RootManifest), "build build.ninja: regenerate /a.hcl /b.hcl\n")
}

func TestBufferFor(t *testing.T) {
	assert.Equal(t, "build.ping.ninja", BufferFor(0))
	assert.Equal(t, "build.pong.ninja", BufferFor(1))
	assert.Equal(t, "build.ping.ninja", BufferFor(6))
}

func TestLoadState_Missing(t *testing.T) {
	st, err := LoadState(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, -1, st.Generation)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "f.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
