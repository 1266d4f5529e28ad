package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/graph"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// funcLoader is a loader backed by a function, for tests that build the
// graph in Go.
type funcLoader func(ctx context.Context, sess *graph.Session) error

func (f funcLoader) Load(ctx context.Context, sess *graph.Session, paths ...string) ([]string, error) {
	if err := f(ctx, sess); err != nil {
		return nil, err
	}
	return paths, nil
}

// SetupAppTest creates a new app instance over a temporary build directory.
func SetupAppTest(t *testing.T, load func(ctx context.Context, sess *graph.Session) error) (*App, *SafeBuffer) {
	t.Helper()

	root := t.TempDir()
	script := filepath.Join(root, "build.hcl")
	require.NoError(t, os.WriteFile(script, nil, 0o644))
	cfg, err := NewConfig(Config{
		File:     script,
		BuildDir: filepath.Join(root, "build"),
		LogLevel: "debug",
	})
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	testApp := NewApp(&SafeBuffer{}, logBuffer, cfg, funcLoader(load))
	testApp.SetSelf("buildgrid")

	t.Cleanup(func() {
		if os.Getenv("BUILDGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
