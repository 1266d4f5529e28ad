package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/hcl"
	"github.com/vk/buildgrid/internal/regen"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	Root      string
	LogOutput string
	Output    *SafeBuffer
	Err       error
	App       *app.App
	Loaded    *app.Loaded
	Regen     regen.Result
}

// WriteFiles writes files, keyed by slash-separated relative path, into a
// fresh temporary directory and returns it.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

// NewApp creates an app over root with the HCL loader. The build directory
// is root/build unless configure says otherwise.
func NewApp(t *testing.T, root string, configure ...func(*app.Config)) (*app.App, *SafeBuffer, *SafeBuffer) {
	t.Helper()
	cfg := app.Config{
		File:      root,
		BuildDir:  filepath.Join(root, "build"),
		LogLevel:  "debug",
		LogFormat: "text",
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	appConfig, err := app.NewConfig(cfg)
	require.NoError(t, err)

	out, logs := &SafeBuffer{}, &SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("BUILDGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return app.NewApp(out, logs, appConfig, hcl.NewLoader()), out, logs
}

// RunIntegrationTest writes files into a temporary project and runs the
// configure and export phases against it.
func RunIntegrationTest(t *testing.T, files map[string]string, configure ...func(*app.Config)) *HarnessResult {
	t.Helper()
	return RunIntegrationTestWithContext(context.Background(), t, files, configure...)
}

// RunIntegrationTestWithContext is RunIntegrationTest with a caller
// provided context.
func RunIntegrationTestWithContext(ctx context.Context, t *testing.T, files map[string]string, configure ...func(*app.Config)) *HarnessResult {
	t.Helper()
	root := WriteFiles(t, files)
	testApp, out, logs := NewApp(t, root, configure...)

	loaded, res, err := testApp.Generate(ctx)
	return &HarnessResult{
		Root:      root,
		LogOutput: logs.String(),
		Output:    out,
		Err:       err,
		App:       testApp,
		Loaded:    loaded,
		Regen:     res,
	}
}
