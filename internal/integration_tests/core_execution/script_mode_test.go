package integration_tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/ninja"
	"github.com/vk/buildgrid/internal/testutil"
)

func scriptMode(c *app.Config) { c.Mode = ninja.ScriptMode }

// Test for: dependent build sets run in order and an unchanged graph is a
// no-op on the second build.
func TestCoreExecution_ScriptModeBuildIsIncremental(t *testing.T) {
	ninjaPath := testutil.RequireNinja(t)
	root := testutil.WriteFiles(t, map[string]string{"build.hcl": testutil.CopyScript})
	testApp, out, _ := testutil.NewApp(t, root, scriptMode, func(c *app.Config) { c.Ninja = ninjaPath })
	ctx := context.Background()

	require.NoError(t, testApp.Build(ctx, nil, false), out.String())
	appTxt := filepath.Join(testApp.Config().BuildDir, "demo", "app.txt")
	data, err := os.ReadFile(appTxt)
	require.NoError(t, err)
	assert.Equal(t, "generated\n", string(data))

	before, err := os.Stat(appTxt)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, testApp.Build(ctx, nil, false), out.String())
	after, err := os.Stat(appTxt)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "an up to date output must not be rebuilt")
	assert.Contains(t, out.String(), "no work to do")
}

// Test for: clean removes the outputs of a selected operator only.
func TestCoreExecution_CleanSelectedOperator(t *testing.T) {
	ninjaPath := testutil.RequireNinja(t)
	root := testutil.WriteFiles(t, map[string]string{"build.hcl": testutil.CopyScript})
	testApp, out, _ := testutil.NewApp(t, root, scriptMode, func(c *app.Config) { c.Ninja = ninjaPath })
	ctx := context.Background()

	require.NoError(t, testApp.Build(ctx, nil, false), out.String())
	require.NoError(t, testApp.Clean(ctx, []string{"app:copy"}), out.String())

	buildDir := testApp.Config().BuildDir
	assert.NoFileExists(t, filepath.Join(buildDir, "demo", "app.txt"))
	assert.NoFileExists(t, filepath.Join(buildDir, "demo", "app.stamp"))
	assert.FileExists(t, filepath.Join(buildDir, "demo", "gen.txt"))
}
