package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertLogged checks that the captured log output contains substr.
func AssertLogged(t *testing.T, result *HarnessResult, substr string) {
	t.Helper()
	require.True(t,
		strings.Contains(result.LogOutput, substr),
		"expected %q in log output:\n%s", substr, result.LogOutput,
	)
}

// ReadBuildFile returns the content of a file below the build directory.
func ReadBuildFile(t *testing.T, result *HarnessResult, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(result.App.Config().BuildDir, filepath.FromSlash(rel)))
	require.NoError(t, err, "reading %s", rel)
	return string(data)
}
