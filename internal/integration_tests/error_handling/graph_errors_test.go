package integration_tests

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/regen"
	"github.com/vk/buildgrid/internal/testutil"
)

// Test for: invalid hcl is rejected before anything is written.
func TestErrorHandling_InvalidHCL_IsRejected(t *testing.T) {
	result := testutil.RunIntegrationTest(t, map[string]string{
		"build.hcl": `
project "demo" {
  target "main" {
    // Missing closing brace here
`,
	})

	var cfgErr *errdefs.ConfigurationError
	require.ErrorAs(t, result.Err, &cfgErr)
	_, err := os.Stat(filepath.Join(result.Root, "build", regen.RootManifest))
	assert.True(t, os.IsNotExist(err), "no manifest may be written for a broken script")
}

// Test for: dependency cycles are rejected with the offending path.
func TestErrorHandling_DependencyCycle(t *testing.T) {
	result := testutil.RunIntegrationTest(t, map[string]string{
		"build.hcl": `
project "demo" {
  target "a" {
    depends "c" {}
  }
  target "b" {
    depends "a" {}
  }
  target "c" {
    depends "b" {}
  }
}
`,
	})

	require.ErrorIs(t, result.Err, errdefs.ErrCycle)
	var integrityErr *errdefs.GraphIntegrityError
	require.ErrorAs(t, result.Err, &integrityErr)
}

// Test for: two build sets may not claim the same output with different
// inputs.
func TestErrorHandling_ConflictingOutputs(t *testing.T) {
	result := testutil.RunIntegrationTest(t, map[string]string{
		"build.hcl": `
project "demo" {
  target "main" {
    operator "one" {
      commands = [["touch", "$@out"]]
      build_set {
        outputs = { out = [output_path("same.txt")] }
      }
    }
    operator "two" {
      commands = [["cp", "$<in", "$@out"]]
      build_set {
        inputs  = { in = ["build.hcl"] }
        outputs = { out = [output_path("same.txt")] }
      }
    }
  }
}
`,
	})

	require.ErrorIs(t, result.Err, errdefs.ErrOutputConflict)
	assert.Contains(t, result.Err.Error(), "same.txt")
}

// Test for: an output template naming an unknown group fails at
// configuration time.
func TestErrorHandling_UnboundTemplate(t *testing.T) {
	result := testutil.RunIntegrationTest(t, map[string]string{
		"build.hcl": `
project "demo" {
  target "main" {
    operator "bad" {
      commands = [["touch", "$@missing"]]
      build_set {
        outputs = { out = [output_path("x.txt")] }
      }
    }
  }
}
`,
	})

	require.ErrorIs(t, result.Err, errdefs.ErrTemplate)
}
