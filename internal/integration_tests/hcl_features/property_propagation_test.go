package integration_tests

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/testutil"
)

const layeredScript = `
property "defines" {
  type  = list(string)
  merge = "append"
}

project "core" {
  target "base" {
    property "defines" {
      export = true
      value  = ["CORE=1"]
    }
  }
}

project "demo" {
  target "mid" {
    depends "core@base" {
      public = true
    }
    property "defines" {
      export = true
      value  = ["MID=1"]
    }
  }

  target "hidden" {
    property "defines" {
      value = ["HIDDEN=1"]
    }
  }

  target "app" {
    depends "mid" {}
    depends "hidden" {}

    operator "show" {
      commands  = [["echo", "-D$defs", "${variant}"]]
      variables = { defs = prop("defines") }
      build_set {
        outputs = { out = [output_path("show.txt")] }
      }
    }
  }
}
`

// Test for: exported properties propagate through public dependencies while
// private ones stay with their target.
func TestHCLFeatures_ExportedPropertiesPropagate(t *testing.T) {
	result := testutil.RunIntegrationTest(t, map[string]string{
		"core/build.hcl": layeredScript,
	}, func(c *app.Config) { c.Variant = "release" })
	require.NoError(t, result.Err)

	sess := result.Loaded.Session
	defs, err := sess.Props().ResolveStrings("demo@app", "defines")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"CORE=1", "MID=1"}, defs); diff != "" {
		t.Errorf("resolved defines mismatch (-want +got):\n%s", diff)
	}

	op, ok := sess.Operator("demo@app:show")
	require.True(t, ok)
	require.Len(t, op.BuildSets(), 1)
	want := [][]string{{"echo", "-DCORE=1", "-DMID=1", "release"}}
	if diff := cmp.Diff(want, op.BuildSets()[0].Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{filepath.Join(result.App.Config().BuildDir, "demo", "show.txt")}, op.BuildSets()[0].OutputFiles())
}

// Test for: scripts spread over several files of a directory form one graph.
func TestHCLFeatures_UnifiedLoading(t *testing.T) {
	result := testutil.RunIntegrationTest(t, map[string]string{
		"a.hcl": `project "one" {
  target "lib" {}
}`,
		"nested/b.hcl": `project "two" {
  target "bin" {
    depends "one@lib" {}
  }
}`,
	})
	require.NoError(t, result.Err)

	sess := result.Loaded.Session
	require.Len(t, sess.Targets(), 2)
	bin, ok := sess.Target("two@bin")
	require.True(t, ok)
	require.Len(t, bin.Dependencies(), 1)
	require.Len(t, result.Loaded.Scripts, 2)
	testutil.AssertLogged(t, result, "Graph configured.")
}
