package testutil

import (
	"os/exec"
	"testing"
)

// CopyScript is a two target project built from coreutils only: "gen"
// writes a file and "app" copies it next to a stamp.
const CopyScript = `
project "demo" {
  target "gen" {
    operator "write" {
      commands = [["sh", "-c", "echo generated > $@out"]]
      build_set {
        outputs = { out = [output_path("gen.txt")] }
      }
    }
  }

  target "app" {
    depends "gen" {}

    operator "copy" {
      commands = [
        ["cp", "$<src", "$@dst"],
        ["touch", "$@stamp"],
      ]
      build_set {
        inputs  = { src = [output_path("gen.txt")] }
        outputs = { dst = [output_path("app.txt")], stamp = [output_path("app.stamp")] }
      }
    }
  }
}
`

// RequireNinja skips the test when no ninja binary is on PATH and returns
// its path otherwise.
func RequireNinja(t *testing.T) string {
	t.Helper()
	p, err := exec.LookPath("ninja")
	if err != nil {
		t.Skip("ninja not found on PATH")
	}
	return p
}
