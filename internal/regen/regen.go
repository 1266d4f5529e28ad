// Package regen keeps the exported manifest in step with the build scripts.
//
// The manifest lives in two physical buffers, build.ping.ninja for even
// generations and build.pong.ninja for odd ones. The root build.ninja holds
// the generator edge and includes the active buffer. A regeneration writes
// the inactive buffer and only then swaps the root over to it, so the file
// the executor is reading is never overwritten. Rendering identical content
// writes nothing, which is what lets the generator edge settle.
package regen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/kballard/go-shellquote"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/ninja"
)

const (
	// RootManifest is the file the executor is pointed at.
	RootManifest = "build.ninja"
	// StateDir holds the state file, the lock and the scripts.
	StateDir = ".buildgrid"

	pingBuffer = "build.ping.ninja"
	pongBuffer = "build.pong.ninja"
)

// BufferFor returns the buffer file of a generation.
func BufferFor(generation int) string {
	if generation%2 == 0 {
		return pingBuffer
	}
	return pongBuffer
}

// Controller regenerates the manifests of one build directory.
type Controller struct {
	BuildDir string
	// Self is the argv prefix that starts this program; the generator edge
	// runs "<Self> regen --build-dir <BuildDir>".
	Self []string
}

// Result reports what a regeneration did.
type Result struct {
	Generation int
	Active     string
	// Changed is false when nothing on disk was modified.
	Changed bool
}

// Regenerate installs body as the current manifest. scripts are the build
// scripts the generator edge depends on.
func (c *Controller) Regenerate(ctx context.Context, body []byte, scripts []string, settings Settings) (Result, error) {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(filepath.Join(c.BuildDir, StateDir), 0o755); err != nil {
		return Result{}, fmt.Errorf("creating build directory: %w", err)
	}
	lock := flock.New(filepath.Join(c.BuildDir, StateDir, "lock"))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return Result{}, fmt.Errorf("locking build directory: %w", err)
	}
	if !locked {
		return Result{}, fmt.Errorf("build directory %s is locked", c.BuildDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failed to release build directory lock.", "error", err)
		}
	}()

	st, err := LoadState(c.BuildDir)
	if err != nil {
		return Result{}, err
	}

	res := Result{Generation: st.Generation, Active: st.Active}
	if st.Active == "" || !c.fileEquals(st.Active, body) {
		res.Generation = st.Generation + 1
		res.Active = BufferFor(res.Generation)
		if err := WriteFileAtomic(filepath.Join(c.BuildDir, res.Active), body, 0o644); err != nil {
			return Result{}, fmt.Errorf("writing %s: %w", res.Active, err)
		}
		res.Changed = true
		logger.Info("Wrote manifest buffer.", "generation", res.Generation, "buffer", res.Active)
	}

	root, err := c.renderRoot(res.Generation, res.Active, scripts)
	if err != nil {
		return Result{}, err
	}
	if !c.fileEquals(RootManifest, root) {
		if err := WriteFileAtomic(filepath.Join(c.BuildDir, RootManifest), root, 0o644); err != nil {
			return Result{}, fmt.Errorf("writing %s: %w", RootManifest, err)
		}
		res.Changed = true
	}

	next := &State{Generation: res.Generation, Active: res.Active, Scripts: scripts, Settings: settings}
	if res.Changed || !sameState(st, next) {
		if err := saveState(c.BuildDir, next); err != nil {
			return Result{}, err
		}
	}
	if !res.Changed {
		logger.Debug("Manifest is up to date.", "generation", res.Generation)
	}
	return res, nil
}

func (c *Controller) fileEquals(name string, want []byte) bool {
	got, err := os.ReadFile(filepath.Join(c.BuildDir, name))
	return err == nil && bytes.Equal(got, want)
}

func (c *Controller) renderRoot(generation int, active string, scripts []string) ([]byte, error) {
	w := &ninja.Writer{}
	w.Comment("Generated by buildgrid. Do not edit.")
	w.Variable("ninja_required_version", ninja.MinVersion)
	w.Variable("builddir", StateDir)
	w.Variable("generation", strconv.Itoa(generation))
	w.Newline()

	command := append(append([]string(nil), c.Self...), "regen", "--build-dir", c.BuildDir)
	w.Rule("regenerate",
		ninja.Var{Key: "command", Value: ninja.Escape(shellquote.Join(command...))},
		ninja.Var{Key: "description", Value: "Regenerating " + RootManifest},
		ninja.Var{Key: "generator", Value: "1"},
		ninja.Var{Key: "restat", Value: "1"},
	)
	w.Build([]string{RootManifest}, "regenerate", scripts, nil, nil)
	w.Newline()
	w.Include(active)
	return w.Bytes()
}

func sameState(a, b *State) bool {
	if a.Generation != b.Generation || a.Active != b.Active || len(a.Scripts) != len(b.Scripts) {
		return false
	}
	for i := range a.Scripts {
		if a.Scripts[i] != b.Scripts[i] {
			return false
		}
	}
	x, _ := yamlBytes(a.Settings)
	y, _ := yamlBytes(b.Settings)
	return bytes.Equal(x, y)
}
