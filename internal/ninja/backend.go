package ninja

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/errdefs"
)

// MinVersion is the oldest ninja release the manifests are written for.
const MinVersion = "1.7.1"

var versionRe = regexp.MustCompile(`(\d+(?:\.\d+)*)`)

// Backend is a located, version checked ninja binary.
type Backend struct {
	Path    string
	Version *version.Version
}

// versionProbe runs "<bin> --version". It is a variable for tests.
var versionProbe = func(ctx context.Context, bin string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	return string(out), err
}

// Discover locates ninja. It tries explicit first, then a copy inside
// buildDir, then $PATH. The first candidate that exists must satisfy
// MinVersion.
func Discover(ctx context.Context, explicit, buildDir string) (*Backend, error) {
	logger := ctxlog.FromContext(ctx)

	var candidates []string
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if buildDir != "" {
		candidates = append(candidates, filepath.Join(buildDir, "ninja"))
	}
	if p, err := exec.LookPath("ninja"); err == nil {
		candidates = append(candidates, p)
	}

	for i, bin := range candidates {
		if _, err := os.Stat(bin); err != nil {
			if i == 0 && explicit != "" {
				return nil, &errdefs.BackendUnavailableError{Binary: bin, Required: MinVersion, Err: err}
			}
			continue
		}
		out, err := versionProbe(ctx, bin)
		if err != nil {
			return nil, &errdefs.BackendUnavailableError{Binary: bin, Required: MinVersion, Err: err}
		}
		v, err := parseVersion(out)
		if err != nil {
			return nil, &errdefs.BackendUnavailableError{Binary: bin, Required: MinVersion, Err: err}
		}
		if err := checkVersion(v); err != nil {
			return nil, &errdefs.BackendUnavailableError{Binary: bin, Found: v.String(), Required: MinVersion}
		}
		logger.Debug("Found ninja.", "path", bin, "version", v.String())
		return &Backend{Path: bin, Version: v}, nil
	}
	return nil, &errdefs.BackendUnavailableError{Required: MinVersion}
}

func parseVersion(out string) (*version.Version, error) {
	m := versionRe.FindString(strings.TrimSpace(out))
	if m == "" {
		return nil, fmt.Errorf("unrecognized version output %q", out)
	}
	return version.NewVersion(m)
}

func checkVersion(v *version.Version) error {
	c, err := version.NewConstraint(">= " + MinVersion)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("ninja %s does not satisfy %s", v, c)
	}
	return nil
}

// Invocation describes one run of the backend.
type Invocation struct {
	BuildDir string
	Args     []string
	// Env is appended to the current process environment.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Build runs ninja for the given aggregate nodes.
func (b *Backend) Build(ctx context.Context, inv Invocation, targets ...string) error {
	inv.Args = append(append([]string(nil), inv.Args...), targets...)
	return b.run(ctx, inv)
}

// Clean removes the outputs of the given operators. Rule names clean only the
// files produced by those rules; without rules every output is removed.
func (b *Backend) Clean(ctx context.Context, inv Invocation, rules ...string) error {
	args := append([]string{"-t", "clean"}, inv.Args...)
	if len(rules) > 0 {
		args = append(args, "-r")
		args = append(args, rules...)
	}
	inv.Args = args
	return b.run(ctx, inv)
}

func (b *Backend) run(ctx context.Context, inv Invocation) error {
	args := append([]string{"-C", inv.BuildDir}, inv.Args...)
	ctxlog.FromContext(ctx).Debug("Running ninja.", "path", b.Path, "args", args)

	cmd := exec.CommandContext(ctx, b.Path, args...)
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &errdefs.ExecutionError{Subject: "ninja", Code: exitErr.ExitCode()}
		}
		return &errdefs.BackendUnavailableError{Binary: b.Path, Required: MinVersion, Err: err}
	}
	return nil
}
