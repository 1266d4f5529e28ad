package app

import (
	"context"
	"path/filepath"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/ninja"
	"github.com/vk/buildgrid/internal/regen"
)

// Configure evaluates the build scripts into a new session and freezes it.
func (a *App) Configure(ctx context.Context) (*Loaded, error) {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Configuring.", "file", a.config.File, "build_dir", a.config.BuildDir, "variant", a.config.Variant, "options", a.config.Options.Defines())

	sess, err := graph.NewSession(a.config.BuildDir, a.config.Variant, a.config.Options)
	if err != nil {
		return nil, err
	}
	scripts, err := a.loader.Load(ctx, sess, a.config.File)
	if err != nil {
		return nil, err
	}
	sess.Freeze()

	logger.Info("Graph configured.", "projects", sess.ProjectIDs(), "targets", len(sess.Targets()), "operators", len(sess.Operators()), "build_sets", len(sess.BuildSets()))
	return &Loaded{Session: sess, Scripts: scripts}, nil
}

// Export renders l and installs it through the regeneration double buffer.
func (a *App) Export(ctx context.Context, l *Loaded) (regen.Result, error) {
	ctx = a.withLogger(ctx)
	body, err := ninja.Export(ctx, l.Session, ninja.Options{
		Mode:      a.config.Mode,
		Self:      a.self,
		ScriptDir: filepath.Join(a.config.BuildDir, regen.StateDir, "scripts"),
	})
	if err != nil {
		return regen.Result{}, err
	}
	ctrl := &regen.Controller{BuildDir: a.config.BuildDir, Self: a.self}
	return ctrl.Regenerate(ctx, body, l.Scripts, a.config.settings())
}

// Generate configures and exports in one step.
func (a *App) Generate(ctx context.Context) (*Loaded, regen.Result, error) {
	l, err := a.Configure(ctx)
	if err != nil {
		return nil, regen.Result{}, err
	}
	res, err := a.Export(ctx, l)
	if err != nil {
		return nil, regen.Result{}, err
	}
	return l, res, nil
}
