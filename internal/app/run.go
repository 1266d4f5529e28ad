package app

import (
	"context"
	"fmt"
	"io"

	"github.com/vk/buildgrid/internal/buildserver"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/ninja"
	"golang.org/x/sync/errgroup"
)

// Build regenerates the manifest and runs the executor for selectors. In
// server mode a build server runs alongside the executor for the duration of
// the run. With watch set, script changes during the run are configured and
// swapped into the server.
func (a *App) Build(ctx context.Context, selectors []string, watch bool) error {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Build started.", "selectors", selectors)

	backend, err := ninja.Discover(ctx, a.config.Ninja, a.config.BuildDir)
	if err != nil {
		return err
	}

	l, res, err := a.Generate(ctx)
	if err != nil {
		return err
	}
	targets, err := phonyTargets(l.Session, selectors)
	if err != nil {
		return err
	}
	logger.Debug("Manifest ready.", "generation", res.Generation, "buffer", res.Active, "changed", res.Changed)

	inv := ninja.Invocation{BuildDir: a.config.BuildDir, Stdout: a.outW, Stderr: a.errW}
	if a.config.Mode == ninja.ScriptMode {
		logger.Info("🚀 Running executor.", "mode", a.config.Mode, "targets", targets)
		if err := backend.Build(ctx, inv, targets...); err != nil {
			return err
		}
		logger.Info("🏁 Build finished.")
		return nil
	}

	srv := buildserver.New(ctx, l.Session)
	if err := srv.Listen(""); err != nil {
		return err
	}
	inv.Env = []string{buildserver.EnvServer + "=" + srv.Addr()}
	if a.config.Verbose {
		inv.Env = append(inv.Env, buildserver.EnvVerbose+"=true")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		defer srv.Shutdown()
		logger.Info("🚀 Running executor.", "mode", a.config.Mode, "server", srv.Addr(), "targets", targets)
		return backend.Build(gctx, inv, targets...)
	})
	if watch {
		watchCtx, stop := context.WithCancel(gctx)
		defer stop()
		g.Go(func() error {
			defer stop()
			return a.watch(watchCtx, l.Scripts, a.reloader(srv))
		})
		go func() {
			// The watcher stops with the executor.
			<-srv.Done()
			stop()
		}()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("🏁 Build finished.")
	return nil
}

// reloader returns the watch callback that reconfigures, re-exports and
// swaps the new graph into srv.
func (a *App) reloader(srv *buildserver.Server) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		l, res, err := a.Generate(ctx)
		if err != nil {
			return nil, err
		}
		srv.Swap(l.Session)
		ctxlog.FromContext(ctx).Info("Reloaded build scripts.", "generation", res.Generation, "changed", res.Changed)
		return l.Scripts, nil
	}
}

// Serve runs a standalone build server for an executor started elsewhere.
// The address is printed as an environment assignment on outW.
func (a *App) Serve(ctx context.Context, addr string, watch bool) error {
	ctx = a.withLogger(ctx)
	l, _, err := a.Generate(ctx)
	if err != nil {
		return err
	}
	srv := buildserver.New(ctx, l.Session)
	if err := srv.Listen(addr); err != nil {
		return err
	}
	fmt.Fprintf(a.outW, "%s=%s\n", buildserver.EnvServer, srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	if watch {
		watchCtx, stop := context.WithCancel(gctx)
		defer stop()
		g.Go(func() error { return a.watch(watchCtx, l.Scripts, a.reloader(srv)) })
		go func() {
			<-srv.Done()
			stop()
		}()
	}
	return g.Wait()
}

// Clean removes the outputs of the selected operators.
func (a *App) Clean(ctx context.Context, selectors []string) error {
	ctx = a.withLogger(ctx)
	backend, err := ninja.Discover(ctx, a.config.Ninja, a.config.BuildDir)
	if err != nil {
		return err
	}
	l, _, err := a.Generate(ctx)
	if err != nil {
		return err
	}

	var rules []string
	if len(selectors) > 0 {
		ops, err := l.Session.Select(selectors)
		if err != nil {
			return err
		}
		for _, op := range ops {
			rules = append(rules, op.RuleName())
		}
	}
	inv := ninja.Invocation{BuildDir: a.config.BuildDir, Stdout: a.outW, Stderr: a.errW}
	return backend.Clean(ctx, inv, rules...)
}

// Graph writes the configured graph in DOT format.
func (a *App) Graph(ctx context.Context, w io.Writer) error {
	l, err := a.Configure(ctx)
	if err != nil {
		return err
	}
	return l.Session.WriteDOT(w)
}

// phonyTargets maps selectors to the aggregate nodes of the manifest. No
// selectors means the manifest's default.
func phonyTargets(sess *graph.Session, selectors []string) ([]string, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	ops, err := sess.Select(selectors)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = ninja.OperatorPhony(op)
	}
	return out, nil
}
