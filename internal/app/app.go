package app

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger
	config *Config
	loader config.Loader
	// self is the argv prefix the exported manifest uses to call back into
	// this program.
	self []string
}

// NewApp is the constructor for the main application. Logs go to logW; the
// executor's own output goes to outW.
func NewApp(outW, logW io.Writer, cfg *Config, loader config.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")

	self := []string{"buildgrid"}
	if exe, err := os.Executable(); err == nil {
		self = []string{exe}
	}
	return &App{
		outW:   outW,
		errW:   logW,
		logger: logger,
		config: cfg,
		loader: loader,
		self:   self,
	}
}

// Config returns the configuration the app runs with.
func (a *App) Config() *Config { return a.config }

// SetSelf overrides the command the manifest uses to call back into this
// program.
func (a *App) SetSelf(argv ...string) { a.self = argv }

func (a *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// Loaded is a configured, frozen graph together with the scripts it came
// from.
type Loaded struct {
	Session *graph.Session
	Scripts []string
}
