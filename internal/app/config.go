package app

import (
	"path/filepath"
	"slices"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/ninja"
	"github.com/vk/buildgrid/internal/regen"
)

// Variants are the accepted build variants.
var Variants = []string{"debug", "release"}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// File is a build script or a directory searched for build scripts.
	File      string
	BuildRoot string
	Variant   string
	// BuildDir defaults to BuildRoot/Variant.
	BuildDir string
	Mode     ninja.Mode
	Options  config.Options
	// Ninja is an explicit path to the executor binary.
	Ninja string

	LogFormat string
	LogLevel  string
	// Verbose makes the build server echo every command before it runs.
	Verbose bool
}

// NewConfig validates cfg, fills in defaults and makes paths absolute.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.File == "" {
		cfg.File = "."
	}
	if cfg.BuildRoot == "" {
		cfg.BuildRoot = "build"
	}
	if cfg.Variant == "" {
		cfg.Variant = "debug"
	}
	if !slices.Contains(Variants, cfg.Variant) {
		return nil, errdefs.Configf("variant", "must be one of %v, got %q", Variants, cfg.Variant)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !slices.Contains(LogLevels, cfg.LogLevel) {
		return nil, errdefs.Configf("log-level", "must be one of %v, got %q", LogLevels, cfg.LogLevel)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if !slices.Contains(LogFormats, cfg.LogFormat) {
		return nil, errdefs.Configf("log-format", "must be one of %v, got %q", LogFormats, cfg.LogFormat)
	}
	if cfg.BuildDir == "" {
		cfg.BuildDir = filepath.Join(cfg.BuildRoot, cfg.Variant)
	}
	if cfg.Options == nil {
		cfg.Options = config.Options{}
	}

	var err error
	if cfg.File, err = filepath.Abs(cfg.File); err != nil {
		return nil, &errdefs.ConfigurationError{Subject: "file", Reason: "invalid path", Err: err}
	}
	if cfg.BuildDir, err = filepath.Abs(cfg.BuildDir); err != nil {
		return nil, &errdefs.ConfigurationError{Subject: "build-dir", Reason: "invalid path", Err: err}
	}
	return &cfg, nil
}

// settings records cfg for the generator edge.
func (c *Config) settings() regen.Settings {
	return regen.Settings{
		File:    c.File,
		Variant: c.Variant,
		Mode:    c.Mode.String(),
		Ninja:   c.Ninja,
		Options: c.Options,
	}
}

// ConfigFromState rebuilds the configure invocation recorded in buildDir.
// Logging settings are taken from base.
func ConfigFromState(buildDir string, base Config) (*Config, error) {
	abs, err := filepath.Abs(buildDir)
	if err != nil {
		return nil, &errdefs.ConfigurationError{Subject: "build-dir", Reason: "invalid path", Err: err}
	}
	st, err := regen.LoadState(abs)
	if err != nil {
		return nil, err
	}
	if st.Generation < 0 {
		return nil, errdefs.Configf("build-dir", "%s was never configured", abs)
	}
	mode, err := ninja.ParseMode(st.Settings.Mode)
	if err != nil {
		return nil, err
	}
	return NewConfig(Config{
		File:      st.Settings.File,
		Variant:   st.Settings.Variant,
		BuildDir:  abs,
		Mode:      mode,
		Options:   config.Options(st.Settings.Options),
		Ninja:     st.Settings.Ninja,
		LogFormat: base.LogFormat,
		LogLevel:  base.LogLevel,
		Verbose:   base.Verbose,
	})
}
