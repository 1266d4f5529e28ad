package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/hcl"
	"github.com/vk/buildgrid/internal/ninja"
)

// options collects the flag values shared by the commands.
type options struct {
	logLevel  string
	logFormat string

	file      string
	buildRoot string
	variant   string
	buildDir  string
	mode      string
	ninja     string
	defines   []string
	verbose   bool
}

// NewRootCommand builds the command tree. Command output goes to outW, logs
// and diagnostics to errW.
func NewRootCommand(outW, errW io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "buildgrid",
		Short: "Declarative build graphs exported to ninja",
		Long: `buildgrid evaluates HCL build scripts into a graph of targets, operators and
build sets, exports the graph as a ninja manifest and runs ninja against it.

In server mode every build set is dispatched back to a build server that
holds the configured graph; in script mode each build set is flattened into
a standalone shell script.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "Logging level: debug, info, warn or error.")
	root.PersistentFlags().StringVar(&o.logFormat, "log-format", "text", "Log output format: text or json.")

	root.AddCommand(
		newConfigureCommand(o, outW, errW),
		newBuildCommand(o, outW, errW),
		newCleanCommand(o, outW, errW),
		newServeCommand(o, outW, errW),
		newGraphCommand(o, outW, errW),
		newRegenCommand(o, outW, errW),
		newClientCommand(o, outW, errW),
	)
	return root
}

func addProjectFlags(cmd *cobra.Command, o *options) {
	f := cmd.Flags()
	f.StringVarP(&o.file, "file", "f", ".", "Build script, or a directory searched for *.hcl scripts.")
	f.StringVar(&o.buildRoot, "build-root", "build", "Parent of the per-variant build directories.")
	f.StringVar(&o.variant, "variant", "debug", "Build variant: debug or release.")
	f.StringVar(&o.buildDir, "build-dir", "", "Build directory (default <build-root>/<variant>).")
	f.StringVar(&o.mode, "mode", "server", "Export mode: server or script.")
	f.StringVar(&o.ninja, "ninja", "", "Path to the ninja binary (default: search PATH).")
	f.StringArrayVarP(&o.defines, "define", "D", nil, "Set a build option, name=value. May be repeated.")
}

// projectFlags are the flags that change what gets configured.
var projectFlags = []string{"file", "variant", "mode", "ninja", "define"}

// newConfig builds the app configuration from the flags.
func (o *options) newConfig() (*app.Config, error) {
	mode, err := ninja.ParseMode(o.mode)
	if err != nil {
		return nil, err
	}
	defines, err := config.ParseDefines(o.defines)
	if err != nil {
		return nil, err
	}
	return app.NewConfig(app.Config{
		File:      o.file,
		BuildRoot: o.buildRoot,
		Variant:   o.variant,
		BuildDir:  o.buildDir,
		Mode:      mode,
		Options:   defines,
		Ninja:     o.ninja,
		LogFormat: o.logFormat,
		LogLevel:  o.logLevel,
		Verbose:   o.verbose,
	})
}

// resolveConfig reuses the configuration recorded in the build directory
// unless a flag that changes the graph was given.
func (o *options) resolveConfig(cmd *cobra.Command) (*app.Config, error) {
	cfg, err := o.newConfig()
	if err != nil {
		return nil, err
	}
	for _, name := range projectFlags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			return cfg, nil
		}
	}
	if stored, err := app.ConfigFromState(cfg.BuildDir, *cfg); err == nil {
		return stored, nil
	}
	return cfg, nil
}

func newApp(cfg *app.Config, outW, errW io.Writer) *app.App {
	return app.NewApp(outW, errW, cfg, hcl.NewLoader())
}

func newConfigureCommand(o *options, outW, errW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Evaluate the build scripts and export the ninja manifest",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.newConfig()
			if err != nil {
				return err
			}
			_, res, err := newApp(cfg, outW, errW).Generate(cmd.Context())
			if err != nil {
				return err
			}
			state := "up to date"
			if res.Changed {
				state = "written"
			}
			fmt.Fprintf(outW, "%s: manifest %s (generation %d, buffer %s)\n", cfg.BuildDir, state, res.Generation, res.Active)
			return nil
		},
	}
	addProjectFlags(cmd, o)
	return cmd
}

func newBuildCommand(o *options, outW, errW io.Writer) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "build [selector...]",
		Short: "Configure and run ninja for the selected targets or operators",
		Long: `Configure and run ninja. A selector is a target ("project@target" or just
"target" within the only project) or an operator ("target:operator").
Without selectors the default targets are built.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolveConfig(cmd)
			if err != nil {
				return err
			}
			return newApp(cfg, outW, errW).Build(cmd.Context(), args, watch)
		},
	}
	addProjectFlags(cmd, o)
	cmd.Flags().BoolVar(&o.verbose, "verbose", false, "Print every command before it runs.")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the graph when build scripts change during the build.")
	return cmd
}

func newCleanCommand(o *options, outW, errW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [selector...]",
		Short: "Remove the outputs of the selected operators, or of everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolveConfig(cmd)
			if err != nil {
				return err
			}
			return newApp(cfg, outW, errW).Clean(cmd.Context(), args)
		},
	}
	addProjectFlags(cmd, o)
	return cmd
}

func newServeCommand(o *options, outW, errW io.Writer) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a build server for a ninja started separately",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.resolveConfig(cmd)
			if err != nil {
				return err
			}
			return newApp(cfg, outW, errW).Serve(cmd.Context(), addr, watch)
		},
	}
	addProjectFlags(cmd, o)
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default 127.0.0.1 on a free port).")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the graph when build scripts change.")
	return cmd
}

func newGraphCommand(o *options, outW, errW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the configured graph in DOT format",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.resolveConfig(cmd)
			if err != nil {
				return err
			}
			return newApp(cfg, outW, errW).Graph(cmd.Context(), outW)
		},
	}
	addProjectFlags(cmd, o)
	return cmd
}

func newRegenCommand(o *options, outW, errW io.Writer) *cobra.Command {
	var buildDir string
	cmd := &cobra.Command{
		Use:    "regen",
		Short:  "Regenerate the manifest of a configured build directory",
		Hidden: true,
		Args:   usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.ConfigFromState(buildDir, app.Config{LogFormat: o.logFormat, LogLevel: o.logLevel})
			if err != nil {
				return err
			}
			_, _, err = newApp(cfg, outW, errW).Generate(cmd.Context())
			return err
		},
	}
	cmd.Flags().StringVar(&buildDir, "build-dir", "", "Configured build directory.")
	_ = cmd.MarkFlagRequired("build-dir")
	return cmd
}

func newClientCommand(o *options, outW, errW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:    "client <target> <operator> <index> <hash>",
		Short:  "Run one build set through the build server",
		Hidden: true,
		Args:   usageArgs(cobra.ExactArgs(4)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunClient(cmd.Context(), args, os.Getenv, outW, errW, errW, o.logLevel, o.logFormat)
		},
	}
}
