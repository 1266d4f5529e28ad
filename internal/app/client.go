package app

import (
	"context"
	"io"
	"strconv"

	"github.com/vk/buildgrid/internal/buildserver"
	"github.com/vk/buildgrid/internal/ctxlog"
)

// RunClient is the dispatcher the exported manifest invokes for every build
// set in server mode. It reads the server address from the environment
// through getenv and relays the build set named by args.
func RunClient(ctx context.Context, args []string, getenv func(string) string, stdout, stderr, logW io.Writer, logLevel, logFormat string) error {
	logger := newLogger(logLevel, logFormat, logW)
	ctx = ctxlog.WithLogger(ctx, logger)

	req, err := buildserver.ParseArgs(args)
	if err != nil {
		return err
	}
	req.Verbose = verboseFromEnv(getenv)

	c := &buildserver.Client{
		Addr:   getenv(buildserver.EnvServer),
		Stdout: stdout,
		Stderr: stderr,
	}
	return c.Run(ctx, req)
}

func verboseFromEnv(getenv func(string) string) bool {
	v, err := strconv.ParseBool(getenv(buildserver.EnvVerbose))
	return err == nil && v
}
