package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/vk/buildgrid/internal/errdefs"
)

// Exit codes for failures that do not carry their own.
const (
	CodeGeneric   = 1
	CodeUsage     = 2
	CodeIntegrity = 3
	CodeBackend   = 4
	CodeStale     = 5
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Run executes the command line in args. Any failure is returned as an
// *ExitError carrying the process exit code.
func Run(ctx context.Context, outW, errW io.Writer, args []string) error {
	slog.Debug("CLI started.", "args", args)
	root := NewRootCommand(outW, errW)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return toExitError(err)
	}
	return nil
}

// toExitError maps the error taxonomy onto process exit codes. A failed
// command reports its own code so the executor sees it unchanged.
func toExitError(err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	code := CodeGeneric
	var (
		configErr  *errdefs.ConfigurationError
		graphErr   *errdefs.GraphIntegrityError
		exportErr  *errdefs.ExportError
		backendErr *errdefs.BackendUnavailableError
		staleErr   *errdefs.StalenessError
		execErr    *errdefs.ExecutionError
	)
	switch {
	case errors.As(err, &execErr):
		code = execErr.Code
	case errors.As(err, &staleErr):
		code = CodeStale
	case errors.As(err, &backendErr):
		code = CodeBackend
	case errors.As(err, &graphErr), errors.As(err, &exportErr):
		code = CodeIntegrity
	case errors.As(err, &configErr), isUsageError(err):
		code = CodeUsage
	}
	if code == 0 {
		code = CodeGeneric
	}
	return &ExitError{Code: code, Message: err.Error()}
}

// usageError marks flag and argument errors reported by cobra.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var u *usageError
	return errors.As(err, &u)
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
