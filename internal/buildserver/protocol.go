package buildserver

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/vk/buildgrid/internal/errdefs"
)

// Environment variables shared by the server and the clients it spawns
// through the executor.
const (
	EnvServer  = "BUILDGRID_SERVER"
	EnvVerbose = "BUILDGRID_VERBOSE"
)

// Socket events.
const (
	EventResolve  = "resolve"
	EventCancel   = "cancel"
	EventShutdown = "shutdown"
	EventOutput   = "output"
	EventExit     = "exit"
)

// Output streams.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Request asks the server to run one build set.
type Request struct {
	Target   string `mapstructure:"target"`
	Operator string `mapstructure:"operator"`
	Index    int    `mapstructure:"index"`
	Hash     string `mapstructure:"hash"`
	// Verbose makes the server print the command list before running it.
	Verbose bool `mapstructure:"verbose"`
}

func (r Request) payload() map[string]any {
	return map[string]any{
		"target":   r.Target,
		"operator": r.Operator,
		"index":    r.Index,
		"hash":     r.Hash,
		"verbose":  r.Verbose,
	}
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s #%d", r.Target, r.Operator, r.Index)
}

// ParseArgs parses the four positional tokens of a dispatcher invocation:
// target id, operator id, build set index and identity hash.
func ParseArgs(args []string) (Request, error) {
	if len(args) != 4 {
		return Request{}, errdefs.Configf("client", "expected <target> <operator> <index> <hash>, got %d arguments", len(args))
	}
	index, err := strconv.Atoi(args[2])
	if err != nil || index < 0 {
		return Request{}, errdefs.Configf("client", "invalid build set index %q", args[2])
	}
	return Request{Target: args[0], Operator: args[1], Index: index, Hash: args[3]}, nil
}

// Chunk is one piece of command output.
type Chunk struct {
	Seq    int    `mapstructure:"seq"`
	Stream string `mapstructure:"stream"`
	Data   string `mapstructure:"data"`
}

func (c Chunk) payload() map[string]any {
	return map[string]any{"seq": c.Seq, "stream": c.Stream, "data": c.Data}
}

// ExitKind classifies how a request ended.
type ExitKind string

const (
	KindOK         ExitKind = "ok"
	KindStale      ExitKind = "stale"
	KindNotFound   ExitKind = "not_found"
	KindExec       ExitKind = "exec"
	KindBadRequest ExitKind = "bad_request"
)

// Exit ends a request. Chunks is the number of output chunks sent before it.
type Exit struct {
	Code    int      `mapstructure:"code"`
	Kind    ExitKind `mapstructure:"kind"`
	Message string   `mapstructure:"message"`
	Chunks  int      `mapstructure:"chunks"`
	// Current is the server's hash of the build set on a stale outcome.
	Current string `mapstructure:"current"`
}

func (e Exit) payload() map[string]any {
	return map[string]any{
		"code":    e.Code,
		"kind":    string(e.Kind),
		"message": e.Message,
		"chunks":  e.Chunks,
		"current": e.Current,
	}
}

// Exit codes for outcomes that never ran a command.
const (
	CodeStale       = 5
	CodeBadRequest  = 2
	CodeCancelled   = 130
	CodeNotRunnable = 127
)

// decode converts a socket payload into out. Numbers arrive as float64
// after the JSON round trip, hence the weak typing.
func decode(args []any, out any) error {
	if len(args) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args[0])
}
