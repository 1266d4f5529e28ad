package buildserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
)

// emitter serializes output chunks and numbers them.
type emitter struct {
	mu   sync.Mutex
	seq  int
	send func(Chunk)
}

func (e *emitter) emit(stream, data string) {
	if data == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(Chunk{Seq: e.seq, Stream: stream, Data: data})
	e.seq++
}

func (e *emitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

type streamWriter struct {
	e      *emitter
	stream string
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.e.emit(w.stream, string(p))
	return len(p), nil
}

// execute runs the commands of b one after another and reports the exit
// code of the first failing one. After success every declared output must
// exist.
func execute(ctx context.Context, b *graph.BuildSet, verbose bool, e *emitter) (int, string) {
	logger := ctxlog.FromContext(ctx)
	commands := b.Commands()

	if verbose {
		e.emit(Stderr, formatCommands(commands, -1))
	}

	for _, o := range b.OutputFiles() {
		if err := os.MkdirAll(filepath.Dir(o), 0o755); err != nil {
			return 1, fmt.Sprintf("creating output directory: %v", err)
		}
	}

	env := os.Environ()
	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+b.Env[k])
	}

	for i, argv := range commands {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = env
		cmd.Dir = b.Cwd
		cmd.Stdout = streamWriter{e: e, stream: Stdout}
		cmd.Stderr = streamWriter{e: e, stream: Stderr}

		logger.Debug("Running command.", "argv", argv)
		err := cmd.Run()
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return CodeCancelled, "cancelled"
		}
		e.emit(Stderr, formatCommands(commands, i))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				code = 1
			}
			return code, fmt.Sprintf("command %d exited with code %d", i, code)
		}
		return CodeNotRunnable, err.Error()
	}

	var missing []string
	for _, o := range b.OutputFiles() {
		if _, err := os.Stat(o); err != nil {
			missing = append(missing, o)
		}
	}
	if len(missing) > 0 {
		e.emit(Stderr, formatCommands(commands, -1))
		return 1, "missing declared outputs: " + strings.Join(missing, ", ")
	}
	return 0, ""
}

// formatCommands renders the command list, marking the one at failed with
// ">". failed < 0 marks none.
func formatCommands(commands [][]string, failed int) string {
	var sb strings.Builder
	for i, argv := range commands {
		marker := "  "
		if i == failed {
			marker = "> "
		}
		fmt.Fprintf(&sb, "%s$ %s\n", marker, shellquote.Join(argv...))
	}
	return sb.String()
}
