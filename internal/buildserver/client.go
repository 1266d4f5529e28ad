package buildserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Client relays one build set through a build server and reproduces its
// output and exit status locally.
type Client struct {
	// Addr is the server's "host:port".
	Addr   string
	Stdout io.Writer
	Stderr io.Writer
	// ConnectTimeout bounds the initial connection; zero means 15s.
	ConnectTimeout time.Duration
}

// Run sends req and blocks until the server reports the outcome. The
// returned error is nil on success, a *errdefs.ExecutionError carrying the
// command's exit code, a *errdefs.StalenessError, or a
// *errdefs.ConfigurationError when the server can not be reached.
func (c *Client) Run(ctx context.Context, req Request) error {
	logger := ctxlog.FromContext(ctx).With("target", req.Target, "operator", req.Operator, "index", req.Index)
	if c.Addr == "" {
		return errdefs.Configf(EnvServer, "not set; the build client must run under a build server")
	}
	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(transports.WebSocket))
	manager := socket.NewManager("http://"+c.Addr, opts)
	conn := manager.Socket("/", opts)

	connectChan := make(chan error, 1)
	exitChan := make(chan Exit, 1)
	out := newReorderer(c.Stdout, c.Stderr)

	conn.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Connected to build server.", "sid", conn.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	conn.Once(types.EventName("connect_error"), func(errs ...any) {
		err, ok := errs[0].(error)
		if !ok {
			err = fmt.Errorf("%v", errs[0])
		}
		select {
		case connectChan <- err:
		default:
		}
	})
	conn.On(types.EventName(EventOutput), func(args ...any) {
		var ch Chunk
		if err := decode(args, &ch); err != nil {
			logger.Warn("Dropping malformed output chunk.", "error", err)
			return
		}
		out.add(ch)
	})
	conn.On(types.EventName(EventExit), func(args ...any) {
		var ex Exit
		if err := decode(args, &ex); err != nil {
			ex = Exit{Code: 1, Kind: KindBadRequest, Message: "malformed exit message: " + err.Error()}
		}
		select {
		case exitChan <- ex:
		default:
		}
	})

	conn.Connect()
	defer conn.Disconnect()

	select {
	case err := <-connectChan:
		if err != nil {
			return &errdefs.ConfigurationError{Subject: EnvServer, Reason: "build server " + c.Addr + " is unreachable", Err: err}
		}
	case <-ctx.Done():
		return &errdefs.ExecutionError{Subject: req.String(), Code: CodeCancelled, Err: ctx.Err()}
	case <-time.After(timeout):
		return errdefs.Configf(EnvServer, "timed out after %s connecting to build server %s", timeout, c.Addr)
	}

	conn.Emit(EventResolve, req.payload())

	var ex Exit
	select {
	case ex = <-exitChan:
	case <-ctx.Done():
		logger.Info("Interrupted, cancelling request.")
		conn.Emit(EventCancel)
		select {
		case ex = <-exitChan:
		case <-time.After(5 * time.Second):
		}
		out.wait(ex.Chunks, time.Second)
		return &errdefs.ExecutionError{Subject: req.String(), Code: CodeCancelled, Err: ctx.Err()}
	}

	if !out.wait(ex.Chunks, 2*time.Second) {
		logger.Warn("Output chunks missing after exit.", "want", ex.Chunks)
	}
	return exitError(req, ex)
}

func exitError(req Request, ex Exit) error {
	switch ex.Kind {
	case KindOK:
		if ex.Code == 0 {
			return nil
		}
	case KindStale:
		return &errdefs.StalenessError{Target: req.Target, Operator: req.Operator, Index: req.Index, Got: req.Hash, Want: ex.Current}
	case KindNotFound:
		return &errdefs.StalenessError{Target: req.Target, Operator: req.Operator, Index: req.Index, Got: req.Hash}
	case KindBadRequest:
		return errdefs.Configf("build server", "%s", ex.Message)
	}
	var err error
	if ex.Message != "" {
		err = errors.New(ex.Message)
	}
	return &errdefs.ExecutionError{Subject: req.String(), Code: ex.Code, Err: err}
}

// reorderer writes chunks in sequence order whatever order they arrive in.
type reorderer struct {
	mu      sync.Mutex
	next    int
	pending map[int]Chunk
	stdout  io.Writer
	stderr  io.Writer
	notify  chan struct{}
}

func newReorderer(stdout, stderr io.Writer) *reorderer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &reorderer{
		pending: make(map[int]Chunk),
		stdout:  stdout,
		stderr:  stderr,
		notify:  make(chan struct{}, 1),
	}
}

func (r *reorderer) add(ch Chunk) {
	r.mu.Lock()
	if ch.Seq >= r.next {
		r.pending[ch.Seq] = ch
	}
	for {
		c, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		r.write(c)
		r.next++
	}
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *reorderer) write(c Chunk) {
	w := r.stdout
	if c.Stream == Stderr {
		w = r.stderr
	}
	_, _ = io.WriteString(w, c.Data)
}

// wait blocks until n chunks were written or the timeout passes. On timeout
// whatever arrived is flushed in order, skipping the gaps.
func (r *reorderer) wait(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		done := r.next >= n
		r.mu.Unlock()
		if done {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline:
			r.flush()
			return false
		}
	}
}

func (r *reorderer) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	seqs := make([]int, 0, len(r.pending))
	for s := range r.pending {
		seqs = append(seqs, s)
	}
	sort.Ints(seqs)
	for _, s := range seqs {
		r.write(r.pending[s])
		delete(r.pending, s)
		r.next = s + 1
	}
}
