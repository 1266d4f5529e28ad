package buildserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/zishang520/socket.io/v2/socket"
)

// Server holds the current graph snapshot and runs build sets on behalf of
// build clients. Requests only read the snapshot, so they run concurrently
// without locking; a live reload swaps the whole snapshot at once.
type Server struct {
	logger   *slog.Logger
	snapshot atomic.Pointer[graph.Session]
	inflight *xsync.MapOf[string, context.CancelFunc]
	served   atomic.Int64

	io       *socket.Server
	http     *http.Server
	listener net.Listener

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	once     sync.Once

	// mu orders wg.Add against the cancel that precedes wg.Wait.
	mu sync.Mutex
	wg sync.WaitGroup
}

// New creates a server for a frozen session.
func New(ctx context.Context, sess *graph.Session) *Server {
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		logger:   ctxlog.FromContext(ctx).With("component", "buildserver"),
		inflight: xsync.NewMapOf[string, context.CancelFunc](),
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
	s.snapshot.Store(sess)
	return s
}

// Swap replaces the snapshot. Requests already running keep the build set
// they resolved; later requests carrying old hashes are refused as stale.
func (s *Server) Swap(sess *graph.Session) {
	s.snapshot.Store(sess)
	s.logger.Info("Swapped graph snapshot.", "buildSets", len(sess.BuildSets()))
}

// Listen binds the server to addr, "127.0.0.1:0" when empty.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("build server listen: %w", err)
	}
	s.listener = l

	s.io = socket.NewServer(nil, nil)
	s.io.On("connection", func(clients ...any) {
		c, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		s.attach(c)
	})

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", s.io.ServeHandler(nil))
	mux.HandleFunc("/health", s.healthHandler)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return nil
}

// Addr returns the "host:port" clients connect to.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve handles requests until ctx is done or a client asks for shutdown.
// Commands still running are cancelled on the way out.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("build server is not listening")
	}
	s.logger.Info("Build server listening.", "address", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case <-s.shutdown:
		s.logger.Info("Shutdown requested by client.")
	case serveErr = <-errCh:
	}

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.inflight.Range(func(_ string, cancel context.CancelFunc) bool {
		cancel()
		return true
	})
	s.wg.Wait()
	s.io.Close(nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	s.logger.Debug("Build server stopped.", "served", s.served.Load())
	return serveErr
}

// Shutdown stops Serve.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// Done is closed once Serve has started winding down.
func (s *Server) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Server) attach(c *socket.Socket) {
	id := string(c.Id())
	logger := s.logger.With("sid", id)
	logger.Debug("Client connected.")

	c.On(EventResolve, func(args ...any) {
		if !s.track() {
			c.Emit(EventExit, Exit{Code: CodeCancelled, Kind: KindExec, Message: "build server is shutting down"}.payload())
			return
		}
		go func() {
			defer s.wg.Done()
			s.resolve(c, id, args)
		}()
	})
	c.On(EventCancel, func(...any) {
		if cancel, ok := s.inflight.LoadAndDelete(id); ok {
			logger.Info("Request cancelled by client.")
			cancel()
		}
	})
	c.On(EventShutdown, func(...any) {
		s.Shutdown()
	})
	c.On("disconnect", func(...any) {
		if cancel, ok := s.inflight.LoadAndDelete(id); ok {
			cancel()
		}
		logger.Debug("Client disconnected.")
	})
}

// track registers a request unless the server is winding down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) resolve(c *socket.Socket, id string, args []any) {
	e := &emitter{send: func(ch Chunk) { c.Emit(EventOutput, ch.payload()) }}
	exit := s.handle(id, args, e)
	exit.Chunks = e.count()
	c.Emit(EventExit, exit.payload())
}

// handle validates a resolve request against the current snapshot and runs
// the build set. Nothing is executed unless the hash matches.
func (s *Server) handle(id string, args []any, e *emitter) Exit {
	var req Request
	if err := decode(args, &req); err != nil {
		return Exit{Code: CodeBadRequest, Kind: KindBadRequest, Message: err.Error()}
	}
	logger := s.logger.With("sid", id, "target", req.Target, "operator", req.Operator, "index", req.Index)

	sess := s.snapshot.Load()
	b, err := sess.Lookup(req.Target, req.Operator, req.Index)
	if err != nil {
		logger.Warn("Build set not found.", "error", err)
		return Exit{Code: CodeStale, Kind: KindNotFound, Message: err.Error() + "; re-export and retry"}
	}
	if b.Hash() != req.Hash {
		logger.Warn("Stale build set hash.", "want", b.Hash(), "got", req.Hash)
		return Exit{
			Code:    CodeStale,
			Kind:    KindStale,
			Current: b.Hash(),
			Message: fmt.Sprintf("build set hash inconsistency: got %s, current is %s; re-export and retry", req.Hash, b.Hash()),
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.inflight.Store(id, cancel)
	defer s.inflight.Delete(id)

	s.served.Add(1)
	logger.Debug("Executing build set.", "hash", b.Hash())
	code, msg := execute(ctxlog.WithLogger(ctx, logger), b, req.Verbose, e)
	if code == 0 {
		return Exit{Code: 0, Kind: KindOK}
	}
	logger.Debug("Build set failed.", "code", code, "message", msg)
	return Exit{Code: code, Kind: KindExec, Message: msg}
}
