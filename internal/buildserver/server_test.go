package buildserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/graph"
)

type recorder struct {
	chunks []Chunk
}

func (r *recorder) emitter() *emitter {
	return &emitter{send: func(c Chunk) { r.chunks = append(r.chunks, c) }}
}

func (r *recorder) stream(name string) string {
	var sb strings.Builder
	for _, c := range r.chunks {
		if c.Stream == name {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

type testGraph struct {
	sess *graph.Session
	dir  string
}

func newTestGraph(t *testing.T) *testGraph {
	t.Helper()
	dir := t.TempDir()
	sess, err := graph.NewSession(filepath.Join(dir, "build"), "debug", nil)
	require.NoError(t, err)
	_, err = sess.CreateProject("demo", "1.0", dir)
	require.NoError(t, err)
	_, err = sess.CreateTarget("demo", "main")
	require.NoError(t, err)
	return &testGraph{sess: sess, dir: dir}
}

func (g *testGraph) add(t *testing.T, id string, commands [][]string, spec graph.BuildSetSpec) *graph.BuildSet {
	t.Helper()
	tg, _ := g.sess.Target("demo@main")
	op, err := g.sess.CreateOperator(tg, id, commands, graph.OperatorFlags{})
	require.NoError(t, err)
	b, err := g.sess.CreateBuildSet(op, spec)
	require.NoError(t, err)
	return b
}

func requestFor(b *graph.BuildSet) []any {
	return []any{map[string]any{
		"target":   b.Operator.Target.ID,
		"operator": b.Operator.ID,
		"index":    float64(b.Index),
		"hash":     b.Hash(),
	}}
}

func TestHandle_StaleHashDoesNotExecute(t *testing.T) {
	g := newTestGraph(t)
	marker := filepath.Join(g.dir, "marker")
	b := g.add(t, "touch", [][]string{{"touch", marker}}, graph.BuildSetSpec{})
	g.sess.Freeze()
	s := New(context.Background(), g.sess)

	args := requestFor(b)
	args[0].(map[string]any)["hash"] = "0000"
	rec := &recorder{}
	exit := s.handle("sid", args, rec.emitter())

	assert.Equal(t, KindStale, exit.Kind)
	assert.Equal(t, CodeStale, exit.Code)
	assert.Equal(t, b.Hash(), exit.Current)
	assert.Contains(t, exit.Message, "hash inconsistency")
	assert.Empty(t, rec.chunks)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "a stale request must not run its command")
}

func TestHandle_PropagatesExitCode(t *testing.T) {
	g := newTestGraph(t)
	b := g.add(t, "fail", [][]string{
		{"sh", "-c", "echo first"},
		{"sh", "-c", "echo out; echo err >&2; exit 1"},
		{"sh", "-c", "echo never"},
	}, graph.BuildSetSpec{})
	g.sess.Freeze()
	s := New(context.Background(), g.sess)

	rec := &recorder{}
	exit := s.handle("sid", requestFor(b), rec.emitter())
	assert.Equal(t, 1, exit.Code)
	assert.Equal(t, KindExec, exit.Kind)

	stdout := rec.stream(Stdout)
	assert.Contains(t, stdout, "first\n")
	assert.Contains(t, stdout, "out\n")
	assert.NotContains(t, stdout, "never")
	stderr := rec.stream(Stderr)
	assert.Contains(t, stderr, "err\n")
	assert.Contains(t, stderr, "> $ sh -c 'echo out; echo err >&2; exit 1'\n")
	assert.Contains(t, stderr, "  $ sh -c 'echo first'\n")

	for i, c := range rec.chunks {
		assert.Equal(t, i, c.Seq)
	}
}

func TestHandle_CreatesOutputDirsAndVerifiesOutputs(t *testing.T) {
	g := newTestGraph(t)
	ok := g.add(t, "ok", [][]string{{"touch", "$@out"}}, graph.BuildSetSpec{
		Outputs: map[string][]string{"out": {"gen/deep/file.txt"}},
	})
	missing := g.add(t, "missing", [][]string{{"true"}}, graph.BuildSetSpec{
		Outputs: map[string][]string{"out": {"gen/never.txt"}},
	})
	g.sess.Freeze()
	s := New(context.Background(), g.sess)

	exit := s.handle("a", requestFor(ok), (&recorder{}).emitter())
	assert.Equal(t, Exit{Code: 0, Kind: KindOK}, exit)
	assert.FileExists(t, filepath.Join(g.dir, "gen/deep/file.txt"))

	rec := &recorder{}
	exit = s.handle("b", requestFor(missing), rec.emitter())
	assert.Equal(t, 1, exit.Code)
	assert.Contains(t, exit.Message, "missing declared outputs")
	assert.Contains(t, rec.stream(Stderr), "  $ true\n")
}

func TestHandle_EnvAndCwd(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, os.Mkdir(filepath.Join(g.dir, "work"), 0o755))
	b := g.add(t, "env", [][]string{{"sh", "-c", "echo $$GREETING; pwd"}}, graph.BuildSetSpec{
		Env: map[string]string{"GREETING": "hello"},
		Cwd: "work",
	})
	g.sess.Freeze()
	s := New(context.Background(), g.sess)

	rec := &recorder{}
	exit := s.handle("sid", requestFor(b), rec.emitter())
	require.Equal(t, KindOK, exit.Kind, exit.Message)
	assert.Contains(t, rec.stream(Stdout), "hello\n")
	assert.Contains(t, rec.stream(Stdout), "work\n")
}

func TestHandle_CommandNotFound(t *testing.T) {
	g := newTestGraph(t)
	b := g.add(t, "nope", [][]string{{"/definitely/not/a/binary"}}, graph.BuildSetSpec{})
	g.sess.Freeze()
	s := New(context.Background(), g.sess)

	rec := &recorder{}
	exit := s.handle("sid", requestFor(b), rec.emitter())
	assert.Equal(t, CodeNotRunnable, exit.Code)
	assert.Contains(t, rec.stream(Stderr), "> $ /definitely/not/a/binary\n")
}

func TestHandle_Verbose(t *testing.T) {
	g := newTestGraph(t)
	b := g.add(t, "echo", [][]string{{"echo", "hi there"}}, graph.BuildSetSpec{})
	g.sess.Freeze()
	s := New(context.Background(), g.sess)

	args := requestFor(b)
	args[0].(map[string]any)["verbose"] = true
	rec := &recorder{}
	exit := s.handle("sid", args, rec.emitter())
	require.Equal(t, KindOK, exit.Kind)
	assert.Equal(t, "  $ echo 'hi there'\n", rec.chunks[0].Data)
}

func TestHandle_BadAndUnknownRequests(t *testing.T) {
	g := newTestGraph(t)
	g.sess.Freeze()
	s := New(context.Background(), g.sess)

	exit := s.handle("sid", nil, (&recorder{}).emitter())
	assert.Equal(t, KindBadRequest, exit.Kind)
	assert.Equal(t, CodeBadRequest, exit.Code)

	exit = s.handle("sid", []any{map[string]any{"target": "demo@main", "operator": "x", "index": 0, "hash": "h"}}, (&recorder{}).emitter())
	assert.Equal(t, KindNotFound, exit.Kind)
	assert.Equal(t, CodeStale, exit.Code)
}

func TestSwap_OldHashesBecomeStale(t *testing.T) {
	g1 := newTestGraph(t)
	b1 := g1.add(t, "op", [][]string{{"echo", "v1"}}, graph.BuildSetSpec{})
	g1.sess.Freeze()
	s := New(context.Background(), g1.sess)

	g2 := newTestGraph(t)
	g2.add(t, "op", [][]string{{"echo", "v2"}}, graph.BuildSetSpec{})
	g2.sess.Freeze()
	s.Swap(g2.sess)

	exit := s.handle("sid", requestFor(b1), (&recorder{}).emitter())
	assert.Equal(t, KindStale, exit.Kind)
}

func TestServerAndClient(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a socket server")
	}
	g := newTestGraph(t)
	okSet := g.add(t, "ok", [][]string{{"sh", "-c", "echo built; echo warn >&2"}}, graph.BuildSetSpec{})
	failSet := g.add(t, "fail", [][]string{{"sh", "-c", "exit 3"}}, graph.BuildSetSpec{})
	g.sess.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, g.sess)
	require.NoError(t, s.Listen(""))
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "OK buildsets=2")

	reqOf := func(b *graph.BuildSet) Request {
		return Request{Target: b.Operator.Target.ID, Operator: b.Operator.ID, Index: b.Index, Hash: b.Hash()}
	}

	var stdout, stderr bytes.Buffer
	c := &Client{Addr: s.Addr(), Stdout: &stdout, Stderr: &stderr}
	require.NoError(t, c.Run(ctx, reqOf(okSet)))
	assert.Equal(t, "built\n", stdout.String())
	assert.Equal(t, "warn\n", stderr.String())

	err = (&Client{Addr: s.Addr()}).Run(ctx, reqOf(failSet))
	var execErr *errdefs.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 3, execErr.Code)

	stale := reqOf(okSet)
	stale.Hash = "deadbeef"
	err = (&Client{Addr: s.Addr()}).Run(ctx, stale)
	var staleErr *errdefs.StalenessError
	require.True(t, errors.As(err, &staleErr))
	assert.Equal(t, okSet.Hash(), staleErr.Want)

	s.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestTrack_RefusedAfterShutdown(t *testing.T) {
	g := newTestGraph(t)
	g.sess.Freeze()
	s := New(context.Background(), g.sess)
	require.NoError(t, s.Listen(""))

	require.True(t, s.track())
	s.wg.Done()

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()
	s.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.track(), "no request may be registered once Serve is winding down")
}
