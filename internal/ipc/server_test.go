package ipc

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/matthis-k/uniq-proc/internal/protocol"
)

type echoHandler struct {
	mu    sync.Mutex
	verbs []protocol.Verb
	block chan struct{}
}

func (h *echoHandler) Handle(_ context.Context, req protocol.Request) string {
	h.mu.Lock()
	h.verbs = append(h.verbs, req.Verb)
	h.mu.Unlock()
	if req.Verb == protocol.VerbExecute && h.block != nil {
		<-h.block
	}
	if req.Verb == protocol.VerbAlive {
		return protocol.AliveToken
	}
	return string(req.Verb) + ":" + req.Name
}

func startServer(t *testing.T, h Handler) (string, context.CancelFunc, <-chan error, *Server) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "s.sock")
	ln, err := Listen(sock)
	require.NoError(t, err)
	srv := NewServer(ln, h, 160*time.Millisecond, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	return sock, cancel, errCh, srv
}

func roundTrip(t *testing.T, sock string, payload []byte, closeWrite bool) string {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_, err = conn.Write(payload)
	require.NoError(t, err)
	if closeWrite {
		require.NoError(t, conn.(*net.UnixConn).CloseWrite())
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

func TestServeRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &echoHandler{}
	sock, cancel, errCh, srv := startServer(t, h)

	b, err := protocol.Encode(protocol.Kill("x"))
	require.NoError(t, err)
	assert.Equal(t, "Kill:x", roundTrip(t, sock, b, true))
	assert.Equal(t, protocol.AliveToken, roundTrip(t, sock, []byte(`"Alive"`), true))

	cancel()
	require.NoError(t, <-errCh)
	srv.Wait()
	require.NoError(t, srv.Close())
}

func TestRequestWithoutEOFUsesReadTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	sock, cancel, errCh, srv := startServer(t, &echoHandler{})

	start := time.Now()
	assert.Equal(t, "List:", roundTrip(t, sock, []byte(`"List"`), false))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	srv.Wait()
	require.NoError(t, srv.Close())
}

func TestGarbageGetsParseFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &echoHandler{}
	sock, cancel, errCh, srv := startServer(t, h)

	assert.Equal(t, protocol.ParseFailure, roundTrip(t, sock, []byte(`{"Launch":{}}`), true))
	assert.Equal(t, protocol.ParseFailure, roundTrip(t, sock, []byte(`not json`), true))
	h.mu.Lock()
	assert.Empty(t, h.verbs)
	h.mu.Unlock()

	cancel()
	require.NoError(t, <-errCh)
	srv.Wait()
	require.NoError(t, srv.Close())
}

func TestBlockedConnectionDoesNotStallOthers(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &echoHandler{block: make(chan struct{})}
	sock, cancel, errCh, srv := startServer(t, h)

	slow := make(chan string, 1)
	go func() {
		b, _ := protocol.Encode(protocol.Execute("long"))
		slow <- roundTrip(t, sock, b, true)
	}()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.verbs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	assert.Equal(t, protocol.AliveToken, roundTrip(t, sock, []byte(`"Alive"`), true))
	assert.Less(t, time.Since(start), time.Second)

	close(h.block)
	assert.Equal(t, "Execute:long", <-slow)

	cancel()
	require.NoError(t, <-errCh)
	srv.Wait()
	require.NoError(t, srv.Close())
}

func TestServeReturnsWhenListenerClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	sock := filepath.Join(t.TempDir(), "c.sock")
	ln, err := Listen(sock)
	require.NoError(t, err)
	srv := NewServer(ln, &echoHandler{}, 50*time.Millisecond, time.Second, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, srv.Close())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.FileExists(t, sock)
}

func TestListenEmptyPath(t *testing.T) {
	_, err := Listen("")
	assert.Error(t, err)
}
