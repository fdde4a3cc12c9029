package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matthis-k/uniq-proc/internal/protocol"
)

// maxRequestSize bounds a single request document.
const maxRequestSize = 1 << 20

// Handler answers a decoded request with response text.
type Handler interface {
	Handle(ctx context.Context, req protocol.Request) string
}

// Server accepts one request per connection on a unix socket.
type Server struct {
	ln           *net.UnixListener
	handler      Handler
	readTimeout  time.Duration
	pollInterval time.Duration
	log          *slog.Logger

	wg sync.WaitGroup
}

// Listen binds socketPath. The socket file is not unlinked when the listener
// is closed; the caller owns its removal.
func Listen(socketPath string) (*net.UnixListener, error) {
	if socketPath == "" {
		return nil, errors.New("unix socket path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket dir: %w", err)
	}
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", socketPath, err)
	}
	ln.SetUnlinkOnClose(false)
	return ln, nil
}

func NewServer(ln *net.UnixListener, h Handler, readTimeout, pollInterval time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ln: ln, handler: h, readTimeout: readTimeout, pollInterval: pollInterval, log: log}
}

// Serve runs the accept loop until ctx is cancelled. Accept waits at most one
// poll interval so cancellation is observed promptly. Connections still in
// flight when Serve returns keep running.
func (s *Server) Serve(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := s.ln.SetDeadline(time.Now().Add(s.pollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("set accept deadline: %w", err)
		}
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(s.pollInterval):
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
	return nil
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) serveConn(ctx context.Context, conn *net.UnixConn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	raw, err := io.ReadAll(io.LimitReader(conn, maxRequestSize))
	if err != nil {
		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			s.log.Debug("read request", "error", err)
		}
	}

	var resp string
	req, err := protocol.Decode(raw)
	if err != nil {
		s.log.Debug("undecodable request", "error", err, "bytes", len(raw))
		resp = protocol.ParseFailure
	} else {
		resp = s.handler.Handle(ctx, req)
	}

	if _, err := io.WriteString(conn, resp); err != nil {
		s.log.Debug("write response", "error", err)
	}
}
