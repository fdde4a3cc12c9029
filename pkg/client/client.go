package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/matthis-k/uniq-proc/internal/protocol"
)

// Client talks to a running uniq-proc agent over its unix socket.
// Every call opens a fresh connection carrying exactly one request.
type Client struct {
	socketPath   string
	timeout      time.Duration
	aliveTimeout time.Duration
	logger       *slog.Logger
}

// Config holds client configuration
type Config struct {
	SocketPath string
	// Timeout bounds a whole request. Zero waits for as long as the agent
	// takes, which for Execute is the lifetime of the command.
	Timeout time.Duration
	// AliveTimeout bounds the liveness probe.
	AliveTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		SocketPath:   "/tmp/uniq-proc.sock",
		AliveTimeout: time.Second,
	}
}

func New(config Config) *Client {
	def := DefaultConfig()
	if config.SocketPath == "" {
		config.SocketPath = def.SocketPath
	}
	if config.AliveTimeout <= 0 {
		config.AliveTimeout = def.AliveTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		socketPath:   config.SocketPath,
		timeout:      config.Timeout,
		aliveTimeout: config.AliveTimeout,
		logger:       config.Logger,
	}
}

// SocketPath returns the endpoint this client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// Send writes one request, half-closes the connection and returns the
// agent's full response.
func (c *Client) Send(ctx context.Context, req protocol.Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req protocol.Request) (string, error) {
	payload, err := protocol.Encode(req)
	if err != nil {
		return "", err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return "", fmt.Errorf("close write: %w", err)
		}
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("an error has occurred while getting the response: %w", err)
	}
	c.logger.Debug("response received", "verb", req.Verb, "bytes", len(resp))
	return string(resp), nil
}

// Alive probes the agent. Any failure to connect or read counts as not running.
func (c *Client) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.aliveTimeout)
	defer cancel()
	resp, err := c.send(ctx, protocol.Alive())
	if err != nil {
		c.logger.Debug("liveness probe failed", "socket", c.socketPath, "error", err)
		return false
	}
	return resp == protocol.AliveToken
}

// ErrSocketTimeout is returned by WaitForSocket when the endpoint does not
// appear in time.
var ErrSocketTimeout = errors.New("timed out waiting for agent socket")

// WaitForSocket polls until the socket file exists.
func (c *Client) WaitForSocket(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(c.socketPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrSocketTimeout, c.socketPath)
		case <-tick.C:
		}
	}
}

func (c *Client) Add(ctx context.Context, name, command string) (string, error) {
	return c.Send(ctx, protocol.Add(name, command))
}

func (c *Client) Remove(ctx context.Context, name string) (string, error) {
	return c.Send(ctx, protocol.Remove(name))
}

func (c *Client) List(ctx context.Context) (string, error) {
	return c.Send(ctx, protocol.List())
}

func (c *Client) Execute(ctx context.Context, name string) (string, error) {
	return c.Send(ctx, protocol.Execute(name))
}

func (c *Client) Kill(ctx context.Context, name string) (string, error) {
	return c.Send(ctx, protocol.Kill(name))
}

func (c *Client) Restart(ctx context.Context, name string) (string, error) {
	return c.Send(ctx, protocol.Restart(name))
}

func (c *Client) Toggle(ctx context.Context, name string) (string, error) {
	return c.Send(ctx, protocol.Toggle(name))
}
