package uniqproc

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/matthis-k/uniq-proc/internal/config"
	"github.com/matthis-k/uniq-proc/internal/daemon"
	"github.com/matthis-k/uniq-proc/internal/metrics"
	"github.com/matthis-k/uniq-proc/pkg/client"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Client = client.Client

type ClientConfig = client.Config

// ErrAlreadyRunning is returned by Agent.Run when another agent answers on
// the same socket.
var ErrAlreadyRunning = daemon.ErrAlreadyRunning

// Agent is a thin facade over the background agent for embedding.
type Agent struct{ inner *daemon.Daemon }

func NewAgent(c *Config, logger *slog.Logger) *Agent {
	return &Agent{inner: daemon.New(c, logger)}
}

func (a *Agent) Run(ctx context.Context) error { return a.inner.Run(ctx) }
func (a *Agent) Ready() <-chan struct{}        { return a.inner.Ready() }

// NewClient returns a client for the agent listening on c.SocketPath.
func NewClient(c *Config) *Client {
	return client.New(client.Config{SocketPath: c.SocketPath})
}

func LoadConfig(path string) (*Config, error) { return cfg.LoadConfig(path) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
