package server

import (
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/matthis-k/uniq-proc/internal/metrics"
	"github.com/matthis-k/uniq-proc/internal/process"
	"github.com/matthis-k/uniq-proc/internal/registry"
)

// Source provides a consistent copy of the registry.
type Source interface {
	Snapshot() registry.State
}

// Router provides read-only HTTP handlers over the agent state.
// Endpoints:
//
//	GET {basePath}/status          all commands and running instances
//	GET {basePath}/status?name=... one command
//	GET /metrics                   prometheus exposition (when enabled)
type Router struct {
	src      Source
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(src Source, basePath string, withMetrics bool) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer binds addr and serves the router in the background.
func NewServer(addr, basePath string, src Source, withMetrics bool) (*http.Server, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("status server listen address is empty")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := NewRouter(src, basePath, withMetrics)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

// CommandStatus describes one name.
type CommandStatus struct {
	Name       string `json:"name"`
	Command    string `json:"command,omitempty"`
	Registered bool   `json:"registered"`
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	// Alive is whether the tracked pid still maps to a live process.
	Alive bool `json:"alive"`
}

type statusResp struct {
	Commands map[string]string `json:"commands"`
	Running  []CommandStatus   `json:"running"`
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.src.Snapshot()

	if name := c.Query("name"); name != "" {
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
			return
		}
		cs := describe(st, name)
		if !cs.Registered && !cs.Running {
			writeJSON(c, http.StatusNotFound, errorResp{Error: name + " is not registered"})
			return
		}
		writeJSON(c, http.StatusOK, cs)
		return
	}

	names := make([]string, 0, len(st.Running))
	for n := range st.Running {
		names = append(names, n)
	}
	sort.Strings(names)
	running := make([]CommandStatus, 0, len(names))
	for _, n := range names {
		running = append(running, describe(st, n))
	}
	writeJSON(c, http.StatusOK, statusResp{Commands: st.Commands, Running: running})
}

func describe(st registry.State, name string) CommandStatus {
	cmd, registered := st.Commands[name]
	pid, running := st.Running[name]
	cs := CommandStatus{Name: name, Command: cmd, Registered: registered, Running: running}
	if running {
		cs.PID = pid
		cs.Alive = process.Alive(pid)
	}
	return cs
}
