package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uniq_proc"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of requests handled, by verb.",
		}, []string{"verb"},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Number of commands spawned.",
		}, []string{"name"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Number of observed command exits by result (success, failure).",
		}, []string{"name", "result"},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kills_total",
			Help:      "Number of commands killed on request.",
		}, []string{"name"},
	)
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time from spawn to observed exit.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"name"},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_commands",
			Help:      "Number of names currently tracked as running.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{requests, executions, exits, kills, executionDuration, running}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register succeeded.

func IncRequest(verb string) {
	if regOK.Load() {
		requests.WithLabelValues(verb).Inc()
	}
}

func IncExecution(name string) {
	if regOK.Load() {
		executions.WithLabelValues(name).Inc()
	}
}

func ObserveExit(name string, ok bool, seconds float64) {
	if !regOK.Load() {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	exits.WithLabelValues(name, result).Inc()
	executionDuration.WithLabelValues(name).Observe(seconds)
}

func IncKill(name string) {
	if regOK.Load() {
		kills.WithLabelValues(name).Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		running.Set(float64(n))
	}
}
