package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shfd/internal/logging"
	"shfd/internal/pool"
)

const namespace = "shfd"

// Metrics owns a private registry with pool, lock and forwarding series.
// All observe methods are safe on a nil receiver.
type Metrics struct {
	registry  *prometheus.Registry
	submitted prometheus.Counter
	rejected  prometheus.Counter
	grown     prometheus.Counter
	shrunk    prometheus.Counter
	locks     *prometheus.CounterVec
	lockWait  prometheus.Histogram
	forwards  *prometheus.CounterVec
}

// New creates and registers the daemon metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "submitted_total",
			Help:      "Connections handed to a worker",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "rejected_total",
			Help:      "Connections rejected because the pool was saturated",
		}),
		grown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "grown_total",
			Help:      "Workers added by growth steps",
		}),
		shrunk: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "shrunk_total",
			Help:      "Idle workers terminated",
		}),
		locks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "acquire_total",
			Help:      "Lock acquisitions by result",
		}, []string{"result"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a lock",
			Buckets:   prometheus.DefBuckets,
		}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "forward_total",
			Help:      "Forwarding attempts by outcome",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.submitted, m.rejected, m.grown, m.shrunk, m.locks, m.lockWait, m.forwards)
	return m
}

// Watch exposes live pool and lock table sizes as gauges.
func (m *Metrics) Watch(stats func() pool.Params, locksHeld func() int) {
	if m == nil {
		return
	}
	gauge := func(subsystem, name, help string, fn func() float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, fn)
	}
	m.registry.MustRegister(
		gauge("pool", "active", "Busy workers", func() float64 { return float64(stats().Active) }),
		gauge("pool", "total", "Live workers", func() float64 { return float64(stats().Total) }),
		gauge("pool", "max", "Worker ceiling", func() float64 { return float64(stats().Max) }),
		gauge("locks", "held", "Resources currently locked", func() float64 { return float64(locksHeld()) }),
	)
}

// ObserveSubmit implements pool.Observer.
func (m *Metrics) ObserveSubmit(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.submitted.Inc()
		return
	}
	m.rejected.Inc()
}

// ObserveResize implements pool.Observer.
func (m *Metrics) ObserveResize(delta int) {
	if m == nil {
		return
	}
	switch {
	case delta > 0:
		m.grown.Add(float64(delta))
	case delta < 0:
		m.shrunk.Add(float64(-delta))
	}
}

// ObserveLock records an acquisition result and how long it waited.
func (m *Metrics) ObserveLock(result string, wait time.Duration) {
	if m == nil {
		return
	}
	m.locks.WithLabelValues(result).Inc()
	m.lockWait.Observe(wait.Seconds())
}

// ObserveForward records a forwarding outcome such as "forwarded" or "degraded".
func (m *Metrics) ObserveForward(outcome string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(outcome).Inc()
}

// Registry returns the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv    *http.Server
	addr   net.Addr
	logger *slog.Logger
}

// Serve listens on bind and serves /metrics in the background.
func (m *Metrics) Serve(bind string, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:   ln.Addr(),
		logger: logging.NewComponentLogger(logger, "metrics"),
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(s.logger, "metrics server stopped", "metrics_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check metrics.bind"),
				logging.String(logging.FieldImpact, "metrics are no longer exported"),
			)
		}
	}()
	s.logger.Info("metrics endpoint listening", logging.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
