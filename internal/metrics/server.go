package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthFunc reports whether the process is healthy and a short status text.
type HealthFunc func() (bool, string)

// MetricsServer handles exposing metrics via HTTP
type MetricsServer struct {
	server *http.Server
	health HealthFunc
	pprof  bool
	logger *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	done     chan struct{}
}

// ServerOption configures a MetricsServer.
type ServerOption func(*MetricsServer)

// WithHealth sets the check behind /health. Without it /health always
// answers 200.
func WithHealth(fn HealthFunc) ServerOption {
	return func(s *MetricsServer) {
		s.health = fn
	}
}

// WithProfiler mounts the net/http/pprof handlers under /debug.
func WithProfiler() ServerOption {
	return func(s *MetricsServer) {
		s.pprof = true
	}
}

// NewMetricsServer serves the metrics of gatherer on addr. reg instruments the
// /metrics handler itself and may be nil.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, reg prometheus.Registerer, opts ...ServerOption) *MetricsServer {
	s := &MetricsServer{
		health: func() (bool, string) { return true, "ok" },
		logger: logrus.WithField("component", "metrics_server"),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	var metricsHandler http.Handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          reg,
	})
	if reg != nil {
		metricsHandler = promhttp.InstrumentMetricHandler(reg, metricsHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		s.logger.WithField("remote", req.RemoteAddr).Trace("Metrics request")
		metricsHandler.ServeHTTP(w, req)
	})
	r.Get("/health", s.handleHealth)
	if s.pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *MetricsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ok, status := s.health()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = w.Write([]byte(status))
}

// Handler returns the router, for mounting or testing.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves until ctx is cancelled. A clean shutdown returns nil.
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		close(s.done)
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)
	s.logger.WithField("addr", ln.Addr().String()).Info("Metrics server listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("Shutting down metrics server")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Error shutting down server")
		}
		close(s.done)
	}()

	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		s.logger.WithError(err).Error("Metrics server failed")
		return err
	}
	<-s.done
	s.logger.Info("Metrics server shutdown complete")
	return nil
}

// Addr returns the bound address once Start is listening.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Ready is closed once the server is listening.
func (s *MetricsServer) Ready() <-chan struct{} {
	return s.ready
}

func (s *MetricsServer) Done() <-chan struct{} {
	return s.done
}
