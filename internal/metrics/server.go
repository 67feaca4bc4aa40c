package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler returns the instrumented scrape handler for the registry.
func (r *Registry) Handler(logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
	return LoggingMiddleware(logger)(HTTPMiddleware(r)(h))
}

// Server exposes the registry over HTTP.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server listening on addr and serving path.
func NewServer(reg *Registry, addr, path string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, reg.Handler(logger.Named("http")))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ProfilerConfig holds continuous profiling settings.
type ProfilerConfig struct {
	AppName       string
	ServerAddress string
	Tags          map[string]string
}

// StartProfiler starts continuous profiling to a Pyroscope server.
func StartProfiler(cfg ProfilerConfig, logger *zap.Logger) (*pyroscope.Profiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          pyroscopeLogger{logger.Named("pyroscope").Sugar()},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

// pyroscopeLogger adapts zap to pyroscope's logger.
type pyroscopeLogger struct {
	s *zap.SugaredLogger
}

func (l pyroscopeLogger) Infof(format string, args ...any)  { l.s.Debugf(format, args...) }
func (l pyroscopeLogger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l pyroscopeLogger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
