package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/tee-contract-enclave/api"
	"github.com/ruteri/tee-contract-enclave/metrics"
	"go.uber.org/atomic"
)

// Server is the untrusted-side RPC transport in front of the enclave.
type Server struct {
	cfg   *api.HTTPServerConfig
	log   *slog.Logger
	ready atomic.Bool

	api     *http.Server
	metrics *metrics.MetricsServer
	handler *Handler
}

func New(cfg *api.HTTPServerConfig, handler *Handler) *Server {
	s := &Server{
		cfg:     cfg,
		log:     cfg.Log,
		metrics: metrics.NewMetricsServer(cfg.MetricsAddr),
		handler: handler,
	}
	s.ready.Store(true)

	s.api = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return httplogger.LoggingMiddlewareSlog(s.log, next)
		})
		s.handler.RegisterRoutes(r)
	})

	mux.Get("/livez", s.handleLivez)
	mux.Get("/readyz", s.handleReadyz)
	mux.Get("/drain", s.handleDrain)
	mux.Get("/undrain", s.handleUndrain)

	if s.cfg.EnablePprof {
		s.log.Info("pprof enabled on /debug")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
}

// handleDrain fails readiness so the load balancer stops routing new
// calls here. In-flight calls are unaffected.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !s.ready.CompareAndSwap(true, false) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already draining"})
		return
	}

	s.log.Info("draining", "duration", s.cfg.DrainDuration)
	time.AfterFunc(s.cfg.DrainDuration, func() {
		s.log.Info("drain period over")
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "draining"})
}

func (s *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if s.ready.CompareAndSwap(false, true) {
		s.log.Info("accepting calls again")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) RunInBackground() {
	if s.cfg.MetricsAddr != "" {
		s.serve("metrics", s.cfg.MetricsAddr, s.metrics.ListenAndServe)
	}
	s.serve("api", s.cfg.ListenAddr, s.api.ListenAndServe)
}

func (s *Server) serve(name, addr string, listen func() error) {
	go func() {
		s.log.Info("listening", "server", name, "addr", addr)
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server stopped", "server", name, "err", err)
		}
	}()
}

// Shutdown stops both listeners, giving each up to
// GracefulShutdownDuration to finish in-flight requests.
func (s *Server) Shutdown() {
	s.shutdown("api", s.api.Shutdown)
	if s.cfg.MetricsAddr != "" {
		s.shutdown("metrics", s.metrics.Shutdown)
	}
}

func (s *Server) shutdown(name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()

	if err := stop(ctx); err != nil {
		s.log.Error("graceful shutdown failed", "server", name, "err", err)
		return
	}
	s.log.Info("server stopped gracefully", "server", name)
}
