// Package server exposes the data operations over HTTP.
//
// Every request checks out its own connection through the opener (a
// pgxpool-backed pool in production) and releases it when the handler
// returns, so concurrent requests never share a connection.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/engine"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Config holds the HTTP service settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	PreviewLimit    int
	Engine          engine.Options
}

// Server serves the HTTP API.
type Server struct {
	opener database.Opener
	cfg    Config
	log    *logger.Logger
	router chi.Router
}

// New builds the router. opener is called once per request.
func New(opener database.Opener, cfg Config, log *logger.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	s := &Server{opener: opener, cfg: cfg, log: logger.OrNop(log)}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.requestLogger,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.handleHealth)
	r.Get("/schemas", s.handleSchemas)
	r.Route("/schemas/{schema}/tables", func(r chi.Router) {
		r.Get("/", s.handleTables)
		r.Route("/{table}", func(r chi.Router) {
			r.Get("/", s.handleDescribe)
			r.Get("/preview", s.handlePreview)
			r.Get("/export", s.handleExport)
			r.Post("/import", s.handleImport)
		})
	})
	r.Post("/query", s.handleQuery)
	r.Get("/search", s.handleSearch)
	r.Get("/stats", s.handleStats)
	return r
}

// Run listens on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		s.log.InfoWith("http server listening", map[string]interface{}{"addr": s.cfg.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.Wrap(errs.ErrKindIO, "http server failed", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// withEngine runs fn on an engine bound to a connection checked out for
// this request, and writes any error as JSON.
func (s *Server) withEngine(w http.ResponseWriter, r *http.Request, fn func(*engine.Engine) error) {
	log := logger.FromContext(r.Context())
	err := engine.Run(r.Context(), s.opener, nil, log, s.cfg.Engine, fn)
	if err == nil {
		return
	}
	if StatusFor(err) >= http.StatusInternalServerError {
		log.ErrorWith("request failed", err, map[string]interface{}{"method": r.Method, "path": r.URL.Path})
	}
	writeError(w, r, err)
}

// requestLogger logs one line per request after it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		reqLog := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(ww, r.WithContext(reqLog.WithContext(r.Context())))

		s.log.HTTPEvent().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
