package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/onexay/swiftpkgindex/internal/config"
	"github.com/onexay/swiftpkgindex/internal/service"
)

// Server wraps the HTTP server configuration and dependencies.
type Server struct {
	addr            string
	handler         http.Handler
	svc             *service.Service
	shutdownTimeout time.Duration
	log             zerolog.Logger
}

// NewServer creates an HTTP server with routes and middleware.
func NewServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}

	return &Server{
		addr:            cfg.APIAddr,
		handler:         NewRouter(svc, service.HandlerOptions{BuilderToken: cfg.BuilderToken}, logger),
		svc:             svc,
		shutdownTimeout: shutdownTimeout,
		log:             logger,
	}, nil
}

// NewRouter mounts the API, health and documentation routes behind the
// request logging middleware.
func NewRouter(svc *service.Service, opts service.HandlerOptions, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/api", service.Handler(svc, opts))
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
	})
	r.Get("/swagger/*", http.StripPrefix("/swagger", service.SwaggerHandler()).ServeHTTP)
	return r
}

func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			log := zerolog.Ctx(r.Context())
			log.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains in-flight requests for up to
// the shutdown timeout and closes the backends.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		s.log.Info().Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = err
		}
	}

	if err := s.svc.Close(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
