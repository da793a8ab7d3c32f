// Package api exposes one workbench session over a local JSON API.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/spherical/ocr-workbench/internal/config"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/extract"
)

// KeySetter accepts an API key entered by the user.
type KeySetter interface {
	Set(key string)
}

// Server serves a single session.
type Server struct {
	svc    *extract.Service
	keys   KeySetter
	cfg    config.ServerConfig
	logger zerolog.Logger
	srv    *http.Server
}

// NewServer creates a server for svc. keys may be nil when the key is
// managed by the host.
func NewServer(svc *extract.Service, keys KeySetter, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		svc:    svc,
		keys:   keys,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors(s.cfg.AllowedOrigins))
	if s.cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "ocr-workbench"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.state)
		r.Post("/credential", s.setCredential)
		r.Post("/signout", s.signOut)

		r.Post("/file", s.loadFile)
		r.Post("/page", s.changePage)
		r.Post("/zoom", s.setZoom)
		r.Get("/raster", s.raster)

		r.Route("/selection", func(r chi.Router) {
			r.Post("/begin", s.beginSelection)
			r.Post("/update", s.updateSelection)
			r.Post("/end", s.endSelection)
		})
		r.Post("/crop", s.crop)
		r.Post("/restore", s.restore)

		r.Post("/extract", s.extractText)
		r.Post("/qac", s.runQAC)
		r.Get("/progress", s.progress)

		r.Get("/history", s.history)
		r.Post("/history/{id}/activate", s.activate)

		r.Route("/images/{id}", func(r chi.Router) {
			r.Post("/enhance", s.enhance)
			r.Get("/raw", s.rawImage)
			r.Post("/colorize", s.colorize)
		})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed")
		return s.srv.Close()
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// cors lets loopback origins and the configured ones call the API from a
// browser. Requests carrying any other Origin are refused before they reach
// the session; requests without an Origin header pass through.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !originAllowed(origin, allowedOrigins) {
					writeJSON(w, http.StatusForbidden, errorResponse{
						Error:    "origin_not_allowed",
						Message:  "This origin may not use the workbench API.",
						Category: string(domain.CategoryFatal),
					})
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed accepts http(s) origins on localhost, 127.0.0.1 or ::1 with
// any port, plus exact matches from allowed.
func originAllowed(origin string, allowed []string) bool {
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if u.Path != "" || u.User != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
