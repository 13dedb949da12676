// Package server exposes subscriptions and lives over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voyagen/m3uvault/api"
	"github.com/voyagen/m3uvault/internal/config"
	"github.com/voyagen/m3uvault/internal/fetcher"
	"github.com/voyagen/m3uvault/internal/logging"
	"github.com/voyagen/m3uvault/internal/m3u"
	"github.com/voyagen/m3uvault/internal/service"
	"github.com/voyagen/m3uvault/internal/store"
)

// Server holds dependencies for the HTTP API.
type Server struct {
	store     store.Store
	refresher *service.Refresher
	worker    *service.Worker // nil when REDIS_URL is not set
	cfg       *config.Config
	log       zerolog.Logger
	redact    logging.Redactor
	mux       *http.ServeMux
}

// New creates a Server and registers routes.
// worker may be nil if asynchronous refreshes are not configured.
func New(s store.Store, r *service.Refresher, worker *service.Worker, cfg *config.Config, log zerolog.Logger) *Server {
	srv := &Server{store: s, refresher: r, worker: worker, cfg: cfg, log: log, redact: logging.Redactor(cfg.SafeLogs), mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Subscriptions
	s.mux.HandleFunc("GET /api/subscriptions", s.handleListSubscriptions)
	s.mux.HandleFunc("POST /api/subscriptions", s.handleAddSubscription)
	s.mux.HandleFunc("GET /api/subscriptions/{id}", s.handleGetSubscription)
	s.mux.HandleFunc("PATCH /api/subscriptions/{id}", s.handleUpdateSubscription)
	s.mux.HandleFunc("DELETE /api/subscriptions/{id}", s.handleDeleteSubscription)
	s.mux.HandleFunc("POST /api/subscriptions/{id}/refresh", s.handleRefreshSubscription)
	s.mux.HandleFunc("GET /api/subscriptions/{id}/playlist.m3u", s.handleExportPlaylist)

	// Lives
	s.mux.HandleFunc("GET /api/lives", s.handleListLives)
	s.mux.HandleFunc("GET /api/lives/{id}", s.handleGetLive)
	s.mux.HandleFunc("PATCH /api/lives/{id}/favourite", s.handleSetFavourite)

	// Groups
	s.mux.HandleFunc("GET /api/groups", s.handleListGroups)

	// Stateless parse
	s.mux.HandleFunc("POST /api/parse", s.handleParse)

	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
	s.mux.HandleFunc("GET /api/docs/openapi.json", s.handleOpenAPIJSON)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the API wrapped in the CORS and logging middleware.
func (s *Server) Handler() http.Handler {
	return withCORS(withLogging(s.log, s))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("server shutdown")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// parseID extracts a path parameter by name and parses it as int64.
func parseID(r *http.Request, param string) (int64, error) {
	v := r.PathValue(param)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", param, v)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeErr(w http.ResponseWriter, status int, err error) {
	err = s.redact.Wrap(err)
	if status >= 500 {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

// fail writes err with the status that matches its kind.
func (s *Server) fail(w http.ResponseWriter, err error) {
	s.writeErr(w, errStatus(err), err)
}

func errStatus(err error) int {
	var (
		playlistErr *m3u.PlaylistError
		statusErr   *fetcher.StatusError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrDisabled),
		errors.Is(err, service.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidURL),
		errors.Is(err, fetcher.ErrUnsupportedScheme),
		errors.Is(err, m3u.ErrMissingSubscriptionURL):
		return http.StatusBadRequest
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &statusErr), errors.Is(err, fetcher.ErrTooLarge):
		return http.StatusBadGateway
	case errors.As(err, &playlistErr), errors.Is(err, m3u.ErrMalformedPlaylist):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- docs handlers ---

func handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

// handleOpenAPIJSON serves the validated document as JSON.
func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	doc, err := api.Load(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, swaggerUIHTML)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>m3uvault API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>html{box-sizing:border-box;overflow-y:scroll}*,*:before,*:after{box-sizing:inherit}body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/docs/openapi.yaml",
      dom_id: "#swagger-ui",
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout",
    });
  </script>
</body>
</html>`
