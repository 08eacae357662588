// Package server provides the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/tubevore/internal/download"
	"github.com/bryan-buckman/tubevore/internal/metrics"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/opml"
	"github.com/bryan-buckman/tubevore/internal/options"
	"github.com/bryan-buckman/tubevore/internal/provider"
	"github.com/bryan-buckman/tubevore/internal/subscription"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

// DefaultUserID is used when a request carries no X-User-ID header.
const DefaultUserID = "default"

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DownloadQueue exposes queued downloader requests.
type DownloadQueue interface {
	Pending(ctx context.Context, limit int) ([]download.Request, error)
	Ack(ctx context.Context, kind download.Kind, videoID int64) error
}

// Deps are the services the API is built on.
type Deps struct {
	Store    Pinger
	Manager  *subscription.Manager
	Registry *provider.Registry
	Resolver *options.Resolver
	Queue    DownloadQueue
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	Deps
	router chi.Router
	http   *http.Server
}

// New creates a server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{Deps: deps}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/", s.handleCreateSubscription)
			r.Post("/test", s.handleTestURL)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSubscription)
				r.Put("/", s.handleUpdateSubscription)
				r.Delete("/", s.handleDeleteSubscription)
				r.Get("/stats", s.handleSubscriptionStats)
				r.Post("/sync", s.handleSyncSubscription)
				r.Get("/auto-download", s.handleGetAutoDownload)
				r.Put("/auto-download", s.handleSetAutoDownload)
				r.Delete("/auto-download", s.handleUnsetAutoDownload)
				r.Get("/options/{key}", s.handleGetOption(options.ScopeSubscription))
				r.Put("/options/{key}", s.handleSetOption(options.ScopeSubscription))
				r.Delete("/options/{key}", s.handleUnsetOption(options.ScopeSubscription))
			})
		})

		r.Route("/folders", func(r chi.Router) {
			r.Get("/", s.handleListFolders)
			r.Post("/", s.handleCreateFolder)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handleUpdateFolder)
				r.Delete("/", s.handleDeleteFolder)
				r.Get("/subscriptions", s.handleFolderSubscriptions)
				r.Post("/sync", s.handleSyncFolder)
				r.Get("/options/{key}", s.handleGetOption(options.ScopeFolder))
				r.Put("/options/{key}", s.handleSetOption(options.ScopeFolder))
				r.Delete("/options/{key}", s.handleUnsetOption(options.ScopeFolder))
			})
		})

		r.Get("/options", s.handleListOptions)
		r.Get("/options/{key}", s.handleGetOption(options.ScopeUser))
		r.Put("/options/{key}", s.handleSetOption(options.ScopeUser))
		r.Put("/global-options/{key}", s.handleSetOption(options.ScopeGlobal))

		r.Get("/providers", s.handleListProviders)
		r.Put("/providers/{id}/config", s.handleConfigureProvider)
		r.Delete("/providers/{id}/config", s.handleUnconfigureProvider)

		r.Post("/sync", s.handleSyncAll)
		r.Get("/downloads/pending", s.handlePendingDownloads)
		r.Delete("/downloads/{kind}/{videoID}", s.handleAckDownload)

		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Logger.Info("server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		if err := s.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return DefaultUserID
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, errBadRequest("invalid " + name)
	}
	return id, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequest(msg) }

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, subscription.ErrValidation),
		errors.Is(err, options.ErrInvalidValue),
		errors.Is(err, options.ErrScopeNotAllowed),
		errors.Is(err, options.ErrNotPersistable),
		errors.Is(err, provider.ErrMissingConfig),
		errors.Is(err, opml.ErrInvalidDocument):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, provider.ErrProviderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, synchronize.ErrSyncInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
