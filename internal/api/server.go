package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/integration"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

// Store is the read and CRUD surface the handlers use directly. Lifecycle
// changes go through the Coordinator.
type Store interface {
	Ping(ctx context.Context) error

	CreateTranscript(ctx context.Context, t *knowledge.Transcript) error
	GetTranscript(ctx context.Context, id uuid.UUID) (*knowledge.Transcript, error)
	PatchTranscript(ctx context.Context, id uuid.UUID, p knowledge.TranscriptPatch) (*knowledge.Transcript, error)
	ListTranscriptsByStatus(ctx context.Context, statuses ...knowledge.TranscriptStatus) ([]knowledge.Transcript, error)

	GetConflict(ctx context.Context, id uuid.UUID) (*knowledge.Conflict, error)
	ListConflicts(ctx context.Context, f knowledge.ConflictFilter) ([]knowledge.Conflict, error)
	ConflictStats(ctx context.Context) (knowledge.ConflictStats, error)

	CreateFolder(ctx context.Context, f *knowledge.Folder) error
	RenameFolder(ctx context.Context, id uuid.UUID, name string) (*knowledge.Folder, error)
	DeleteFolder(ctx context.Context, id uuid.UUID) error
	ListFolders(ctx context.Context) ([]knowledge.Folder, error)
	IntegratedCounts(ctx context.Context) (map[uuid.UUID]int, error)
}

// Coordinator runs integration and review. integration.Coordinator implements it.
type Coordinator interface {
	Finalize(ctx context.Context, id uuid.UUID, req integration.FinalizeRequest) (*knowledge.Transcript, error)
	Recheck(ctx context.Context, id uuid.UUID) (*knowledge.Transcript, error)
	RaiseConflict(ctx context.Context, c *knowledge.Conflict) (bool, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution *string) (*integration.ReviewOutcome, error)
	Reject(ctx context.Context, id uuid.UUID) (*integration.ReviewOutcome, error)
	DeleteTranscript(ctx context.Context, id uuid.UUID) error
}

// CheckFunc reports the health of a dependency for the status endpoint.
type CheckFunc func(ctx context.Context) error

type Server struct {
	router *chi.Mux
	port   int
	store  Store
	coord  Coordinator
	checks map[string]CheckFunc
	logger *slog.Logger
	http   *http.Server
}

func NewServer(port int, apiToken string, store Store, coord Coordinator, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		store:  store,
		coord:  coord,
		checks: map[string]CheckFunc{"store": store.Ping},
		logger: logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/scribe/status", s.status)

		r.Route("/transcriptions", func(r chi.Router) {
			r.Get("/pending-reviews", s.pendingReviews)
			r.Get("/{id}", s.getTranscript)

			r.Group(func(r chi.Router) {
				r.Use(BearerAuthMiddleware(apiToken))
				r.Post("/", s.createTranscript)
				r.Put("/{id}", s.updateTranscript)
				r.Delete("/{id}", s.deleteTranscript)
				r.Put("/{id}/finalize-integration", s.finalizeIntegration)
				r.Post("/{id}/recheck", s.recheck)
			})
		})

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", s.listConflicts)
			r.Get("/stats", s.conflictStats)
			r.Get("/{id}", s.getConflict)

			r.Group(func(r chi.Router) {
				r.Use(BearerAuthMiddleware(apiToken))
				r.Post("/", s.createConflict)
				r.Put("/{id}/resolve", s.resolveConflict)
				r.Put("/{id}/reject", s.rejectConflict)
			})
		})

		r.Route("/folders", func(r chi.Router) {
			r.Get("/tree", s.folderTree)

			r.Group(func(r chi.Router) {
				r.Use(BearerAuthMiddleware(apiToken))
				r.Post("/", s.createFolder)
				r.Put("/{id}", s.renameFolder)
				r.Delete("/{id}", s.deleteFolder)
			})
		})
	})

	return s
}

// AddCheck registers a dependency reported by the status endpoint. Call it before
// Start.
func (s *Server) AddCheck(name string, fn CheckFunc) {
	s.checks[name] = fn
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("status check failed", "dependency", name, "error", err)
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	body := map[string]any{
		"agent":        "scribe",
		"status":       status,
		"dependencies": deps,
	}
	stats, err := s.store.ConflictStats(r.Context())
	if err == nil {
		body["conflicts"] = stats
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, knowledge.ErrInvalidTransition), errors.Is(err, knowledge.ErrFolderNotEmpty):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body, refusing unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
