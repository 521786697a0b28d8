package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/dedup"
	"github.com/meaninglab/moralgraph/internal/graph"
	"github.com/meaninglab/moralgraph/internal/values"
)

// Deduplicator is the dedup surface the API exposes.
type Deduplicator interface {
	FindSimilarCanonical(ctx context.Context, candidate values.RawValue) (*values.CanonicalValue, error)
	DeduplicateAll(ctx context.Context) (*dedup.Result, error)
	Preview(ctx context.Context) (*dedup.Result, error)
}

// Drawer builds hands for the voting/linking flow.
type Drawer interface {
	GetDraw(ctx context.Context, userID uuid.UUID, caseID string) (*values.Draw, error)
}

// Summarizer produces the moral graph.
type Summarizer interface {
	Summarize(ctx context.Context, filter graph.Filter) (*graph.Summary, error)
}

// Recorder persists participant reactions: votes on drawn values and
// wisdom-upgrade judgments on value pairs.
type Recorder interface {
	RecordVote(ctx context.Context, drawID, userID, valueID uuid.UUID, caseID string) error
	UpsertEdgeJudgment(ctx context.Context, j values.EdgeJudgment) error
}

type Server struct {
	router     *chi.Mux
	port       int
	dedup      Deduplicator
	draws      Drawer
	summarizer Summarizer
	recorder   Recorder
}

func NewServer(port int, apiToken string, d Deduplicator, dr Drawer, g Summarizer, rec Recorder) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:     router,
		port:       port,
		dedup:      d,
		draws:      dr,
		summarizer: g,
		recorder:   rec,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/moralgraph/status", s.status)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/graph", s.getGraph)
		r.Get("/draw", s.getDraw)
		r.Post("/draw/vote", s.recordVote)
		r.Post("/judgments", s.recordJudgment)
		r.Post("/values/similar", s.findSimilar)
		r.Post("/dedup/run", s.runDedup)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware rejects requests without the expected bearer token.
// An empty configured token disables auth (local development).
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				auth := r.Header.Get("Authorization")
				if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"agent":  "moralgraph",
		"status": "serving",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
