package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/dedup"
	"github.com/meaninglab/moralgraph/internal/embedding"
	"github.com/meaninglab/moralgraph/internal/graph"
	"github.com/meaninglab/moralgraph/internal/store"
	"github.com/meaninglab/moralgraph/internal/values"
)

// getGraph returns the summarized moral graph, optionally filtered by case
// and judgment time window. ?all=true includes edges that fail the
// visibility filter, for inspection.
func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	filter := graph.Filter{
		CaseID:     r.URL.Query().Get("case_id"),
		IncludeAll: r.URL.Query().Get("all") == "true",
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid from: %v", err))
			return
		}
		filter.From = &from
	}
	if untilStr := r.URL.Query().Get("until"); untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid until: %v", err))
			return
		}
		filter.Until = &until
	}

	summary, err := s.summarizer.Summarize(r.Context(), filter)
	if err != nil {
		slog.Error("graph summarize failed", "error", err)
		writeError(w, http.StatusInternalServerError, "summarization failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// getDraw returns a hand of values for the user to rank against their own.
// An empty hand is a valid response and tells the caller to advance the flow.
func (s *Server) getDraw(w http.ResponseWriter, r *http.Request) {
	userIDStr := r.URL.Query().Get("user_id")
	caseID := r.URL.Query().Get("case_id")
	if userIDStr == "" || caseID == "" {
		writeError(w, http.StatusBadRequest, "user_id and case_id are required")
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	d, err := s.draws.GetDraw(r.Context(), userID, caseID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, anthropic.ErrUnavailable), errors.Is(err, embedding.ErrUnavailable):
			status = http.StatusBadGateway
		case errors.Is(err, store.ErrUnavailable):
			status = http.StatusServiceUnavailable
		}
		slog.Error("draw failed", "user_id", userID, "case_id", caseID, "error", err)
		writeError(w, status, "draw failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type voteRequest struct {
	DrawID  uuid.UUID `json:"draw_id"`
	UserID  uuid.UUID `json:"user_id"`
	ValueID uuid.UUID `json:"value_id"`
	CaseID  string    `json:"case_id"`
}

// recordVote registers one endorsement of a value from a draw. Votes feed the
// hotness ranking of later draws.
func (s *Server) recordVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.DrawID == uuid.Nil || req.UserID == uuid.Nil || req.ValueID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "draw_id, user_id and value_id are required")
		return
	}

	if err := s.recorder.RecordVote(r.Context(), req.DrawID, req.UserID, req.ValueID, req.CaseID); err != nil {
		slog.Error("vote failed", "draw_id", req.DrawID, "error", err)
		writeError(w, http.StatusInternalServerError, "vote failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

type judgmentRequest struct {
	UserID       uuid.UUID `json:"user_id"`
	FromID       uuid.UUID `json:"from_id"`
	ToID         uuid.UUID `json:"to_id"`
	Relationship string    `json:"relationship"`
	Comment      string    `json:"comment"`
	CaseID       string    `json:"case_id"`
}

// recordJudgment registers one user's verdict on an ordered value pair.
// Resubmitting the same pair overwrites the earlier verdict.
func (s *Server) recordJudgment(w http.ResponseWriter, r *http.Request) {
	var req judgmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.UserID == uuid.Nil || req.FromID == uuid.Nil || req.ToID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id, from_id and to_id are required")
		return
	}
	if req.FromID == req.ToID {
		writeError(w, http.StatusBadRequest, "from_id and to_id must differ")
		return
	}
	rel := values.Relationship(req.Relationship)
	if !rel.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid relationship %q", req.Relationship))
		return
	}

	j := values.EdgeJudgment{
		UserID:       req.UserID,
		FromID:       req.FromID,
		ToID:         req.ToID,
		Relationship: rel,
		Comment:      req.Comment,
		CaseID:       req.CaseID,
	}
	if err := s.recorder.UpsertEdgeJudgment(r.Context(), j); err != nil {
		slog.Error("judgment failed", "from_id", req.FromID, "to_id", req.ToID, "error", err)
		writeError(w, http.StatusInternalServerError, "judgment failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

type similarRequest struct {
	Title            string   `json:"title"`
	Instructions     string   `json:"instructions_short"`
	InstructionsLong string   `json:"instructions_detailed"`
	Criteria         []string `json:"evaluation_criteria"`
}

type similarResponse struct {
	Match *values.CanonicalValue `json:"match"`
}

// findSimilar checks a candidate value against the canonical set. A null
// match means the candidate is genuinely new.
func (s *Server) findSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Title == "" || len(req.Criteria) == 0 {
		writeError(w, http.StatusBadRequest, "title and evaluation_criteria are required")
		return
	}

	candidate := values.RawValue{
		Title:            req.Title,
		Instructions:     req.Instructions,
		InstructionsLong: req.InstructionsLong,
		Criteria:         req.Criteria,
	}
	match, err := s.dedup.FindSimilarCanonical(r.Context(), candidate)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, anthropic.ErrUnavailable), errors.Is(err, embedding.ErrUnavailable):
			status = http.StatusBadGateway
		case errors.Is(err, store.ErrUnavailable):
			status = http.StatusServiceUnavailable
		}
		slog.Error("similar lookup failed", "title", req.Title, "error", err)
		writeError(w, status, "similar lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, similarResponse{Match: match})
}

// runDedup triggers a full deduplication pass. ?execute=false previews the
// clustering without writing. Returns 409 when a pass is already in flight;
// callers should retry later rather than queueing.
func (s *Server) runDedup(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("execute") == "false" {
		result, err := s.dedup.Preview(r.Context())
		if err != nil {
			slog.Error("dedup preview failed", "error", err)
			writeError(w, http.StatusInternalServerError, "preview failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	result, err := s.dedup.DeduplicateAll(r.Context())
	if err != nil {
		if errors.Is(err, dedup.ErrJobRunning) {
			writeError(w, http.StatusConflict, "deduplication already running")
			return
		}
		slog.Error("dedup run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "deduplication failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
