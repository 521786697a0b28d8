package draw

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/values"
)

// Store is the persistence surface the draw service needs.
type Store interface {
	NewestCandidates(ctx context.Context, userID uuid.UUID, caseID string, generation, limit int) ([]values.CanonicalValue, error)
	HottestCandidates(ctx context.Context, userID uuid.UUID, caseID string, generation, limit int) ([]values.CanonicalValue, error)
	UserValueEmbeddings(ctx context.Context, userID uuid.UUID) ([][]float64, error)
	UserValues(ctx context.Context, userID uuid.UUID) ([]values.RawValue, error)
	RecordImpressions(ctx context.Context, drawID, userID uuid.UUID, valueIDs []uuid.UUID) error
}

// Judge issues a structured judgment call and unmarshals the result.
type Judge interface {
	CompleteJSON(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, out any) error
}

// Config carries the draw parameters, injected at construction.
type Config struct {
	HandSize     int    // final hand size
	CandidateCap int    // per-source candidate cap
	TrimStrategy string // "embedding" | "judgment"
	EmbeddingDim int
	Generation   int
}

// Service builds bounded, non-redundant hands of canonical values for one
// user at a time. A heuristic recommender, not a fair sampler.
type Service struct {
	store  Store
	judge  Judge
	cfg    Config
	logger *slog.Logger
}

func New(s Store, j Judge, cfg Config, logger *slog.Logger) *Service {
	return &Service{store: s, judge: j, cfg: cfg, logger: logger}
}

// GetDraw assembles the next hand for a user on a case. An empty hand is
// the signal that the user has exhausted the case and should advance to
// the next phase of the flow — it is not an error.
func (s *Service) GetDraw(ctx context.Context, userID uuid.UUID, caseID string) (*values.Draw, error) {
	newest, err := s.store.NewestCandidates(ctx, userID, caseID, s.cfg.Generation, s.cfg.CandidateCap)
	if err != nil {
		return nil, fmt.Errorf("newest candidates: %w", err)
	}
	hottest, err := s.store.HottestCandidates(ctx, userID, caseID, s.cfg.Generation, s.cfg.CandidateCap)
	if err != nil {
		return nil, fmt.Errorf("hottest candidates: %w", err)
	}

	candidates := dedupeByID(append(newest, hottest...))

	d := &values.Draw{ID: uuid.New(), Values: []values.CanonicalValue{}}
	if len(candidates) == 0 {
		s.logger.Info("empty draw", "user", userID, "case", caseID)
		return d, nil
	}

	hand, err := s.trim(ctx, userID, candidates)
	if err != nil {
		return nil, err
	}
	d.Values = hand

	ids := make([]uuid.UUID, len(hand))
	for i, cv := range hand {
		ids[i] = cv.ID
	}
	if err := s.store.RecordImpressions(ctx, d.ID, userID, ids); err != nil {
		return nil, fmt.Errorf("record impressions: %w", err)
	}

	s.logger.Info("draw built",
		"user", userID,
		"case", caseID,
		"candidates", len(candidates),
		"hand", len(hand),
	)
	return d, nil
}

func (s *Service) trim(ctx context.Context, userID uuid.UUID, candidates []values.CanonicalValue) ([]values.CanonicalValue, error) {
	if len(candidates) <= s.cfg.HandSize {
		return candidates, nil
	}
	if s.cfg.TrimStrategy == "judgment" {
		return s.trimByJudgment(ctx, userID, candidates)
	}
	return s.trimByEmbedding(ctx, userID, candidates)
}

// dedupeByID drops later repeats, keeping first-seen order. The same
// candidate must never appear twice within one draw.
func dedupeByID(in []values.CanonicalValue) []values.CanonicalValue {
	seen := map[uuid.UUID]bool{}
	var out []values.CanonicalValue
	for _, cv := range in {
		if seen[cv.ID] {
			continue
		}
		seen[cv.ID] = true
		out = append(out, cv)
	}
	return out
}
