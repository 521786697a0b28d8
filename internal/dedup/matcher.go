package dedup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/values"
)

const matcherSystemPrompt = `You judge whether a newly submitted value is the SAME underlying value as one of several existing canonical values.

Two cards express the same value only if:
- their evaluation criteria are essentially identical in what they direct attention to
- they operate at the same granularity (one is not a broader theme containing the other)
- no criterion of one is entirely absent from the other

Superficial wording differences do not matter; genuinely different emphases do. When unsure, prefer "no match" — merging distinct values damages the graph more than a delayed merge.

Respond with JSON only: {"match_id": "<id of the matching canonical value, or null>"}`

type matcherResponse struct {
	MatchID *string `json:"match_id"`
}

// FindSimilarCanonical decides whether a candidate submission is already
// represented by a canonical value of the current generation. Best effort:
// at most one nearest-neighbor query and one judgment call, so it fits
// interactive submission latency. Concurrent submissions may still create
// near-duplicates; the batch job converges them later.
func (s *Service) FindSimilarCanonical(ctx context.Context, candidate values.RawValue) (*values.CanonicalValue, error) {
	embeddingVec := candidate.Embedding
	if len(embeddingVec) == 0 {
		vec, err := s.embedder.Embed(ctx, values.CriteriaText(candidate.Criteria))
		if err != nil {
			return nil, fmt.Errorf("embed candidate: %w", err)
		}
		embeddingVec = vec
	}
	return s.findSimilarByEmbedding(ctx, embeddingVec, candidate.Criteria)
}

func (s *Service) findSimilarByEmbedding(ctx context.Context, embeddingVec []float64, criteria []string) (*values.CanonicalValue, error) {
	neighbors, err := s.store.NearestCanonical(ctx, embeddingVec, 5, s.cfg.MaxDistance, s.cfg.Generation)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	candidates, err := s.store.CanonicalValuesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	matchCandidates := make([]selectorCandidate, len(candidates))
	for i, cv := range candidates {
		matchCandidates[i] = selectorCandidate{
			ID:       cv.ID.String(),
			Title:    cv.Title,
			Criteria: cv.Criteria,
		}
	}
	payload, err := json.Marshal(map[string]any{
		"submitted_criteria": criteria,
		"existing":           matchCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal match payload: %w", err)
	}

	var resp matcherResponse
	err = s.judge.CompleteJSON(ctx, matcherSystemPrompt,
		[]anthropic.Message{{Role: "user", Content: string(payload)}}, 1024, &resp)
	if err != nil {
		return nil, err
	}

	if resp.MatchID == nil || *resp.MatchID == "" || *resp.MatchID == "null" {
		return nil, nil
	}
	for i := range candidates {
		if candidates[i].ID.String() == *resp.MatchID {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: match id %q not among candidates", anthropic.ErrUnavailable, *resp.MatchID)
}
