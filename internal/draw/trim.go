package draw

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/cluster"
	"github.com/meaninglab/moralgraph/internal/values"
)

// trimByEmbedding keeps the candidates closest to the mean embedding of the
// user's own submitted values. This personalizes toward values similar in
// spirit to what the user has already expressed, so the shown values are
// ones the user can meaningfully rank. A user with no embedded values gets
// a zero-vector mean — the one documented fallback, so a new user's draw
// never fails on an embedding miss.
func (s *Service) trimByEmbedding(ctx context.Context, userID uuid.UUID, candidates []values.CanonicalValue) ([]values.CanonicalValue, error) {
	userVecs, err := s.store.UserValueEmbeddings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user embeddings: %w", err)
	}
	mean := cluster.Mean(userVecs, s.cfg.EmbeddingDim)

	type scored struct {
		cv       values.CanonicalValue
		distance float64
		order    int
	}
	ranked := make([]scored, len(candidates))
	for i, cv := range candidates {
		ranked[i] = scored{cv: cv, distance: cluster.CosineDistance(mean, cv.Embedding), order: i}
	}
	// Stable on ties: candidate-generation order decides.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].order < ranked[j].order
	})

	hand := make([]values.CanonicalValue, 0, s.cfg.HandSize)
	for i := 0; i < s.cfg.HandSize && i < len(ranked); i++ {
		hand = append(hand, ranked[i].cv)
	}
	return hand, nil
}

const trimSystemPrompt = `A participant has articulated one of their own values. From a list of candidate values, pick the ones the participant would also recognize as wise — values they could meaningfully compare against their own.

Pick exactly the requested number. Respond with JSON only: {"chosen_ids": ["<id>", ...]}`

type trimResponse struct {
	ChosenIDs []string `json:"chosen_ids"`
}

// trimByJudgment is the experimental LLM-prompt trim variant, selected by
// configuration. Given one of the user's own values and the candidate list,
// the judgment call picks the hand.
func (s *Service) trimByJudgment(ctx context.Context, userID uuid.UUID, candidates []values.CanonicalValue) ([]values.CanonicalValue, error) {
	own, err := s.store.UserValues(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user values: %w", err)
	}
	if len(own) == 0 {
		// Nothing to anchor the judgment on; fall through to the embedding
		// trim, which handles the no-history case with a zero vector.
		return s.trimByEmbedding(ctx, userID, candidates)
	}

	type candidatePayload struct {
		ID       string   `json:"id"`
		Title    string   `json:"title"`
		Criteria []string `json:"evaluation_criteria"`
	}
	payloadCandidates := make([]candidatePayload, len(candidates))
	for i, cv := range candidates {
		payloadCandidates[i] = candidatePayload{ID: cv.ID.String(), Title: cv.Title, Criteria: cv.Criteria}
	}
	payload, err := json.Marshal(map[string]any{
		"own_value": map[string]any{
			"title":               own[0].Title,
			"evaluation_criteria": own[0].Criteria,
		},
		"candidates": payloadCandidates,
		"pick":       s.cfg.HandSize,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal trim payload: %w", err)
	}

	var resp trimResponse
	err = s.judge.CompleteJSON(ctx, trimSystemPrompt,
		[]anthropic.Message{{Role: "user", Content: string(payload)}}, 1024, &resp)
	if err != nil {
		return nil, err
	}

	byID := map[string]values.CanonicalValue{}
	for _, cv := range candidates {
		byID[cv.ID.String()] = cv
	}
	seen := map[string]bool{}
	var hand []values.CanonicalValue
	for _, id := range resp.ChosenIDs {
		cv, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: chosen id %q not among candidates", anthropic.ErrUnavailable, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		hand = append(hand, cv)
		if len(hand) == s.cfg.HandSize {
			break
		}
	}
	if len(hand) == 0 {
		return nil, fmt.Errorf("%w: empty trim selection", anthropic.ErrUnavailable)
	}
	return hand, nil
}
