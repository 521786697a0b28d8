package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/values"
)

// ErrSelectionFailure means the judgment provider returned an id outside
// the input cluster — a contract violation, not a transient fault. The
// caller skips the cluster rather than guessing a member.
var ErrSelectionFailure = errors.New("representative selection failure")

const selectorSystemPrompt = `You judge which of several equivalent articulated values is best formulated.

A well-formulated value card:
- has evaluation criteria that name concrete, observable things to ATTEND TO, not vague ideals
- criteria describe attention, not behavior prescriptions ("MOMENTS where X" rather than "always do X")
- covers the value completely without redundant or overlapping criteria
- reads at a consistent level of granularity throughout
- has a title and instructions that match what the criteria actually operationalize

All candidates express the same underlying value. Pick the single best-formulated one.

Respond with JSON only: {"best_id": "<id of the best candidate>"}`

type selectorCandidate struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Criteria []string `json:"evaluation_criteria"`
}

type selectorResponse struct {
	BestID string `json:"best_id"`
}

// SelectRepresentative picks the best-formulated member of a cluster of
// equivalent raw values. A cluster of one returns directly with no external
// call; larger clusters get a single structured judgment.
func (s *Service) SelectRepresentative(ctx context.Context, cluster []values.RawValue) (values.RawValue, error) {
	if len(cluster) == 0 {
		return values.RawValue{}, fmt.Errorf("%w: empty cluster", ErrSelectionFailure)
	}
	if len(cluster) == 1 {
		return cluster[0], nil
	}

	candidates := make([]selectorCandidate, len(cluster))
	for i, rv := range cluster {
		candidates[i] = selectorCandidate{
			ID:       rv.ID.String(),
			Title:    rv.Title,
			Criteria: rv.Criteria,
		}
	}
	payload, err := json.Marshal(map[string]any{"candidates": candidates})
	if err != nil {
		return values.RawValue{}, fmt.Errorf("marshal candidates: %w", err)
	}

	var resp selectorResponse
	err = s.judge.CompleteJSON(ctx, selectorSystemPrompt,
		[]anthropic.Message{{Role: "user", Content: string(payload)}}, 1024, &resp)
	if err != nil {
		return values.RawValue{}, err
	}

	for _, rv := range cluster {
		if rv.ID.String() == resp.BestID {
			return rv, nil
		}
	}
	return values.RawValue{}, fmt.Errorf("%w: id %q not in cluster", ErrSelectionFailure, resp.BestID)
}
