package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/store"
	"github.com/meaninglab/moralgraph/internal/values"
)

// Store is the persistence surface the summarizer needs.
type Store interface {
	AllCanonicalValues(ctx context.Context, generation int) ([]values.CanonicalValue, error)
	ListEdgeJudgments(ctx context.Context, filter store.JudgmentFilter) ([]values.EdgeJudgment, error)
}

// Filter narrows which judgments feed a summary. IncludeAll additionally
// returns the unfiltered edge list for debugging.
type Filter struct {
	CaseID      string
	From, Until *time.Time
	IncludeAll  bool
}

// Edge is the derived directed summary over all judgments sharing a
// (source, wiser) pair. Never persisted; recomputed per query.
type Edge struct {
	SourceID        uuid.UUID `json:"source_id"`
	WiserID         uuid.UUID `json:"wiser_id"`
	MarkedWiser     int       `json:"marked_wiser"`
	MarkedNotWiser  int       `json:"marked_not_wiser"`
	MarkedLessWise  int       `json:"marked_less_wise"`
	MarkedUnsure    int       `json:"marked_unsure"`
	Impressions     int       `json:"impressions"`
	Contexts        []string  `json:"contexts"`
	WiserLikelihood float64   `json:"wiser_likelihood"`
	Entropy         float64   `json:"entropy"`
}

// Summary is the filtered moral graph: the statistically meaningful edges
// plus only the values they reference.
type Summary struct {
	Values   []values.CanonicalValue `json:"values"`
	Edges    []Edge                  `json:"edges"`
	AllEdges []Edge                  `json:"all_edges,omitempty"`
}

// Thresholds gate which edges are visible. All four must hold.
type Thresholds struct {
	MinWiser      int     // minimum absolute positive votes
	MinLikelihood float64 // net consensus floor
	MaxEntropy    float64 // disagreement ceiling, ~log2(3.2)
}

// Summarizer aggregates raw edge judgments into the moral graph.
type Summarizer struct {
	store      Store
	generation int
	thresholds Thresholds
	logger     *slog.Logger
}

func New(s Store, generation int, thresholds Thresholds, logger *slog.Logger) *Summarizer {
	return &Summarizer{store: s, generation: generation, thresholds: thresholds, logger: logger}
}

// Summarize loads matching judgments and canonical values and produces the
// filtered, annotated graph. A filter matching nothing yields an empty
// summary, not an error.
func (s *Summarizer) Summarize(ctx context.Context, filter Filter) (*Summary, error) {
	judgments, err := s.store.ListEdgeJudgments(ctx, store.JudgmentFilter{
		CaseID: filter.CaseID,
		From:   filter.From,
		Until:  filter.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("load judgments: %w", err)
	}

	allEdges := Accumulate(judgments)
	visible := FilterEdges(allEdges, s.thresholds)

	canonical, err := s.store.AllCanonicalValues(ctx, s.generation)
	if err != nil {
		return nil, fmt.Errorf("load canonical values: %w", err)
	}

	// Only values referenced by a surviving edge appear in the summary;
	// isolated nodes would clutter the rendered graph.
	referenced := map[uuid.UUID]bool{}
	for _, e := range visible {
		referenced[e.SourceID] = true
		referenced[e.WiserID] = true
	}
	var nodes []values.CanonicalValue
	for _, cv := range canonical {
		if referenced[cv.ID] {
			nodes = append(nodes, cv)
		}
	}

	s.logger.Info("graph summarized",
		"judgments", len(judgments),
		"edges_all", len(allEdges),
		"edges_visible", len(visible),
		"values", len(nodes),
	)

	summary := &Summary{Values: nodes, Edges: visible}
	if filter.IncludeAll {
		summary.AllEdges = allEdges
	}
	return summary, nil
}

type pairKey struct {
	source, wiser uuid.UUID
}

type counter struct {
	wiser, notWiser, lessWise, unsure, impressions int
	contexts                                       map[string]bool
}

// Accumulate folds raw judgments into per-(source, wiser) edge counters.
// Each judgment (from, to) feeds two counters: the forward edge takes the
// verdict itself, and the reverse edge records a markedLessWise when the
// verdict was an upgrade — "to" judged wiser than "from" means "from" was
// judged less wise than "to". Note the asymmetry: not_sure counts only
// toward the forward edge. That reproduces the deployed behavior and is
// deliberately not generalized.
func Accumulate(judgments []values.EdgeJudgment) []Edge {
	counters := map[pairKey]*counter{}
	get := func(k pairKey) *counter {
		c, ok := counters[k]
		if !ok {
			c = &counter{contexts: map[string]bool{}}
			counters[k] = c
		}
		return c
	}

	for _, j := range judgments {
		fwd := get(pairKey{j.FromID, j.ToID})
		fwd.impressions++
		if j.CaseID != "" {
			fwd.contexts[j.CaseID] = true
		}
		switch j.Relationship {
		case values.RelationshipUpgrade:
			fwd.wiser++
		case values.RelationshipNoUpgrade:
			fwd.notWiser++
		case values.RelationshipNotSure:
			fwd.unsure++
		}

		rev := get(pairKey{j.ToID, j.FromID})
		rev.impressions++
		if j.Relationship == values.RelationshipUpgrade {
			rev.lessWise++
		}
	}

	edges := make([]Edge, 0, len(counters))
	for k, c := range counters {
		e := Edge{
			SourceID:       k.source,
			WiserID:        k.wiser,
			MarkedWiser:    c.wiser,
			MarkedNotWiser: c.notWiser,
			MarkedLessWise: c.lessWise,
			MarkedUnsure:   c.unsure,
			Impressions:    c.impressions,
		}
		for caseID := range c.contexts {
			e.Contexts = append(e.Contexts, caseID)
		}
		sort.Strings(e.Contexts)

		total := c.wiser + c.notWiser + c.lessWise + c.unsure
		if total > 0 {
			e.WiserLikelihood = float64(c.wiser-c.lessWise) / float64(total)
			e.Entropy = entropy([]int{c.wiser, c.notWiser, c.lessWise, c.unsure}, total)
		}
		edges = append(edges, e)
	}

	// Map iteration order is random; sort for a stable output.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID.String() < edges[j].SourceID.String()
		}
		return edges[i].WiserID.String() < edges[j].WiserID.String()
	})
	return edges
}

// FilterEdges keeps only edges with meaningful net-upgrade signal: at least
// one positive vote, the minimum absolute sample, the consensus floor, and
// the disagreement ceiling.
func FilterEdges(edges []Edge, t Thresholds) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.MarkedWiser < 1 {
			continue
		}
		if e.MarkedWiser < t.MinWiser {
			continue
		}
		if e.WiserLikelihood < t.MinLikelihood {
			continue
		}
		if e.Entropy > t.MaxEntropy {
			continue
		}
		out = append(out, e)
	}
	return out
}

// entropy is the base-2 Shannon entropy of the judgment-category counts.
// 0 means unanimous; log2(4) is the maximum over the four categories.
func entropy(counts []int, total int) float64 {
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
