package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/bus"
	"github.com/meaninglab/moralgraph/internal/cluster"
	"github.com/meaninglab/moralgraph/internal/store"
	"github.com/meaninglab/moralgraph/internal/values"
)

// ErrJobRunning is returned when a batch run is requested while another is
// in flight. The job is declared non-concurrent: overlapping runs could
// create divergent canonical values for the same semantic cluster.
var ErrJobRunning = errors.New("dedup job already running")

// Store is the persistence surface the dedup service needs.
type Store interface {
	PendingRawValues(ctx context.Context, limit int) ([]values.RawValue, error)
	RawValuesMissingEmbedding(ctx context.Context, limit int) ([]values.RawValue, error)
	UpsertRawValueEmbedding(ctx context.Context, id uuid.UUID, vec []float64) error
	NearestCanonical(ctx context.Context, vec []float64, limit int, maxDistance float64, generation int) ([]store.Neighbor, error)
	CanonicalValuesByIDs(ctx context.Context, ids []uuid.UUID) ([]values.CanonicalValue, error)
	CreateCanonicalValue(ctx context.Context, cv values.CanonicalValue) error
	LinkRawValues(ctx context.Context, rawIDs []uuid.UUID, canonicalID uuid.UUID) error
}

// Embedder turns criteria text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Judge issues a structured judgment call and unmarshals the result.
type Judge interface {
	CompleteJSON(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, out any) error
}

// Publisher emits bus events. May be nil; dedup works without a bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Config carries the tuned dedup parameters, injected at construction —
// never read from ambient globals inside the algorithms.
type Config struct {
	MaxDistance float64 // point-lookup cosine distance ceiling
	Epsilon     float64 // batch clustering neighbor distance
	MinPoints   int     // minimum cluster size
	BatchLimit  int     // pending values per run
	Generation  int     // canonical values version tag
}

// Service deduplicates raw value submissions into canonical values.
type Service struct {
	store     Store
	embedder  Embedder
	judge     Judge
	publisher Publisher
	cfg       Config
	logger    *slog.Logger

	runMu sync.Mutex // at-most-one batch run
}

func New(s Store, e Embedder, j Judge, p Publisher, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:     s,
		embedder:  e,
		judge:     j,
		publisher: p,
		cfg:       cfg,
		logger:    logger,
	}
}

// Result summarizes one batch dedup run.
type Result struct {
	Generation int             `json:"generation"`
	Pending    int             `json:"pending"`
	Clusters   int             `json:"clusters"`
	Singletons int             `json:"singletons"`
	Created    int             `json:"created"`
	Merged     int             `json:"merged"`
	Failed     int             `json:"failed"`
	Details    []ClusterDetail `json:"details,omitempty"`
}

// ClusterDetail reports what happened to one cluster.
type ClusterDetail struct {
	CanonicalID uuid.UUID   `json:"canonical_id"`
	RawIDs      []uuid.UUID `json:"raw_ids"`
	Size        int         `json:"size"`
	Reused      bool        `json:"reused"` // linked to an existing canonical value
}

// DeduplicateAll sweeps pending raw values into canonical values: embed
// whatever is missing an embedding, cluster the batch, and per cluster
// either link to an equivalent existing canonical value or promote the
// cluster's best member. Idempotent — a second run over the same data
// fetches nothing. One failed cluster never aborts the rest of the run.
func (s *Service) DeduplicateAll(ctx context.Context) (*Result, error) {
	if !s.runMu.TryLock() {
		return nil, ErrJobRunning
	}
	defer s.runMu.Unlock()

	s.logger.Info("starting batch dedup",
		"generation", s.cfg.Generation,
		"epsilon", s.cfg.Epsilon,
		"min_points", s.cfg.MinPoints,
	)

	if err := s.embedMissing(ctx); err != nil {
		return nil, err
	}

	pending, err := s.store.PendingRawValues(ctx, s.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}

	result := &Result{Generation: s.cfg.Generation, Pending: len(pending)}
	if len(pending) == 0 {
		s.logger.Info("no pending raw values")
		return result, nil
	}

	vectors := make([][]float64, len(pending))
	for i, rv := range pending {
		vectors[i] = rv.Embedding
	}
	part := cluster.DBSCAN(vectors, s.cfg.Epsilon, s.cfg.MinPoints)

	// Noise points are processed as singleton clusters.
	clusters := part.Clusters
	for _, i := range part.Noise {
		clusters = append(clusters, []int{i})
	}
	result.Clusters = len(part.Clusters)
	result.Singletons = len(part.Noise)

	s.logger.Info("clustered pending batch",
		"pending", len(pending),
		"clusters", len(part.Clusters),
		"singletons", len(part.Noise),
	)

	for _, indices := range clusters {
		members := make([]values.RawValue, len(indices))
		for i, idx := range indices {
			members[i] = pending[idx]
		}

		detail, err := s.processCluster(ctx, members)
		if err != nil {
			result.Failed++
			s.logger.Error("cluster failed", "size", len(members), "error", err)
			continue
		}
		if detail.Reused {
			result.Merged++
		} else {
			result.Created++
		}
		result.Details = append(result.Details, *detail)
	}

	s.logger.Info("batch dedup completed",
		"created", result.Created,
		"merged", result.Merged,
		"failed", result.Failed,
	)
	return result, nil
}

// Preview clusters the pending batch without judging or writing anything.
// It reports what a real run would operate on, so operators can sanity-check
// epsilon and batch size before committing a pass.
func (s *Service) Preview(ctx context.Context) (*Result, error) {
	pending, err := s.store.PendingRawValues(ctx, s.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}

	result := &Result{Generation: s.cfg.Generation, Pending: len(pending)}
	if len(pending) == 0 {
		return result, nil
	}

	vectors := make([][]float64, len(pending))
	for i, rv := range pending {
		vectors[i] = rv.Embedding
	}
	part := cluster.DBSCAN(vectors, s.cfg.Epsilon, s.cfg.MinPoints)
	result.Clusters = len(part.Clusters)
	result.Singletons = len(part.Noise)

	for _, indices := range part.Clusters {
		rawIDs := make([]uuid.UUID, len(indices))
		for i, idx := range indices {
			rawIDs[i] = pending[idx].ID
		}
		result.Details = append(result.Details, ClusterDetail{RawIDs: rawIDs, Size: len(indices)})
	}
	return result, nil
}

// processCluster links one cluster of equivalent raw values to a canonical
// value, creating it from the cluster's representative if no equivalent
// already exists.
func (s *Service) processCluster(ctx context.Context, members []values.RawValue) (*ClusterDetail, error) {
	rep, err := s.SelectRepresentative(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("select representative: %w", err)
	}

	rawIDs := make([]uuid.UUID, len(members))
	for i, m := range members {
		rawIDs[i] = m.ID
	}

	existing, err := s.findSimilarByEmbedding(ctx, rep.Embedding, rep.Criteria)
	if err != nil {
		return nil, fmt.Errorf("point lookup: %w", err)
	}
	if existing != nil {
		if err := s.store.LinkRawValues(ctx, rawIDs, existing.ID); err != nil {
			return nil, err
		}
		return &ClusterDetail{CanonicalID: existing.ID, RawIDs: rawIDs, Size: len(members), Reused: true}, nil
	}

	cv := values.CanonicalValue{
		ID:               uuid.New(),
		Title:            rep.Title,
		Instructions:     rep.Instructions,
		InstructionsLong: rep.InstructionsLong,
		Criteria:         rep.Criteria,
		Embedding:        rep.Embedding,
		Generation:       s.cfg.Generation,
	}
	if err := s.store.CreateCanonicalValue(ctx, cv); err != nil {
		return nil, err
	}
	if err := s.store.LinkRawValues(ctx, rawIDs, cv.ID); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(bus.SubjectCanonicalCreated, bus.CanonicalCreatedEvent{
			CanonicalID: cv.ID.String(),
			Generation:  cv.Generation,
			Title:       cv.Title,
			ClusterSize: len(members),
		}); err != nil {
			s.logger.Warn("failed to publish canonical.created", "error", err)
		}
	}

	return &ClusterDetail{CanonicalID: cv.ID, RawIDs: rawIDs, Size: len(members), Reused: false}, nil
}

// embedMissing computes embeddings for raw values that arrived since the
// last sweep. Per-item failures are logged and skipped; those rows are
// simply not part of this run's pending set.
func (s *Service) embedMissing(ctx context.Context) error {
	missing, err := s.store.RawValuesMissingEmbedding(ctx, s.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("fetch unembedded: %w", err)
	}
	for _, rv := range missing {
		vec, err := s.embedder.Embed(ctx, values.CriteriaText(rv.Criteria))
		if err != nil {
			s.logger.Warn("embedding failed", "raw_id", rv.ID, "error", err)
			continue
		}
		if err := s.store.UpsertRawValueEmbedding(ctx, rv.ID, vec); err != nil {
			s.logger.Warn("embedding upsert failed", "raw_id", rv.ID, "error", err)
		}
	}
	return nil
}
