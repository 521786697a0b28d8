package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/cluster"
)

// Neighbor is one nearest-neighbor hit: a canonical value id and its cosine
// distance from the query vector.
type Neighbor struct {
	ID       uuid.UUID
	Distance float64
}

// UpsertRawValueEmbedding stores the embedding for a raw value.
func (s *Store) UpsertRawValueEmbedding(ctx context.Context, id uuid.UUID, vec []float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE raw_values SET embedding = $1::vector WHERE id = $2`,
		cluster.FormatVector(vec), id)
	if err != nil {
		return fmt.Errorf("upsert raw value embedding: %w", err)
	}
	return nil
}

// NearestCanonical returns the canonical values of a generation closest to
// the query vector by pgvector cosine distance, ascending, excluding
// anything at or beyond maxDistance.
func (s *Store) NearestCanonical(ctx context.Context, vec []float64, limit int, maxDistance float64, generation int) ([]Neighbor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, embedding <=> $1::vector AS distance
		FROM canonical_values
		WHERE generation = $2
		  AND embedding IS NOT NULL
		  AND embedding <=> $1::vector < $3
		ORDER BY distance ASC
		LIMIT $4`,
		cluster.FormatVector(vec), generation, maxDistance, limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest canonical: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ID, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return neighbors, nil
}
