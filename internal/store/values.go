package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/cluster"
	"github.com/meaninglab/moralgraph/internal/values"
)

// PendingRawValues returns embedded raw values not yet linked to a canonical
// value, oldest first, capped at limit. The canonical-link exclusion is what
// makes the batch dedup job idempotent: re-running it over an already-linked
// set fetches nothing.
func (s *Store) PendingRawValues(ctx context.Context, limit int) ([]values.RawValue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, case_id, title, instructions_short, instructions_detailed,
		       criteria, embedding::text, created_at
		FROM raw_values
		WHERE canonical_id IS NULL AND embedding IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending raw values: %w", err)
	}
	defer rows.Close()

	var out []values.RawValue
	for rows.Next() {
		var rv values.RawValue
		var embeddingStr string
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.CaseID, &rv.Title, &rv.Instructions,
			&rv.InstructionsLong, &rv.Criteria, &embeddingStr, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan raw value: %w", err)
		}
		embedding, parseErr := cluster.ParseVector(embeddingStr)
		if parseErr != nil {
			continue // skip rows with corrupt embeddings
		}
		rv.Embedding = embedding
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// RawValuesMissingEmbedding returns raw values whose embedding has not been
// computed yet, capped at limit.
func (s *Store) RawValuesMissingEmbedding(ctx context.Context, limit int) ([]values.RawValue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, case_id, title, instructions_short, instructions_detailed,
		       criteria, created_at
		FROM raw_values
		WHERE embedding IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unembedded raw values: %w", err)
	}
	defer rows.Close()

	var out []values.RawValue
	for rows.Next() {
		var rv values.RawValue
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.CaseID, &rv.Title, &rv.Instructions,
			&rv.InstructionsLong, &rv.Criteria, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan raw value: %w", err)
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// LinkRawValues points every given raw value at its canonical representative.
func (s *Store) LinkRawValues(ctx context.Context, rawIDs []uuid.UUID, canonicalID uuid.UUID) error {
	if len(rawIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE raw_values SET canonical_id = $1 WHERE id = ANY($2)`,
		canonicalID, rawIDs)
	if err != nil {
		return fmt.Errorf("link raw values: %w", err)
	}
	return nil
}

// CreateCanonicalValue promotes a value to canonical status within a
// generation, storing its embedding alongside.
func (s *Store) CreateCanonicalValue(ctx context.Context, cv values.CanonicalValue) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO canonical_values
			(id, title, instructions_short, instructions_detailed, criteria, embedding, generation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, now())`,
		cv.ID, cv.Title, cv.Instructions, cv.InstructionsLong, cv.Criteria,
		cluster.FormatVector(cv.Embedding), cv.Generation)
	if err != nil {
		return fmt.Errorf("insert canonical value: %w", err)
	}
	return nil
}

// CanonicalValuesByIDs fetches full canonical rows for the given ids.
func (s *Store) CanonicalValuesByIDs(ctx context.Context, ids []uuid.UUID) ([]values.CanonicalValue, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, instructions_short, instructions_detailed, criteria,
		       COALESCE(embedding::text, ''), generation, created_at
		FROM canonical_values
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query canonical values: %w", err)
	}
	defer rows.Close()
	return scanCanonicalRows(rows)
}

// AllCanonicalValues returns every canonical value in a generation.
func (s *Store) AllCanonicalValues(ctx context.Context, generation int) ([]values.CanonicalValue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, instructions_short, instructions_detailed, criteria,
		       COALESCE(embedding::text, ''), generation, created_at
		FROM canonical_values
		WHERE generation = $1
		ORDER BY created_at ASC`, generation)
	if err != nil {
		return nil, fmt.Errorf("query canonical values: %w", err)
	}
	defer rows.Close()
	return scanCanonicalRows(rows)
}

func scanCanonicalRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]values.CanonicalValue, error) {
	var out []values.CanonicalValue
	for rows.Next() {
		var cv values.CanonicalValue
		var embeddingStr string
		if err := rows.Scan(&cv.ID, &cv.Title, &cv.Instructions, &cv.InstructionsLong,
			&cv.Criteria, &embeddingStr, &cv.Generation, &cv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan canonical value: %w", err)
		}
		if embeddingStr != "" {
			if embedding, err := cluster.ParseVector(embeddingStr); err == nil {
				cv.Embedding = embedding
			}
		}
		out = append(out, cv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
