package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/cluster"
	"github.com/meaninglab/moralgraph/internal/values"
)

// NewestCandidates returns canonical values linked to the case that the user
// has neither voted on nor been shown, fewest impressions first, then most
// recent. A canonical value is linked to a case through any raw submission
// from that case.
func (s *Store) NewestCandidates(ctx context.Context, userID uuid.UUID, caseID string, generation, limit int) ([]values.CanonicalValue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cv.id, cv.title, cv.instructions_short, cv.instructions_detailed, cv.criteria,
		       COALESCE(cv.embedding::text, ''), cv.generation, cv.created_at
		FROM canonical_values cv
		WHERE cv.generation = $1
		  AND EXISTS (SELECT 1 FROM raw_values rv WHERE rv.canonical_id = cv.id AND rv.case_id = $2)
		  AND NOT EXISTS (SELECT 1 FROM votes v WHERE v.value_id = cv.id AND v.user_id = $3)
		  AND NOT EXISTS (SELECT 1 FROM impressions i WHERE i.value_id = cv.id AND i.user_id = $3)
		ORDER BY (SELECT count(*) FROM impressions i WHERE i.value_id = cv.id) ASC,
		         cv.created_at DESC
		LIMIT $4`,
		generation, caseID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query newest candidates: %w", err)
	}
	defer rows.Close()
	return scanCanonicalRows(rows)
}

// HottestCandidates returns canonical values for the case the user has not
// been shown, ordered by empirical endorsement rate (votes per impression).
func (s *Store) HottestCandidates(ctx context.Context, userID uuid.UUID, caseID string, generation, limit int) ([]values.CanonicalValue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cv.id, cv.title, cv.instructions_short, cv.instructions_detailed, cv.criteria,
		       COALESCE(cv.embedding::text, ''), cv.generation, cv.created_at
		FROM canonical_values cv
		WHERE cv.generation = $1
		  AND EXISTS (SELECT 1 FROM raw_values rv WHERE rv.canonical_id = cv.id AND rv.case_id = $2)
		  AND NOT EXISTS (SELECT 1 FROM impressions i WHERE i.value_id = cv.id AND i.user_id = $3)
		ORDER BY (SELECT count(*)::float FROM votes v WHERE v.value_id = cv.id) /
		         GREATEST((SELECT count(*)::float FROM impressions i WHERE i.value_id = cv.id), 1) DESC,
		         cv.created_at DESC
		LIMIT $4`,
		generation, caseID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query hottest candidates: %w", err)
	}
	defer rows.Close()
	return scanCanonicalRows(rows)
}

// UserValues returns every raw value the user has submitted, newest first.
func (s *Store) UserValues(ctx context.Context, userID uuid.UUID) ([]values.RawValue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, case_id, title, instructions_short, instructions_detailed,
		       criteria, created_at
		FROM raw_values
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user values: %w", err)
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

// UserValueEmbeddings returns the embeddings of every value the user has
// submitted. Used to personalize draws toward what the user has already
// expressed; an empty result is normal for new users.
func (s *Store) UserValueEmbeddings(ctx context.Context, userID uuid.UUID) ([][]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT embedding::text
		FROM raw_values
		WHERE user_id = $1 AND embedding IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user embeddings: %w", err)
	}
	defer rows.Close()

	var out [][]float64
	for rows.Next() {
		var embeddingStr string
		if err := rows.Scan(&embeddingStr); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, parseErr := cluster.ParseVector(embeddingStr)
		if parseErr != nil {
			continue
		}
		out = append(out, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// RecordImpressions writes one impression row per shown value, tied back to
// the draw that presented them.
func (s *Store) RecordImpressions(ctx context.Context, drawID, userID uuid.UUID, valueIDs []uuid.UUID) error {
	if len(valueIDs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, valueID := range valueIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO impressions (id, draw_id, user_id, value_id, created_at)
			VALUES ($1, $2, $3, $4, now())`,
			uuid.New(), drawID, userID, valueID)
		if err != nil {
			return fmt.Errorf("insert impression: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordVote writes one vote row for a value the user endorsed from a draw.
func (s *Store) RecordVote(ctx context.Context, drawID, userID, valueID uuid.UUID, caseID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO votes (id, draw_id, user_id, value_id, case_id, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.New(), drawID, userID, valueID, caseID)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}
