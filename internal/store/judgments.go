package store

import (
	"context"
	"fmt"
	"time"

	"github.com/meaninglab/moralgraph/internal/values"
)

// JudgmentFilter narrows which edge judgments feed a graph summary. Zero
// fields match everything; a case id that matches nothing yields an empty
// result, not an error.
type JudgmentFilter struct {
	CaseID string
	From   *time.Time
	Until  *time.Time
}

// UpsertEdgeJudgment records one user's verdict on an ordered pair of
// canonical values. A resubmission by the same user for the same pair
// overwrites the earlier verdict.
func (s *Store) UpsertEdgeJudgment(ctx context.Context, j values.EdgeJudgment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO edge_judgments (user_id, from_id, to_id, relationship, comment, case_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, from_id, to_id)
		DO UPDATE SET relationship = $4, comment = $5, case_id = $6, created_at = now()`,
		j.UserID, j.FromID, j.ToID, string(j.Relationship), j.Comment, j.CaseID)
	if err != nil {
		return fmt.Errorf("upsert edge judgment: %w", err)
	}
	return nil
}

// ListEdgeJudgments returns all edge judgments matching the filter.
func (s *Store) ListEdgeJudgments(ctx context.Context, filter JudgmentFilter) ([]values.EdgeJudgment, error) {
	query := `
		SELECT user_id, from_id, to_id, relationship, comment, case_id, created_at
		FROM edge_judgments
		WHERE 1=1`
	args := []any{}
	if filter.CaseID != "" {
		args = append(args, filter.CaseID)
		query += fmt.Sprintf(" AND case_id = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edge judgments: %w", err)
	}
	defer rows.Close()

	var out []values.EdgeJudgment
	for rows.Next() {
		var j values.EdgeJudgment
		var rel string
		if err := rows.Scan(&j.UserID, &j.FromID, &j.ToID, &rel, &j.Comment, &j.CaseID, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge judgment: %w", err)
		}
		j.Relationship = values.Relationship(rel)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
