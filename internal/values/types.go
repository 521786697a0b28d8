package values

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Relationship is one participant's verdict on whether moving from one
// canonical value to another is a wisdom upgrade.
type Relationship string

const (
	RelationshipUpgrade   Relationship = "upgrade"
	RelationshipNoUpgrade Relationship = "no_upgrade"
	RelationshipNotSure   Relationship = "not_sure"
)

// Valid reports whether r is one of the three accepted verdicts.
func (r Relationship) Valid() bool {
	switch r {
	case RelationshipUpgrade, RelationshipNoUpgrade, RelationshipNotSure:
		return true
	}
	return false
}

// RawValue is a single participant-submitted value, as articulated at the
// end of a conversation. Immutable after submission except for the embedding
// and the canonical link, both set asynchronously.
type RawValue struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	CaseID           string     `json:"case_id"`
	Title            string     `json:"title"`
	Instructions     string     `json:"instructions_short"`
	InstructionsLong string     `json:"instructions_detailed"`
	Criteria         []string   `json:"evaluation_criteria"`
	Embedding        []float64  `json:"-"`
	CanonicalID      *uuid.UUID `json:"canonical_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CanonicalValue is one node in the moral graph — the deduplicated
// representative standing in for a cluster of equivalent submissions.
type CanonicalValue struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Instructions     string    `json:"instructions_short"`
	InstructionsLong string    `json:"instructions_detailed"`
	Criteria         []string  `json:"evaluation_criteria"`
	Embedding        []float64 `json:"-"`
	Generation       int       `json:"generation"`
	CreatedAt        time.Time `json:"created_at"`
}

// EdgeJudgment is one user's opinion on a specific ordered pair of canonical
// values. Unique per (user, from, to); resubmission by the same user
// overwrites.
type EdgeJudgment struct {
	UserID       uuid.UUID    `json:"user_id"`
	FromID       uuid.UUID    `json:"from_id"`
	ToID         uuid.UUID    `json:"to_id"`
	Relationship Relationship `json:"relationship"`
	Comment      string       `json:"comment,omitempty"`
	CaseID       string       `json:"case_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Draw is an ephemeral hand of canonical values shown to one user at one
// time. The id ties later impression and vote rows back to this
// presentation event.
type Draw struct {
	ID     uuid.UUID        `json:"id"`
	Values []CanonicalValue `json:"values"`
}

// CriteriaText renders a value's evaluation criteria as the text fed to the
// embedding provider. Criteria are sorted and newline-joined so that
// submission order does not change a value's semantic fingerprint.
func CriteriaText(criteria []string) string {
	sorted := make([]string, len(criteria))
	copy(sorted, criteria)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}
