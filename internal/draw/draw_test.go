package draw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/values"
)

type fakeStore struct {
	newest      []values.CanonicalValue
	hottest     []values.CanonicalValue
	userVecs    [][]float64
	userValues  []values.RawValue
	impressions []uuid.UUID
}

func (f *fakeStore) NewestCandidates(ctx context.Context, userID uuid.UUID, caseID string, generation, limit int) ([]values.CanonicalValue, error) {
	if len(f.newest) > limit {
		return f.newest[:limit], nil
	}
	return f.newest, nil
}

func (f *fakeStore) HottestCandidates(ctx context.Context, userID uuid.UUID, caseID string, generation, limit int) ([]values.CanonicalValue, error) {
	if len(f.hottest) > limit {
		return f.hottest[:limit], nil
	}
	return f.hottest, nil
}

func (f *fakeStore) UserValueEmbeddings(ctx context.Context, userID uuid.UUID) ([][]float64, error) {
	return f.userVecs, nil
}

func (f *fakeStore) UserValues(ctx context.Context, userID uuid.UUID) ([]values.RawValue, error) {
	return f.userValues, nil
}

func (f *fakeStore) RecordImpressions(ctx context.Context, drawID, userID uuid.UUID, valueIDs []uuid.UUID) error {
	f.impressions = append(f.impressions, valueIDs...)
	return nil
}

type fakeJudge struct {
	payload string
	err     error
}

func (f *fakeJudge) CompleteJSON(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, out any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), out)
}

func testConfig() Config {
	return Config{HandSize: 6, CandidateCap: 12, TrimStrategy: "embedding", EmbeddingDim: 3, Generation: 1}
}

func canonical(title string, vec []float64) values.CanonicalValue {
	return values.CanonicalValue{ID: uuid.New(), Title: title, Embedding: vec, Generation: 1}
}

func TestGetDraw_EmptySignalsPhaseAdvance(t *testing.T) {
	s := New(&fakeStore{}, &fakeJudge{}, testConfig(), slog.Default())

	d, err := s.GetDraw(context.Background(), uuid.New(), "case-1")
	if err != nil {
		t.Fatalf("empty candidates must not be an error: %v", err)
	}
	if d.ID == uuid.Nil {
		t.Error("draw must carry a fresh id")
	}
	if d.Values == nil || len(d.Values) != 0 {
		t.Errorf("expected empty non-nil values, got %v", d.Values)
	}
}

func TestGetDraw_NoDuplicatesAndBounded(t *testing.T) {
	shared := canonical("shared", []float64{1, 0, 0})
	fs := &fakeStore{}
	fs.newest = []values.CanonicalValue{shared}
	for i := 0; i < 9; i++ {
		fs.newest = append(fs.newest, canonical(fmt.Sprintf("n%d", i), []float64{1, float64(i) / 10, 0}))
	}
	fs.hottest = []values.CanonicalValue{shared} // overlaps with newest
	for i := 0; i < 9; i++ {
		fs.hottest = append(fs.hottest, canonical(fmt.Sprintf("h%d", i), []float64{0, 1, float64(i) / 10}))
	}

	s := New(fs, &fakeJudge{}, testConfig(), slog.Default())
	d, err := s.GetDraw(context.Background(), uuid.New(), "case-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Values) > 6 {
		t.Errorf("hand exceeds size 6: %d", len(d.Values))
	}
	seen := map[uuid.UUID]bool{}
	for _, cv := range d.Values {
		if seen[cv.ID] {
			t.Errorf("duplicate id in draw: %v", cv.ID)
		}
		seen[cv.ID] = true
	}
	if len(fs.impressions) != len(d.Values) {
		t.Errorf("expected %d impressions recorded, got %d", len(d.Values), len(fs.impressions))
	}
}

func TestGetDraw_EmbeddingTrimPrefersSimilar(t *testing.T) {
	// The user's history sits on the x axis; x-axis candidates must win the
	// hand over y-axis ones.
	fs := &fakeStore{userVecs: [][]float64{{1, 0, 0}, {0.9, 0.1, 0}}}
	var near []uuid.UUID
	for i := 0; i < 6; i++ {
		cv := canonical(fmt.Sprintf("near%d", i), []float64{1, float64(i) * 0.01, 0})
		near = append(near, cv.ID)
		fs.newest = append(fs.newest, cv)
	}
	for i := 0; i < 6; i++ {
		fs.hottest = append(fs.hottest, canonical(fmt.Sprintf("far%d", i), []float64{0, 1, float64(i) * 0.01}))
	}

	s := New(fs, &fakeJudge{}, testConfig(), slog.Default())
	d, err := s.GetDraw(context.Background(), uuid.New(), "case-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Values) != 6 {
		t.Fatalf("expected full hand, got %d", len(d.Values))
	}
	nearSet := map[uuid.UUID]bool{}
	for _, id := range near {
		nearSet[id] = true
	}
	for _, cv := range d.Values {
		if !nearSet[cv.ID] {
			t.Errorf("distant candidate %s made the hand", cv.Title)
		}
	}
}

func TestGetDraw_NoHistoryUsesZeroVector(t *testing.T) {
	// A brand-new user must still get a draw; the mean embedding falls back
	// to a zero vector rather than failing.
	fs := &fakeStore{}
	for i := 0; i < 10; i++ {
		fs.newest = append(fs.newest, canonical(fmt.Sprintf("v%d", i), []float64{1, float64(i), 0}))
	}
	s := New(fs, &fakeJudge{}, testConfig(), slog.Default())

	d, err := s.GetDraw(context.Background(), uuid.New(), "case-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Values) != 6 {
		t.Errorf("expected full hand for new user, got %d", len(d.Values))
	}
}

func TestGetDraw_JudgmentTrim(t *testing.T) {
	cfg := testConfig()
	cfg.TrimStrategy = "judgment"
	cfg.HandSize = 2

	fs := &fakeStore{
		userValues: []values.RawValue{{ID: uuid.New(), Title: "own", Criteria: []string{"c"}}},
	}
	var all []values.CanonicalValue
	for i := 0; i < 5; i++ {
		cv := canonical(fmt.Sprintf("v%d", i), []float64{1, 0, 0})
		all = append(all, cv)
		fs.newest = append(fs.newest, cv)
	}
	judge := &fakeJudge{payload: fmt.Sprintf(`{"chosen_ids": [%q, %q]}`, all[3].ID, all[1].ID)}

	s := New(fs, judge, cfg, slog.Default())
	d, err := s.GetDraw(context.Background(), uuid.New(), "case-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Values) != 2 || d.Values[0].ID != all[3].ID || d.Values[1].ID != all[1].ID {
		t.Errorf("expected judged hand [v3 v1], got %+v", d.Values)
	}
}

func TestGetDraw_JudgmentTrimInvalidID(t *testing.T) {
	cfg := testConfig()
	cfg.TrimStrategy = "judgment"
	cfg.HandSize = 1

	fs := &fakeStore{
		userValues: []values.RawValue{{ID: uuid.New(), Title: "own"}},
	}
	for i := 0; i < 3; i++ {
		fs.newest = append(fs.newest, canonical(fmt.Sprintf("v%d", i), []float64{1, 0, 0}))
	}
	judge := &fakeJudge{payload: fmt.Sprintf(`{"chosen_ids": [%q]}`, uuid.New())}

	s := New(fs, judge, cfg, slog.Default())
	_, err := s.GetDraw(context.Background(), uuid.New(), "case-1")
	if !errors.Is(err, anthropic.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for out-of-set id, got %v", err)
	}
}

func TestGetDraw_JudgeFailureSurfaces(t *testing.T) {
	cfg := testConfig()
	cfg.TrimStrategy = "judgment"
	cfg.HandSize = 1

	fs := &fakeStore{
		userValues: []values.RawValue{{ID: uuid.New(), Title: "own"}},
	}
	for i := 0; i < 3; i++ {
		fs.newest = append(fs.newest, canonical(fmt.Sprintf("v%d", i), []float64{1, 0, 0}))
	}
	judge := &fakeJudge{err: anthropic.ErrUnavailable}

	s := New(fs, judge, cfg, slog.Default())
	_, err := s.GetDraw(context.Background(), uuid.New(), "case-1")
	if !errors.Is(err, anthropic.ErrUnavailable) {
		t.Errorf("draw must surface judgment failure, got %v", err)
	}
}
