package cluster

import (
	"math"
	"testing"
)

func TestDBSCAN_Empty(t *testing.T) {
	part := DBSCAN(nil, 0.11, 2)
	if len(part.Clusters) != 0 || len(part.Noise) != 0 {
		t.Errorf("expected empty partition, got %+v", part)
	}
}

func TestDBSCAN_TwoGroupsAndNoise(t *testing.T) {
	// Two tight groups along different axes plus one point off on its own.
	vectors := [][]float64{
		{1, 0.01, 0},  // group A
		{1, 0.02, 0},  // group A
		{1, 0, 0.01},  // group A
		{0, 1, 0.01},  // group B
		{0.01, 1, 0},  // group B
		{0.5, 0.5, 1}, // noise
	}

	part := DBSCAN(vectors, 0.11, 2)

	if len(part.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %+v", len(part.Clusters), part)
	}
	if len(part.Noise) != 1 || part.Noise[0] != 5 {
		t.Errorf("expected index 5 as noise, got %v", part.Noise)
	}

	sizes := map[int]bool{}
	for _, c := range part.Clusters {
		sizes[len(c)] = true
	}
	if !sizes[3] || !sizes[2] {
		t.Errorf("expected clusters of size 3 and 2, got %+v", part.Clusters)
	}
}

func TestDBSCAN_PartitionProperty(t *testing.T) {
	// Every index lands in exactly one cluster or the noise set, and every
	// cluster meets the minPoints floor.
	vectors := [][]float64{
		{1, 0, 0}, {1, 0.005, 0}, {0.99, 0.01, 0},
		{0, 1, 0}, {0, 1, 0.005},
		{0, 0, 1},
		{0.7, 0.7, 0},
	}
	minPoints := 2

	part := DBSCAN(vectors, 0.11, minPoints)

	seen := map[int]int{}
	for _, c := range part.Clusters {
		if len(c) < minPoints {
			t.Errorf("cluster smaller than minPoints: %v", c)
		}
		for _, i := range c {
			seen[i]++
		}
	}
	for _, i := range part.Noise {
		seen[i]++
	}
	for i := range vectors {
		if seen[i] != 1 {
			t.Errorf("index %d appears %d times, want exactly 1", i, seen[i])
		}
	}
}

func TestDBSCAN_IdenticalVectorsSameCluster(t *testing.T) {
	// Byte-identical criteria embed to identical vectors (distance 0); they
	// must always cluster together.
	vectors := [][]float64{
		{0.3, 0.4, 0.5},
		{0.3, 0.4, 0.5},
	}
	part := DBSCAN(vectors, 0.11, 2)
	if len(part.Clusters) != 1 || len(part.Clusters[0]) != 2 {
		t.Fatalf("expected one cluster of 2, got %+v", part)
	}
	if len(part.Noise) != 0 {
		t.Errorf("expected no noise, got %v", part.Noise)
	}
}

func TestDBSCAN_Deterministic(t *testing.T) {
	vectors := [][]float64{
		{1, 0, 0}, {1, 0.01, 0}, {0, 1, 0}, {0, 1, 0.01}, {0.6, 0.6, 0.6},
	}
	first := DBSCAN(vectors, 0.11, 2)
	for run := 0; run < 5; run++ {
		again := DBSCAN(vectors, 0.11, 2)
		if len(again.Clusters) != len(first.Clusters) || len(again.Noise) != len(first.Noise) {
			t.Fatalf("run %d produced a different partition: %+v vs %+v", run, again, first)
		}
		for ci := range first.Clusters {
			if len(again.Clusters[ci]) != len(first.Clusters[ci]) {
				t.Fatalf("run %d cluster %d differs", run, ci)
			}
			for ii := range first.Clusters[ci] {
				if again.Clusters[ci][ii] != first.Clusters[ci][ii] {
					t.Fatalf("run %d cluster %d index %d differs", run, ci, ii)
				}
			}
		}
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"length mismatch", []float64{1}, []float64{1, 2}, 0},
	}
	for _, tt := range tests {
		if got := Cosine(tt.a, tt.b); math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("%s: Cosine = %g, want %g", tt.name, got, tt.expected)
		}
	}
}

func TestMean(t *testing.T) {
	mean := Mean([][]float64{{1, 2}, {3, 4}}, 2)
	if mean[0] != 2 || mean[1] != 3 {
		t.Errorf("unexpected mean: %v", mean)
	}

	// No vectors yields a zero vector, not an error.
	zero := Mean(nil, 3)
	if len(zero) != 3 || zero[0] != 0 || zero[1] != 0 || zero[2] != 0 {
		t.Errorf("expected zero vector, got %v", zero)
	}

	// Vectors of the wrong dimension are skipped.
	skip := Mean([][]float64{{1, 1}, {5}}, 2)
	if skip[0] != 1 || skip[1] != 1 {
		t.Errorf("expected wrong-dim vector skipped, got %v", skip)
	}
}

func TestParseVector(t *testing.T) {
	v, err := ParseVector("[0.1,0.2,0.3]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 3 || v[1] != 0.2 {
		t.Errorf("unexpected vector: %v", v)
	}

	if _, err := ParseVector("0.1,0.2"); err == nil {
		t.Error("expected error for missing brackets")
	}
	if _, err := ParseVector("[0.1,bogus]"); err == nil {
		t.Error("expected error for bad float")
	}

	empty, err := ParseVector("[]")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty vector, got %v, %v", empty, err)
	}
}

func TestFormatVector_RoundTrip(t *testing.T) {
	orig := []float64{0.125, -0.5, 3}
	parsed, err := ParseVector(FormatVector(orig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range orig {
		if parsed[i] != orig[i] {
			t.Errorf("round trip mismatch at %d: %g vs %g", i, parsed[i], orig[i])
		}
	}
}
