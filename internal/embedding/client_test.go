package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-embedding-model" {
			t.Errorf("expected model test-embedding-model, got %q", req.Model)
		}
		if len(req.Input) != 1 || req.Input[0] != "some criteria text" {
			t.Errorf("unexpected input: %+v", req.Input)
		}
		if req.Dimensions != 3 {
			t.Errorf("expected dimensions 3, got %d", req.Dimensions)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-embedding-model", 3)
	c.SetTestTransport(server.URL)

	vec, err := c.Embed(context.Background(), "some criteria text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 || vec[2] != 0.3 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestEmbed_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "slow down",
			},
		})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-embedding-model", 3)
	c.SetTestTransport(server.URL)

	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestEmbed_EmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-embedding-model", 3)
	c.SetTestTransport(server.URL)

	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for empty data, got %v", err)
	}
}
