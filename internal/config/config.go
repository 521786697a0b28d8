package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	LogLevel        string
	APIToken        string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	EmbeddingModel  string
	EmbeddingDim    int

	// Generation is the version tag partitioning canonical values; dedup
	// and similarity search operate only within the current generation.
	Generation int

	// Tuned per deployment. The point-lookup distance and clustering epsilon
	// have no documented derivation; retuning them is a deployment decision.
	DedupMaxDistance float64
	ClusterEpsilon   float64
	ClusterMinPoints int
	DedupBatchLimit  int
	DedupIntervalMin int

	DrawHandSize     int
	DrawCandidateCap int
	DrawTrimStrategy string // "embedding" | "judgment"

	GraphMinWiser      int
	GraphMinLikelihood float64
	GraphMaxEntropy    float64
}

func Load() Config {
	return Config{
		Port:            envInt("MORALGRAPH_PORT", 8810),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		APIToken:        envStr("MORALGRAPH_API_TOKEN", ""),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("MORALGRAPH_MODEL", "claude-sonnet-4-20250514"),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:  envStr("MORALGRAPH_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:    envInt("MORALGRAPH_EMBEDDING_DIM", 1536),

		Generation: envInt("MORALGRAPH_GENERATION", 1),

		DedupMaxDistance: envFloat("MORALGRAPH_DEDUP_MAX_DISTANCE", 0.13),
		ClusterEpsilon:   envFloat("MORALGRAPH_CLUSTER_EPSILON", 0.11),
		ClusterMinPoints: envInt("MORALGRAPH_CLUSTER_MIN_POINTS", 2),
		DedupBatchLimit:  envInt("MORALGRAPH_DEDUP_BATCH_LIMIT", 100),
		DedupIntervalMin: envInt("MORALGRAPH_DEDUP_INTERVAL_MIN", 60),

		DrawHandSize:     envInt("MORALGRAPH_DRAW_HAND_SIZE", 6),
		DrawCandidateCap: envInt("MORALGRAPH_DRAW_CANDIDATE_CAP", 12),
		DrawTrimStrategy: envStr("MORALGRAPH_DRAW_TRIM", "embedding"),

		GraphMinWiser:      envInt("MORALGRAPH_GRAPH_MIN_WISER", 2),
		GraphMinLikelihood: envFloat("MORALGRAPH_GRAPH_MIN_LIKELIHOOD", 0.33),
		GraphMaxEntropy:    envFloat("MORALGRAPH_GRAPH_MAX_ENTROPY", 1.69),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
