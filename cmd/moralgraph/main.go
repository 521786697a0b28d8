package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meaninglab/moralgraph/internal/anthropic"
	"github.com/meaninglab/moralgraph/internal/api"
	"github.com/meaninglab/moralgraph/internal/bus"
	"github.com/meaninglab/moralgraph/internal/config"
	"github.com/meaninglab/moralgraph/internal/dedup"
	"github.com/meaninglab/moralgraph/internal/draw"
	"github.com/meaninglab/moralgraph/internal/embedding"
	"github.com/meaninglab/moralgraph/internal/graph"
	"github.com/meaninglab/moralgraph/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("moralgraph starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Anthropic client for judgment calls
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	judge := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// OpenAI client for embeddings
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	embedder := embedding.NewClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	slog.Info("embedding client ready", "model", cfg.EmbeddingModel, "dim", cfg.EmbeddingDim)

	// NATS
	busClient, err := bus.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Services
	dedupSvc := dedup.New(db, embedder, judge, busClient, dedup.Config{
		MaxDistance: cfg.DedupMaxDistance,
		Epsilon:     cfg.ClusterEpsilon,
		MinPoints:   cfg.ClusterMinPoints,
		BatchLimit:  cfg.DedupBatchLimit,
		Generation:  cfg.Generation,
	}, slog.Default())

	drawSvc := draw.New(db, judge, draw.Config{
		HandSize:     cfg.DrawHandSize,
		CandidateCap: cfg.DrawCandidateCap,
		TrimStrategy: cfg.DrawTrimStrategy,
		EmbeddingDim: embedder.Dimension(),
		Generation:   cfg.Generation,
	}, slog.Default())

	graphSvc := graph.New(db, cfg.Generation, graph.Thresholds{
		MinWiser:      cfg.GraphMinWiser,
		MinLikelihood: cfg.GraphMinLikelihood,
		MaxEntropy:    cfg.GraphMaxEntropy,
	}, slog.Default())

	// On-demand dedup runs over the bus
	err = busClient.Subscribe(bus.SubjectDedupRun, func(subject string, data []byte) {
		if _, err := dedupSvc.DeduplicateAll(ctx); err != nil {
			slog.Error("bus-triggered dedup failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("failed to subscribe to dedup triggers", "error", err)
		os.Exit(1)
	}

	// Periodic dedup sweep
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.DedupIntervalMin) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := dedupSvc.DeduplicateAll(ctx)
				if err != nil {
					slog.Error("scheduled dedup failed", "error", err)
					continue
				}
				slog.Info("scheduled dedup done",
					"pending", result.Pending,
					"created", result.Created,
					"merged", result.Merged,
				)
			}
		}
	}()

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, dedupSvc, drawSvc, graphSvc, db)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := busClient.Publish(bus.SubjectRegistered, map[string]any{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"port":       cfg.Port,
		"generation": cfg.Generation,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("moralgraph ready", "port", cfg.Port, "generation", cfg.Generation)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("moralgraph stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
