package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/anthropic"
	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/chunker"
	"github.com/MikeSquared-Agency/scribe/internal/classifier"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/detector"
	"github.com/MikeSquared-Agency/scribe/internal/embeddings"
	"github.com/MikeSquared-Agency/scribe/internal/embeddings/openai"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/integration"
	"github.com/MikeSquared-Agency/scribe/internal/memstore"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/slack"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// repository is what both storage backends provide.
type repository interface {
	integration.Repository
	api.Store
	embeddings.Cache
}

var (
	_ repository = (*store.Store)(nil)
	_ repository = (*memstore.Store)(nil)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("scribe starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var repo repository
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		repo = db
		slog.Info("database connected")
	} else {
		repo = memstore.New()
		slog.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
	}

	// Classifier
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.ClassifierModel)
	cls := classifier.New(llm, slog.Default())
	slog.Info("anthropic client ready", "model", cfg.ClassifierModel)

	// Embeddings
	embedOpts := []openai.Option{
		openai.WithDimensions(cfg.EmbeddingDimensions),
		openai.WithTimeout(60 * time.Second),
	}
	if cfg.OpenAIBaseURL != "" {
		embedOpts = append(embedOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	embedder, err := openai.New(cfg.OpenAIAPIKey, cfg.EmbeddingModel, embedOpts...)
	if err != nil {
		slog.Error("failed to create embeddings client", "error", err)
		os.Exit(1)
	}
	cached := embeddings.NewCached(embedder, repo, slog.Default())
	slog.Info("embeddings ready", "model", embedder.ModelID())

	det := detector.New(cached, cls, detector.Options{
		Splitter:  chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Threshold: cfg.SimilarityThreshold,
		Workers:   cfg.ClassifyWorkers,
	}, slog.Default())

	// NATS/Hermes (optional: without it jobs run in-process and no events go out)
	var (
		jobs         queue.Queue
		events       integration.Publisher
		hermesClient *hermes.Client
	)
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
		jobs = queue.NewNATS(hermesClient, 64, cfg.QueueWorkers, slog.Default())
		events = hermesClient
	} else {
		jobs = queue.NewLocal(64, cfg.QueueWorkers, slog.Default())
		slog.Warn("NATS_URL not set, running integration jobs in-process")
	}

	// Slack poster (optional)
	var notifier integration.Notifier
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, conflicts are only visible in the dashboard")
	}

	coord := integration.New(repo, det, jobs, events, notifier, slog.Default())

	if err := jobs.Start(ctx, coord.HandleJob); err != nil {
		slog.Error("failed to start integration workers", "error", err)
		os.Exit(1)
	}
	if _, err := coord.RequeueStuck(ctx); err != nil {
		slog.Warn("failed to requeue unfinished integrations", "error", err)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, repo, coord, slog.Default())
	if hermesClient != nil {
		srv.AddCheck("nats", func(context.Context) error {
			if !hermesClient.Connected() {
				return errors.New("disconnected")
			}
			return nil
		})
	}
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("scribe ready", "port", cfg.Port, "queue_workers", cfg.QueueWorkers)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	// Cancel before closing so buffered jobs are skipped instead of drained;
	// RequeueStuck picks them up on the next start.
	cancel()
	jobs.Close()
	slog.Info("scribe stopped")
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
