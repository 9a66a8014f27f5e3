package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DatabaseURL string
	NatsURL     string
	NatsToken   string
	LogLevel    string

	AnthropicAPIKey string
	ClassifierModel string

	OpenAIAPIKey        string
	OpenAIBaseURL       string
	EmbeddingModel      string
	EmbeddingDimensions int

	ChunkSize           int
	ChunkOverlap        int
	SimilarityThreshold float64
	ClassifyWorkers     int
	QueueWorkers        int

	SlackBotToken string
	SlackChannel  string
	APIToken      string
}

// Load reads the environment, after applying a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Port:        envInt("SCRIBE_PORT", 8760),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		ClassifierModel: envStr("SCRIBE_CLASSIFIER_MODEL", "claude-sonnet-4-20250514"),

		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envStr("OPENAI_BASE_URL", ""),
		EmbeddingModel:      envStr("SCRIBE_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("SCRIBE_EMBEDDING_DIMENSIONS", 1536),

		ChunkSize:           envInt("SCRIBE_CHUNK_SIZE", 3000),
		ChunkOverlap:        envInt("SCRIBE_CHUNK_OVERLAP", 200),
		SimilarityThreshold: envFloat("SCRIBE_SIMILARITY_THRESHOLD", 0.75),
		ClassifyWorkers:     envInt("SCRIBE_CLASSIFY_WORKERS", 4),
		QueueWorkers:        envInt("SCRIBE_QUEUE_WORKERS", 2),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CONFLICTS_CHANNEL", ""),
		APIToken:      envStr("SCRIBE_API_TOKEN", ""),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the detector cannot run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid SCRIBE_PORT %d", c.Port)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("SCRIBE_CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("SCRIBE_CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SCRIBE_SIMILARITY_THRESHOLD must be in [-1, 1], got %g", c.SimilarityThreshold)
	}
	if c.ClassifyWorkers < 1 || c.QueueWorkers < 1 {
		return fmt.Errorf("worker counts must be at least 1")
	}
	if c.EmbeddingDimensions < 0 {
		return fmt.Errorf("SCRIBE_EMBEDDING_DIMENSIONS must not be negative")
	}
	return nil
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
