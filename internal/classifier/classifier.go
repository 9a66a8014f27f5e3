// Package classifier asks an LLM which anomalies, if any, separate two transcript
// chunks.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/anthropic"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

const maxTokens = 4096

// Completer is the slice of the Anthropic client the classifier needs.
type Completer interface {
	CompleteJSON(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

var _ Completer = (*anthropic.Client)(nil)

type Classifier struct {
	llm    Completer
	logger *slog.Logger
}

func New(llm Completer, logger *slog.Logger) *Classifier {
	return &Classifier{llm: llm, logger: logger}
}

type llmFinding struct {
	NewCode      string `json:"new_code"`
	ExistingCode string `json:"existing_code"`
	Anomaly      string `json:"anomaly"`
}

type llmResponse struct {
	Conflicts []llmFinding `json:"conflicts"`
}

// Classify compares a chunk of the new transcript against a chunk of an existing
// one. Findings with an unknown label or an empty snippet are dropped.
func (c *Classifier) Classify(ctx context.Context, newChunk, existingChunk string) ([]knowledge.Finding, error) {
	prompt := fmt.Sprintf(compareUserPrompt, newChunk, existingChunk)

	raw, err := c.llm.CompleteJSON(ctx, systemPrompt, prompt, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("llm classify: %w", err)
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.logger.Error("failed to parse classifier response",
			"error", err,
			"raw", raw,
		)
		return nil, fmt.Errorf("parse classification: %w", err)
	}

	findings := make([]knowledge.Finding, 0, len(resp.Conflicts))
	for _, f := range resp.Conflicts {
		anomaly, ok := knowledge.ParseAnomaly(f.Anomaly)
		if !ok {
			c.logger.Warn("dropping finding with unknown anomaly", "anomaly", f.Anomaly)
			continue
		}
		if strings.TrimSpace(f.NewCode) == "" || strings.TrimSpace(f.ExistingCode) == "" {
			continue
		}
		findings = append(findings, knowledge.Finding{
			NewSnippet:      f.NewCode,
			ExistingSnippet: f.ExistingCode,
			Anomaly:         anomaly,
		})
	}
	return findings, nil
}
