package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// ConflictAlert describes one detection run that raised conflicts.
type ConflictAlert struct {
	TranscriptID string
	Title        string
	Folder       string
	ByAnomaly    map[knowledge.AnomalyType]int
	FailedPairs  int
	NonVerbatim  int
}

// PostConflictAlert tells reviewers that a transcript is waiting on conflict review.
// Returns the message timestamp.
func (p *Poster) PostConflictAlert(ctx context.Context, alert ConflictAlert) (string, error) {
	text := formatConflictAlert(alert)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Review in the conflicts dashboard. The transcript stays in Error until every conflict is resolved or rejected.",
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted conflict alert to slack", "ts", slackResp.TS, "transcript_id", alert.TranscriptID)
	return slackResp.TS, nil
}

func formatConflictAlert(a ConflictAlert) string {
	var sb strings.Builder

	total := 0
	kinds := make([]string, 0, len(a.ByAnomaly))
	for k, n := range a.ByAnomaly {
		total += n
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	fmt.Fprintf(&sb, "*Conflicts flagged: %d*\n", total)
	fmt.Fprintf(&sb, "*Transcription:* %s\n", a.Title)
	if a.Folder != "" {
		fmt.Fprintf(&sb, "*Folder:* %s\n", a.Folder)
	}
	sb.WriteString("\n")
	for _, k := range kinds {
		fmt.Fprintf(&sb, "• %s: %d\n", k, a.ByAnomaly[knowledge.AnomalyType(k)])
	}
	if a.FailedPairs > 0 {
		fmt.Fprintf(&sb, "\n_%d passage pair(s) could not be classified and were skipped._\n", a.FailedPairs)
	}
	if a.NonVerbatim > 0 {
		fmt.Fprintf(&sb, "_%d finding(s) quote text that is not in the transcription; check them by hand._\n", a.NonVerbatim)
	}
	return sb.String()
}
