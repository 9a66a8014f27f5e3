package hermes

import (
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

// Subjects published and consumed by scribe.
const (
	SubjectIntegrationRequested = "scribe.integration.requested"
	SubjectTranscriptIntegrated = "scribe.transcript.integrated"
	SubjectConflictFlagged      = "scribe.conflict.flagged"
	SubjectConflictResolved     = "scribe.conflict.resolved"
	SubjectConflictRejected     = "scribe.conflict.rejected"
)

// IntegrationQueue is the queue group of the integration workers.
const IntegrationQueue = "scribe-integration"

// TranscriptIntegrated is emitted when a transcript reaches Integrated.
type TranscriptIntegrated struct {
	TranscriptID string    `json:"transcription_id"`
	FolderID     string    `json:"folder_id,omitempty"`
	Title        string    `json:"title"`
	IntegratedAt time.Time `json:"integrated_at"`
}

// ConflictFlagged summarises one detection run that raised conflicts.
type ConflictFlagged struct {
	TranscriptID string                        `json:"transcription_id"`
	FolderID     string                        `json:"folder_id,omitempty"`
	Title        string                        `json:"title"`
	ConflictIDs  []string                      `json:"conflict_ids"`
	ByAnomaly    map[knowledge.AnomalyType]int `json:"by_anomaly"`
}

// ConflictReviewed is emitted on resolve and reject.
type ConflictReviewed struct {
	ConflictID   string                   `json:"conflict_id"`
	TranscriptID string                   `json:"transcription_id"`
	Status       knowledge.ConflictStatus `json:"status"`
	Anomaly      knowledge.AnomalyType    `json:"anomaly_type"`
	StaleSnippet bool                     `json:"stale_snippet,omitempty"`
	Promoted     bool                     `json:"promoted"`
}
