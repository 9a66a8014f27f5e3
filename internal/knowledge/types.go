// Package knowledge holds the entities of the transcript repository: transcripts,
// the folders they are integrated into, and the conflicts raised between them.
package knowledge

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrFolderNotEmpty    = errors.New("folder still holds transcriptions")
)

// TranscriptStatus is the lifecycle state of a transcript.
type TranscriptStatus string

const (
	StatusProcessing           TranscriptStatus = "Processing"
	StatusDraft                TranscriptStatus = "Draft"
	StatusAwaitingApproval     TranscriptStatus = "Awaiting Approval"
	StatusCheckingForConflicts TranscriptStatus = "Checking For Conflicts"
	StatusIntegrated           TranscriptStatus = "Integrated"
	StatusError                TranscriptStatus = "Error"
)

// Valid reports whether s is a known transcript status.
func (s TranscriptStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusDraft, StatusAwaitingApproval,
		StatusCheckingForConflicts, StatusIntegrated, StatusError:
		return true
	}
	return false
}

// CanFinalize reports whether a transcript in status s may be (re)integrated into
// a folder. Processing transcripts have no cleaned text yet and a transcript that is
// already being checked must finish (or be rechecked) first.
func (s TranscriptStatus) CanFinalize() bool {
	return slices.Contains(finalizable, s)
}

var finalizable = []TranscriptStatus{StatusDraft, StatusAwaitingApproval, StatusIntegrated, StatusError}

// FinalizableStatuses lists the statuses CanFinalize accepts.
func FinalizableStatuses() []TranscriptStatus {
	return slices.Clone(finalizable)
}

// EditableStatuses lists the statuses in which a transcript's fields may be
// edited directly. A transcript being checked for conflicts is left alone.
func EditableStatuses() []TranscriptStatus {
	return []TranscriptStatus{StatusProcessing, StatusDraft, StatusAwaitingApproval, StatusIntegrated, StatusError}
}

// Transcript is one recorded-and-cleaned session.
type Transcript struct {
	ID           uuid.UUID        `json:"id"`
	Title        string           `json:"title"`
	Text         string           `json:"text"`
	Status       TranscriptStatus `json:"status"`
	FolderID     *uuid.UUID       `json:"folder_id,omitempty"`
	Purpose      string           `json:"purpose"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	IntegratedAt *time.Time       `json:"integrated_at,omitempty"`
}

// TranscriptPatch changes the non-nil fields of a transcript and leaves the rest
// as stored, so concurrent splices of the text are not overwritten by a stale
// copy. When From is non-empty the patch applies only while the transcript is in
// one of those statuses.
type TranscriptPatch struct {
	Title    *string
	Purpose  *string
	Text     *string
	Status   *TranscriptStatus
	FolderID *uuid.UUID
	From     []TranscriptStatus
}

// Apply writes the patch onto t.
func (p TranscriptPatch) Apply(t *Transcript) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Purpose != nil {
		t.Purpose = *p.Purpose
	}
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.FolderID != nil {
		id := *p.FolderID
		t.FolderID = &id
	}
}

// AnomalyType classifies a discrepancy between two chunks.
type AnomalyType string

const (
	AnomalyContradiction      AnomalyType = "Contradiction"
	AnomalyOverlap            AnomalyType = "Significant Overlap"
	AnomalySemanticDifference AnomalyType = "Semantic Difference"
	AnomalyOutdated           AnomalyType = "Outdated Information"
)

// ParseAnomaly maps either the classifier wire label (CONTRADICTION,
// SIGNIFICANT_OVERLAP, SEMANTIC_DIFFERENCE, OUTDATED_INFO) or a display label to an
// AnomalyType.
func ParseAnomaly(label string) (AnomalyType, bool) {
	norm := strings.ToUpper(strings.TrimSpace(label))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "CONTRADICTION":
		return AnomalyContradiction, true
	case "SIGNIFICANT_OVERLAP", "OVERLAP":
		return AnomalyOverlap, true
	case "SEMANTIC_DIFFERENCE":
		return AnomalySemanticDifference, true
	case "OUTDATED_INFO", "OUTDATED_INFORMATION":
		return AnomalyOutdated, true
	}
	return "", false
}

// Finding is one anomaly reported by the classifier for a pair of chunks. Snippets
// are expected to be verbatim text from the respective chunk.
type Finding struct {
	NewSnippet      string      `json:"new_code"`
	ExistingSnippet string      `json:"existing_code"`
	Anomaly         AnomalyType `json:"anomaly"`
}

// ConflictStatus is the review state of a conflict.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "Pending Review"
	ConflictResolved ConflictStatus = "Resolved (Merged)"
	ConflictRejected ConflictStatus = "Rejected"
)

// Valid reports whether s is a known conflict status.
func (s ConflictStatus) Valid() bool {
	return s == ConflictPending || s == ConflictResolved || s == ConflictRejected
}

// Terminal reports whether s is a final review state.
func (s ConflictStatus) Terminal() bool {
	return s == ConflictResolved || s == ConflictRejected
}

// CanTransition reports whether a conflict in status s may move to status to.
// Pending conflicts move to either terminal state; a terminal conflict only accepts
// its own state again, which is a no-op.
func (s ConflictStatus) CanTransition(to ConflictStatus) bool {
	if !to.Terminal() {
		return false
	}
	if s == ConflictPending {
		return true
	}
	return s == to
}

// ExistingSide references the content a new transcript was compared against: either
// another transcript or an opaque legacy knowledge-base document.
type ExistingSide struct {
	TranscriptID *uuid.UUID `json:"transcription_id,omitempty"`
	LegacyDocRef string     `json:"legacy_doc_ref,omitempty"`
}

// TranscriptRef builds an ExistingSide pointing at a transcript.
func TranscriptRef(id uuid.UUID) ExistingSide {
	return ExistingSide{TranscriptID: &id}
}

// LegacyDocRef builds an ExistingSide pointing at a legacy document token.
func LegacyDocRef(token string) ExistingSide {
	return ExistingSide{LegacyDocRef: token}
}

// IsTranscript reports whether the existing side is a transcript.
func (e ExistingSide) IsTranscript() bool {
	return e.TranscriptID != nil
}

// Valid reports whether exactly one variant is set.
func (e ExistingSide) Valid() bool {
	return (e.TranscriptID != nil) != (e.LegacyDocRef != "")
}

// String renders the reference for logs.
func (e ExistingSide) String() string {
	if e.TranscriptID != nil {
		return "transcription:" + e.TranscriptID.String()
	}
	return "legacy:" + e.LegacyDocRef
}

// Conflict is one persisted anomaly finding between a new transcript and existing
// content.
type Conflict struct {
	ID                uuid.UUID      `json:"id"`
	NewTranscriptID   uuid.UUID      `json:"new_transcription_id"`
	Existing          ExistingSide   `json:"existing"`
	NewSnippet        string         `json:"new_content_snippet"`
	ExistingSnippet   string         `json:"existing_content_snippet"`
	Anomaly           AnomalyType    `json:"anomaly_type"`
	Status            ConflictStatus `json:"status"`
	ResolutionContent *string        `json:"resolution_content,omitempty"`
	FlaggedAt         time.Time      `json:"flagged_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
}

// Same reports whether c and o describe the same finding, ignoring review state.
func (c Conflict) Same(o Conflict) bool {
	if c.NewTranscriptID != o.NewTranscriptID || c.Anomaly != o.Anomaly ||
		c.NewSnippet != o.NewSnippet || c.ExistingSnippet != o.ExistingSnippet {
		return false
	}
	if c.Existing.IsTranscript() != o.Existing.IsTranscript() {
		return false
	}
	if c.Existing.IsTranscript() {
		return *c.Existing.TranscriptID == *o.Existing.TranscriptID
	}
	return c.Existing.LegacyDocRef == o.Existing.LegacyDocRef
}

// Sort keys accepted by ConflictFilter.
const (
	SortUpdatedAt = "updated_at"
	SortFlaggedAt = "flagged_at"
)

// ConflictFilter narrows a conflict listing. Empty fields match everything.
type ConflictFilter struct {
	Statuses  []ConflictStatus
	Anomalies []AnomalyType
	Search    string
	SortKey   string
	SortDesc  bool
}

// ConflictStats are counts over every conflict, independent of any filter.
type ConflictStats struct {
	Pending  int `json:"pending"`
	Resolved int `json:"resolved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// Add counts n conflicts in status s.
func (st *ConflictStats) Add(s ConflictStatus, n int) {
	switch s {
	case ConflictPending:
		st.Pending += n
	case ConflictResolved:
		st.Resolved += n
	case ConflictRejected:
		st.Rejected += n
	}
	st.Total += n
}

// Folder is a node of the repository tree.
type Folder struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FolderNode is a folder rendered in the tree view.
type FolderNode struct {
	Folder
	Path     string        `json:"path"`
	Count    int           `json:"count"`
	Children []*FolderNode `json:"children"`
}
