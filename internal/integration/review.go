package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
	"github.com/MikeSquared-Agency/scribe/internal/resolve"
)

// ReviewOutcome is the result of a resolve or reject decision.
type ReviewOutcome struct {
	Conflict *knowledge.Conflict `json:"conflict"`
	// StaleNewSnippet is set when the new-side snippet no longer appeared in the
	// transcript, so no splice was made there.
	StaleNewSnippet bool `json:"stale_new_snippet"`
	// StaleExistingSnippet is the same for the existing transcript.
	StaleExistingSnippet bool `json:"stale_existing_snippet"`
	// Promoted is set when this decision cleared the last pending conflict of a
	// transcript in Error and it moved to Integrated.
	Promoted bool `json:"promoted"`
}

// Resolve merges a conflict. The resolution replaces the new-side snippet in the
// new transcript; a nil resolution deletes it. When the existing side is a
// transcript and the resolution differs from the existing snippet, the existing
// transcript is spliced too, so both documents agree. A snippet that no longer
// occurs is reported in the outcome and does not block the decision.
//
// The conflict is claimed (Pending to Resolved) before any text is touched, so a
// concurrent reject or resolve cannot leave spliced text behind a conflict that
// was not merged. Resolving an already resolved conflict returns it unchanged.
func (c *Coordinator) Resolve(ctx context.Context, id uuid.UUID, resolution *string) (*ReviewOutcome, error) {
	conflict, err := c.repo.GetConflict(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	if conflict.Status == knowledge.ConflictResolved {
		return &ReviewOutcome{Conflict: conflict}, nil
	}
	if !conflict.Status.CanTransition(knowledge.ConflictResolved) {
		return nil, fmt.Errorf("%w: conflict is %q", knowledge.ErrInvalidTransition, conflict.Status)
	}

	claimed, err := c.repo.TransitionConflict(ctx, id, knowledge.ConflictPending, knowledge.ConflictResolved, resolution)
	if errors.Is(err, knowledge.ErrInvalidTransition) {
		// Another decision won. A concurrent resolve owns the splice.
		cur, gerr := c.repo.GetConflict(ctx, id)
		if gerr == nil && cur.Status == knowledge.ConflictResolved {
			return &ReviewOutcome{Conflict: cur}, nil
		}
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}

	logger := c.logger.With("conflict_id", id, "transcript_id", claimed.NewTranscriptID)
	out := &ReviewOutcome{Conflict: claimed}

	stale, err := c.splice(ctx, claimed.NewTranscriptID, claimed.NewSnippet, resolution)
	if err != nil {
		c.release(ctx, id)
		return nil, fmt.Errorf("apply resolution to new transcription: %w", err)
	}
	out.StaleNewSnippet = stale
	if stale {
		logger.Warn("new snippet not found in transcription, nothing replaced")
	}

	if claimed.Existing.IsTranscript() && resolution != nil && *resolution != claimed.ExistingSnippet {
		existingID := *claimed.Existing.TranscriptID
		stale, err := c.splice(ctx, existingID, claimed.ExistingSnippet, resolution)
		if err != nil && !errors.Is(err, knowledge.ErrNotFound) {
			// The new side is already merged, so the conflict stays resolved.
			logger.Error("existing transcription not updated", "existing", claimed.Existing, "error", err)
			return nil, fmt.Errorf("apply resolution to existing transcription: %w", err)
		}
		out.StaleExistingSnippet = stale || errors.Is(err, knowledge.ErrNotFound)
		if out.StaleExistingSnippet {
			logger.Warn("existing snippet not found, nothing replaced", "existing", claimed.Existing)
		}
	}

	out.Promoted, err = c.promote(ctx, claimed.NewTranscriptID)
	if err != nil {
		return nil, err
	}

	logger.Info("conflict resolved", "anomaly", claimed.Anomaly, "promoted", out.Promoted)
	c.publishReview(hermes.SubjectConflictResolved, out)
	return out, nil
}

// release returns a claimed conflict to Pending after its splice failed.
func (c *Coordinator) release(ctx context.Context, id uuid.UUID) {
	if _, err := c.repo.TransitionConflict(context.WithoutCancel(ctx), id, knowledge.ConflictResolved, knowledge.ConflictPending, nil); err != nil {
		c.logger.Error("failed to reopen conflict after splice error", "conflict_id", id, "error", err)
	}
}

// Reject dismisses a conflict without touching either transcript.
func (c *Coordinator) Reject(ctx context.Context, id uuid.UUID) (*ReviewOutcome, error) {
	updated, err := c.repo.UpdateConflictStatus(ctx, id, knowledge.ConflictRejected, nil)
	if err != nil {
		return nil, fmt.Errorf("reject conflict: %w", err)
	}
	out := &ReviewOutcome{Conflict: updated}

	out.Promoted, err = c.promote(ctx, updated.NewTranscriptID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("conflict rejected",
		"conflict_id", id,
		"transcript_id", updated.NewTranscriptID,
		"promoted", out.Promoted,
	)
	c.publishReview(hermes.SubjectConflictRejected, out)
	return out, nil
}

// DeleteTranscript removes a transcript and its conflicts. Transcripts whose
// only pending conflicts were against the deleted one are promoted to Integrated.
func (c *Coordinator) DeleteTranscript(ctx context.Context, id uuid.UUID) error {
	affected, err := c.repo.TranscriptsConflictingWith(ctx, id)
	if err != nil {
		return fmt.Errorf("list dependent transcriptions: %w", err)
	}
	if err := c.repo.DeleteTranscript(ctx, id); err != nil {
		return fmt.Errorf("delete transcription: %w", err)
	}
	c.logger.Info("transcription deleted", "transcript_id", id, "dependents", len(affected))

	for _, other := range affected {
		if other == id {
			continue
		}
		if _, err := c.promote(ctx, other); err != nil {
			c.logger.Error("promotion after delete failed", "transcript_id", other, "error", err)
		}
	}
	return nil
}

// splice applies a resolution to one transcript. It reports stale when the
// snippet is gone; the transcript is then left as it was.
func (c *Coordinator) splice(ctx context.Context, transcriptID uuid.UUID, snippet string, resolution *string) (bool, error) {
	stale := false
	err := c.repo.EditTranscriptText(ctx, transcriptID, func(text string) (string, error) {
		return resolve.Apply(text, snippet, resolution)
	})
	if errors.Is(err, resolve.ErrSnippetNotFound) {
		stale = true
		err = nil
	}
	return stale, err
}

// promote moves a transcript from Error to Integrated once no pending conflicts
// remain. It reports whether the transcript was promoted.
func (c *Coordinator) promote(ctx context.Context, id uuid.UUID) (bool, error) {
	pending, err := c.repo.CountPendingConflicts(ctx, id)
	if err != nil {
		return false, fmt.Errorf("count pending conflicts: %w", err)
	}
	if pending > 0 {
		return false, nil
	}

	t, err := c.repo.GetTranscript(ctx, id)
	if errors.Is(err, knowledge.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get transcription: %w", err)
	}
	if t.Status != knowledge.StatusError {
		return false, nil
	}

	at := c.now()
	err = c.repo.TransitionTranscript(ctx, id, knowledge.StatusError, knowledge.StatusIntegrated, &at)
	if errors.Is(err, knowledge.ErrInvalidTransition) || errors.Is(err, knowledge.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("promote transcription: %w", err)
	}

	c.logger.Info("transcription integrated after review", "transcript_id", id)
	event := hermes.TranscriptIntegrated{
		TranscriptID: id.String(),
		Title:        t.Title,
		IntegratedAt: at,
	}
	if t.FolderID != nil {
		event.FolderID = t.FolderID.String()
	}
	c.publish(hermes.SubjectTranscriptIntegrated, event)
	return true, nil
}

func (c *Coordinator) publishReview(subject string, out *ReviewOutcome) {
	cf := out.Conflict
	c.publish(subject, hermes.ConflictReviewed{
		ConflictID:   cf.ID.String(),
		TranscriptID: cf.NewTranscriptID.String(),
		Status:       cf.Status,
		Anomaly:      cf.Anomaly,
		StaleSnippet: out.StaleNewSnippet || out.StaleExistingSnippet,
		Promoted:     out.Promoted,
	})
}
