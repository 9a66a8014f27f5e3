// Package integration drives a transcript into a folder: it queues conflict
// detection against the folder's other transcripts, records the findings as
// conflicts and settles the transcript as Integrated or Error. It also applies
// reviewers' resolve and reject decisions.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/detector"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/slack"
)

// Repository is the storage the coordinator needs. store.Store and memstore.Store
// implement it.
type Repository interface {
	GetTranscript(ctx context.Context, id uuid.UUID) (*knowledge.Transcript, error)
	PatchTranscript(ctx context.Context, id uuid.UUID, p knowledge.TranscriptPatch) (*knowledge.Transcript, error)
	DeleteTranscript(ctx context.Context, id uuid.UUID) error
	ListFolderSiblings(ctx context.Context, folderID, excludeID uuid.UUID) ([]knowledge.Transcript, error)
	ListTranscriptsByStatus(ctx context.Context, statuses ...knowledge.TranscriptStatus) ([]knowledge.Transcript, error)
	TransitionTranscript(ctx context.Context, id uuid.UUID, from, to knowledge.TranscriptStatus, integratedAt *time.Time) error
	EditTranscriptText(ctx context.Context, id uuid.UUID, fn func(text string) (string, error)) error

	GetFolder(ctx context.Context, id uuid.UUID) (*knowledge.Folder, error)

	CreateConflict(ctx context.Context, c *knowledge.Conflict) (bool, error)
	GetConflict(ctx context.Context, id uuid.UUID) (*knowledge.Conflict, error)
	UpdateConflictStatus(ctx context.Context, id uuid.UUID, to knowledge.ConflictStatus, resolution *string) (*knowledge.Conflict, error)
	TransitionConflict(ctx context.Context, id uuid.UUID, from, to knowledge.ConflictStatus, resolution *string) (*knowledge.Conflict, error)
	CountPendingConflicts(ctx context.Context, transcriptID uuid.UUID) (int, error)
	TranscriptsConflictingWith(ctx context.Context, existingID uuid.UUID) ([]uuid.UUID, error)
}

// Detector compares two transcript texts.
type Detector interface {
	Detect(ctx context.Context, newText, existingText string) (*detector.Result, error)
}

// Enqueuer hands integration jobs to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Publisher emits lifecycle events. hermes.Client implements it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier alerts reviewers about new conflicts. slack.Poster implements it.
type Notifier interface {
	PostConflictAlert(ctx context.Context, alert slack.ConflictAlert) (string, error)
}

// Coordinator orchestrates integration and review. events and notifier may be nil.
type Coordinator struct {
	repo     Repository
	detector Detector
	jobs     Enqueuer
	events   Publisher
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func New(repo Repository, det Detector, jobs Enqueuer, events Publisher, notifier Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		repo:     repo,
		detector: det,
		jobs:     jobs,
		events:   events,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FinalizeRequest carries the target folder and optional last edits made in the
// review screen.
type FinalizeRequest struct {
	FolderID uuid.UUID
	Title    *string
	Purpose  *string
	Text     *string
}

// Finalize places a transcript into a folder and queues conflict detection. The
// transcript is persisted as Checking For Conflicts before the job is queued, so
// readers see the run in progress; the outcome is settled by HandleJob.
func (c *Coordinator) Finalize(ctx context.Context, id uuid.UUID, req FinalizeRequest) (*knowledge.Transcript, error) {
	if _, err := c.repo.GetFolder(ctx, req.FolderID); err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}

	// One guarded write: a splice that lands after the caller's last read is kept.
	folderID := req.FolderID
	checking := knowledge.StatusCheckingForConflicts
	t, err := c.repo.PatchTranscript(ctx, id, knowledge.TranscriptPatch{
		Title:    req.Title,
		Purpose:  req.Purpose,
		Text:     req.Text,
		Status:   &checking,
		FolderID: &folderID,
		From:     knowledge.FinalizableStatuses(),
	})
	if err != nil {
		return nil, fmt.Errorf("finalize transcription: %w", err)
	}

	if err := c.enqueue(ctx, t.ID); err != nil {
		return nil, err
	}

	c.logger.Info("integration queued",
		"transcript_id", t.ID,
		"folder_id", folderID,
	)
	return t, nil
}

// Recheck queues detection again for a transcript whose previous run did not
// finish (it is still Checking For Conflicts).
func (c *Coordinator) Recheck(ctx context.Context, id uuid.UUID) (*knowledge.Transcript, error) {
	t, err := c.repo.GetTranscript(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transcription: %w", err)
	}
	if t.Status != knowledge.StatusCheckingForConflicts {
		return nil, fmt.Errorf("%w: only transcriptions checking for conflicts can be rechecked, status is %q", knowledge.ErrInvalidTransition, t.Status)
	}
	if err := c.enqueue(ctx, t.ID); err != nil {
		return nil, err
	}
	c.logger.Info("integration requeued", "transcript_id", t.ID)
	return t, nil
}

// RequeueStuck queues every transcript still in Checking For Conflicts, such as
// those whose job was lost in a restart. Reruns are safe: conflicts are not
// duplicated and the final status is set by compare-and-set.
func (c *Coordinator) RequeueStuck(ctx context.Context) (int, error) {
	stuck, err := c.repo.ListTranscriptsByStatus(ctx, knowledge.StatusCheckingForConflicts)
	if err != nil {
		return 0, fmt.Errorf("list checking transcriptions: %w", err)
	}
	for i, t := range stuck {
		if err := c.enqueue(ctx, t.ID); err != nil {
			return i, err
		}
	}
	if len(stuck) > 0 {
		c.logger.Info("requeued unfinished integrations", "count", len(stuck))
	}
	return len(stuck), nil
}

func (c *Coordinator) enqueue(ctx context.Context, id uuid.UUID) error {
	if err := c.jobs.Enqueue(ctx, queue.Job{TranscriptID: id, RequestedAt: c.now()}); err != nil {
		return fmt.Errorf("enqueue integration: %w", err)
	}
	return nil
}

// HandleJob runs conflict detection for one queued transcript against each of
// its folder siblings. Jobs for transcripts that are no longer Checking For
// Conflicts are dropped. On a detection failure the transcript is left in
// Checking For Conflicts and the error is returned; conflicts already recorded
// stay valid and a recheck will not duplicate them.
func (c *Coordinator) HandleJob(ctx context.Context, job queue.Job) error {
	logger := c.logger.With("transcript_id", job.TranscriptID)

	t, err := c.repo.GetTranscript(ctx, job.TranscriptID)
	if errors.Is(err, knowledge.ErrNotFound) {
		logger.Info("dropping job for deleted transcription")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transcription: %w", err)
	}
	if t.Status != knowledge.StatusCheckingForConflicts {
		logger.Info("dropping stale job", "status", t.Status)
		return nil
	}
	if t.FolderID == nil {
		return fmt.Errorf("transcription %s has no folder", t.ID)
	}
	folderID := *t.FolderID
	logger = logger.With("folder_id", folderID)

	siblings, err := c.repo.ListFolderSiblings(ctx, folderID, t.ID)
	if err != nil {
		return fmt.Errorf("list folder siblings: %w", err)
	}

	var (
		created     []knowledge.Conflict
		failedPairs int
		nonVerbatim int
		normalized  = detector.Normalize(t.Text)
	)
	for _, sib := range siblings {
		if detector.Normalize(sib.Text) == normalized {
			logger.Debug("skipping identical sibling", "sibling_id", sib.ID)
			continue
		}

		res, err := c.detector.Detect(ctx, t.Text, sib.Text)
		if err != nil {
			logger.Error("conflict detection failed, leaving transcription in checking state",
				"sibling_id", sib.ID,
				"error", err,
			)
			return fmt.Errorf("detect against %s: %w", sib.ID, err)
		}
		failedPairs += res.FailedPairs
		nonVerbatim += res.NonVerbatim

		for _, f := range res.Findings {
			conflict := knowledge.Conflict{
				NewTranscriptID: t.ID,
				Existing:        knowledge.TranscriptRef(sib.ID),
				NewSnippet:      f.NewSnippet,
				ExistingSnippet: f.ExistingSnippet,
				Anomaly:         f.Anomaly,
			}
			isNew, err := c.repo.CreateConflict(ctx, &conflict)
			if err != nil {
				return fmt.Errorf("create conflict: %w", err)
			}
			if isNew {
				created = append(created, conflict)
			}
		}

		logger.Info("compared with sibling",
			"sibling_id", sib.ID,
			"pairs", res.Candidates,
			"findings", len(res.Findings),
			"failed_pairs", res.FailedPairs,
			"non_verbatim", res.NonVerbatim,
		)
	}

	pending, err := c.repo.CountPendingConflicts(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("count pending conflicts: %w", err)
	}

	if pending > 0 {
		flagged, err := c.flag(ctx, t.ID)
		if err != nil {
			return err
		}
		if !flagged {
			logger.Info("transcription changed status during detection, leaving it")
			return nil
		}
		logger.Info("integration flagged for review",
			"conflicts_created", len(created),
			"pending", pending,
		)
		if len(created) > 0 {
			c.announceConflicts(ctx, t, created, failedPairs, nonVerbatim)
		}
		return nil
	}

	at := c.now()
	err = c.repo.TransitionTranscript(ctx, t.ID, knowledge.StatusCheckingForConflicts, knowledge.StatusIntegrated, &at)
	if errors.Is(err, knowledge.ErrInvalidTransition) {
		logger.Info("transcription changed status during detection, leaving it")
		return nil
	}
	if err != nil {
		return fmt.Errorf("integrate transcription: %w", err)
	}
	logger.Info("transcription integrated", "siblings", len(siblings))
	c.publish(hermes.SubjectTranscriptIntegrated, hermes.TranscriptIntegrated{
		TranscriptID: t.ID.String(),
		FolderID:     folderID.String(),
		Title:        t.Title,
		IntegratedAt: at,
	})
	return nil
}

// flag moves a transcript with pending conflicts to Error. A concurrent run for
// the same transcript may already have integrated it on an empty result; those
// findings still hold, so Integrated is demoted as well. It reports false when
// the transcript is neither flagged nor flaggable.
func (c *Coordinator) flag(ctx context.Context, id uuid.UUID) (bool, error) {
	err := c.repo.TransitionTranscript(ctx, id, knowledge.StatusCheckingForConflicts, knowledge.StatusError, nil)
	if errors.Is(err, knowledge.ErrInvalidTransition) {
		err = c.repo.TransitionTranscript(ctx, id, knowledge.StatusIntegrated, knowledge.StatusError, nil)
		if err == nil {
			c.logger.Warn("transcription integrated by a concurrent run, flagging it again", "transcript_id", id)
		}
	}
	if errors.Is(err, knowledge.ErrInvalidTransition) {
		t, gerr := c.repo.GetTranscript(ctx, id)
		if gerr == nil && t.Status == knowledge.StatusError {
			return true, nil
		}
		return false, nil
	}
	if errors.Is(err, knowledge.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("flag transcription: %w", err)
	}
	return true, nil
}

// RaiseConflict records a finding made outside detection, against another
// transcript or a legacy document. A transcript already Integrated goes back to
// Error until the finding is reviewed. It reports whether a new conflict was
// created; an identical pending one is returned in c otherwise.
func (c *Coordinator) RaiseConflict(ctx context.Context, cf *knowledge.Conflict) (bool, error) {
	t, err := c.repo.GetTranscript(ctx, cf.NewTranscriptID)
	if err != nil {
		return false, fmt.Errorf("get transcription: %w", err)
	}
	if cf.Existing.IsTranscript() {
		if _, err := c.repo.GetTranscript(ctx, *cf.Existing.TranscriptID); err != nil {
			return false, fmt.Errorf("get existing transcription: %w", err)
		}
	}

	created, err := c.repo.CreateConflict(ctx, cf)
	if err != nil {
		return false, fmt.Errorf("create conflict: %w", err)
	}
	if !created {
		return false, nil
	}
	c.logger.Info("conflict raised",
		"conflict_id", cf.ID,
		"transcript_id", t.ID,
		"existing", cf.Existing,
		"anomaly", cf.Anomaly,
	)

	if t.Status == knowledge.StatusIntegrated {
		err := c.repo.TransitionTranscript(ctx, t.ID, knowledge.StatusIntegrated, knowledge.StatusError, nil)
		if err != nil && !errors.Is(err, knowledge.ErrInvalidTransition) {
			return true, fmt.Errorf("flag transcription: %w", err)
		}
	}

	event := hermes.ConflictFlagged{
		TranscriptID: t.ID.String(),
		Title:        t.Title,
		ConflictIDs:  []string{cf.ID.String()},
		ByAnomaly:    map[knowledge.AnomalyType]int{cf.Anomaly: 1},
	}
	if t.FolderID != nil {
		event.FolderID = t.FolderID.String()
	}
	c.publish(hermes.SubjectConflictFlagged, event)
	return true, nil
}

func (c *Coordinator) announceConflicts(ctx context.Context, t *knowledge.Transcript, created []knowledge.Conflict, failedPairs, nonVerbatim int) {
	byAnomaly := make(map[knowledge.AnomalyType]int)
	ids := make([]string, len(created))
	for i, cf := range created {
		byAnomaly[cf.Anomaly]++
		ids[i] = cf.ID.String()
	}

	c.publish(hermes.SubjectConflictFlagged, hermes.ConflictFlagged{
		TranscriptID: t.ID.String(),
		FolderID:     t.FolderID.String(),
		Title:        t.Title,
		ConflictIDs:  ids,
		ByAnomaly:    byAnomaly,
	})

	if c.notifier == nil {
		return
	}
	alert := slack.ConflictAlert{
		TranscriptID: t.ID.String(),
		Title:        t.Title,
		Folder:       c.folderPath(ctx, *t.FolderID),
		ByAnomaly:    byAnomaly,
		FailedPairs:  failedPairs,
		NonVerbatim:  nonVerbatim,
	}
	if _, err := c.notifier.PostConflictAlert(ctx, alert); err != nil {
		c.logger.Error("slack post failed", "transcript_id", t.ID, "error", err)
	}
}

// folderPath renders "Parent / Child" for notifications. Lookup failures shorten
// the path rather than fail the run.
func (c *Coordinator) folderPath(ctx context.Context, id uuid.UUID) string {
	var names []string
	cur := &id
	for depth := 0; cur != nil && depth < 32; depth++ {
		f, err := c.repo.GetFolder(ctx, *cur)
		if err != nil {
			break
		}
		names = append([]string{f.Name}, names...)
		cur = f.ParentID
	}
	return strings.Join(names, knowledge.PathSeparator)
}

func (c *Coordinator) publish(subject string, data any) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(subject, data); err != nil {
		c.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
