package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

const transcriptColumns = `id, title, text, status, folder_id, purpose, created_at, updated_at, integrated_at`

func scanTranscript(row pgx.Row) (*knowledge.Transcript, error) {
	var t knowledge.Transcript
	var status string
	err := row.Scan(&t.ID, &t.Title, &t.Text, &status, &t.FolderID, &t.Purpose, &t.CreatedAt, &t.UpdatedAt, &t.IntegratedAt)
	if err != nil {
		return nil, err
	}
	t.Status = knowledge.TranscriptStatus(status)
	return &t, nil
}

func collectTranscripts(rows pgx.Rows) ([]knowledge.Transcript, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Transcript, error) {
		t, err := scanTranscript(row)
		if err != nil {
			return knowledge.Transcript{}, err
		}
		return *t, nil
	})
}

// CreateTranscript inserts t, assigning an id and timestamps when unset.
func (s *Store) CreateTranscript(ctx context.Context, t *knowledge.Transcript) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcriptions (id, title, text, status, folder_id, purpose, created_at, updated_at, integrated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Title, t.Text, string(t.Status), t.FolderID, t.Purpose, t.CreatedAt, t.UpdatedAt, t.IntegratedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transcription: %w", err)
	}
	return nil
}

// GetTranscript fetches a transcript by id.
func (s *Store) GetTranscript(ctx context.Context, id uuid.UUID) (*knowledge.Transcript, error) {
	t, err := scanTranscript(s.pool.QueryRow(ctx,
		`SELECT `+transcriptColumns+` FROM transcriptions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// PatchTranscript updates only the fields set in p in a single statement and
// returns the stored record. With p.From set, a transcript in any other status is
// left unchanged and ErrInvalidTransition is returned.
func (s *Store) PatchTranscript(ctx context.Context, id uuid.UUID, p knowledge.TranscriptPatch) (*knowledge.Transcript, error) {
	var status *string
	if p.Status != nil {
		st := string(*p.Status)
		status = &st
	}
	var from []string
	for _, st := range p.From {
		from = append(from, string(st))
	}

	t, err := scanTranscript(s.pool.QueryRow(ctx, `
		UPDATE transcriptions
		SET title = COALESCE($2, title),
		    purpose = COALESCE($3, purpose),
		    text = COALESCE($4, text),
		    status = COALESCE($5, status),
		    folder_id = COALESCE($6::uuid, folder_id),
		    updated_at = now()
		WHERE id = $1 AND ($7::text[] IS NULL OR status = ANY($7::text[]))
		RETURNING `+transcriptColumns,
		id, p.Title, p.Purpose, p.Text, status, p.FolderID, from,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patch transcription: %w", err)
	}
	cur, err := s.GetTranscript(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: transcription is %q", knowledge.ErrInvalidTransition, cur.Status)
}

// DeleteTranscript removes a transcript. Conflicts on either side go with it.
func (s *Store) DeleteTranscript(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transcriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transcription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return knowledge.ErrNotFound
	}
	return nil
}

// ListFolderSiblings returns the transcripts in folderID other than excludeID
// that have text to compare against.
func (s *Store) ListFolderSiblings(ctx context.Context, folderID, excludeID uuid.UUID) ([]knowledge.Transcript, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcriptions
		WHERE folder_id = $1 AND id <> $2 AND btrim(text) <> ''
		ORDER BY created_at, id`,
		folderID, excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list folder siblings: %w", err)
	}
	out, err := collectTranscripts(rows)
	if err != nil {
		return nil, fmt.Errorf("scan transcriptions: %w", err)
	}
	return out, nil
}

// ListTranscriptsByStatus returns transcripts in any of statuses, newest first.
func (s *Store) ListTranscriptsByStatus(ctx context.Context, statuses ...knowledge.TranscriptStatus) ([]knowledge.Transcript, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcriptions
		WHERE status = ANY($1)
		ORDER BY updated_at DESC, id`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcriptions by status: %w", err)
	}
	out, err := collectTranscripts(rows)
	if err != nil {
		return nil, fmt.Errorf("scan transcriptions: %w", err)
	}
	return out, nil
}

// TransitionTranscript moves a transcript from one status to another without
// touching its text. It fails with ErrInvalidTransition when the current status is
// not from. A non-nil integratedAt is recorded alongside.
func (s *Store) TransitionTranscript(ctx context.Context, id uuid.UUID, from, to knowledge.TranscriptStatus, integratedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transcriptions
		SET status = $3, updated_at = now(), integrated_at = COALESCE($4, integrated_at)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), integratedAt,
	)
	if err != nil {
		return fmt.Errorf("transition transcription: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetTranscript(ctx, id); err != nil {
		return err
	}
	return knowledge.ErrInvalidTransition
}

// EditTranscriptText rewrites a transcript's text with fn while holding the row
// lock, so concurrent splices on the same transcript serialise. When fn returns an
// error nothing is written and the error is returned as is.
func (s *Store) EditTranscriptText(ctx context.Context, id uuid.UUID, fn func(text string) (string, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var text string
	err = tx.QueryRow(ctx, `SELECT text FROM transcriptions WHERE id = $1 FOR UPDATE`, id).Scan(&text)
	if err != nil {
		return notFound(err)
	}

	updated, err := fn(text)
	if err != nil {
		return err
	}
	if updated == text {
		return nil
	}

	if _, err := tx.Exec(ctx, `UPDATE transcriptions SET text = $2, updated_at = now() WHERE id = $1`, id, updated); err != nil {
		return fmt.Errorf("update transcription text: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
