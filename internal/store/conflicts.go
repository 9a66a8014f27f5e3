package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

const conflictColumns = `id, new_transcription_id, existing_transcription_id, legacy_doc_ref,
	new_content_snippet, existing_content_snippet, anomaly_type, status,
	resolution_content, flagged_at, updated_at, resolved_at`

func scanConflict(row pgx.Row) (*knowledge.Conflict, error) {
	var (
		c       knowledge.Conflict
		legacy  *string
		anomaly string
		status  string
	)
	err := row.Scan(&c.ID, &c.NewTranscriptID, &c.Existing.TranscriptID, &legacy,
		&c.NewSnippet, &c.ExistingSnippet, &anomaly, &status,
		&c.ResolutionContent, &c.FlaggedAt, &c.UpdatedAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if legacy != nil {
		c.Existing.LegacyDocRef = *legacy
	}
	c.Anomaly = knowledge.AnomalyType(anomaly)
	c.Status = knowledge.ConflictStatus(status)
	return &c, nil
}

func legacyParam(e knowledge.ExistingSide) *string {
	if e.LegacyDocRef == "" {
		return nil
	}
	return &e.LegacyDocRef
}

// CreateConflict inserts c as a pending conflict unless an identical pending
// finding already exists, in which case c is filled from the existing row and
// created is false. Re-running detection therefore does not duplicate findings.
func (s *Store) CreateConflict(ctx context.Context, c *knowledge.Conflict) (bool, error) {
	if !c.Existing.Valid() {
		return false, fmt.Errorf("create conflict: existing side must reference exactly one of transcription or legacy document")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.Status = knowledge.ConflictPending
	c.FlaggedAt = now
	c.UpdatedAt = now

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conflicts (id, new_transcription_id, existing_transcription_id, legacy_doc_ref,
			new_content_snippet, existing_content_snippet, anomaly_type, status, flagged_at, updated_at)
		SELECT $1, $2, $3::uuid, $4::text, $5, $6, $7, $8, $9, $9
		WHERE NOT EXISTS (
			SELECT 1 FROM conflicts
			WHERE new_transcription_id = $2
			  AND existing_transcription_id IS NOT DISTINCT FROM $3::uuid
			  AND legacy_doc_ref IS NOT DISTINCT FROM $4::text
			  AND new_content_snippet = $5
			  AND existing_content_snippet = $6
			  AND anomaly_type = $7
			  AND status = $8
		)`,
		c.ID, c.NewTranscriptID, c.Existing.TranscriptID, legacyParam(c.Existing),
		c.NewSnippet, c.ExistingSnippet, string(c.Anomaly), string(knowledge.ConflictPending), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert conflict: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	existing, err := scanConflict(s.pool.QueryRow(ctx, `
		SELECT `+conflictColumns+`
		FROM conflicts
		WHERE new_transcription_id = $1
		  AND existing_transcription_id IS NOT DISTINCT FROM $2::uuid
		  AND legacy_doc_ref IS NOT DISTINCT FROM $3::text
		  AND new_content_snippet = $4
		  AND existing_content_snippet = $5
		  AND anomaly_type = $6
		  AND status = $7
		LIMIT 1`,
		c.NewTranscriptID, c.Existing.TranscriptID, legacyParam(c.Existing),
		c.NewSnippet, c.ExistingSnippet, string(c.Anomaly), string(knowledge.ConflictPending),
	))
	if err != nil {
		return false, fmt.Errorf("load duplicate conflict: %w", err)
	}
	*c = *existing
	return false, nil
}

// GetConflict fetches a conflict by id.
func (s *Store) GetConflict(ctx context.Context, id uuid.UUID) (*knowledge.Conflict, error) {
	c, err := scanConflict(s.pool.QueryRow(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// ListConflicts returns the conflicts matching f.
func (s *Store) ListConflicts(ctx context.Context, f knowledge.ConflictFilter) ([]knowledge.Conflict, error) {
	query, args := buildConflictQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Conflict, error) {
		c, err := scanConflict(row)
		if err != nil {
			return knowledge.Conflict{}, err
		}
		return *c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan conflicts: %w", err)
	}
	return out, nil
}

// buildConflictQuery renders f as a parameterised SELECT.
func buildConflictQuery(f knowledge.ConflictFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			names[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(names)+")")
	}
	if len(f.Anomalies) > 0 {
		names := make([]string, len(f.Anomalies))
		for i, a := range f.Anomalies {
			names[i] = string(a)
		}
		where = append(where, "anomaly_type = ANY("+arg(names)+")")
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		where = append(where, "(new_content_snippet ILIKE "+p+" OR existing_content_snippet ILIKE "+p+")")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + conflictColumns + " FROM conflicts")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	col := "updated_at"
	if f.SortKey == knowledge.SortFlaggedAt {
		col = "flagged_at"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	sb.WriteString(" ORDER BY " + col + " " + dir + ", id " + dir)
	return sb.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// UpdateConflictStatus moves a conflict to a terminal status, recording the
// resolution text and timestamp. Re-applying the current terminal status returns
// the conflict unchanged; any other move from a terminal status is
// ErrInvalidTransition.
func (s *Store) UpdateConflictStatus(ctx context.Context, id uuid.UUID, to knowledge.ConflictStatus, resolution *string) (*knowledge.Conflict, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := scanConflict(tx.QueryRow(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if !cur.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", knowledge.ErrInvalidTransition, cur.Status, to)
	}
	if cur.Status == to {
		return cur, nil
	}

	updated, err := scanConflict(tx.QueryRow(ctx, `
		UPDATE conflicts
		SET status = $2, resolution_content = $3, updated_at = now(), resolved_at = now()
		WHERE id = $1
		RETURNING `+conflictColumns,
		id, string(to), resolution,
	))
	if err != nil {
		return nil, fmt.Errorf("update conflict status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// TransitionConflict moves a conflict from one status to another only while it is
// still in from, recording resolution. Moving back to pending clears the
// resolution. It fails with ErrInvalidTransition when the status is not from.
func (s *Store) TransitionConflict(ctx context.Context, id uuid.UUID, from, to knowledge.ConflictStatus, resolution *string) (*knowledge.Conflict, error) {
	if to == knowledge.ConflictPending {
		resolution = nil
	}
	c, err := scanConflict(s.pool.QueryRow(ctx, `
		UPDATE conflicts
		SET status = $3, resolution_content = $4, updated_at = now(),
		    resolved_at = CASE WHEN $5 THEN now() ELSE NULL END
		WHERE id = $1 AND status = $2
		RETURNING `+conflictColumns,
		id, string(from), string(to), resolution, to.Terminal(),
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition conflict: %w", err)
	}
	cur, err := s.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s to %s", knowledge.ErrInvalidTransition, cur.Status, to)
}

// ConflictStats counts every conflict by status. No filter applies.
func (s *Store) ConflictStats(ctx context.Context) (knowledge.ConflictStats, error) {
	var st knowledge.ConflictStats
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM conflicts GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("conflict stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("scan conflict stats: %w", err)
		}
		st.Add(knowledge.ConflictStatus(status), n)
	}
	return st, rows.Err()
}

// CountPendingConflicts counts pending conflicts with transcriptID as the new side.
func (s *Store) CountPendingConflicts(ctx context.Context, transcriptID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM conflicts
		WHERE new_transcription_id = $1 AND status = $2`,
		transcriptID, string(knowledge.ConflictPending),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending conflicts: %w", err)
	}
	return n, nil
}

// TranscriptsConflictingWith returns the new-side transcripts of every conflict
// whose existing side is existingID.
func (s *Store) TranscriptsConflictingWith(ctx context.Context, existingID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT new_transcription_id FROM conflicts
		WHERE existing_transcription_id = $1`,
		existingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conflicting transcriptions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan transcription ids: %w", err)
	}
	return ids, nil
}
