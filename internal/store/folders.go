package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

const folderColumns = `id, name, parent_id, created_at, updated_at`

func scanFolder(row pgx.Row) (*knowledge.Folder, error) {
	var f knowledge.Folder
	if err := row.Scan(&f.ID, &f.Name, &f.ParentID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFolder inserts f. A parent that does not exist is ErrNotFound.
func (s *Store) CreateFolder(ctx context.Context, f *knowledge.Folder) error {
	if f.ParentID != nil {
		if _, err := s.GetFolder(ctx, *f.ParentID); err != nil {
			return err
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO folders (id, name, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		f.ID, f.Name, f.ParentID, now,
	)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

// GetFolder fetches a folder by id.
func (s *Store) GetFolder(ctx context.Context, id uuid.UUID) (*knowledge.Folder, error) {
	f, err := scanFolder(s.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// RenameFolder changes a folder's name. Paths are derived at read time, so
// descendants need no update.
func (s *Store) RenameFolder(ctx context.Context, id uuid.UUID, name string) (*knowledge.Folder, error) {
	f, err := scanFolder(s.pool.QueryRow(ctx, `
		UPDATE folders SET name = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+folderColumns,
		id, name,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// DeleteFolder removes a folder and its (empty) descendants. It is refused with
// ErrFolderNotEmpty while any of them still holds a transcript.
func (s *Store) DeleteFolder(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM folders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check folder: %w", err)
	}
	if !exists {
		return knowledge.ErrNotFound
	}

	var held int
	err = tx.QueryRow(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM folders WHERE id = $1
			UNION ALL
			SELECT f.id FROM folders f JOIN subtree s ON f.parent_id = s.id
		)
		SELECT count(*) FROM transcriptions WHERE folder_id IN (SELECT id FROM subtree)`,
		id,
	).Scan(&held)
	if err != nil {
		return fmt.Errorf("count folder transcriptions: %w", err)
	}
	if held > 0 {
		return knowledge.ErrFolderNotEmpty
	}

	if _, err := tx.Exec(ctx, `DELETE FROM folders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListFolders returns every folder.
func (s *Store) ListFolders(ctx context.Context) ([]knowledge.Folder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+folderColumns+` FROM folders ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Folder, error) {
		f, err := scanFolder(row)
		if err != nil {
			return knowledge.Folder{}, err
		}
		return *f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan folders: %w", err)
	}
	return out, nil
}

// IntegratedCounts returns the number of Integrated transcripts directly inside
// each folder.
func (s *Store) IntegratedCounts(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT folder_id, count(*) FROM transcriptions
		WHERE folder_id IS NOT NULL AND status = $1
		GROUP BY folder_id`,
		string(knowledge.StatusIntegrated),
	)
	if err != nil {
		return nil, fmt.Errorf("count integrated transcriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan folder count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
