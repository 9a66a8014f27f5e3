package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlFolders = `
CREATE TABLE IF NOT EXISTS folders (
    id          UUID         PRIMARY KEY,
    name        TEXT         NOT NULL,
    parent_id   UUID         REFERENCES folders (id) ON DELETE CASCADE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_folders_parent_id ON folders (parent_id);
`

const ddlTranscriptions = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id             UUID         PRIMARY KEY,
    title          TEXT         NOT NULL DEFAULT '',
    text           TEXT         NOT NULL DEFAULT '',
    status         TEXT         NOT NULL,
    folder_id      UUID         REFERENCES folders (id) ON DELETE SET NULL,
    purpose        TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    integrated_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_folder_id ON transcriptions (folder_id);
CREATE INDEX IF NOT EXISTS idx_transcriptions_status ON transcriptions (status);
`

const ddlConflicts = `
CREATE TABLE IF NOT EXISTS conflicts (
    id                         UUID         PRIMARY KEY,
    new_transcription_id       UUID         NOT NULL REFERENCES transcriptions (id) ON DELETE CASCADE,
    existing_transcription_id  UUID         REFERENCES transcriptions (id) ON DELETE CASCADE,
    legacy_doc_ref             TEXT,
    new_content_snippet        TEXT         NOT NULL,
    existing_content_snippet   TEXT         NOT NULL,
    anomaly_type               TEXT         NOT NULL,
    status                     TEXT         NOT NULL,
    resolution_content         TEXT,
    flagged_at                 TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at                 TIMESTAMPTZ  NOT NULL DEFAULT now(),
    resolved_at                TIMESTAMPTZ,
    CHECK ((existing_transcription_id IS NULL) <> (legacy_doc_ref IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_conflicts_new_transcription_id ON conflicts (new_transcription_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_existing_transcription_id ON conflicts (existing_transcription_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts (status);
`

// Vectors from several models can share the table, so the column is left without
// a fixed dimension. Requires the vector extension (created by New).
const ddlChunkEmbeddings = `
CREATE TABLE IF NOT EXISTS chunk_embeddings (
    model       TEXT         NOT NULL,
    hash        TEXT         NOT NULL,
    embedding   vector       NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (model, hash)
);
`

// Migrate creates every table and index if missing. It is safe to run on each
// start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlFolders, ddlTranscriptions, ddlConflicts, ddlChunkEmbeddings} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
