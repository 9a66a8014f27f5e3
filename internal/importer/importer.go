// Package importer seeds the repository from a directory tree of plain-text
// transcripts. Each subdirectory becomes a folder and each .txt or .md file a
// transcript.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/detector"
	"github.com/MikeSquared-Agency/scribe/internal/embeddings"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

// Store is the storage the importer writes to.
type Store interface {
	ListFolders(ctx context.Context) ([]knowledge.Folder, error)
	CreateFolder(ctx context.Context, f *knowledge.Folder) error
	CreateTranscript(ctx context.Context, t *knowledge.Transcript) error
}

type Config struct {
	Dir string
	// Integrated imports transcripts straight into their folders without conflict
	// detection, for bootstrapping an existing knowledge base. Otherwise they are
	// created as Awaiting Approval and go through the normal review and finalize
	// flow.
	Integrated bool
	DryRun     bool
	StatePath  string
}

// Summary reports what a run did.
type Summary struct {
	Imported       int
	FoldersCreated int
	Skipped        int
	Duplicates     int
	Errors         int
}

type Importer struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config, store Store, logger *slog.Logger) *Importer {
	return &Importer{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run walks the directory and imports every file not seen before. Files whose
// normalized text matches one already imported are skipped.
func (im *Importer) Run(ctx context.Context) (*Summary, error) {
	state, err := LoadState(im.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(im.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	im.logger.Info("files discovered", "dir", im.cfg.Dir, "files", len(files))

	folders, err := im.loadFolders(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	for _, rel := range files {
		select {
		case <-ctx.Done():
			im.logger.Info("import interrupted, saving state")
			_ = state.Save()
			return sum, ctx.Err()
		default:
		}

		if state.IsProcessed(rel) {
			sum.Skipped++
			continue
		}

		raw, err := os.ReadFile(filepath.Join(im.cfg.Dir, rel))
		if err != nil {
			im.logger.Warn("failed to read file", "path", rel, "error", err)
			state.AddError(fmt.Sprintf("read %s: %v", rel, err))
			sum.Errors++
			continue
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			sum.Skipped++
			continue
		}
		hash := embeddings.Hash(detector.Normalize(text))
		if state.ContentHashes[hash] {
			im.logger.Info("skipping duplicate content", "path", rel)
			sum.Duplicates++
			state.MarkProcessed(rel, "")
			continue
		}

		if im.cfg.DryRun {
			im.logger.Info("would import", "path", rel, "folder", folderPathOf(rel))
			state.MarkProcessed(rel, hash)
			sum.Imported++
			continue
		}

		t := &knowledge.Transcript{
			Title:  titleFromFile(rel),
			Text:   text,
			Status: knowledge.StatusAwaitingApproval,
		}
		if im.cfg.Integrated {
			folderID, created, err := folders.ensure(ctx, im.store, folderPathOf(rel))
			if err != nil {
				return sum, err
			}
			sum.FoldersCreated += created
			if folderID != nil {
				at := im.now()
				t.FolderID = folderID
				t.Status = knowledge.StatusIntegrated
				t.IntegratedAt = &at
			}
		}

		if err := im.store.CreateTranscript(ctx, t); err != nil {
			state.AddError(fmt.Sprintf("create %s: %v", rel, err))
			_ = state.Save()
			return sum, fmt.Errorf("create transcription from %s: %w", rel, err)
		}
		state.MarkProcessed(rel, hash)
		state.Imported++
		sum.Imported++
		im.logger.Info("imported", "path", rel, "transcript_id", t.ID, "status", t.Status)
	}

	if !im.cfg.DryRun {
		if err := state.Save(); err != nil {
			return sum, fmt.Errorf("save state: %w", err)
		}
	}
	im.logger.Info("import complete",
		"imported", sum.Imported,
		"folders_created", sum.FoldersCreated,
		"skipped", sum.Skipped,
		"duplicates", sum.Duplicates,
		"errors", sum.Errors,
	)
	return sum, nil
}

func discoverFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

// folderPathOf returns the directory names leading to a file.
func folderPathOf(rel string) []string {
	dir := filepath.ToSlash(filepath.Dir(filepath.FromSlash(rel)))
	if dir == "." || dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

// titleFromFile turns "2024-05-01_sprint-review.md" into "2024 05 01 sprint review".
func titleFromFile(rel string) string {
	base := filepath.Base(rel)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

type folderKey struct {
	parent uuid.UUID
	name   string
}

// folderIndex finds folders by parent and name, creating missing ones.
type folderIndex map[folderKey]uuid.UUID

func (im *Importer) loadFolders(ctx context.Context) (folderIndex, error) {
	list, err := im.store.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	idx := make(folderIndex, len(list))
	for _, f := range list {
		var parent uuid.UUID
		if f.ParentID != nil {
			parent = *f.ParentID
		}
		idx[folderKey{parent: parent, name: f.Name}] = f.ID
	}
	return idx, nil
}

func (idx folderIndex) ensure(ctx context.Context, store Store, names []string) (*uuid.UUID, int, error) {
	var (
		parent  uuid.UUID
		created int
	)
	for _, name := range names {
		key := folderKey{parent: parent, name: name}
		if id, ok := idx[key]; ok {
			parent = id
			continue
		}
		f := &knowledge.Folder{Name: name}
		if parent != uuid.Nil {
			p := parent
			f.ParentID = &p
		}
		if err := store.CreateFolder(ctx, f); err != nil {
			return nil, created, fmt.Errorf("create folder %q: %w", name, err)
		}
		idx[key] = f.ID
		parent = f.ID
		created++
	}
	if parent == uuid.Nil {
		return nil, created, nil
	}
	return &parent, created, nil
}
