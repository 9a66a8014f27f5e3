// Package memstore is an in-memory repository with the same behaviour as the
// Postgres store. It backs development runs without DATABASE_URL and the tests of
// the packages above the storage layer.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

type Store struct {
	mu          sync.Mutex
	transcripts map[uuid.UUID]knowledge.Transcript
	conflicts   map[uuid.UUID]knowledge.Conflict
	folders     map[uuid.UUID]knowledge.Folder
	embeddings  map[string][]float32

	now func() time.Time
}

func New() *Store {
	return &Store{
		transcripts: make(map[uuid.UUID]knowledge.Transcript),
		conflicts:   make(map[uuid.UUID]knowledge.Conflict),
		folders:     make(map[uuid.UUID]knowledge.Folder),
		embeddings:  make(map[string][]float32),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// --- transcripts ---

func (s *Store) CreateTranscript(_ context.Context, t *knowledge.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if _, ok := s.transcripts[t.ID]; ok {
		return fmt.Errorf("insert transcription: duplicate id %s", t.ID)
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.transcripts[t.ID] = *t
	return nil
}

func (s *Store) GetTranscript(_ context.Context, id uuid.UUID) (*knowledge.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	return &t, nil
}

func (s *Store) PatchTranscript(_ context.Context, id uuid.UUID, p knowledge.TranscriptPatch) (*knowledge.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	if len(p.From) > 0 && !slices.Contains(p.From, t.Status) {
		return nil, fmt.Errorf("%w: transcription is %q", knowledge.ErrInvalidTransition, t.Status)
	}
	p.Apply(&t)
	t.UpdatedAt = s.now()
	s.transcripts[id] = t
	return &t, nil
}

func (s *Store) DeleteTranscript(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[id]; !ok {
		return knowledge.ErrNotFound
	}
	delete(s.transcripts, id)
	for cid, c := range s.conflicts {
		if c.NewTranscriptID == id || (c.Existing.TranscriptID != nil && *c.Existing.TranscriptID == id) {
			delete(s.conflicts, cid)
		}
	}
	return nil
}

func (s *Store) ListFolderSiblings(_ context.Context, folderID, excludeID uuid.UUID) ([]knowledge.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []knowledge.Transcript
	for _, t := range s.transcripts {
		if t.ID == excludeID || t.FolderID == nil || *t.FolderID != folderID {
			continue
		}
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListTranscriptsByStatus(_ context.Context, statuses ...knowledge.TranscriptStatus) ([]knowledge.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[knowledge.TranscriptStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []knowledge.Transcript
	for _, t := range s.transcripts {
		if want[t.Status] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) TransitionTranscript(_ context.Context, id uuid.UUID, from, to knowledge.TranscriptStatus, integratedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	if t.Status != from {
		return knowledge.ErrInvalidTransition
	}
	t.Status = to
	t.UpdatedAt = s.now()
	if integratedAt != nil {
		at := *integratedAt
		t.IntegratedAt = &at
	}
	s.transcripts[id] = t
	return nil
}

// EditTranscriptText holds the store lock for the whole read-modify-write, which
// serialises concurrent splices.
func (s *Store) EditTranscriptText(_ context.Context, id uuid.UUID, fn func(text string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	updated, err := fn(t.Text)
	if err != nil {
		return err
	}
	if updated == t.Text {
		return nil
	}
	t.Text = updated
	t.UpdatedAt = s.now()
	s.transcripts[id] = t
	return nil
}

// --- conflicts ---

func (s *Store) CreateConflict(_ context.Context, c *knowledge.Conflict) (bool, error) {
	if !c.Existing.Valid() {
		return false, fmt.Errorf("create conflict: existing side must reference exactly one of transcription or legacy document")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[c.NewTranscriptID]; !ok {
		return false, fmt.Errorf("insert conflict: %w", knowledge.ErrNotFound)
	}
	if c.Existing.IsTranscript() {
		if _, ok := s.transcripts[*c.Existing.TranscriptID]; !ok {
			return false, fmt.Errorf("insert conflict: %w", knowledge.ErrNotFound)
		}
	}

	for _, cur := range s.conflicts {
		if cur.Status == knowledge.ConflictPending && cur.Same(*c) {
			*c = cur
			return false, nil
		}
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := s.now()
	c.Status = knowledge.ConflictPending
	c.FlaggedAt = now
	c.UpdatedAt = now
	c.ResolutionContent = nil
	c.ResolvedAt = nil
	s.conflicts[c.ID] = *c
	return true, nil
}

func (s *Store) GetConflict(_ context.Context, id uuid.UUID) (*knowledge.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListConflicts(_ context.Context, f knowledge.ConflictFilter) ([]knowledge.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[knowledge.ConflictStatus]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses[st] = true
	}
	anomalies := make(map[knowledge.AnomalyType]bool, len(f.Anomalies))
	for _, a := range f.Anomalies {
		anomalies[a] = true
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	var out []knowledge.Conflict
	for _, c := range s.conflicts {
		if len(statuses) > 0 && !statuses[c.Status] {
			continue
		}
		if len(anomalies) > 0 && !anomalies[c.Anomaly] {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.NewSnippet), search) &&
			!strings.Contains(strings.ToLower(c.ExistingSnippet), search) {
			continue
		}
		out = append(out, c)
	}

	key := func(c knowledge.Conflict) time.Time {
		if f.SortKey == knowledge.SortFlaggedAt {
			return c.FlaggedAt
		}
		return c.UpdatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if f.SortDesc {
			a, b = b, a
		}
		if !key(a).Equal(key(b)) {
			return key(a).Before(key(b))
		}
		return a.ID.String() < b.ID.String()
	})
	return out, nil
}

func (s *Store) UpdateConflictStatus(_ context.Context, id uuid.UUID, to knowledge.ConflictStatus, resolution *string) (*knowledge.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	if !c.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", knowledge.ErrInvalidTransition, c.Status, to)
	}
	if c.Status == to {
		return &c, nil
	}
	now := s.now()
	c.Status = to
	c.UpdatedAt = now
	c.ResolvedAt = &now
	if resolution != nil {
		r := *resolution
		c.ResolutionContent = &r
	}
	s.conflicts[id] = c
	return &c, nil
}

func (s *Store) TransitionConflict(_ context.Context, id uuid.UUID, from, to knowledge.ConflictStatus, resolution *string) (*knowledge.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	if c.Status != from {
		return nil, fmt.Errorf("%w: %s to %s", knowledge.ErrInvalidTransition, c.Status, to)
	}
	now := s.now()
	c.Status = to
	c.UpdatedAt = now
	c.ResolutionContent = nil
	c.ResolvedAt = nil
	if to.Terminal() {
		c.ResolvedAt = &now
		if resolution != nil {
			r := *resolution
			c.ResolutionContent = &r
		}
	}
	s.conflicts[id] = c
	return &c, nil
}

func (s *Store) ConflictStats(context.Context) (knowledge.ConflictStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st knowledge.ConflictStats
	for _, c := range s.conflicts {
		st.Add(c.Status, 1)
	}
	return st, nil
}

func (s *Store) CountPendingConflicts(_ context.Context, transcriptID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conflicts {
		if c.NewTranscriptID == transcriptID && c.Status == knowledge.ConflictPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) TranscriptsConflictingWith(_ context.Context, existingID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, c := range s.conflicts {
		if c.Existing.TranscriptID == nil || *c.Existing.TranscriptID != existingID {
			continue
		}
		if !seen[c.NewTranscriptID] {
			seen[c.NewTranscriptID] = true
			out = append(out, c.NewTranscriptID)
		}
	}
	return out, nil
}

// --- folders ---

func (s *Store) CreateFolder(_ context.Context, f *knowledge.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ParentID != nil {
		if _, ok := s.folders[*f.ParentID]; !ok {
			return knowledge.ErrNotFound
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	now := s.now()
	f.CreatedAt, f.UpdatedAt = now, now
	s.folders[f.ID] = *f
	return nil
}

func (s *Store) GetFolder(_ context.Context, id uuid.UUID) (*knowledge.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	return &f, nil
}

func (s *Store) RenameFolder(_ context.Context, id uuid.UUID, name string) (*knowledge.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	f.Name = name
	f.UpdatedAt = s.now()
	s.folders[id] = f
	return &f, nil
}

func (s *Store) DeleteFolder(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[id]; !ok {
		return knowledge.ErrNotFound
	}

	all := make([]knowledge.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		all = append(all, f)
	}
	subtree := knowledge.Subtree(all, id)
	inSubtree := make(map[uuid.UUID]bool, len(subtree))
	for _, fid := range subtree {
		inSubtree[fid] = true
	}
	for _, t := range s.transcripts {
		if t.FolderID != nil && inSubtree[*t.FolderID] {
			return knowledge.ErrFolderNotEmpty
		}
	}
	for _, fid := range subtree {
		delete(s.folders, fid)
	}
	return nil
}

func (s *Store) ListFolders(context.Context) ([]knowledge.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]knowledge.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) IntegratedCounts(context.Context) (map[uuid.UUID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, t := range s.transcripts {
		if t.FolderID != nil && t.Status == knowledge.StatusIntegrated {
			counts[*t.FolderID]++
		}
	}
	return counts, nil
}

// --- embedding cache ---

func (s *Store) LookupEmbeddings(_ context.Context, model string, hashes []string) (map[string][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]float32, len(hashes))
	for _, h := range hashes {
		if v, ok := s.embeddings[model+"/"+h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (s *Store) StoreEmbeddings(_ context.Context, model string, vectors map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, v := range vectors {
		key := model + "/" + h
		if _, ok := s.embeddings[key]; !ok {
			s.embeddings[key] = v
		}
	}
	return nil
}
