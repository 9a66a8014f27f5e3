//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func createFolder(t *testing.T, s *Store, name string, parent *uuid.UUID) *knowledge.Folder {
	t.Helper()
	f := &knowledge.Folder{Name: name + "-" + uuid.New().String()[:8], ParentID: parent}
	if err := s.CreateFolder(context.Background(), f); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), `DELETE FROM folders WHERE id = $1`, f.ID)
	})
	return f
}

func createTranscript(t *testing.T, s *Store, text string, folder *uuid.UUID, status knowledge.TranscriptStatus) *knowledge.Transcript {
	t.Helper()
	tr := &knowledge.Transcript{Title: "integration", Text: text, Status: status, FolderID: folder}
	if err := s.CreateTranscript(context.Background(), tr); err != nil {
		t.Fatalf("CreateTranscript failed: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), `DELETE FROM transcriptions WHERE id = $1`, tr.ID)
	})
	return tr
}

func TestIntegration_TranscriptLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	folder := createFolder(t, s, "lifecycle", nil)

	tr := createTranscript(t, s, "The deployment date is Friday.", nil, knowledge.StatusDraft)

	got, err := s.GetTranscript(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if got.Status != knowledge.StatusDraft || got.Text != tr.Text {
		t.Errorf("unexpected transcript %+v", got)
	}

	checking := knowledge.StatusCheckingForConflicts
	title := "Retro"
	patched, err := s.PatchTranscript(ctx, tr.ID, knowledge.TranscriptPatch{
		Title:    &title,
		Status:   &checking,
		FolderID: &folder.ID,
		From:     knowledge.FinalizableStatuses(),
	})
	if err != nil {
		t.Fatalf("PatchTranscript failed: %v", err)
	}
	if patched.Title != "Retro" || patched.Text != tr.Text || patched.Status != checking {
		t.Errorf("unexpected patched transcript %+v", patched)
	}

	_, err = s.PatchTranscript(ctx, tr.ID, knowledge.TranscriptPatch{Title: &title, From: knowledge.EditableStatuses()})
	if !errors.Is(err, knowledge.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition while checking, got %v", err)
	}

	err = s.TransitionTranscript(ctx, tr.ID, knowledge.StatusDraft, knowledge.StatusIntegrated, nil)
	if !errors.Is(err, knowledge.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	now := time.Now().UTC()
	if err := s.TransitionTranscript(ctx, tr.ID, knowledge.StatusCheckingForConflicts, knowledge.StatusIntegrated, &now); err != nil {
		t.Fatalf("TransitionTranscript failed: %v", err)
	}

	got, _ = s.GetTranscript(ctx, tr.ID)
	if got.Status != knowledge.StatusIntegrated || got.IntegratedAt == nil {
		t.Errorf("expected Integrated with timestamp, got %+v", got)
	}

	counts, err := s.IntegratedCounts(ctx)
	if err != nil {
		t.Fatalf("IntegratedCounts failed: %v", err)
	}
	if counts[folder.ID] != 1 {
		t.Errorf("expected 1 integrated transcript in folder, got %d", counts[folder.ID])
	}

	if _, err := s.GetTranscript(ctx, uuid.New()); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIntegration_EditTranscriptText(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tr := createTranscript(t, s, "A. Deploy Friday. B.", nil, knowledge.StatusError)

	err := s.EditTranscriptText(ctx, tr.ID, func(text string) (string, error) {
		return "A. B.", nil
	})
	if err != nil {
		t.Fatalf("EditTranscriptText failed: %v", err)
	}
	got, _ := s.GetTranscript(ctx, tr.ID)
	if got.Text != "A. B." {
		t.Errorf("expected spliced text, got %q", got.Text)
	}

	sentinel := errors.New("stale")
	err = s.EditTranscriptText(ctx, tr.ID, func(text string) (string, error) {
		return "ignored", sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected callback error, got %v", err)
	}
	got, _ = s.GetTranscript(ctx, tr.ID)
	if got.Text != "A. B." {
		t.Errorf("text must be untouched on callback error, got %q", got.Text)
	}
}

func TestIntegration_ConflictLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	folder := createFolder(t, s, "conflicts", nil)
	newT := createTranscript(t, s, "The deployment date is Friday.", &folder.ID, knowledge.StatusError)
	oldT := createTranscript(t, s, "The deployment date is Tuesday.", &folder.ID, knowledge.StatusIntegrated)

	c := &knowledge.Conflict{
		NewTranscriptID: newT.ID,
		Existing:        knowledge.TranscriptRef(oldT.ID),
		NewSnippet:      "The deployment date is Friday.",
		ExistingSnippet: "The deployment date is Tuesday.",
		Anomaly:         knowledge.AnomalyContradiction,
	}
	created, err := s.CreateConflict(ctx, c)
	if err != nil || !created {
		t.Fatalf("CreateConflict: created=%v err=%v", created, err)
	}

	dup := *c
	dup.ID = uuid.Nil
	created, err = s.CreateConflict(ctx, &dup)
	if err != nil {
		t.Fatalf("CreateConflict duplicate failed: %v", err)
	}
	if created || dup.ID != c.ID {
		t.Errorf("expected duplicate to resolve to %s, got created=%v id=%s", c.ID, created, dup.ID)
	}

	legacy := &knowledge.Conflict{
		NewTranscriptID: newT.ID,
		Existing:        knowledge.LegacyDocRef("KB_DOC_" + uuid.New().String()[:8]),
		NewSnippet:      "The deployment date is Friday.",
		ExistingSnippet: "Deploys happen on Mondays.",
		Anomaly:         knowledge.AnomalyOutdated,
	}
	if _, err := s.CreateConflict(ctx, legacy); err != nil {
		t.Fatalf("CreateConflict legacy failed: %v", err)
	}

	n, err := s.CountPendingConflicts(ctx, newT.ID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 pending, got %d (%v)", n, err)
	}

	ids, err := s.TranscriptsConflictingWith(ctx, oldT.ID)
	if err != nil || len(ids) != 1 || ids[0] != newT.ID {
		t.Errorf("unexpected conflicting transcripts %v (%v)", ids, err)
	}

	listed, err := s.ListConflicts(ctx, knowledge.ConflictFilter{Search: "tuesday"})
	if err != nil {
		t.Fatalf("ListConflicts failed: %v", err)
	}
	found := false
	for _, l := range listed {
		if l.ID == c.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected search to match the existing snippet")
	}

	resolution := "The deployment date is Tuesday."
	updated, err := s.UpdateConflictStatus(ctx, c.ID, knowledge.ConflictResolved, &resolution)
	if err != nil {
		t.Fatalf("UpdateConflictStatus failed: %v", err)
	}
	if updated.Status != knowledge.ConflictResolved || updated.ResolvedAt == nil || *updated.ResolutionContent != resolution {
		t.Errorf("unexpected resolved conflict %+v", updated)
	}

	if _, err := s.UpdateConflictStatus(ctx, c.ID, knowledge.ConflictResolved, nil); err != nil {
		t.Errorf("re-applying the same status must be a no-op, got %v", err)
	}
	if _, err := s.UpdateConflictStatus(ctx, c.ID, knowledge.ConflictRejected, nil); !errors.Is(err, knowledge.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := s.TransitionConflict(ctx, c.ID, knowledge.ConflictPending, knowledge.ConflictRejected, nil); !errors.Is(err, knowledge.ErrInvalidTransition) {
		t.Errorf("expected compare-and-set to fail on a resolved conflict, got %v", err)
	}
	reopened, err := s.TransitionConflict(ctx, c.ID, knowledge.ConflictResolved, knowledge.ConflictPending, &resolution)
	if err != nil {
		t.Fatalf("TransitionConflict failed: %v", err)
	}
	if reopened.Status != knowledge.ConflictPending || reopened.ResolvedAt != nil || reopened.ResolutionContent != nil {
		t.Errorf("expected a clean pending conflict, got %+v", reopened)
	}

	before, err := s.ConflictStats(ctx)
	if err != nil {
		t.Fatalf("ConflictStats failed: %v", err)
	}
	if _, err := s.ListConflicts(ctx, knowledge.ConflictFilter{Statuses: []knowledge.ConflictStatus{knowledge.ConflictRejected}}); err != nil {
		t.Fatalf("ListConflicts failed: %v", err)
	}
	after, _ := s.ConflictStats(ctx)
	if before != after || after.Total != after.Pending+after.Resolved+after.Rejected {
		t.Errorf("stats must ignore filters: before=%+v after=%+v", before, after)
	}

	if err := s.DeleteTranscript(ctx, oldT.ID); err != nil {
		t.Fatalf("DeleteTranscript failed: %v", err)
	}
	if _, err := s.GetConflict(ctx, c.ID); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("expected conflict to cascade, got %v", err)
	}
}

func TestIntegration_DeleteFolder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := createFolder(t, s, "root", nil)
	child := createFolder(t, s, "child", &root.ID)
	tr := createTranscript(t, s, "text", &child.ID, knowledge.StatusIntegrated)

	if err := s.DeleteFolder(ctx, root.ID); !errors.Is(err, knowledge.ErrFolderNotEmpty) {
		t.Fatalf("expected ErrFolderNotEmpty, got %v", err)
	}

	if err := s.DeleteTranscript(ctx, tr.ID); err != nil {
		t.Fatalf("DeleteTranscript failed: %v", err)
	}
	if err := s.DeleteFolder(ctx, root.ID); err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}
	if _, err := s.GetFolder(ctx, child.ID); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("expected child folder to cascade, got %v", err)
	}
}

func TestIntegration_EmbeddingCache(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	model := "test-model-" + uuid.New().String()[:8]
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), `DELETE FROM chunk_embeddings WHERE model = $1`, model)
	})

	err := s.StoreEmbeddings(ctx, model, map[string][]float32{
		"h1": {0.1, 0.2, 0.3},
		"h2": {1, 0, 0},
	})
	if err != nil {
		t.Fatalf("StoreEmbeddings failed: %v", err)
	}

	got, err := s.LookupEmbeddings(ctx, model, []string{"h1", "missing"})
	if err != nil {
		t.Fatalf("LookupEmbeddings failed: %v", err)
	}
	if len(got) != 1 || len(got["h1"]) != 3 {
		t.Errorf("unexpected lookup result %v", got)
	}
}
