package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/detector"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
	"github.com/MikeSquared-Agency/scribe/internal/memstore"
)

// hookedStore runs a hook once, right before the wrapped call, to interleave
// another request at a precise point.
type hookedStore struct {
	*memstore.Store
	beforeEdit      func()
	beforeClaim     func()
	beforeGetFolder func()
}

func (s *hookedStore) EditTranscriptText(ctx context.Context, id uuid.UUID, fn func(string) (string, error)) error {
	if h := s.beforeEdit; h != nil {
		s.beforeEdit = nil
		h()
	}
	return s.Store.EditTranscriptText(ctx, id, fn)
}

func (s *hookedStore) TransitionConflict(ctx context.Context, id uuid.UUID, from, to knowledge.ConflictStatus, resolution *string) (*knowledge.Conflict, error) {
	if h := s.beforeClaim; h != nil {
		s.beforeClaim = nil
		h()
	}
	return s.Store.TransitionConflict(ctx, id, from, to, resolution)
}

func (s *hookedStore) GetFolder(ctx context.Context, id uuid.UUID) (*knowledge.Folder, error) {
	if h := s.beforeGetFolder; h != nil {
		s.beforeGetFolder = nil
		h()
	}
	return s.Store.GetFolder(ctx, id)
}

// flaggedConflict finalizes a Friday transcript against a Tuesday one and returns
// a coordinator over hooked storage plus the single pending conflict.
func flaggedConflict(t *testing.T) (*hookedStore, *Coordinator, knowledge.Conflict, *knowledge.Transcript, *knowledge.Transcript) {
	t.Helper()
	h := newHarness(t)
	existing := h.addTranscript(t, "Deploy on Tuesday.", knowledge.StatusIntegrated, true)
	tr := h.addTranscript(t, "Deploy on Friday.", knowledge.StatusDraft, false)
	h.finalize(t, tr.ID)

	conflicts, err := h.store.ListConflicts(context.Background(), knowledge.ConflictFilter{})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	hs := &hookedStore{Store: h.store}
	coord := New(hs, h.det, h.jobs, h.bus, nil, discardLogger())
	return hs, coord, conflicts[0], tr, existing
}

func TestResolve_RejectBeforeClaimLeavesTextsAlone(t *testing.T) {
	hs, coord, cf, tr, existing := flaggedConflict(t)
	ctx := context.Background()

	var rejectErr error
	hs.beforeClaim = func() { _, rejectErr = coord.Reject(ctx, cf.ID) }

	resolution := "Deploy on Monday."
	_, err := coord.Resolve(ctx, cf.ID, &resolution)
	require.NoError(t, rejectErr)
	assert.ErrorIs(t, err, knowledge.ErrInvalidTransition)

	got, _ := hs.GetConflict(ctx, cf.ID)
	assert.Equal(t, knowledge.ConflictRejected, got.Status)
	assert.Nil(t, got.ResolutionContent)

	newSide, _ := hs.GetTranscript(ctx, tr.ID)
	assert.Equal(t, "Deploy on Friday.", newSide.Text)
	oldSide, _ := hs.GetTranscript(ctx, existing.ID)
	assert.Equal(t, "Deploy on Tuesday.", oldSide.Text)
}

func TestResolve_RejectDuringSpliceIsRefused(t *testing.T) {
	hs, coord, cf, tr, existing := flaggedConflict(t)
	ctx := context.Background()

	var rejectErr error
	hs.beforeEdit = func() { _, rejectErr = coord.Reject(ctx, cf.ID) }

	resolution := "Deploy on Monday."
	out, err := coord.Resolve(ctx, cf.ID, &resolution)
	require.NoError(t, err)
	assert.ErrorIs(t, rejectErr, knowledge.ErrInvalidTransition)
	assert.Equal(t, knowledge.ConflictResolved, out.Conflict.Status)

	got, _ := hs.GetConflict(ctx, cf.ID)
	assert.Equal(t, knowledge.ConflictResolved, got.Status)

	newSide, _ := hs.GetTranscript(ctx, tr.ID)
	assert.Equal(t, "Deploy on Monday.", newSide.Text)
	oldSide, _ := hs.GetTranscript(ctx, existing.ID)
	assert.Equal(t, "Deploy on Monday.", oldSide.Text)
}

func TestResolve_ConcurrentResolveSplicesOnce(t *testing.T) {
	hs, coord, cf, tr, _ := flaggedConflict(t)
	ctx := context.Background()

	// The inner resolve claims first; the outer one must then back off without
	// splicing a second time.
	first := "Deploy on Thursday."
	var inner *ReviewOutcome
	var innerErr error
	hs.beforeClaim = func() { inner, innerErr = coord.Resolve(ctx, cf.ID, &first) }

	second := "Deploy on Monday."
	out, err := coord.Resolve(ctx, cf.ID, &second)
	require.NoError(t, innerErr)
	require.NoError(t, err)
	assert.True(t, inner.Promoted)
	assert.False(t, out.Promoted)
	require.NotNil(t, out.Conflict.ResolutionContent)
	assert.Equal(t, first, *out.Conflict.ResolutionContent)

	newSide, _ := hs.GetTranscript(ctx, tr.ID)
	assert.Equal(t, first, newSide.Text)
}

// gatedDetector blocks the first call until released and then reports a
// contradiction; later calls find nothing.
type gatedDetector struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDetector) Detect(_ context.Context, _, _ string) (*detector.Result, error) {
	d.mu.Lock()
	d.calls++
	first := d.calls == 1
	d.mu.Unlock()
	if !first {
		return &detector.Result{}, nil
	}
	close(d.entered)
	<-d.release
	return &detector.Result{
		Candidates: 1,
		Findings: []knowledge.Finding{{
			NewSnippet:      "Deploy on Friday.",
			ExistingSnippet: "Deploy on Tuesday.",
			Anomaly:         knowledge.AnomalyContradiction,
		}},
	}, nil
}

func TestHandleJob_OverlappingRunsKeepFindings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	det := &gatedDetector{entered: make(chan struct{}), release: make(chan struct{})}
	coord := New(h.store, det, h.jobs, h.bus, h.notifier, discardLogger())

	h.addTranscript(t, "Deploy on Tuesday.", knowledge.StatusIntegrated, true)
	tr := h.addTranscript(t, "Deploy on Friday.", knowledge.StatusDraft, false)
	_, err := coord.Finalize(ctx, tr.ID, FinalizeRequest{FolderID: h.folder.ID})
	require.NoError(t, err)

	job := h.jobs.jobs[0]
	done := make(chan error, 1)
	go func() { done <- coord.HandleJob(ctx, job) }()
	<-det.entered

	// A recheck while the first run is still classifying finds nothing and
	// integrates the transcript.
	_, err = coord.Recheck(ctx, tr.ID)
	require.NoError(t, err)
	require.NoError(t, coord.HandleJob(ctx, h.jobs.jobs[1]))
	got, _ := h.store.GetTranscript(ctx, tr.ID)
	require.Equal(t, knowledge.StatusIntegrated, got.Status)

	close(det.release)
	require.NoError(t, <-done)

	got, _ = h.store.GetTranscript(ctx, tr.ID)
	pending, err := h.store.CountPendingConflicts(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, knowledge.StatusError, got.Status)
	assert.Len(t, h.notifier.alerts, 1)
}

func TestFinalize_KeepsSpliceMadeAfterRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr := h.addTranscript(t, "Deploy on Friday.", knowledge.StatusIntegrated, true)

	hs := &hookedStore{Store: h.store}
	coord := New(hs, h.det, h.jobs, h.bus, nil, discardLogger())
	hs.beforeGetFolder = func() {
		require.NoError(t, h.store.EditTranscriptText(ctx, tr.ID, func(string) (string, error) {
			return "Deploy on Monday.", nil
		}))
	}

	title := "Release sync"
	out, err := coord.Finalize(ctx, tr.ID, FinalizeRequest{FolderID: h.folder.ID, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Deploy on Monday.", out.Text)
	assert.Equal(t, "Release sync", out.Title)
	assert.Equal(t, knowledge.StatusCheckingForConflicts, out.Status)
}

func TestRaiseConflict_LegacyDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr := h.addTranscript(t, "Deploy on Friday. Ship it.", knowledge.StatusIntegrated, true)

	cf := &knowledge.Conflict{
		NewTranscriptID: tr.ID,
		Existing:        knowledge.LegacyDocRef("KB_DOC_3F2A"),
		NewSnippet:      "Deploy on Friday.",
		ExistingSnippet: "Releases go out on Tuesdays.",
		Anomaly:         knowledge.AnomalyOutdated,
	}
	created, err := h.coord.RaiseConflict(ctx, cf)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, h.bus.count("scribe.conflict.flagged"))

	got, _ := h.store.GetTranscript(ctx, tr.ID)
	assert.Equal(t, knowledge.StatusError, got.Status)

	dup := *cf
	dup.ID = uuid.Nil
	created, err = h.coord.RaiseConflict(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cf.ID, dup.ID)

	// The legacy side is opaque: only the new transcript is spliced.
	resolution := "Deploy on Tuesday."
	out, err := h.coord.Resolve(ctx, cf.ID, &resolution)
	require.NoError(t, err)
	assert.True(t, out.Promoted)
	assert.False(t, out.StaleExistingSnippet)

	got, _ = h.store.GetTranscript(ctx, tr.ID)
	assert.Equal(t, "Deploy on Tuesday. Ship it.", got.Text)
	assert.Equal(t, knowledge.StatusIntegrated, got.Status)
}

func TestRaiseConflict_AgainstTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	existing := h.addTranscript(t, "Deploy on Tuesday.", knowledge.StatusIntegrated, true)
	tr := h.addTranscript(t, "Deploy on Friday.", knowledge.StatusDraft, false)

	cf := &knowledge.Conflict{
		NewTranscriptID: tr.ID,
		Existing:        knowledge.TranscriptRef(existing.ID),
		NewSnippet:      "Deploy on Friday.",
		ExistingSnippet: "Deploy on Tuesday.",
		Anomaly:         knowledge.AnomalyContradiction,
	}
	created, err := h.coord.RaiseConflict(ctx, cf)
	require.NoError(t, err)
	assert.True(t, created)

	// Drafts keep their status; the conflict is settled when they are finalized.
	got, _ := h.store.GetTranscript(ctx, tr.ID)
	assert.Equal(t, knowledge.StatusDraft, got.Status)

	missing := *cf
	missing.ID = uuid.Nil
	missing.Existing = knowledge.TranscriptRef(uuid.New())
	_, err = h.coord.RaiseConflict(ctx, &missing)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	missing.NewTranscriptID = uuid.New()
	_, err = h.coord.RaiseConflict(ctx, &missing)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}
