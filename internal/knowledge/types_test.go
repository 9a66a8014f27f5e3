package knowledge

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnomaly(t *testing.T) {
	tests := []struct {
		in   string
		want AnomalyType
		ok   bool
	}{
		{"CONTRADICTION", AnomalyContradiction, true},
		{"contradiction", AnomalyContradiction, true},
		{"SIGNIFICANT_OVERLAP", AnomalyOverlap, true},
		{"Significant Overlap", AnomalyOverlap, true},
		{"SEMANTIC_DIFFERENCE", AnomalySemanticDifference, true},
		{"OUTDATED_INFO", AnomalyOutdated, true},
		{"Outdated Information", AnomalyOutdated, true},
		{"MISSPELLING", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAnomaly(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConflictStatus_CanTransition(t *testing.T) {
	assert.True(t, ConflictPending.CanTransition(ConflictResolved))
	assert.True(t, ConflictPending.CanTransition(ConflictRejected))
	assert.False(t, ConflictPending.CanTransition(ConflictPending))

	assert.True(t, ConflictResolved.CanTransition(ConflictResolved))
	assert.False(t, ConflictResolved.CanTransition(ConflictRejected))
	assert.False(t, ConflictResolved.CanTransition(ConflictPending))
	assert.False(t, ConflictRejected.CanTransition(ConflictResolved))
	assert.False(t, ConflictRejected.CanTransition(ConflictPending))
}

func TestTranscriptStatus_CanFinalize(t *testing.T) {
	assert.True(t, StatusDraft.CanFinalize())
	assert.True(t, StatusAwaitingApproval.CanFinalize())
	assert.True(t, StatusError.CanFinalize())
	assert.True(t, StatusIntegrated.CanFinalize())
	assert.False(t, StatusProcessing.CanFinalize())
	assert.False(t, StatusCheckingForConflicts.CanFinalize())
}

func TestExistingSide(t *testing.T) {
	id := uuid.New()
	ref := TranscriptRef(id)
	assert.True(t, ref.Valid())
	assert.True(t, ref.IsTranscript())
	assert.Equal(t, "transcription:"+id.String(), ref.String())

	doc := LegacyDocRef("KB_DOC_A1B2C3")
	assert.True(t, doc.Valid())
	assert.False(t, doc.IsTranscript())
	assert.Equal(t, "legacy:KB_DOC_A1B2C3", doc.String())

	assert.False(t, ExistingSide{}.Valid())
	assert.False(t, ExistingSide{TranscriptID: &id, LegacyDocRef: "x"}.Valid())
}

func TestConflict_Same(t *testing.T) {
	newID, existingID := uuid.New(), uuid.New()
	a := Conflict{
		NewTranscriptID: newID,
		Existing:        TranscriptRef(existingID),
		NewSnippet:      "Friday",
		ExistingSnippet: "Tuesday",
		Anomaly:         AnomalyContradiction,
		Status:          ConflictPending,
	}
	b := a
	b.ID = uuid.New()
	b.Status = ConflictRejected
	assert.True(t, a.Same(b))

	b.Existing = TranscriptRef(uuid.New())
	assert.False(t, a.Same(b))

	b = a
	b.Existing = LegacyDocRef("KB_DOC_1")
	assert.False(t, a.Same(b))
}

func TestConflictStats_Add(t *testing.T) {
	var st ConflictStats
	st.Add(ConflictPending, 2)
	st.Add(ConflictResolved, 1)
	st.Add(ConflictRejected, 3)
	assert.Equal(t, ConflictStats{Pending: 2, Resolved: 1, Rejected: 3, Total: 6}, st)
}

func TestBuildTree(t *testing.T) {
	clients := Folder{ID: uuid.New(), Name: "Client Projects"}
	internal := Folder{ID: uuid.New(), Name: "Internal Meetings"}
	beta := Folder{ID: uuid.New(), Name: "Project Beta", ParentID: &clients.ID}
	alpha := Folder{ID: uuid.New(), Name: "Project Alpha", ParentID: &clients.ID}

	roots := BuildTree([]Folder{internal, beta, clients, alpha}, map[uuid.UUID]int{alpha.ID: 2})
	require.Len(t, roots, 2)
	assert.Equal(t, "Client Projects", roots[0].Name)
	assert.Equal(t, "Internal Meetings", roots[1].Name)

	kids := roots[0].Children
	require.Len(t, kids, 2)
	assert.Equal(t, "Client Projects / Project Alpha", kids[0].Path)
	assert.Equal(t, 2, kids[0].Count)
	assert.Equal(t, "Client Projects / Project Beta", kids[1].Path)
	assert.Equal(t, 0, kids[1].Count)
	assert.NotNil(t, roots[1].Children)
}

func TestSubtree(t *testing.T) {
	root := Folder{ID: uuid.New(), Name: "root"}
	child := Folder{ID: uuid.New(), Name: "child", ParentID: &root.ID}
	grandchild := Folder{ID: uuid.New(), Name: "grandchild", ParentID: &child.ID}
	other := Folder{ID: uuid.New(), Name: "other"}

	ids := Subtree([]Folder{root, child, grandchild, other}, root.ID)
	assert.ElementsMatch(t, []uuid.UUID{root.ID, child.ID, grandchild.ID}, ids)

	assert.Equal(t, []uuid.UUID{other.ID}, Subtree([]Folder{root, child, other}, other.ID))
}
