package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

type conflictListResponse struct {
	Conflicts []knowledge.Conflict    `json:"conflicts"`
	Stats     knowledge.ConflictStats `json:"stats"`
}

// createConflictRequest records a finding made outside the detector, such as a
// reviewer's own observation or a clash with a legacy knowledge-base document.
type createConflictRequest struct {
	NewTranscriptionID      *uuid.UUID `json:"new_transcription_id"`
	ExistingTranscriptionID *uuid.UUID `json:"existing_transcription_id"`
	LegacyDocRef            string     `json:"legacy_doc_ref"`
	NewContentSnippet       string     `json:"new_content_snippet"`
	ExistingContentSnippet  string     `json:"existing_content_snippet"`
	AnomalyType             string     `json:"anomaly_type"`
}

type conflictDetail struct {
	knowledge.Conflict
	NewTranscriptionTitle      string `json:"new_transcription_title"`
	ExistingTranscriptionTitle string `json:"existing_transcription_title,omitempty"`
}

// listConflicts serves the dashboard table. Filters narrow the rows but the stats
// always cover every conflict.
func (s *Server) listConflicts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseConflictFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conflicts, err := s.store.ListConflicts(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.store.ConflictStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []knowledge.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflictListResponse{Conflicts: conflicts, Stats: stats})
}

func (s *Server) conflictStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ConflictStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.store.GetConflict(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	detail := conflictDetail{Conflict: *c}
	if t, err := s.store.GetTranscript(r.Context(), c.NewTranscriptID); err == nil {
		detail.NewTranscriptionTitle = t.Title
	} else if !errors.Is(err, knowledge.ErrNotFound) {
		s.fail(w, r, err)
		return
	}
	if c.Existing.IsTranscript() {
		if t, err := s.store.GetTranscript(r.Context(), *c.Existing.TranscriptID); err == nil {
			detail.ExistingTranscriptionTitle = t.Title
		} else if !errors.Is(err, knowledge.ErrNotFound) {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) createConflict(w http.ResponseWriter, r *http.Request) {
	var req createConflictRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewTranscriptionID == nil {
		writeError(w, http.StatusBadRequest, "new_transcription_id is required")
		return
	}
	legacy := strings.TrimSpace(req.LegacyDocRef)
	if (req.ExistingTranscriptionID == nil) == (legacy == "") {
		writeError(w, http.StatusBadRequest, "exactly one of existing_transcription_id or legacy_doc_ref is required")
		return
	}
	if req.ExistingTranscriptionID != nil && *req.ExistingTranscriptionID == *req.NewTranscriptionID {
		writeError(w, http.StatusBadRequest, "a transcription cannot conflict with itself")
		return
	}
	if strings.TrimSpace(req.NewContentSnippet) == "" || strings.TrimSpace(req.ExistingContentSnippet) == "" {
		writeError(w, http.StatusBadRequest, "new_content_snippet and existing_content_snippet are required")
		return
	}
	anomaly, ok := knowledge.ParseAnomaly(req.AnomalyType)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown anomaly_type %q", req.AnomalyType))
		return
	}

	c := &knowledge.Conflict{
		NewTranscriptID: *req.NewTranscriptionID,
		NewSnippet:      req.NewContentSnippet,
		ExistingSnippet: req.ExistingContentSnippet,
		Anomaly:         anomaly,
	}
	if req.ExistingTranscriptionID != nil {
		c.Existing = knowledge.TranscriptRef(*req.ExistingTranscriptionID)
	} else {
		c.Existing = knowledge.LegacyDocRef(legacy)
	}

	created, err := s.coord.RaiseConflict(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, c)
}

func (s *Server) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	// resolution_text must be present; null means "delete the new snippet", so a
	// missing field is not allowed to mean the same thing.
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	raw, present := body["resolution_text"]
	if !present {
		writeError(w, http.StatusBadRequest, "resolution_text is required (use null to delete the snippet)")
		return
	}
	var resolution *string
	if err := json.Unmarshal(raw, &resolution); err != nil {
		writeError(w, http.StatusBadRequest, "resolution_text must be a string or null")
		return
	}

	out, err := s.coord.Resolve(r.Context(), id, resolution)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) rejectConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := s.coord.Reject(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// parseConflictFilter reads status, anomaly, search, sort and order. status and
// anomaly may repeat or hold comma-separated values.
func parseConflictFilter(q url.Values) (knowledge.ConflictFilter, error) {
	var f knowledge.ConflictFilter

	for _, v := range splitValues(q["status"]) {
		st, ok := parseConflictStatus(v)
		if !ok {
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, v := range splitValues(q["anomaly"]) {
		a, ok := knowledge.ParseAnomaly(v)
		if !ok {
			return f, fmt.Errorf("unknown anomaly %q", v)
		}
		f.Anomalies = append(f.Anomalies, a)
	}
	f.Search = strings.TrimSpace(q.Get("search"))

	switch sort := q.Get("sort"); sort {
	case "", knowledge.SortUpdatedAt:
		f.SortKey = knowledge.SortUpdatedAt
	case knowledge.SortFlaggedAt:
		f.SortKey = knowledge.SortFlaggedAt
	default:
		return f, fmt.Errorf("sort must be %s or %s", knowledge.SortUpdatedAt, knowledge.SortFlaggedAt)
	}
	switch order := strings.ToLower(q.Get("order")); order {
	case "", "desc":
		f.SortDesc = true
	case "asc":
	default:
		return f, fmt.Errorf("order must be asc or desc")
	}
	return f, nil
}

func splitValues(vs []string) []string {
	var out []string
	for _, v := range vs {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseConflictStatus accepts the display label or its short form.
func parseConflictStatus(v string) (knowledge.ConflictStatus, bool) {
	if st := knowledge.ConflictStatus(v); st.Valid() {
		return st, true
	}
	switch strings.ToLower(v) {
	case "pending", "pending_review":
		return knowledge.ConflictPending, true
	case "resolved", "merged":
		return knowledge.ConflictResolved, true
	case "rejected":
		return knowledge.ConflictRejected, true
	}
	return "", false
}
