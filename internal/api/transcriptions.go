package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/integration"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

type createTranscriptRequest struct {
	Title   string `json:"title"`
	Purpose string `json:"purpose"`
	Text    string `json:"text"`
}

// updateTranscriptRequest is written by the cleanup pipeline. Status may only
// move among the pre-integration states; integration owns the rest.
type updateTranscriptRequest struct {
	Title   *string                     `json:"title"`
	Purpose *string                     `json:"purpose"`
	Text    *string                     `json:"text"`
	Status  *knowledge.TranscriptStatus `json:"status"`
}

type finalizeRequest struct {
	FolderID *uuid.UUID `json:"folder_id"`
	Title    *string    `json:"title"`
	Purpose  *string    `json:"purpose"`
	Text     *string    `json:"text"`
}

type acceptedResponse struct {
	TranscriptionID uuid.UUID                  `json:"transcription_id"`
	Status          knowledge.TranscriptStatus `json:"status"`
}

func (s *Server) createTranscript(w http.ResponseWriter, r *http.Request) {
	var req createTranscriptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	t := &knowledge.Transcript{
		Title:   req.Title,
		Purpose: req.Purpose,
		Text:    req.Text,
		Status:  knowledge.StatusDraft,
	}
	if err := s.store.CreateTranscript(r.Context(), t); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := s.store.GetTranscript(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateTranscriptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != nil {
		switch *req.Status {
		case knowledge.StatusProcessing, knowledge.StatusDraft, knowledge.StatusAwaitingApproval:
		default:
			writeError(w, http.StatusBadRequest, "status must be Processing, Draft or Awaiting Approval")
			return
		}
	}

	t, err := s.store.PatchTranscript(r.Context(), id, knowledge.TranscriptPatch{
		Title:   req.Title,
		Purpose: req.Purpose,
		Text:    req.Text,
		Status:  req.Status,
		From:    knowledge.EditableStatuses(),
	})
	if errors.Is(err, knowledge.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, "transcription is being checked for conflicts")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.coord.DeleteTranscript(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pendingReviews(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListTranscriptsByStatus(r.Context(),
		knowledge.StatusDraft,
		knowledge.StatusAwaitingApproval,
		knowledge.StatusError,
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []knowledge.Transcript{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) finalizeIntegration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req finalizeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FolderID == nil {
		writeError(w, http.StatusBadRequest, "folder_id is required")
		return
	}

	t, err := s.coord.Finalize(r.Context(), id, integration.FinalizeRequest{
		FolderID: *req.FolderID,
		Title:    req.Title,
		Purpose:  req.Purpose,
		Text:     req.Text,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{TranscriptionID: t.ID, Status: t.Status})
}

func (s *Server) recheck(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := s.coord.Recheck(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{TranscriptionID: t.ID, Status: t.Status})
}
