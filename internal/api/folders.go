package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
)

type folderRequest struct {
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parent_id"`
}

func (s *Server) folderTree(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolders(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	counts, err := s.store.IntegratedCounts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tree := knowledge.BuildTree(folders, counts)
	if tree == nil {
		tree = []*knowledge.FolderNode{}
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	f := &knowledge.Folder{Name: name, ParentID: req.ParentID}
	if err := s.store.CreateFolder(r.Context(), f); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) renameFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req folderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ParentID != nil {
		writeError(w, http.StatusBadRequest, "folders cannot be moved")
		return
	}

	f, err := s.store.RenameFolder(r.Context(), id, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteFolder(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
