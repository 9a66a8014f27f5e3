package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State tracks progress so an interrupted import can be resumed without creating
// the same transcripts twice.
type State struct {
	StartedAt       time.Time       `json:"started_at"`
	LastProcessedAt time.Time       `json:"last_processed_at"`
	FilesProcessed  map[string]bool `json:"files_processed"`
	ContentHashes   map[string]bool `json:"content_hashes"`
	Imported        int             `json:"imported"`
	Errors          []string        `json:"errors"`

	path string
}

// LoadState reads the state file at path, or starts a fresh one if it does not
// exist. An empty path keeps the state in memory only.
func LoadState(path string) (*State, error) {
	fresh := &State{
		StartedAt:      time.Now().UTC(),
		FilesProcessed: make(map[string]bool),
		ContentHashes:  make(map[string]bool),
		path:           path,
	}
	if path == "" {
		return fresh, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if s.FilesProcessed == nil {
		s.FilesProcessed = make(map[string]bool)
	}
	if s.ContentHashes == nil {
		s.ContentHashes = make(map[string]bool)
	}
	s.path = path
	return &s, nil
}

// Save writes the state next to its final location and renames it into place.
func (s *State) Save() error {
	if s.path == "" {
		return nil
	}
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *State) IsProcessed(rel string) bool {
	return s.FilesProcessed[rel]
}

// MarkProcessed records a file and the hash of the text imported from it.
func (s *State) MarkProcessed(rel, hash string) {
	s.FilesProcessed[rel] = true
	if hash != "" {
		s.ContentHashes[hash] = true
	}
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}
