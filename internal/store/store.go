// Package store provides the file-backed implementations of the
// account, program, and workout collaborator interfaces. Everything is
// plain JSON under a data directory:
//
//	<dataDir>/users.json
//	<dataDir>/users/<id>/programs.json
//	<dataDir>/users/<id>/workouts.json
//	<dataDir>/users/<id>/settings.json
package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Store is the shared root for all file-backed stores. A single mutex
// serializes file access; the data volumes here are tiny.
type Store struct {
	dataDir string
	logger  *log.Logger
	mu      sync.Mutex
}

// New creates a Store rooted at dataDir, creating the directory layout
// if needed.
func New(dataDir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		panic("Store: logger cannot be nil")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "users"), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dataDir: dataDir, logger: logger}, nil
}

func (s *Store) usersFile() string {
	return filepath.Join(s.dataDir, "users.json")
}

// UserDir returns a user's data directory. Collaborators that keep
// their own files (Strava credentials, exports) root them here.
func (s *Store) UserDir(userID string) string {
	return filepath.Join(s.dataDir, "users", userID)
}

func (s *Store) userDir(userID string) string {
	return s.UserDir(userID)
}

func (s *Store) userFile(userID, name string) string {
	return filepath.Join(s.userDir(userID), name)
}

// readJSON loads a JSON file into out. A missing file leaves out
// untouched and returns no error.
func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// newID returns a short random hex id.
func newID() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
