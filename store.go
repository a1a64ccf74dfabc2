package pyharbor

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the in-memory catalogue of known environments plus their
// last-used timestamps, persisted as a JSON array of Environment records.
//
// All mutations happen under one coarse lock, distinct from the interpreter
// gate: catalogue bookkeeping never touches the interpreter.
type Store struct {
	mu     sync.RWMutex
	path   string
	byPath map[string]*Environment
	byID   map[string]*Environment
}

// NewStore creates a store persisting to path. An empty path keeps the
// catalogue in memory only.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		byPath: make(map[string]*Environment),
		byID:   make(map[string]*Environment),
	}
}

// foldPath normalizes a path for case-insensitive identity.
func foldPath(p string) string {
	return strings.ToLower(filepath.Clean(p))
}

// Load reads the catalogue from disk. Loading is best-effort: a missing file
// yields an empty catalogue and nil error; a corrupt file yields an empty
// catalogue, a logged warning and ErrPersistenceCorrupt so the caller can
// report it, but never a hard failure.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Printf("pyharbor: reading catalogue %s: %v", s.path, err)
		return fmt.Errorf("%w: %v", ErrPersistenceCorrupt, err)
	}

	var envs []*Environment
	if err := json.Unmarshal(data, &envs); err != nil {
		log.Printf("pyharbor: catalogue %s is corrupt, starting empty: %v", s.path, err)
		return fmt.Errorf("%w: %v", ErrPersistenceCorrupt, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range envs {
		key := foldPath(env.Path)
		if _, dup := s.byPath[key]; dup {
			continue
		}
		s.byPath[key] = env
		s.byID[env.ID] = env
	}
	return nil
}

// Save writes the catalogue atomically (temp file, then rename).
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	envs := make([]*Environment, 0, len(s.byID))
	for _, env := range s.byID {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Path < envs[j].Path })
	data, err := json.MarshalIndent(envs, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding catalogue: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating catalogue directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing catalogue: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Register adds env to the catalogue. If an environment is already tracked
// at the same (case-insensitive) path, the tracked record is returned with
// existed=true and env is discarded.
func (s *Store) Register(env *Environment) (*Environment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := foldPath(env.Path)
	if existing, ok := s.byPath[key]; ok {
		return existing, true
	}
	s.byPath[key] = env
	s.byID[env.ID] = env
	return env, false
}

// ByPath returns the environment tracked at path, or nil.
func (s *Store) ByPath(path string) *Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath[foldPath(path)]
}

// ByID returns the environment with the given id, or nil.
func (s *Store) ByID(id string) *Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// List returns a snapshot of all tracked environments.
func (s *Store) List() []*Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	envs := make([]*Environment, 0, len(s.byID))
	for _, env := range s.byID {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Path < envs[j].Path })
	return envs
}

// Touch stamps the environment's last-used time.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env, ok := s.byID[id]; ok {
		env.LastUsed = time.Now()
	}
}

// SetPackages replaces an environment's cached installed-package list.
func (s *Store) SetPackages(id string, pkgs []PackageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env, ok := s.byID[id]; ok {
		env.Packages = pkgs
	}
}

// sessionIDs returns a copy of the session ids bound to an environment.
// Environment.SessionIDs belongs to the store's lock; readers outside it go
// through this accessor.
func (s *Store) sessionIDs(envID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.byID[envID]
	if !ok {
		return nil
	}
	return append([]string(nil), env.SessionIDs...)
}

// attachSession records a session id on its environment.
func (s *Store) attachSession(envID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[envID]
	if !ok {
		return
	}
	for _, id := range env.SessionIDs {
		if id == sessionID {
			return
		}
	}
	env.SessionIDs = append(env.SessionIDs, sessionID)
}

// detachSession removes a session id from its environment.
func (s *Store) detachSession(envID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[envID]
	if !ok {
		return
	}
	kept := env.SessionIDs[:0]
	for _, id := range env.SessionIDs {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	env.SessionIDs = kept
}

// Remove drops the environment from the catalogue.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	delete(s.byPath, foldPath(env.Path))
}
