package sync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// State holds the continuation token of each job between runs
type State struct {
	path   string
	mu     sync.RWMutex
	tokens map[string]string
}

func NewState(path string) *State {
	return &State{
		path:   path,
		tokens: make(map[string]string),
	}
}

func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No state file yet, that's ok
		}
		return err
	}

	return json.Unmarshal(data, &s.tokens)
}

// Save writes the tokens atomically through a temp file
func (s *State) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Ensure directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *State) GetToken(job string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[job]
}

// SetToken records the token to resume job from. An empty token clears it.
func (s *State) SetToken(job, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		delete(s.tokens, job)
		return
	}
	s.tokens[job] = token
}
