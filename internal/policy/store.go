package policy

import (
	"fmt"
	"sync"
)

// Store holds the live policy for long-running surfaces and swaps it
// atomically on reload. A failed reload keeps the previous policy.
type Store struct {
	path      string
	overrides Overrides

	mu   sync.RWMutex
	cfg  *PolicyConfig
	hash string
}

// NewStore loads path and applies overrides on top of it.
func NewStore(path string, overrides Overrides) (*Store, error) {
	s := &Store{path: path, overrides: overrides}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the policy file.
func (s *Store) Reload() error {
	cfg, hash, err := LoadConfigWithHash(s.path)
	if err != nil {
		return fmt.Errorf("policy: reload %s: %w", s.path, err)
	}
	cfg = cfg.WithOverrides(s.overrides)

	s.mu.Lock()
	s.cfg = cfg
	s.hash = hash
	s.mu.Unlock()
	return nil
}

// Current returns the live config and the hash of the file it came from.
// The config must not be modified.
func (s *Store) Current() (*PolicyConfig, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.hash
}

// Path returns the watched file path.
func (s *Store) Path() string { return s.path }
