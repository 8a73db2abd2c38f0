// Package resume persists the minimum state needed to restore the account
// session after a daemon restart: the account id and its refresh token,
// sealed at rest. Restoring still goes through the identity provider, so a
// token revoked while the daemon was down stays dead.
package resume

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mklatt/sessiondeck/internal/crypto"
)

// State is what survives a restart.
type State struct {
	AccountID    string `json:"account_id"`
	RefreshToken string `json:"refresh_token"`
}

// Store reads and writes the sealed state file. Safe for concurrent use.
type Store struct {
	path   string
	sealer crypto.Sealer
	mu     sync.Mutex
}

func NewStore(path string, sealer crypto.Sealer) *Store {
	return &Store{path: path, sealer: sealer}
}

// Save replaces the state file atomically.
func (s *Store) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal resume state: %w", err)
	}

	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("failed to seal resume state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("failed to write resume state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace resume state: %w", err)
	}
	return nil
}

// Load returns the persisted state, or nil when there is none. An unreadable
// or tampered file counts as none: resuming is best-effort and the user can
// always log in again.
func (s *Store) Load() *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	plain, err := s.sealer.Open(string(sealed))
	if err != nil {
		return nil
	}

	var state State
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil
	}
	if state.RefreshToken == "" {
		return nil
	}
	return &state
}

// Clear removes the state file. Missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove resume state: %w", err)
	}
	return nil
}
