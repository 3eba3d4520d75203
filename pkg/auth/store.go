package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store persists the AuthSession across runs as a JSON file. It is loaded once
// at startup and cleared on logout; a missing file means logged out.
type Store struct {
	path string

	mu  sync.Mutex
	cur *AuthSession
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the credentials file location under the user's home
// directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".parley", "auth.json"), nil
}

// Load reads the persisted AuthSession. A missing file yields (nil, nil).
func (s *Store) Load() (*AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cur = nil
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read credentials %s", s.path)
	}
	var as AuthSession
	if err := json.Unmarshal(data, &as); err != nil {
		// A corrupt credentials file is equivalent to being logged out.
		log.Warn().Err(err).Str("path", s.path).Msg("discarding unreadable credentials file")
		s.cur = nil
		return nil, nil
	}
	if as.Token == "" {
		s.cur = nil
		return nil, nil
	}
	s.cur = &as
	return &as, nil
}

// Token returns the current bearer token, or "" when logged out. It is read
// by every outbound request at the moment of sending.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.Token
}

// Current returns the in-memory AuthSession without touching disk.
func (s *Store) Current() *AuthSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Save persists the AuthSession and makes it current.
func (s *Store) Save(as *AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if as == nil || as.Token == "" {
		return errors.New("refusing to save empty auth session")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create credentials directory")
	}
	data, err := json.MarshalIndent(as, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal auth session")
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write credentials %s", s.path)
	}
	s.cur = as
	return nil
}

// Clear removes the persisted AuthSession. Clearing an already-empty store is
// not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove credentials %s", s.path)
	}
	return nil
}
