package remote

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// TokenStore holds the bearer/refresh token pair for the remote service.
// It is the Go analog of the browser's local-storage token store: the API
// client consumes it, session teardown clears it.
type TokenStore interface {
	// Tokens returns the current access and refresh tokens; empty strings
	// mean no session
	Tokens() (access, refresh string)

	// SetTokens replaces both tokens
	SetTokens(access, refresh string) error

	// Clear removes the stored tokens, ending the session
	Clear() error
}

// MemoryTokenStore keeps tokens in process memory
type MemoryTokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryTokenStore creates an in-memory token store, optionally seeded
func NewMemoryTokenStore(access, refresh string) *MemoryTokenStore {
	return &MemoryTokenStore{access: access, refresh: refresh}
}

func (s *MemoryTokenStore) Tokens() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.refresh
}

func (s *MemoryTokenStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	return s.SetTokens("", "")
}

// FileTokenStore persists tokens to a JSON file so sessions survive restarts
type FileTokenStore struct {
	mu   sync.Mutex
	path string

	access  string
	refresh string
	loaded  bool
}

// NewFileTokenStore creates a file-backed token store at path. The file is
// created on first SetTokens; a missing file means no session.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *FileTokenStore) Tokens() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.access, s.refresh
}

func (s *FileTokenStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	s.loaded = true

	data, err := json.Marshal(tokenFile{AccessToken: access, RefreshToken: refresh})
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	s.loaded = true

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// loadLocked reads the token file once; callers hold s.mu
func (s *FileTokenStore) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return
	}
	s.access = tf.AccessToken
	s.refresh = tf.RefreshToken
}
