package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tmachat/pkg/logging"
)

// TokenKey is the single key under which the session token is persisted,
// in whichever backend is active.
const TokenKey = "access_token"

// DefaultStorageDir is the default directory for the local fallback
// store, relative to the user's home directory.
const DefaultStorageDir = ".config/tmachat"

// Store is durable key/value persistence for the session token.
//
// Implementations make a single attempt per call; they do not retry.
// Get must not fail spuriously: an empty string with a nil error means
// no token is stored.
type Store interface {
	Get() (string, error)
	Set(token string) error
	Remove() error
}

// CloudStorage models the host platform's key/value bridge (the Mini App
// cloud storage). Availability is probed once at store construction; a
// runtime that provides no bridge reports Available() == false.
type CloudStorage interface {
	Available() bool
	GetItem(key string) (string, error)
	SetItem(key, value string) error
	DeleteItem(key string) error
}

// NewStore selects the token storage backend: the platform cloud store
// when one is available, the fallback otherwise. Errors from the cloud
// store are caught and routed to the fallback on every operation, so a
// write is never silently lost to a platform-store failure.
func NewStore(cloud CloudStorage, fallback Store) Store {
	if cloud != nil && cloud.Available() {
		logging.Debug("Session", "Using platform cloud storage for token persistence")
		return &cloudStore{cloud: cloud, fallback: fallback}
	}
	logging.Debug("Session", "Platform cloud storage unavailable, using local store")
	return fallback
}

// cloudStore reads and writes the platform store, falling back to the
// local store on any error.
type cloudStore struct {
	cloud    CloudStorage
	fallback Store
}

func (s *cloudStore) Get() (string, error) {
	token, err := s.cloud.GetItem(TokenKey)
	if err != nil {
		logging.Warn("Session", "Cloud storage read failed, falling back to local store: %v", err)
		return s.fallback.Get()
	}
	return token, nil
}

func (s *cloudStore) Set(token string) error {
	if err := s.cloud.SetItem(TokenKey, token); err != nil {
		logging.Warn("Session", "Cloud storage write failed, falling back to local store: %v", err)
		return s.fallback.Set(token)
	}
	return nil
}

func (s *cloudStore) Remove() error {
	if err := s.cloud.DeleteItem(TokenKey); err != nil {
		logging.Warn("Session", "Cloud storage delete failed, falling back to local store: %v", err)
		return s.fallback.Remove()
	}
	return nil
}

// FileStore is the local fallback store. The token lives in a single
// file under an owner-only directory.
//
// SECURITY: the token file is created with 0600 permissions and the
// directory with 0700, owner read/write only.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a file store rooted at dir. An empty dir selects
// the default location under the user's home directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, DefaultStorageDir)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

// Get reads the stored token. A missing file means no token.
func (s *FileStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.tokenPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Set writes the token with restricted permissions.
func (s *FileStore) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.tokenPath(), []byte(token), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Remove deletes the stored token. Removing an absent token is not an
// error.
func (s *FileStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.tokenPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) tokenPath() string {
	return filepath.Join(s.dir, TokenKey)
}

// MemoryStore is an in-memory Store, used as the fallback in tests and
// in embedded host integrations that manage persistence themselves.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryStore) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
