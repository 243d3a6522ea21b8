package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/terraconstructs/panel/pkg/sdk"
)

const sessionFile = "session.json"

// FileStore implements sdk.DurableStore as a flat JSON object in a file.
// This is the CLI's session persistence: tokens and the session snapshot
// live side by side under the keys the SDK chooses.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithLogger sets the logger used to report a discarded session file.
func WithLogger(logger *zap.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// corruptFileError reports a session file that exists but does not decode.
type corruptFileError struct {
	path string
	err  error
}

func (e *corruptFileError) Error() string {
	return fmt.Sprintf("failed to unmarshal session file %s: %v", e.path, e.err)
}

func (e *corruptFileError) Unwrap() error { return e.err }

// Ensure FileStore implements sdk.DurableStore at compile time.
var _ sdk.DurableStore = (*FileStore)(nil)

// DefaultPath returns ~/.panel/session.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".panel", sessionFile), nil
}

// NewFileStore creates a FileStore at path, or at DefaultPath when path is empty.
// The parent directory is created with owner-only permissions.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	s := &FileStore{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, _, err := s.loadForWrite()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// Delete removes key. The file itself is removed once it holds nothing.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, discarded, err := s.loadForWrite()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok && !discarded {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, &corruptFileError{path: s.path, err: err}
	}
	return values, nil
}

// loadForWrite is load for mutations. An undecodable file is discarded and
// reported as empty so that logout and the next login can recover from it.
func (s *FileStore) loadForWrite() (map[string]string, bool, error) {
	values, err := s.load()
	var corrupt *corruptFileError
	if errors.As(err, &corrupt) {
		s.logger.Warn("discarding unreadable session file", zap.String("path", s.path), zap.Error(corrupt.err))
		return map[string]string{}, true, nil
	}
	return values, false, err
}

// save writes values through a temp file and rename so a crash never leaves a
// truncated session behind.
func (s *FileStore) save(values map[string]string) error {
	if len(values) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove session file: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
