package sdk

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Durable storage keys. The layout mirrors what the web panel kept in localStorage.
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refreshToken"
	KeySession      = "user-store"
)

// DurableStore is the persistence backend for tokens and the session snapshot.
// Writes are last-write-wins; implementations need not coordinate across processes.
type DurableStore interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error
}

// SessionSnapshot is the structured record persisted under KeySession.
type SessionSnapshot struct {
	User            *Principal `json:"user"`
	Token           string     `json:"token"`
	RefreshToken    string     `json:"refreshToken"`
	IsAuthenticated bool       `json:"isAuthenticated"`
}

// LoadSnapshot reads the session snapshot from store. A missing snapshot yields (nil, nil).
func LoadSnapshot(store DurableStore) (*SessionSnapshot, error) {
	raw, ok, err := store.Get(KeySession)
	if err != nil {
		return nil, fmt.Errorf("read session snapshot: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var snap SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	return &snap, nil
}

func saveSnapshot(store DurableStore, snap SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	return store.Set(KeySession, string(data))
}

// MemoryStore is an in-process DurableStore, useful for tests and embedding.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ DurableStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
