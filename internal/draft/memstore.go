package draft

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store for tests and in-process servers.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Entry)}
}

func (s *MemStore) Save(entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.TaskID] = entry
	return nil
}

func (s *MemStore) Load(taskID string) (Entry, bool, error) {
	if strings.TrimSpace(taskID) == "" {
		return Entry{}, false, errors.New("taskID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[taskID]
	return entry, ok, nil
}

func (s *MemStore) Clear(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, taskID)
	return nil
}

func (s *MemStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
