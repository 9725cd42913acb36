package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gymgate/agent/internal/gate/store"
)

// TemplateStore keeps snapshots in a mutex-guarded map.
type TemplateStore struct {
	mu   sync.RWMutex
	data map[string]store.TemplateBackup
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{data: make(map[string]store.TemplateBackup)}
}

func (s *TemplateStore) Get(_ context.Context, userID string) (store.TemplateBackup, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[userID]
	if !ok {
		return store.TemplateBackup{}, false, nil
	}
	return copyBackup(b), true, nil
}

func (s *TemplateStore) Put(_ context.Context, b store.TemplateBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[b.UserID] = copyBackup(b)
	return nil
}

func (s *TemplateStore) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[userID]
	delete(s.data, userID)
	return ok, nil
}

func (s *TemplateStore) Has(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[userID]
	return ok, nil
}

func (s *TemplateStore) List(_ context.Context) ([]store.TemplateBackup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.TemplateBackup, 0, len(s.data))
	for _, b := range s.data {
		out = append(out, copyBackup(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// copyBackup deep-copies template payloads so callers cannot mutate
// stored state through the returned slices.
func copyBackup(b store.TemplateBackup) store.TemplateBackup {
	items := make([]store.TemplateItem, len(b.Templates))
	for i, t := range b.Templates {
		payload := make([]byte, len(t.Payload))
		copy(payload, t.Payload)
		t.Payload = payload
		items[i] = t
	}
	b.Templates = items
	return b
}
