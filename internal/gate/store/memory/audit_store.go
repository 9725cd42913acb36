package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gymgate/agent/internal/gate/store"
)

// AuditStore is an in-memory append-only auto-block log.
type AuditStore struct {
	mu       sync.Mutex
	entries  []store.AutoBlockLogEntry
	lastSync time.Time
	synced   bool
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(_ context.Context, e store.AutoBlockLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *AuditStore) Entries(_ context.Context) ([]store.AutoBlockLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AutoBlockLogEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *AuditStore) SetLastSync(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
	s.synced = true
	return nil
}

func (s *AuditStore) LastSync(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.synced, nil
}
