package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gymgate/agent/internal/gate/store"
)

// MembershipStore keeps member records in a mutex-guarded map.  It is
// intended for tests and dev environments.
type MembershipStore struct {
	mu   sync.RWMutex
	data map[string]store.MemberRecord
}

func NewMembershipStore() *MembershipStore {
	return &MembershipStore{data: make(map[string]store.MemberRecord)}
}

func (s *MembershipStore) Get(_ context.Context, userID string) (store.MemberRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[userID]
	return rec, ok, nil
}

func (s *MembershipStore) Put(_ context.Context, rec store.MemberRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.UserID] = rec
	return nil
}

func (s *MembershipStore) List(_ context.Context) ([]store.MemberRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.MemberRecord, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
