// Package dedup tracks which transaction identities have already reached the
// ledger, split into the set read back from the ledger and the set written by
// this process.
package dedup

import (
	"sync"

	"github.com/patrickmn/go-cache"
)

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	persisted map[string]struct{}

	// session entries never expire; only ResetSession drops them.
	session *cache.Cache
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		persisted: make(map[string]struct{}),
		session:   cache.New(cache.NoExpiration, 0),
	}
}

// Seed replaces the persisted set with keys loaded from the ledger.
func (s *Store) Seed(keys []string) {
	next := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			next[k] = struct{}{}
		}
	}

	s.mu.Lock()
	s.persisted = next
	s.mu.Unlock()
}

// IsDelivered reports whether id is in either set. Empty ids are never delivered.
func (s *Store) IsDelivered(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.session.Get(id); ok {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.persisted[id]
	return ok
}

// MarkDelivered records ids in the session set.
func (s *Store) MarkDelivered(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s.session.Set(id, struct{}{}, cache.NoExpiration)
		}
	}
}

// ResetSession clears the session set. The persisted set is kept.
func (s *Store) ResetSession() {
	s.session.Flush()
}

// Counts returns the sizes of the persisted and session sets.
func (s *Store) Counts() (persisted, session int) {
	s.mu.RLock()
	persisted = len(s.persisted)
	s.mu.RUnlock()
	return persisted, s.session.ItemCount()
}
