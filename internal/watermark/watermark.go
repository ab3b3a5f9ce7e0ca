// Package watermark keeps the per-category approval timestamp that the next
// cycle uses as its date floor.
package watermark

import (
	"sync"
	"time"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

// Store is safe for concurrent use. Values only ever move forward.
type Store struct {
	mu    sync.RWMutex
	marks map[domain.Category]time.Time
}

// NewStore creates a store with no watermarks.
func NewStore() *Store {
	return &Store{marks: make(map[domain.Category]time.Time)}
}

// Get returns the watermark for c, or nil if none was recorded.
func (s *Store) Get(c domain.Category) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.marks[c]
	if !ok {
		return nil
	}
	return &t
}

// Advance sets the watermark for c to t if t is later than the current one.
// It reports whether the stored value changed.
func (s *Store) Advance(c domain.Category, t *time.Time) bool {
	if t == nil || t.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.marks[c]
	if ok && !t.After(cur) {
		return false
	}
	s.marks[c] = *t
	return true
}

// Snapshot returns a copy of all watermarks.
func (s *Store) Snapshot() map[domain.Category]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Category]time.Time, len(s.marks))
	for k, v := range s.marks {
		out[k] = v
	}
	return out
}
