package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/txn-harvester/internal/jobs"
)

// Store is an in-memory implementation of RunStore.
// It keeps at most capacity runs, dropping the oldest, and is safe for
// concurrent use. Data is lost on restart; durable history goes through a
// Publisher.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]*jobs.CycleRun
	order    []string
	capacity int
}

// NewStore creates a new in-memory run store. capacity <= 0 means 500.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 500
	}
	return &Store{
		runs:     make(map[string]*jobs.CycleRun),
		capacity: capacity,
	}
}

// SaveRun implements the RunStore interface.
func (s *Store) SaveRun(ctx context.Context, run *jobs.CycleRun) error {
	if run.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; !exists {
		s.order = append(s.order, run.RunID)
		if len(s.order) > s.capacity {
			delete(s.runs, s.order[0])
			s.order = s.order[1:]
		}
	}

	// Create a copy to avoid external modifications
	runCopy := *run
	s.runs[run.RunID] = &runCopy

	return nil
}

// GetRun implements the RunStore interface.
func (s *Store) GetRun(ctx context.Context, runID string) (*jobs.CycleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	// Return a copy to avoid external modifications
	runCopy := *run
	return &runCopy, nil
}

// ListRuns implements the RunStore interface. Runs come back newest first.
func (s *Store) ListRuns(ctx context.Context, filter jobs.RunFilter) ([]*jobs.CycleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.CycleRun

	for _, run := range s.runs {
		// Apply filters
		if filter.Category != "" && run.Category != filter.Category {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}

		runCopy := *run
		result = append(result, &runCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	// Apply limit and offset
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.CycleRun{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Ensure Store implements RunStore interface.
var _ jobs.RunStore = (*Store)(nil)
