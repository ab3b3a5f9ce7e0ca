package inmemory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/jobs"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

func run(id string, c domain.Category, status jobs.RunStatus, started time.Time) *jobs.CycleRun {
	return &jobs.CycleRun{RunID: id, Category: c, Status: status, StartedAt: started}
}

func TestStore_SaveGetCopies(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()
	r := run("r1", domain.CategoryDeposit, jobs.RunStatusRunning, time.Now())
	require.NoError(t, s.SaveRun(ctx, r))

	r.Written = 99
	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Written)

	got.Status = jobs.RunStatusFailed
	again, _ := s.GetRun(ctx, "r1")
	assert.Equal(t, jobs.RunStatusRunning, again.Status)

	_, err = s.GetRun(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, s.SaveRun(ctx, &jobs.CycleRun{}))
}

func TestStore_ListNewestFirstWithFilters(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(ctx, run("a", domain.CategoryDeposit, jobs.RunStatusCompleted, base)))
	require.NoError(t, s.SaveRun(ctx, run("b", domain.CategoryWithdrawal, jobs.RunStatusFailed, base.Add(time.Minute))))
	require.NoError(t, s.SaveRun(ctx, run("c", domain.CategoryDeposit, jobs.RunStatusCompleted, base.Add(2*time.Minute))))

	all, err := s.ListRuns(ctx, jobs.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RunID)
	assert.Equal(t, "a", all[2].RunID)

	deposits, _ := s.ListRuns(ctx, jobs.RunFilter{Category: domain.CategoryDeposit})
	assert.Len(t, deposits, 2)

	failed, _ := s.ListRuns(ctx, jobs.RunFilter{Status: jobs.RunStatusFailed})
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].RunID)

	page, _ := s.ListRuns(ctx, jobs.RunFilter{Limit: 1, Offset: 1})
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].RunID)

	empty, _ := s.ListRuns(ctx, jobs.RunFilter{Offset: 10})
	assert.Empty(t, empty)
}

func TestStore_CapacityDropsOldest(t *testing.T) {
	s := NewStore(2)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(ctx, run(id, domain.CategoryDeposit, jobs.RunStatusCompleted, now)))
	}
	_, err := s.GetRun(ctx, "a")
	assert.Error(t, err)
	_, err = s.GetRun(ctx, "c")
	assert.NoError(t, err)
}

func TestQueue_RetriesUntilHandlerSucceeds(t *testing.T) {
	q := NewQueue(4, 1).WithRetry(3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := map[string]int{}
	require.NoError(t, q.Start(ctx, func(ctx context.Context, r *jobs.CycleRun) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[r.RunID]++
		if attempts[r.RunID] < 3 {
			return errors.New("bigquery unavailable")
		}
		return nil
	}))

	require.NoError(t, q.PublishRun(ctx, run("r1", domain.CategoryDeposit, jobs.RunStatusCompleted, time.Now())))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts["r1"] == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Stop(context.Background()))
	assert.Error(t, q.PublishRun(ctx, run("r2", domain.CategoryDeposit, jobs.RunStatusCompleted, time.Now())))
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := NewQueue(4, 2).WithRetry(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, q.Start(ctx, func(ctx context.Context, r *jobs.CycleRun) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("always")
	}))
	require.NoError(t, q.PublishRun(ctx, run("r1", domain.CategoryDeposit, jobs.RunStatusFailed, time.Now())))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
	require.NoError(t, q.Close())
}

func TestQueue_StopHandsBufferedRunsToHandler(t *testing.T) {
	q := NewQueue(10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []string
	require.NoError(t, q.Start(ctx, func(ctx context.Context, r *jobs.CycleRun) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, r.RunID)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, q.PublishRun(ctx, run(fmt.Sprintf("r%d", i), domain.CategoryDeposit, jobs.RunStatusCompleted, time.Now())))
	}
	require.NoError(t, q.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"r0", "r1", "r2", "r3", "r4"}, handled)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestQueue_LogsRetryDroppedAfterStop(t *testing.T) {
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), zerolog.New(out)))
	defer cancel()

	q := NewQueue(4, 1).WithRetry(3, 30*time.Millisecond)
	failed := make(chan struct{}, 1)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, r *jobs.CycleRun) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("bigquery unavailable")
	}))
	require.NoError(t, q.PublishRun(ctx, run("r1", domain.CategoryDeposit, jobs.RunStatusCompleted, time.Now())))

	<-failed
	require.NoError(t, q.Stop(context.Background()))

	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "Could not requeue cycle run") && strings.Contains(s, `"run_id":"r1"`)
	}, time.Second, 5*time.Millisecond)
}
