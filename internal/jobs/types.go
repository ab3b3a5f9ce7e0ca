package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

// RunStatus represents the current status of a cycle run.
type RunStatus string

const (
	// RunStatusRunning indicates the cycle is in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates the cycle finished without error.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the cycle ended with an error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the runner was stopped mid-cycle.
	RunStatusCancelled RunStatus = "cancelled"
)

// CycleRun is the record of one sync cycle.
type CycleRun struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// Round is the runner cycle count the run belongs to.
	Round int `json:"round"`

	Category domain.Category `json:"category"`

	// DateFloor is the filter input; NewWatermark the cycle's output.
	DateFloor    *time.Time `json:"date_floor,omitempty"`
	NewWatermark *time.Time `json:"new_watermark,omitempty"`

	Status RunStatus `json:"status"`

	Written int `json:"written"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Pages   int `json:"pages"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error contains error details if the run failed.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *CycleRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore defines the interface for storing and retrieving cycle runs.
type RunStore interface {
	// SaveRun saves or updates a run.
	SaveRun(ctx context.Context, run *CycleRun) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*CycleRun, error)

	// ListRuns retrieves runs, newest first, with optional filtering.
	ListRuns(ctx context.Context, filter RunFilter) ([]*CycleRun, error)
}

// RunFilter defines filtering criteria for listing runs.
type RunFilter struct {
	// Category filters runs by category.
	Category domain.Category

	// Status filters runs by status.
	Status RunStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Publisher hands finished runs to a durable sink without blocking the
// caller on it.
type Publisher interface {
	// PublishRun enqueues a finished run.
	PublishRun(ctx context.Context, run *CycleRun) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer drains published runs.
type Consumer interface {
	// Start begins consuming runs from the queue.
	// The handler function is called for each run received.
	Start(ctx context.Context, handler RunHandler) error

	// Stop stops consuming runs and waits for in-flight ones to complete.
	Stop(ctx context.Context) error
}

// RunHandler persists one run. A returned error makes the queue retry.
type RunHandler func(ctx context.Context, run *CycleRun) error
