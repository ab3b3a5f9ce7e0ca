// Package runner repeats sync cycles per category until stopped. Each
// category carries its watermark forward and backs off on its own.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/txn-harvester/internal/dedup"
	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/filter"
	"github.com/dvloznov/txn-harvester/internal/jobs"
	"github.com/dvloznov/txn-harvester/internal/jobs/inmemory"
	"github.com/dvloznov/txn-harvester/internal/ledger"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/pipeline"
	"github.com/dvloznov/txn-harvester/internal/watermark"
)

// State is the lifecycle state of a Runner.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Cycler runs one sync cycle. *pipeline.Cycle implements it.
type Cycler interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Config wires a Runner. Ledger is only read at Start to seed Dedup.
type Config struct {
	Cycle      Cycler
	Dedup      *dedup.Store
	Watermarks *watermark.Store
	Ledger     ledger.Ledger
	KeyColumn  string

	// Runs keeps cycle history for the operator API. Defaults to an
	// in-memory store.
	Runs jobs.RunStore
	// Publisher, when set, receives every finished run.
	Publisher jobs.Publisher

	Interval time.Duration
	Cooldown time.Duration

	Now func() time.Time
}

// StartOptions are the initial filters of a run.
type StartOptions struct {
	// DateFloor is used for a category until it has a watermark.
	DateFloor *time.Time
	// Categories defaults to deposits then withdrawals.
	Categories []domain.Category
	Sort       filter.SortOrder
}

// Runner owns the worker goroutine. All methods are safe for concurrent use.
type Runner struct {
	cfg Config

	mu         sync.Mutex
	state      State
	cancel     context.CancelFunc
	done       chan struct{}
	opts       StartOptions
	startedAt  *time.Time
	cycles     int
	categories map[domain.Category]*categoryState
	lastErr    string
	lastErrAt  *time.Time

	wake chan struct{}
}

type categoryState struct {
	written, skipped, failed, runs int
	halted                         bool
	lastErr                        string
	notBefore                      time.Time
}

// New creates a stopped Runner. Interval defaults to 5 minutes, Cooldown to
// one minute.
func New(cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Runs == nil {
		cfg.Runs = inmemory.NewStore(0)
	}
	if cfg.Dedup == nil {
		cfg.Dedup = dedup.NewStore()
	}
	if cfg.Watermarks == nil {
		cfg.Watermarks = watermark.NewStore()
	}
	if cfg.KeyColumn == "" {
		cfg.KeyColumn = ledger.DefaultLayout().KeyColumn
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	done := make(chan struct{})
	close(done)
	return &Runner{
		cfg:        cfg,
		state:      StateStopped,
		done:       done,
		categories: make(map[domain.Category]*categoryState),
		wake:       make(chan struct{}, 1),
	}
}

// Start seeds the dedup store from the ledger and launches the loop. ctx
// bounds the runner's lifetime, so it must outlive the caller's request.
// Starting a running Runner logs a warning and does nothing.
func (r *Runner) Start(ctx context.Context, opts StartOptions) error {
	log := logger.FromContext(ctx)

	r.mu.Lock()
	if r.state != StateStopped {
		state := r.state
		r.mu.Unlock()
		log.Warn().Str("state", string(state)).Msg("Runner already active, ignoring start")
		return nil
	}
	if len(opts.Categories) == 0 {
		opts.Categories = domain.Categories
	}
	for _, c := range opts.Categories {
		if !c.Valid() {
			r.mu.Unlock()
			return fmt.Errorf("Start: invalid category %q", c)
		}
	}
	r.state = StateStarting
	r.opts = opts
	for _, c := range opts.Categories {
		cs := r.category(c)
		cs.halted = false
		cs.notBefore = time.Time{}
	}
	r.mu.Unlock()

	if r.cfg.Ledger != nil {
		keys, err := r.cfg.Ledger.LoadExistingKeys(ctx, r.cfg.KeyColumn)
		if err != nil {
			r.setState(StateStopped)
			return fmt.Errorf("Start: loading ledger keys: %w", err)
		}
		r.cfg.Dedup.Seed(keys)
		log.Info().Int("keys", len(keys)).Msg("Seeded delivered identities from ledger")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	now := r.cfg.Now()

	r.mu.Lock()
	if r.state == StateStopping {
		r.state = StateStopped
		r.mu.Unlock()
		cancel()
		log.Info().Msg("Runner stopped while starting")
		return nil
	}
	r.cancel = cancel
	r.done = done
	r.startedAt = &now
	r.state = StateRunning
	r.mu.Unlock()

	go r.loop(loopCtx, done)

	log.Info().
		Dur("interval", r.cfg.Interval).
		Dur("cooldown", r.cfg.Cooldown).
		Msg("Runner started")
	return nil
}

// Stop cancels the loop and returns without waiting for it to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning && r.state != StateStarting {
		return
	}
	r.state = StateStopping
	if r.cancel != nil {
		r.cancel()
	}
}

// Wait blocks until the loop has exited or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current loop exits. It is already closed when the
// runner was never started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// IsRunning reports whether the loop is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRunning || r.state == StateStarting
}

// CycleCount is the number of rounds that ran at least one cycle.
func (r *Runner) CycleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// ResetProcessedIdentities forgets identities delivered by this process.
// Identities loaded from the ledger stay known.
func (r *Runner) ResetProcessedIdentities(ctx context.Context) {
	r.cfg.Dedup.ResetSession()
	log := logger.FromContext(ctx)
	log.Info().Msg("Session identities cleared")
}

// ResumeCategory lifts the halt a locked ledger put on c. It reports whether
// c was halted.
func (r *Runner) ResumeCategory(ctx context.Context, c domain.Category) bool {
	r.mu.Lock()
	cs, ok := r.categories[c]
	if !ok || !cs.halted {
		r.mu.Unlock()
		return false
	}
	cs.halted = false
	cs.notBefore = time.Time{}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	log := logger.FromContext(ctx)
	log.Info().Str("category", string(c)).Msg("Category resumed")
	return true
}

// Runs returns recent cycle runs, newest first.
func (r *Runner) Runs(ctx context.Context, f jobs.RunFilter) ([]*jobs.CycleRun, error) {
	return r.cfg.Runs.ListRuns(ctx, f)
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// category returns the state for c, creating it. Callers hold r.mu.
func (r *Runner) category(c domain.Category) *categoryState {
	cs, ok := r.categories[c]
	if !ok {
		cs = &categoryState{}
		r.categories[c] = cs
	}
	return cs
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	ctx = logger.WithComponent(ctx, "runner")
	log := logger.FromContext(ctx)

	defer func() {
		r.mu.Lock()
		r.state = StateStopped
		r.cancel = nil
		r.mu.Unlock()
		close(done)
		log.Info().Msg("Runner stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		due := r.dueCategories()
		if len(due) > 0 {
			r.mu.Lock()
			r.cycles++
			round := r.cycles
			r.mu.Unlock()

			for _, c := range due {
				if ctx.Err() != nil {
					return
				}
				r.runCategory(ctx, round, c)
			}
		}

		if err := r.sleep(ctx, r.untilNextDue()); err != nil {
			return
		}
	}
}

// dueCategories lists, in configured order, the categories that are neither
// halted nor backing off.
func (r *Runner) dueCategories() []domain.Category {
	now := r.cfg.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.Category
	for _, c := range r.opts.Categories {
		cs := r.category(c)
		if cs.halted || now.Before(cs.notBefore) {
			continue
		}
		due = append(due, c)
	}
	return due
}

// untilNextDue is the wait until the earliest non-halted category is due.
// With every category halted it waits a full interval.
func (r *Runner) untilNextDue() time.Duration {
	now := r.cfg.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var next time.Time
	for _, c := range r.opts.Categories {
		cs := r.category(c)
		if cs.halted {
			continue
		}
		if next.IsZero() || cs.notBefore.Before(next) {
			next = cs.notBefore
		}
	}
	if next.IsZero() {
		return r.cfg.Interval
	}
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}

// sleep waits for d, an operator wake-up or cancellation.
func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	log := logger.FromContext(ctx)
	log.Debug().Dur("sleep", d).Msg("Waiting for next cycle")

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.wake:
		return nil
	case <-t.C:
		return nil
	}
}

func (r *Runner) runCategory(ctx context.Context, round int, c domain.Category) {
	log := logger.FromContext(ctx).With().Str("category", string(c)).Int("round", round).Logger()
	ctx = logger.WithContext(ctx, log)

	floor := r.cfg.Watermarks.Get(c)
	if floor == nil {
		floor = r.opts.DateFloor
	}

	run := &jobs.CycleRun{
		RunID:     uuid.NewString(),
		Round:     round,
		Category:  c,
		DateFloor: floor,
		Status:    jobs.RunStatusRunning,
		StartedAt: r.cfg.Now(),
	}
	r.saveRun(ctx, run)

	res, err := r.cfg.Cycle.Run(ctx, pipeline.Request{Category: c, DateFloor: floor, Sort: r.opts.Sort})
	if res == nil {
		res = &pipeline.Result{}
	}

	finished := r.cfg.Now()
	run.FinishedAt = &finished
	run.Written, run.Skipped, run.Failed, run.Pages = res.Written, res.Skipped, res.Failed, res.Pages
	run.NewWatermark = res.NewWatermark

	if res.Written > 0 && r.cfg.Watermarks.Advance(c, res.NewWatermark) {
		log.Info().Time("watermark", *res.NewWatermark).Msg("Watermark advanced")
	}

	r.mu.Lock()
	cs := r.category(c)
	cs.runs++
	cs.written += res.Written
	cs.skipped += res.Skipped
	cs.failed += res.Failed
	cs.notBefore = finished.Add(r.cfg.Interval)
	r.mu.Unlock()

	switch {
	case err == nil:
		run.Status = jobs.RunStatusCompleted
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		run.Status = jobs.RunStatusCancelled
		run.Error = err.Error()
	default:
		run.Status = jobs.RunStatusFailed
		run.Error = err.Error()
		r.recordFailure(log, c, err, finished)
	}

	r.saveRun(ctx, run)
	if r.cfg.Publisher != nil && run.Status != jobs.RunStatusCancelled {
		if err := r.cfg.Publisher.PublishRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("Could not publish cycle run")
		}
	}
}

func (r *Runner) recordFailure(log zerolog.Logger, c domain.Category, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs := r.category(c)
	cs.lastErr = err.Error()
	r.lastErr = err.Error()
	r.lastErrAt = &at

	switch {
	case errors.Is(err, ledger.ErrLocked):
		cs.halted = true
		log.Error().Err(err).Msg("Ledger is locked, halting category until resumed")
	default:
		cs.notBefore = at.Add(r.cfg.Cooldown)
		log.Error().Err(err).Dur("cooldown", r.cfg.Cooldown).Msg("Cycle failed, cooling down")
	}
}

func (r *Runner) saveRun(ctx context.Context, run *jobs.CycleRun) {
	if err := r.cfg.Runs.SaveRun(ctx, run); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", run.RunID).Msg("Could not save cycle run")
	}
}
