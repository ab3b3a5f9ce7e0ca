package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/filter"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

// PipelineStep represents a single step of a sync cycle.
type PipelineStep interface {
	Execute(ctx context.Context, state *CycleState) error
}

// CycleState holds the shared state across all cycle steps.
type CycleState struct {
	Request Request
	Result  *Result

	// seen holds the row keys visited this cycle; pages that bring nothing
	// unseen end pagination.
	seen map[string]bool
}

func newCycleState(req Request) *CycleState {
	return &CycleState{
		Request: req,
		Result:  &Result{SkipReasons: make(map[SkipReason]int)},
		seen:    make(map[string]bool),
	}
}

// Step 1: EnsureSessionStep logs in when the session is no longer valid.
type EnsureSessionStep struct {
	cycle *Cycle
}

func (s *EnsureSessionStep) Execute(ctx context.Context, state *CycleState) error {
	c := s.cycle
	if c.cfg.Renderer.IsSessionValid(ctx) {
		return nil
	}

	log := logger.FromContext(ctx)
	log.Info().Msg("Session invalid, logging in")

	if c.auth == nil {
		return fmt.Errorf("EnsureSession: renderer cannot log in: %w", ErrSession)
	}
	if err := c.auth.Login(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("EnsureSession: login: %w: %w", ErrSession, err)
	}
	if !c.cfg.Renderer.IsSessionValid(ctx) {
		return fmt.Errorf("EnsureSession: still logged out after login: %w", ErrSession)
	}
	return nil
}

// Step 2: NavigateStep opens the transaction list.
type NavigateStep struct {
	cycle *Cycle
}

func (s *NavigateStep) Execute(ctx context.Context, state *CycleState) error {
	c := s.cycle
	if err := c.cfg.Renderer.Navigate(ctx, c.cfg.ListURL); err != nil {
		return fmt.Errorf("Navigate: %s: %w", c.cfg.ListURL, err)
	}
	// Navigation can land on the login page when the session expired between
	// the check and the load.
	if !c.cfg.Renderer.IsSessionValid(ctx) {
		return fmt.Errorf("Navigate: redirected to login: %w", ErrSession)
	}
	return nil
}

// Step 3: ApplyFilterStep narrows the list to approved records of the
// requested category. It never fails; rows are validated downstream.
type ApplyFilterStep struct {
	cycle *Cycle
}

func (s *ApplyFilterStep) Execute(ctx context.Context, state *CycleState) error {
	state.Result.Filter = s.cycle.cfg.Filter.Apply(ctx, filter.Criteria{
		Status:    domain.StatusApproved,
		Category:  state.Request.Category,
		DateFloor: state.Request.DateFloor,
		Sort:      state.Request.Sort,
	})
	return nil
}

// Step 4: HarvestStep walks the pages and processes every row.
type HarvestStep struct {
	cycle *Cycle
}

func (s *HarvestStep) Execute(ctx context.Context, state *CycleState) error {
	pages, err := s.cycle.cfg.Paginator.ForEachPage(ctx, s.cycle.cfg.MaxPages, s.cycle.pageHandler(state))
	state.Result.Pages = pages
	if err != nil {
		return fmt.Errorf("Harvest: %w", err)
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *CycleState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
