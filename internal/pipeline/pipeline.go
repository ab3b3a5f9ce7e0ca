// Package pipeline implements one sync cycle: make sure the session is
// valid, open and filter the list, then walk its pages writing every new
// approved record to the ledger exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/txn-harvester/internal/dedup"
	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/extract"
	"github.com/dvloznov/txn-harvester/internal/filter"
	"github.com/dvloznov/txn-harvester/internal/ledger"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/paginate"
	"github.com/dvloznov/txn-harvester/internal/renderer"
)

// ErrSession means the back-office session could not be established.
var ErrSession = errors.New("session invalid")

// SkipReason says why a row was not written.
type SkipReason string

const (
	SkipNotApproved      SkipReason = "not_approved"
	SkipNoIdentity       SkipReason = "no_identity"
	SkipDuplicate        SkipReason = "duplicate"
	SkipCategoryMismatch SkipReason = "category_mismatch"
	SkipWriteFailed      SkipReason = "write_failed"
)

// Request selects what a cycle harvests. A nil DateFloor harvests everything
// the list shows.
type Request struct {
	Category  domain.Category
	DateFloor *time.Time
	Sort      filter.SortOrder
}

// Result is what one cycle did.
type Result struct {
	Written int
	Skipped int
	// Failed counts rows that could not be read at all.
	Failed int
	Pages  int

	// NewWatermark is the latest approval time among written records, or
	// the request's DateFloor when nothing was written.
	NewWatermark *time.Time

	SkipReasons map[SkipReason]int
	Filter      filter.Outcome
}

func (r *Result) skip(reason SkipReason) {
	r.Skipped++
	r.SkipReasons[reason]++
}

// Config wires a Cycle to its collaborators. Archive and Journal are optional.
type Config struct {
	Renderer  renderer.Renderer
	Selectors renderer.Selectors
	Extractor *extract.Extractor
	Filter    *filter.Controller
	Paginator *paginate.Paginator
	Dedup     *dedup.Store
	Ledger    ledger.Ledger
	Layout    ledger.Layout

	Archive Archiver
	Journal DeliveryJournal

	// ListURL is the list view the cycle navigates to.
	ListURL string
	// MaxPages bounds pagination; zero means unbounded.
	MaxPages int

	Now func() time.Time
}

// Cycle runs sync cycles. It is not safe for concurrent use; a single worker
// drives it together with its Renderer.
type Cycle struct {
	cfg  Config
	auth renderer.Authenticator
}

// New creates a Cycle. The renderer doubles as the Authenticator when it
// can log in.
func New(cfg Config) *Cycle {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Cycle{cfg: cfg}
	if auth, ok := cfg.Renderer.(renderer.Authenticator); ok {
		c.auth = auth
	}
	return c
}

// WithAuthenticator overrides the login flow.
func (c *Cycle) WithAuthenticator(a renderer.Authenticator) *Cycle {
	c.auth = a
	return c
}

// NewCycleFromDefaults builds the collaborators from r, d and l with the
// default selectors, Turkish labels and layout.
func NewCycleFromDefaults(r renderer.Renderer, d *dedup.Store, l ledger.Ledger, listURL string) *Cycle {
	sel := renderer.DefaultSelectors()
	return New(Config{
		Renderer:  r,
		Selectors: sel,
		Extractor: extract.New(r, sel, extract.TurkishLocale()),
		Filter:    filter.NewController(r, sel),
		Paginator: paginate.New(r, sel),
		Dedup:     d,
		Ledger:    l,
		Layout:    ledger.DefaultLayout(),
		ListURL:   listURL,
	})
}

// Run executes one cycle. The Result is returned even on error and holds the
// counts up to the failure. Errors wrap ErrSession, ledger.ErrLocked or
// the context error when the cycle was cancelled.
func (c *Cycle) Run(ctx context.Context, req Request) (*Result, error) {
	if !req.Category.Valid() {
		return &Result{SkipReasons: map[SkipReason]int{}}, fmt.Errorf("Run: invalid category %q", req.Category)
	}

	log := logger.FromContext(ctx).With().
		Str("category", string(req.Category)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	state := newCycleState(req)
	started := c.cfg.Now()

	p := NewPipeline(
		&EnsureSessionStep{cycle: c},
		&NavigateStep{cycle: c},
		&ApplyFilterStep{cycle: c},
		&HarvestStep{cycle: c},
	)
	err := p.Execute(ctx, state)

	res := state.Result
	if res.NewWatermark == nil {
		res.NewWatermark = req.DateFloor
	}

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("written", res.Written).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("pages", res.Pages).
		Dur("duration", c.cfg.Now().Sub(started)).
		Msg("Sync cycle finished")

	return res, err
}

// observeWatermark keeps the latest approval time among written records.
func (r *Result) observeWatermark(rec *domain.Record) {
	t, ok := rec.WatermarkTime()
	if !ok {
		return
	}
	if r.NewWatermark == nil || t.After(*r.NewWatermark) {
		r.NewWatermark = &t
	}
}
