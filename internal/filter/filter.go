// Package filter drives the list view's filter bar into a requested state.
//
// Every step degrades: a control that cannot be found is logged and reported
// as not applied, and the caller validates the result on the extracted rows.
package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/renderer"
)

// SortOrder is the ordering requested from the list view.
type SortOrder string

const (
	SortNewestFirst SortOrder = "NEWEST"
	SortOldestFirst SortOrder = "OLDEST"
)

// ParseSortOrder accepts "newest"/"oldest" in any case. Empty means newest.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(SortNewestFirst):
		return SortNewestFirst, nil
	case string(SortOldestFirst):
		return SortOldestFirst, nil
	}
	return "", fmt.Errorf("unknown sort order %q", s)
}

// Criteria is the view a cycle asks for. A nil DateFloor leaves the date
// filter empty.
type Criteria struct {
	Status    domain.Status
	Category  domain.Category
	DateFloor *time.Time
	Sort      SortOrder
}

// Step names reported in Outcome.
const (
	StepClear     = "clear"
	StepDateFloor = "date_floor"
	StepStatus    = "status"
	StepCategory  = "category"
	StepSort      = "sort"
	StepSearch    = "search"
)

// Outcome records which steps took effect.
type Outcome struct {
	Applied    []string
	NotApplied []string
	// RowsVisible is false when the result list stayed empty until the
	// timeout. An empty list is legitimate.
	RowsVisible bool
}

// Complete reports whether every attempted step took effect.
func (o Outcome) Complete() bool { return len(o.NotApplied) == 0 }

func (o *Outcome) mark(step string, err error) {
	if err != nil {
		o.NotApplied = append(o.NotApplied, step)
		return
	}
	o.Applied = append(o.Applied, step)
}

// Labels are the texts the filter bar displays.
type Labels struct {
	StatusDefault   string
	CategoryDefault string
	SortDefault     string

	Status   map[domain.Status]string
	Category map[domain.Category]string
	Sort     map[SortOrder]string

	// DateLayout formats the date floor typed into the date input.
	DateLayout string
}

// TurkishLabels matches the back office's default language.
func TurkishLabels() Labels {
	return Labels{
		StatusDefault:   "Durum",
		CategoryDefault: "İşlem Tipi",
		SortDefault:     "Sıralama",
		Status: map[domain.Status]string{
			domain.StatusApproved:  "Onaylandı",
			domain.StatusRejected:  "Reddedildi",
			domain.StatusPending:   "Beklemede",
			domain.StatusCancelled: "İptal",
		},
		Category: map[domain.Category]string{
			domain.CategoryDeposit:    "Yatırım",
			domain.CategoryWithdrawal: "Çekim",
		},
		Sort: map[SortOrder]string{
			SortNewestFirst: "En Yeni",
			SortOldestFirst: "En Eski",
		},
		DateLayout: "2006-01-02",
	}
}

// ErrNoControl means the control for a step is not on the page.
var ErrNoControl = errors.New("filter control not found")

// Controller applies Criteria through a Renderer.
type Controller struct {
	r        renderer.Renderer
	sel      renderer.Selectors
	labels   Labels
	lookback time.Duration
	timeout  time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithLookback moves the typed date floor back by d.
func WithLookback(d time.Duration) Option {
	return func(c *Controller) { c.lookback = d }
}

// WithTimeout bounds the wait for results after searching.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithLabels overrides the displayed labels.
func WithLabels(l Labels) Option {
	return func(c *Controller) { c.labels = l }
}

// NewController creates a Controller with Turkish labels, no look-back and a
// 10 second result wait.
func NewController(r renderer.Renderer, sel renderer.Selectors, opts ...Option) *Controller {
	c := &Controller{
		r:       r,
		sel:     sel,
		labels:  TurkishLabels(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply clears the filter bar, then sets date floor, status, category and
// sort in that order, searches and waits for rows. The order matters:
// comboboxes are told apart by the label they currently show.
func (c *Controller) Apply(ctx context.Context, crit Criteria) Outcome {
	log := logger.FromContext(ctx).With().
		Str("component", "filter").
		Str("category", string(crit.Category)).
		Logger()

	var out Outcome

	out.mark(StepClear, c.clear(ctx))

	if crit.DateFloor != nil {
		out.mark(StepDateFloor, c.setDateFloor(ctx, *crit.DateFloor))
	}
	if crit.Status != domain.StatusUnknown {
		out.mark(StepStatus, c.choose(ctx, c.labels.StatusDefault, c.labels.Status[crit.Status]))
	}
	if crit.Category != "" {
		out.mark(StepCategory, c.choose(ctx, c.labels.CategoryDefault, c.labels.Category[crit.Category]))
	}
	if crit.Sort != "" {
		out.mark(StepSort, c.choose(ctx, c.labels.SortDefault, c.labels.Sort[crit.Sort]))
	}

	searchErr := c.clickFirst(ctx, c.sel.Search)
	out.mark(StepSearch, searchErr)

	out.RowsVisible = c.r.WaitReady(ctx, c.hasRows, c.timeout)

	ev := log.Info()
	if !out.Complete() {
		ev = log.Warn()
	}
	ev.Strs("applied", out.Applied).
		Strs("not_applied", out.NotApplied).
		Bool("rows_visible", out.RowsVisible).
		Msg("Applied list filters")
	return out
}

func (c *Controller) hasRows(ctx context.Context) bool {
	rows, err := c.r.QueryAll(ctx, nil, c.sel.Rows)
	return err == nil && len(rows) > 0
}

func (c *Controller) clear(ctx context.Context) error {
	if err := c.clickFirst(ctx, c.sel.ClearFilters); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (c *Controller) setDateFloor(ctx context.Context, floor time.Time) error {
	input, err := c.r.Query(ctx, nil, c.sel.DateFloor)
	if err != nil {
		return fmt.Errorf("setDateFloor: %w", ErrNoControl)
	}
	value := floor.Add(-c.lookback).Format(c.labels.DateLayout)
	if err := c.r.FillText(ctx, input, value); err != nil {
		return fmt.Errorf("setDateFloor: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("date_floor", value).Msg("Typed date floor")
	return nil
}

// choose finds the combobox showing either defaultLabel or target and selects
// target in it. It is a no-op when target is already shown.
func (c *Controller) choose(ctx context.Context, defaultLabel, target string) error {
	if target == "" {
		return fmt.Errorf("choose: no label configured: %w", ErrNoControl)
	}

	boxes, err := c.r.QueryAll(ctx, nil, c.sel.Combobox)
	if err != nil {
		return fmt.Errorf("choose %q: %w", target, err)
	}

	var box renderer.Handle
	for _, b := range boxes {
		text, err := c.r.ReadText(ctx, b)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if strings.EqualFold(text, target) {
			return nil
		}
		if box == nil && strings.EqualFold(text, defaultLabel) {
			box = b
		}
	}
	if box == nil {
		return fmt.Errorf("choose %q: %w", target, ErrNoControl)
	}

	if err := c.r.Click(ctx, box); err != nil {
		return fmt.Errorf("choose %q: opening: %w", target, err)
	}

	options, err := c.r.QueryAll(ctx, nil, c.sel.Option)
	if err != nil {
		return fmt.Errorf("choose %q: listing options: %w", target, err)
	}
	for _, o := range options {
		text, err := c.r.ReadText(ctx, o)
		if err != nil || !strings.EqualFold(strings.TrimSpace(text), target) {
			continue
		}
		if err := c.r.Click(ctx, o); err != nil {
			return fmt.Errorf("choose %q: %w", target, err)
		}
		return nil
	}
	return fmt.Errorf("choose %q: option: %w", target, ErrNoControl)
}

func (c *Controller) clickFirst(ctx context.Context, selector string) error {
	h, err := c.r.Query(ctx, nil, selector)
	if err != nil {
		if errors.Is(err, renderer.ErrNotFound) {
			return ErrNoControl
		}
		return err
	}
	return c.r.Click(ctx, h)
}
