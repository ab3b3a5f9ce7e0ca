// Package paginate walks the pages of the filtered list view.
package paginate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/renderer"
)

// PageHandler processes the rows of one page and returns how many of them
// were new. Zero new rows ends the walk.
type PageHandler func(ctx context.Context, page int, rows []renderer.Handle) (int, error)

// StopReason says why a walk ended.
type StopReason string

const (
	StopLastPage   StopReason = "last_page"
	StopNoNext     StopReason = "no_next_control"
	StopMaxPages   StopReason = "max_pages"
	StopNoProgress StopReason = "no_progress"
	StopCancelled  StopReason = "cancelled"
	StopReadFailed StopReason = "read_failed"
	StopTurnFailed StopReason = "turn_failed"
)

// Paginator visits pages in ascending order and rows in document order.
type Paginator struct {
	r            renderer.Renderer
	sel          renderer.Selectors
	readyTimeout time.Duration
	settle       time.Duration
}

// New creates a Paginator with a 10 second ready wait and a one second pause
// after each page turn.
func New(r renderer.Renderer, sel renderer.Selectors) *Paginator {
	return &Paginator{r: r, sel: sel, readyTimeout: 10 * time.Second, settle: time.Second}
}

// WithTimings overrides the ready wait and settle pause.
func (p *Paginator) WithTimings(ready, settle time.Duration) *Paginator {
	p.readyTimeout = ready
	p.settle = settle
	return p
}

// ForEachPage hands every page to handler until the list ends, maxPages is
// reached (when > 0), the handler makes no progress or ctx is cancelled.
// A handler error aborts the walk and is returned as is. A renderer failure
// while listing rows or turning the page ends the walk with the pages already
// visited; only a cancelled context is returned.
func (p *Paginator) ForEachPage(ctx context.Context, maxPages int, handler PageHandler) (int, error) {
	log := logger.FromContext(ctx)

	visited := 0
	reason := StopLastPage
	defer func() {
		log.Debug().
			Int("pages", visited).
			Str("stop_reason", string(reason)).
			Msg("Pagination finished")
	}()

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			reason = StopCancelled
			return visited, ctx.Err()
		}

		if !p.r.WaitReady(ctx, p.hasRows, p.readyTimeout) {
			log.Debug().Int("page", page).Msg("Table not ready before timeout, reading anyway")
		}

		rows, err := p.r.QueryAll(ctx, nil, p.sel.Rows)
		if err != nil {
			if ctx.Err() != nil {
				reason = StopCancelled
				return visited, fmt.Errorf("ForEachPage: listing rows on page %d: %w", page, ctx.Err())
			}
			log.Warn().Err(err).Int("page", page).Msg("Could not list rows, ending pagination")
			reason = StopReadFailed
			return visited, nil
		}

		fresh, err := handler(ctx, page, rows)
		visited++
		if err != nil {
			return visited, err
		}

		if fresh == 0 {
			reason = StopNoProgress
			return visited, nil
		}
		if maxPages > 0 && visited >= maxPages {
			reason = StopMaxPages
			return visited, nil
		}

		next, err := p.r.Query(ctx, nil, p.sel.NextPage)
		if err != nil {
			reason = StopNoNext
			return visited, nil
		}
		if p.disabled(ctx, next) {
			reason = StopLastPage
			return visited, nil
		}
		if err := p.r.Click(ctx, next); err != nil {
			if ctx.Err() != nil {
				reason = StopCancelled
				return visited, fmt.Errorf("ForEachPage: turning to page %d: %w", page+1, ctx.Err())
			}
			log.Warn().Err(err).Int("page", page+1).Msg("Could not turn the page, ending pagination")
			reason = StopTurnFailed
			return visited, nil
		}
		if err := renderer.Sleep(ctx, p.settle); err != nil {
			reason = StopCancelled
			return visited, err
		}
	}
}

func (p *Paginator) hasRows(ctx context.Context) bool {
	rows, err := p.r.QueryAll(ctx, nil, p.sel.Rows)
	return err == nil && len(rows) > 0
}

func (p *Paginator) disabled(ctx context.Context, next renderer.Handle) bool {
	if _, ok, err := p.r.ReadAttribute(ctx, next, "disabled"); err == nil && ok {
		return true
	}
	v, ok, err := p.r.ReadAttribute(ctx, next, "aria-disabled")
	return err == nil && ok && strings.EqualFold(v, "true")
}
