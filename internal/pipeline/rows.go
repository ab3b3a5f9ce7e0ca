package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/extract"
	"github.com/dvloznov/txn-harvester/internal/journal"
	"github.com/dvloznov/txn-harvester/internal/ledger"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/paginate"
	"github.com/dvloznov/txn-harvester/internal/renderer"
)

// pageHandler processes rows in document order and reports how many of them
// were not seen earlier in the cycle.
func (c *Cycle) pageHandler(state *CycleState) paginate.PageHandler {
	return func(ctx context.Context, page int, rows []renderer.Handle) (int, error) {
		fresh := 0
		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				return fresh, err
			}
			isNew, err := c.processRow(ctx, state, row, page, i)
			if isNew {
				fresh++
			}
			if err != nil {
				return fresh, err
			}
		}
		return fresh, nil
	}
}

// processRow takes one row through extract, classify, enrich, dedup and
// write. Only a locked ledger or a cancelled context is returned as an
// error; everything else is logged and counted.
func (c *Cycle) processRow(ctx context.Context, state *CycleState, row renderer.Handle, page, index int) (bool, error) {
	res := state.Result
	log := logger.FromContext(ctx).With().Int("page", page).Int("row", index).Logger()

	rec, err := c.cfg.Extractor.ExtractRow(ctx, row, page, index)
	if err != nil {
		if rec == nil {
			log.Warn().Err(err).Msg("Could not read row")
			res.Failed++
			return false, nil
		}
		log.Warn().Err(err).Msg("Row has no identity, skipping")
		res.skip(SkipNoIdentity)
		return false, nil
	}

	isNew := !state.seen[rec.TransactionNo]
	state.seen[rec.TransactionNo] = true
	log = log.With().Str("transaction_no", rec.TransactionNo).Logger()

	if rec.Status != domain.StatusApproved {
		log.Debug().Str("status", rec.Status.String()).Msg("Not approved, skipping")
		res.skip(SkipNotApproved)
		return isNew, nil
	}
	// The row number is delivered alongside the detail identity, so a
	// repeat is caught here without opening the overlay again.
	if c.cfg.Dedup.IsDelivered(rec.TransactionNo) {
		log.Debug().Msg("Already delivered, skipping")
		res.skip(SkipDuplicate)
		return isNew, nil
	}

	if err := c.enrich(ctx, log, row, rec); err != nil {
		return isNew, err
	}

	if rec.Category == "" {
		rec.Category = state.Request.Category
	} else if rec.Category != state.Request.Category {
		log.Warn().
			Str("record_category", string(rec.Category)).
			Msg("Category does not match the filter, skipping")
		res.skip(SkipCategoryMismatch)
		return isNew, nil
	}

	id := rec.Identity()
	log = log.With().Str("identity", id).Logger()
	if !rec.Eligible() {
		res.skip(SkipNoIdentity)
		return isNew, nil
	}
	if id != rec.TransactionNo && c.cfg.Dedup.IsDelivered(id) {
		log.Debug().Msg("Identity already delivered, skipping")
		c.cfg.Dedup.MarkDelivered(rec.TransactionNo)
		res.skip(SkipDuplicate)
		return isNew, nil
	}

	// A cancelled cycle must not write a row with half of its detail missing.
	if err := ctx.Err(); err != nil {
		return isNew, err
	}
	if err := c.write(ctx, log, state, rec); err != nil {
		if errors.Is(err, ledger.ErrLocked) {
			return isNew, err
		}
		log.Error().Err(err).Msg("Ledger write failed, skipping")
		res.skip(SkipWriteFailed)
	}
	return isNew, nil
}

// enrich opens the detail overlay, reads it and closes it again. Failures
// leave the record with its row data; only a cancelled context is returned.
func (c *Cycle) enrich(ctx context.Context, log zerolog.Logger, row renderer.Handle, rec *domain.Record) error {
	detail, err := c.cfg.Renderer.OpenDetail(ctx, row)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn().Err(err).Msg("Could not open detail overlay, using row data")
		return nil
	}
	defer func() {
		// The overlay is closed even when the cycle was cancelled mid-read.
		closeCtx := context.WithoutCancel(ctx)
		if err := c.cfg.Renderer.CloseDetail(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Could not close detail overlay")
		}
	}()

	text, err := c.cfg.Extractor.EnrichText(ctx, rec, detail)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var xe *extract.Error
		if errors.As(err, &xe) {
			log.Warn().Err(xe.Err).Str("stage", string(xe.Stage)).Msg("Could not read detail overlay")
		} else {
			log.Warn().Err(err).Msg("Could not read detail overlay")
		}
		return nil
	}

	if c.cfg.Archive != nil {
		if err := c.cfg.Archive.Archive(ctx, rec, text); err != nil {
			log.Warn().Err(err).Msg("Could not archive detail overlay")
		}
	}
	return nil
}

func (c *Cycle) write(ctx context.Context, log zerolog.Logger, state *CycleState, rec *domain.Record) error {
	row, err := c.cfg.Ledger.FindFirstFreeRow(ctx)
	if err != nil {
		return fmt.Errorf("finding free row: %w", err)
	}

	now := c.cfg.Now()
	fields := c.cfg.Layout.Fields(rec, now)
	if err := c.cfg.Ledger.WriteRow(ctx, row, fields); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}

	c.cfg.Dedup.MarkDelivered(rec.Identity(), rec.TransactionNo)
	state.Result.Written++
	state.Result.observeWatermark(rec)

	log.Info().
		Int("ledger_row", row).
		Str("amount", ledger.SignedAmount(rec).StringFixed(2)).
		Msg("Wrote record to ledger")

	if c.cfg.Journal != nil {
		entry := journal.Entry{
			Identity:      rec.Identity(),
			TransactionNo: rec.TransactionNo,
			Category:      rec.Category,
			LedgerRow:     row,
			Amount:        ledger.SignedAmount(rec),
			ApprovedAt:    rec.LastApprovedAt,
			WrittenAt:     now,
		}
		if err := c.cfg.Journal.Append(ctx, entry); err != nil {
			log.Warn().Err(err).Msg("Could not journal delivery")
		}
	}
	return nil
}
