package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/renderer"
)

// Extractor turns list-view rows and detail overlays into records.
type Extractor struct {
	r      renderer.Renderer
	sel    renderer.Selectors
	locale Locale
	now    func() time.Time
}

// New creates an Extractor reading through r.
func New(r renderer.Renderer, sel renderer.Selectors, locale Locale) *Extractor {
	if locale.Location == nil {
		locale.Location = time.UTC
	}
	return &Extractor{r: r, sel: sel, locale: locale, now: time.Now}
}

// ExtractRow reads one row. A non-nil error is an *Error; the record returned
// alongside it may be partial or nil.
func (e *Extractor) ExtractRow(ctx context.Context, row renderer.Handle, page, index int) (*domain.Record, error) {
	rec := &domain.Record{
		PageNumber:  page,
		RowIndex:    index,
		ExtractedAt: e.now(),
	}

	cells := []struct {
		selector string
		spec     rowCell
	}{
		{e.sel.RefButtons, refFields},
		{e.sel.CustomerCell, customerFields},
		{e.sel.AmountCell, amountFields},
	}
	for _, c := range cells {
		if err := e.readCell(ctx, row, c.selector, c.spec, rec); err != nil {
			return nil, &Error{Stage: StageRow, Page: page, Row: index, Field: c.spec.name, Err: err}
		}
	}

	rec.Status = domain.ParseStatus(e.statusText(ctx, row))

	if block, err := renderer.TextOf(ctx, e.r, row, e.sel.DatesCell); err == nil {
		e.applyDateBlock(rec, block)
	}

	if rec.TransactionNo == "" {
		return rec, &Error{Stage: StageRow, Page: page, Row: index, Field: "transaction_no", Err: ErrMissingIdentity}
	}
	return rec, nil
}

// Enrich fills rec from the detail overlay. Labels that are absent leave the
// field untouched. HasDetail is set once the overlay text was read.
func (e *Extractor) Enrich(ctx context.Context, rec *domain.Record, detail renderer.Handle) error {
	_, err := e.EnrichText(ctx, rec, detail)
	return err
}

// EnrichText is Enrich that also returns the overlay text it parsed.
func (e *Extractor) EnrichText(ctx context.Context, rec *domain.Record, detail renderer.Handle) (string, error) {
	body, err := e.r.ReadText(ctx, detail)
	if err != nil {
		return "", &Error{Stage: StageDetail, Page: rec.PageNumber, Row: rec.RowIndex, Err: err}
	}
	applied := e.ApplyDetailText(rec, body)
	rec.HasDetail = true

	log := logger.FromContext(ctx)
	log.Debug().
		Str("transaction_no", rec.TransactionNo).
		Int("fields", applied).
		Msg("Enriched record from detail overlay")
	return body, nil
}

// ApplyDetailText parses label/value pairs out of overlay text and returns the
// number of fields it set. A value sits either on the same line after
// "Label:" or on the line following a line that is exactly the label.
func (e *Extractor) ApplyDetailText(rec *domain.Record, body string) int {
	lines := splitLines(body)
	applied := 0
	for i := 0; i < len(lines); i++ {
		spec, value, consumed, ok := e.matchDetail(lines, i)
		if !ok {
			continue
		}
		i += consumed
		if value == "" || value == e.locale.Empty {
			continue
		}
		spec.set(rec, value, e.locale.Location)
		applied++
	}
	return applied
}

func (e *Extractor) matchDetail(lines []string, i int) (FieldSpec, string, int, bool) {
	line := lines[i]
	for _, spec := range e.locale.DetailFields {
		if strings.EqualFold(line, spec.Label) {
			if i+1 < len(lines) && !e.isDetailLabel(lines[i+1]) {
				return spec, lines[i+1], 1, true
			}
			return spec, "", 0, true
		}
		if rest, ok := cutLabel(line, spec.Label+":"); ok {
			return spec, rest, 0, true
		}
	}
	return FieldSpec{}, "", 0, false
}

func (e *Extractor) isDetailLabel(line string) bool {
	for _, spec := range e.locale.DetailFields {
		if strings.EqualFold(line, spec.Label) {
			return true
		}
	}
	return false
}

func (e *Extractor) applyDateBlock(rec *domain.Record, block string) {
	lines := splitLines(block)
	for _, line := range lines {
		for _, spec := range e.locale.DatePrefixes {
			if rest, ok := cutLabel(line, spec.Label); ok {
				spec.set(rec, rest, e.locale.Location)
				break
			}
		}
	}
	// Some layouts print the creation time alone, without a label.
	if rec.CreatedAt.IsZero() && len(lines) == 1 {
		rec.CreatedAt = ParseDateTime(lines[0], e.locale.Location)
	}
}

func (e *Extractor) readCell(ctx context.Context, row renderer.Handle, selector string, spec rowCell, rec *domain.Record) error {
	handles, err := e.r.QueryAll(ctx, row, selector)
	if err != nil {
		return err
	}
	for i, h := range handles {
		if i >= len(spec.fields) {
			break
		}
		spec.fields[i](rec, e.buttonText(ctx, h), e.locale.Location)
	}
	return nil
}

// buttonText prefers the inner paragraph of a cell button and falls back to
// the button's own text.
func (e *Extractor) buttonText(ctx context.Context, button renderer.Handle) string {
	if t, err := renderer.TextOf(ctx, e.r, button, e.sel.ButtonText); err == nil {
		return strings.TrimSpace(t)
	}
	t, err := e.r.ReadText(ctx, button)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(t)
}

func (e *Extractor) statusText(ctx context.Context, row renderer.Handle) string {
	t, err := renderer.TextOf(ctx, e.r, row, e.sel.StatusBadge)
	if errors.Is(err, renderer.ErrNotFound) {
		t, err = renderer.TextOf(ctx, e.r, row, e.sel.StatusCell)
	}
	if err != nil {
		return ""
	}
	return strings.TrimSpace(t)
}

func splitLines(s string) []string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := raw[:0]
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// cutLabel strips a case-insensitive label prefix from line.
func cutLabel(line, label string) (string, bool) {
	if len(line) < len(label) || !strings.EqualFold(line[:len(label)], label) {
		return "", false
	}
	return strings.TrimSpace(line[len(label):]), true
}
