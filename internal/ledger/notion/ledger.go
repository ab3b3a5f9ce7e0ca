// Package notion writes ledger rows as pages of a Notion database. The row
// number is stored in a "Row" number property so the cursor survives restarts.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/txn-harvester/internal/ledger"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

// RowProperty holds the ledger row number of each page.
const RowProperty = "Row"

// Ledger is a ledger.Ledger backed by a Notion database.
type Ledger struct {
	svc        Service
	databaseID string
	layout     ledger.Layout

	mu     sync.Mutex
	cursor int
}

// New creates a Ledger writing to databaseID.
func New(svc Service, databaseID string, layout ledger.Layout) *Ledger {
	return &Ledger{svc: svc, databaseID: databaseID, layout: layout, cursor: layout.BaseRow}
}

// LoadExistingKeys reads the key property of every page. keyColumn is a sheet
// column letter; it is resolved to the property name through the layout.
func (l *Ledger) LoadExistingKeys(ctx context.Context, keyColumn string) ([]string, error) {
	log := logger.FromContext(ctx)

	pages, err := queryAllPages(ctx, l.svc, l.databaseID)
	if err != nil {
		return nil, fmt.Errorf("LoadExistingKeys: %w", err)
	}

	prop := l.propertyFor(keyColumn)
	var keys []string
	maxRow := 0
	for _, page := range pages {
		if k := plainText(page, prop); k != "" {
			keys = append(keys, k)
		}
		if r := rowNumber(page); r > maxRow {
			maxRow = r
		}
	}

	l.mu.Lock()
	if maxRow+1 > l.cursor {
		l.cursor = maxRow + 1
	}
	l.mu.Unlock()

	log.Info().
		Int("notion_page_count", len(pages)).
		Int("keys", len(keys)).
		Msg("Loaded existing ledger keys from Notion")
	return keys, nil
}

// FindFirstFreeRow returns the next unused row number.
func (l *Ledger) FindFirstFreeRow(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor, nil
}

// WriteRow creates one page for the row.
func (l *Ledger) WriteRow(ctx context.Context, row int, fields []ledger.Field) error {
	props := l.properties(row, fields)

	page, err := l.svc.CreatePage(ctx, l.databaseID, props)
	if err != nil {
		return &ledger.WriteError{Kind: classify(err), Row: row, Err: err}
	}

	l.mu.Lock()
	if row >= l.cursor {
		l.cursor = row + 1
	}
	l.mu.Unlock()

	log := logger.FromContext(ctx)
	log.Debug().
		Int("row", row).
		Str("page_id", string(page.ID)).
		Msg("Created Notion page")
	return nil
}

// propertyFor maps a sheet column letter onto the field name at that position.
func (l *Ledger) propertyFor(column string) string {
	idx := ledger.ColumnNumber(column) - ledger.ColumnNumber(l.layout.FirstColumn)
	names := []string{
		ledger.ColApprovedAt, ledger.ColAccountHolder, ledger.ColBank, ledger.ColIBAN,
		ledger.ColAmount, ledger.ColNote, ledger.ColTransactionID,
	}
	if idx >= 0 && idx < len(names) {
		return names[idx]
	}
	return ledger.ColTransactionID
}

// properties converts a row to Notion properties. The key column becomes the
// page title, amounts become numbers and everything else rich text.
func (l *Ledger) properties(row int, fields []ledger.Field) notionapi.Properties {
	props := notionapi.Properties{
		RowProperty: notionapi.NumberProperty{Number: float64(row)},
	}
	key := l.layout.KeyIndex()

	for i, f := range fields {
		if f.Value == nil {
			continue
		}
		if v, ok := f.Value.(decimal.Decimal); ok {
			props[f.Name] = notionapi.NumberProperty{Number: v.InexactFloat64()}
			continue
		}
		if i == key {
			props[f.Name] = notionapi.TitleProperty{Title: richText(f.String())}
			continue
		}
		if s := f.String(); s != "" {
			props[f.Name] = notionapi.RichTextProperty{RichText: richText(s)}
		}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: s,
			},
		},
	}
}

// queryAllPages queries all pages from a Notion database.
// Handles pagination automatically.
func queryAllPages(ctx context.Context, svc Service, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := svc.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// plainText returns the first text fragment of a title or rich text property.
func plainText(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name]
	if !ok {
		return ""
	}
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		if len(p.Title) > 0 {
			return p.Title[0].PlainText
		}
	case *notionapi.RichTextProperty:
		if len(p.RichText) > 0 {
			return p.RichText[0].PlainText
		}
	}
	return ""
}

func rowNumber(page notionapi.Page) int {
	if p, ok := page.Properties[RowProperty].(*notionapi.NumberProperty); ok {
		return int(p.Number)
	}
	return 0
}

// classify maps Notion API failures onto ledger error kinds.
func classify(err error) ledger.Kind {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == "restricted_resource", apiErr.Status == http.StatusForbidden:
			return ledger.KindLocked
		case apiErr.Status == http.StatusTooManyRequests, apiErr.Status >= 500, apiErr.Code == "conflict_error":
			return ledger.KindTransient
		}
		return ledger.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ledger.KindTransient
	}
	return ledger.KindUnknown
}

var _ ledger.Ledger = (*Ledger)(nil)
