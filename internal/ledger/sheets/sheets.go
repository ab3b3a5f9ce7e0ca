// Package sheets writes ledger rows to a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/txn-harvester/internal/ledger"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

// ValuesService is the subset of the Sheets values API the ledger uses.
type ValuesService interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
}

// Ledger is a ledger.Ledger backed by one sheet of a spreadsheet.
type Ledger struct {
	values        ValuesService
	spreadsheetID string
	layout        ledger.Layout

	mu     sync.Mutex
	cursor int
}

// New creates a Ledger using the given values service.
func New(values ValuesService, spreadsheetID string, layout ledger.Layout) *Ledger {
	return &Ledger{values: values, spreadsheetID: spreadsheetID, layout: layout, cursor: layout.BaseRow}
}

// NewFromCredentials builds a Ledger authenticated with a service-account
// credentials file. An empty path uses Application Default Credentials.
func NewFromCredentials(ctx context.Context, credentialsFile, spreadsheetID string, layout ledger.Layout) (*Ledger, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewFromCredentials: creating sheets service: %w", err)
	}
	return New(&apiValues{srv: srv}, spreadsheetID, layout), nil
}

func (l *Ledger) a1(rng string) string {
	return fmt.Sprintf("'%s'!%s", l.layout.Sheet, rng)
}

// LoadExistingKeys reads keyColumn from the base row down.
func (l *Ledger) LoadExistingKeys(ctx context.Context, keyColumn string) ([]string, error) {
	rng := l.a1(fmt.Sprintf("%s%d:%s", keyColumn, l.layout.BaseRow, keyColumn))
	rows, err := l.values.Get(ctx, l.spreadsheetID, rng)
	if err != nil {
		return nil, fmt.Errorf("LoadExistingKeys: reading %s: %w", rng, err)
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if k := strings.TrimSpace(fmt.Sprint(row[0])); k != "" {
			keys = append(keys, k)
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("range", rng).
		Int("keys", len(keys)).
		Msg("Loaded existing ledger keys")
	return keys, nil
}

// FindFirstFreeRow counts the filled cells of the first column from the base
// row. The answer never goes below a row this ledger already handed out.
func (l *Ledger) FindFirstFreeRow(ctx context.Context) (int, error) {
	col := l.layout.FirstColumn
	rng := l.a1(fmt.Sprintf("%s%d:%s", col, l.layout.BaseRow, col))
	rows, err := l.values.Get(ctx, l.spreadsheetID, rng)
	if err != nil {
		return 0, fmt.Errorf("FindFirstFreeRow: reading %s: %w", rng, err)
	}

	row := l.layout.BaseRow + len(rows)

	l.mu.Lock()
	defer l.mu.Unlock()
	if row < l.cursor {
		row = l.cursor
	}
	l.cursor = row
	return row, nil
}

// WriteRow overwrites the cells of row with fields.
func (l *Ledger) WriteRow(ctx context.Context, row int, fields []ledger.Field) error {
	rng := l.a1(fmt.Sprintf("%s%d:%s%d", l.layout.FirstColumn, row, l.layout.LastColumn(len(fields)), row))

	values := make([]interface{}, len(fields))
	for i, f := range fields {
		values[i] = cellValue(f)
	}

	if err := l.values.Update(ctx, l.spreadsheetID, rng, [][]interface{}{values}); err != nil {
		return &ledger.WriteError{Kind: classify(err), Row: row, Err: err}
	}

	l.mu.Lock()
	if row >= l.cursor {
		l.cursor = row + 1
	}
	l.mu.Unlock()
	return nil
}

func cellValue(f ledger.Field) interface{} {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return v.InexactFloat64()
	default:
		return f.String()
	}
}

// classify maps Sheets API failures onto ledger error kinds. A protected range
// is reported as a 400 or 403 whose message mentions protection.
func classify(err error) ledger.Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := strings.ToLower(gerr.Message)
		switch {
		case strings.Contains(msg, "protected"):
			return ledger.KindLocked
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return ledger.KindTransient
		}
		return ledger.KindUnknown
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ledger.KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ledger.KindTransient
	}
	if strings.Contains(strings.ToLower(err.Error()), "protected") {
		return ledger.KindLocked
	}
	return ledger.KindUnknown
}

// apiValues adapts *sheets.Service to ValuesService.
type apiValues struct {
	srv *sheets.Service
}

func (a *apiValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := a.srv.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (a *apiValues) Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error {
	vr := &sheets.ValueRange{Range: rng, Values: values}
	_, err := a.srv.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	return err
}

var _ ledger.Ledger = (*Ledger)(nil)
