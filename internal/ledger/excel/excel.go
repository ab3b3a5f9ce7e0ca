// Package excel writes ledger rows to a local .xlsx workbook. The workbook is
// saved after every row so a crash loses at most the row in flight.
package excel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/txn-harvester/internal/ledger"
)

// Ledger is a ledger.Ledger backed by one sheet of a workbook file.
type Ledger struct {
	path   string
	layout ledger.Layout

	mu     sync.Mutex
	cursor int
}

// New opens (or on first write creates) the workbook at path.
func New(path string, layout ledger.Layout) *Ledger {
	return &Ledger{path: path, layout: layout, cursor: layout.BaseRow}
}

func (l *Ledger) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		f = excelize.NewFile()
		if _, err := f.NewSheet(l.layout.Sheet); err != nil {
			return nil, fmt.Errorf("creating sheet %q: %w", l.layout.Sheet, err)
		}
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if idx, err := f.GetSheetIndex(l.layout.Sheet); err != nil || idx < 0 {
		if _, err := f.NewSheet(l.layout.Sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %q: %w", l.layout.Sheet, err)
		}
	}
	return f, nil
}

// columnValues returns the cell values of column from the base row down.
func (l *Ledger) columnValues(f *excelize.File, column string) ([]string, error) {
	cols, err := f.GetCols(l.layout.Sheet)
	if err != nil {
		return nil, err
	}
	idx := ledger.ColumnNumber(column) - 1
	if idx < 0 || idx >= len(cols) {
		return nil, nil
	}
	col := cols[idx]
	if len(col) < l.layout.BaseRow {
		return nil, nil
	}
	return col[l.layout.BaseRow-1:], nil
}

func (l *Ledger) LoadExistingKeys(ctx context.Context, keyColumn string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return nil, fmt.Errorf("LoadExistingKeys: opening %s: %w", l.path, err)
	}
	defer f.Close()

	values, err := l.columnValues(f, keyColumn)
	if err != nil {
		return nil, fmt.Errorf("LoadExistingKeys: reading column %s: %w", keyColumn, err)
	}

	var keys []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			keys = append(keys, v)
		}
	}
	return keys, nil
}

// FindFirstFreeRow returns the row after the last filled cell of the first
// column, never below the base row or a row already handed out.
func (l *Ledger) FindFirstFreeRow(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return 0, fmt.Errorf("FindFirstFreeRow: opening %s: %w", l.path, err)
	}
	defer f.Close()

	values, err := l.columnValues(f, l.layout.FirstColumn)
	if err != nil {
		return 0, fmt.Errorf("FindFirstFreeRow: %w", err)
	}
	last := -1
	for i, v := range values {
		if strings.TrimSpace(v) != "" {
			last = i
		}
	}
	row := l.layout.BaseRow + last + 1
	if row < l.cursor {
		row = l.cursor
	}
	l.cursor = row
	return row, nil
}

func (l *Ledger) WriteRow(ctx context.Context, row int, fields []ledger.Field) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return &ledger.WriteError{Kind: classify(err), Row: row, Err: err}
	}
	defer f.Close()

	first := ledger.ColumnNumber(l.layout.FirstColumn)
	for i, field := range fields {
		cell, err := excelize.CoordinatesToCellName(first+i, row)
		if err != nil {
			return &ledger.WriteError{Kind: ledger.KindUnknown, Row: row, Err: err}
		}
		var v interface{}
		switch val := field.Value.(type) {
		case nil:
			v = ""
		case decimal.Decimal:
			v = val.InexactFloat64()
		default:
			v = field.String()
		}
		if err := f.SetCellValue(l.layout.Sheet, cell, v); err != nil {
			return &ledger.WriteError{Kind: ledger.KindUnknown, Row: row, Err: err}
		}
	}

	if err := f.SaveAs(l.path); err != nil {
		return &ledger.WriteError{Kind: classify(err), Row: row, Err: err}
	}
	if row >= l.cursor {
		l.cursor = row + 1
	}
	return nil
}

// classify treats permission problems as a locked destination; a file held
// open by another program shows up the same way on most platforms.
func classify(err error) ledger.Kind {
	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, os.ErrPermission):
		return ledger.KindLocked
	case strings.Contains(strings.ToLower(err.Error()), "being used by another process"):
		return ledger.KindTransient
	}
	return ledger.KindUnknown
}

var _ ledger.Ledger = (*Ledger)(nil)
