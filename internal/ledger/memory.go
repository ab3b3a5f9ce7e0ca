package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Ledger used for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	layout Layout
	rows   map[int][]Field
	cursor int

	// WriteErr, when set, is returned (wrapped) by every WriteRow call.
	WriteErr *WriteError
	// LoadErr, when set, is returned by LoadExistingKeys.
	LoadErr error

	Writes int
}

// NewMemory creates an empty in-memory ledger with the given layout.
func NewMemory(layout Layout) *Memory {
	return &Memory{layout: layout, rows: make(map[int][]Field), cursor: layout.BaseRow}
}

// Preload puts keys into consecutive rows as if a previous run had written them.
func (m *Memory) Preload(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		row := make([]Field, m.layout.KeyIndex()+1)
		row[m.layout.KeyIndex()] = Field{Name: ColTransactionID, Value: k}
		m.rows[m.cursor] = row
		m.cursor++
	}
}

func (m *Memory) LoadExistingKeys(ctx context.Context, keyColumn string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	idx := ColumnNumber(keyColumn) - ColumnNumber(m.layout.FirstColumn)
	if idx < 0 {
		return nil, fmt.Errorf("LoadExistingKeys: column %q is left of the first column", keyColumn)
	}

	var keys []string
	for _, row := range m.sortedRowsLocked() {
		fields := m.rows[row]
		if idx < len(fields) {
			if k := fields[idx].String(); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

func (m *Memory) FindFirstFreeRow(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *Memory) WriteRow(ctx context.Context, row int, fields []Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		we := *m.WriteErr
		we.Row = row
		return &we
	}
	if row < m.layout.BaseRow {
		return &WriteError{Kind: KindUnknown, Row: row, Err: fmt.Errorf("row is above base row %d", m.layout.BaseRow)}
	}
	if _, taken := m.rows[row]; taken {
		return &WriteError{Kind: KindUnknown, Row: row, Err: fmt.Errorf("row already written")}
	}

	cp := make([]Field, len(fields))
	copy(cp, fields)
	m.rows[row] = cp
	if row >= m.cursor {
		m.cursor = row + 1
	}
	m.Writes++
	return nil
}

// Rows returns the written rows in row order.
func (m *Memory) Rows() [][]Field {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]Field
	for _, row := range m.sortedRowsLocked() {
		out = append(out, m.rows[row])
	}
	return out
}

func (m *Memory) sortedRowsLocked() []int {
	idx := make([]int, 0, len(m.rows))
	for r := range m.rows {
		idx = append(idx, r)
	}
	sort.Ints(idx)
	return idx
}

var _ Ledger = (*Memory)(nil)
