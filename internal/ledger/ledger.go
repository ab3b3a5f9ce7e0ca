// Package ledger defines the durable sink that approved transactions are
// written to, and the row layout shared by every sink.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Ledger is an append-by-convention table keyed by transaction identity.
// Writes always target freshly allocated rows.
type Ledger interface {
	// LoadExistingKeys returns every non-empty value in keyColumn at or below
	// the base row.
	LoadExistingKeys(ctx context.Context, keyColumn string) ([]string, error)

	// FindFirstFreeRow returns the next row to write. The result never
	// decreases and is never below the layout's base row.
	FindFirstFreeRow(ctx context.Context) (int, error)

	// WriteRow writes fields left to right starting at the layout's first
	// column. Failures are *WriteError values.
	WriteRow(ctx context.Context, row int, fields []Field) error
}

// Kind classifies write failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindLocked means the destination refuses writes (protected range,
	// read-only file). Retrying will fail the same way.
	KindLocked
	// KindTransient means the write may succeed if tried again later.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindLocked:
		return "locked"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var (
	ErrLocked    = errors.New("ledger destination is locked")
	ErrTransient = errors.New("ledger write failed transiently")
)

// WriteError is returned by WriteRow.
type WriteError struct {
	Kind Kind
	Row  int
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write row %d (%s): %v", e.Row, e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is lets callers match on ErrLocked and ErrTransient.
func (e *WriteError) Is(target error) bool {
	switch target {
	case ErrLocked:
		return e.Kind == KindLocked
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// KindOf returns the kind of a write failure, KindUnknown for anything else.
func KindOf(err error) Kind {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindUnknown
}
