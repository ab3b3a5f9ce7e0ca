package extract

import (
	"errors"
	"fmt"
)

// Stage names where an extraction error occurred.
type Stage string

const (
	StageRow    Stage = "row"
	StageDetail Stage = "detail"
)

// ErrMissingIdentity is reported when a row carries no transaction number.
var ErrMissingIdentity = errors.New("row has no transaction number")

// Error describes a failed row or detail extraction. The record that came with
// it, if any, is partial.
type Error struct {
	Stage Stage
	Page  int
	Row   int
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("extract %s (page %d, row %d, field %s): %v", e.Stage, e.Page, e.Row, e.Field, e.Err)
	}
	return fmt.Sprintf("extract %s (page %d, row %d): %v", e.Stage, e.Page, e.Row, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
