package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/shopspring/decimal"
)

// Field is one cell of a ledger row. Value is a string, a decimal.Decimal or
// nil for an intentionally blank cell.
type Field struct {
	Name  string
	Value any
}

// String renders the value the way a spreadsheet cell shows it.
func (f Field) String() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case decimal.Decimal:
		return v.StringFixed(2)
	default:
		return fmt.Sprint(v)
	}
}

// Layout fixes where rows live and what they contain.
type Layout struct {
	Sheet       string
	FirstColumn string
	KeyColumn   string
	BaseRow     int
	TimeFormat  string
	Location    *time.Location
}

// DefaultLayout is the operations sheet: columns B..H from row 16.
func DefaultLayout() Layout {
	return Layout{
		Sheet:       "İşlem",
		FirstColumn: "B",
		KeyColumn:   "H",
		BaseRow:     16,
		TimeFormat:  "02/01/2006 15:04:05",
		Location:    time.UTC,
	}
}

// Column names of the row produced by Fields, in order.
const (
	ColApprovedAt    = "Approved At"
	ColAccountHolder = "Account Holder"
	ColBank          = "Bank"
	ColIBAN          = "IBAN"
	ColAmount        = "Amount"
	ColNote          = "Note"
	ColTransactionID = "Transaction ID"
)

// SignedAmount applies the category sign convention: withdrawals are negative.
func SignedAmount(rec *domain.Record) decimal.Decimal {
	amt := rec.ResultAmount.Abs()
	if rec.Category == domain.CategoryWithdrawal {
		return amt.Neg()
	}
	return amt
}

// Fields builds the ordered row for rec. now is used when the record has no
// approval time.
func (l Layout) Fields(rec *domain.Record, now time.Time) []Field {
	approved := now
	if t, ok := rec.WatermarkTime(); ok {
		approved = t
	}
	loc := l.Location
	if loc == nil {
		loc = time.UTC
	}

	return []Field{
		{Name: ColApprovedAt, Value: approved.In(loc).Format(l.TimeFormat)},
		{Name: ColAccountHolder, Value: rec.AccountHolder},
		{Name: ColBank, Value: rec.BankName},
		{Name: ColIBAN, Value: rec.IBAN},
		{Name: ColAmount, Value: SignedAmount(rec).Round(2)},
		{Name: ColNote, Value: nil},
		{Name: ColTransactionID, Value: rec.Identity()},
	}
}

// KeyIndex returns the position of the key column within a row.
func (l Layout) KeyIndex() int {
	return ColumnNumber(l.KeyColumn) - ColumnNumber(l.FirstColumn)
}

// LastColumn returns the column letter of the last cell of a row of n fields.
func (l Layout) LastColumn(n int) string {
	return ColumnName(ColumnNumber(l.FirstColumn) + n - 1)
}

// ColumnNumber converts "A".."ZZ" to 1-based column numbers. Invalid input
// yields 0.
func ColumnNumber(col string) int {
	n := 0
	for _, r := range strings.ToUpper(strings.TrimSpace(col)) {
		if r < 'A' || r > 'Z' {
			return 0
		}
		n = n*26 + int(r-'A'+1)
	}
	return n
}

// ColumnName is the inverse of ColumnNumber.
func ColumnName(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}
