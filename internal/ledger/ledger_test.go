package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

func TestSignedAmount(t *testing.T) {
	amounts := []string{"0", "1", "100.50", "5000", "0.01"}
	for _, a := range amounts {
		d := decimal.RequireFromString(a)
		dep := &domain.Record{Category: domain.CategoryDeposit, ResultAmount: d}
		wd := &domain.Record{Category: domain.CategoryWithdrawal, ResultAmount: d}

		assert.True(t, d.Equal(SignedAmount(dep)), "deposit %s", a)
		assert.True(t, d.Neg().Equal(SignedAmount(wd)), "withdrawal %s", a)
	}
}

func TestLayout_Fields(t *testing.T) {
	approved := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	rec := &domain.Record{
		TransactionID:  "TX-1",
		TransactionNo:  "100",
		Category:       domain.CategoryWithdrawal,
		ResultAmount:   decimal.RequireFromString("1234.5"),
		AccountHolder:  "Ayşe Yılmaz",
		BankName:       "Ziraat",
		IBAN:           "TR00",
		LastApprovedAt: &approved,
	}

	fields := DefaultLayout().Fields(rec, time.Now())
	require.Len(t, fields, 7)

	var got []string
	for _, f := range fields {
		got = append(got, f.String())
	}
	assert.Equal(t, []string{"15/01/2024 12:00:00", "Ayşe Yılmaz", "Ziraat", "TR00", "-1234.50", "", "TX-1"}, got)
	assert.Equal(t, 6, DefaultLayout().KeyIndex())
	assert.Equal(t, "H", DefaultLayout().LastColumn(len(fields)))
}

func TestLayout_FieldsWithoutApprovalUsesNow(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	fields := DefaultLayout().Fields(&domain.Record{TransactionNo: "1"}, now)
	assert.Equal(t, "01/03/2024 08:00:00", fields[0].String())
	assert.Equal(t, "1", fields[6].String())
}

func TestColumnConversions(t *testing.T) {
	for n := 1; n <= 800; n++ {
		assert.Equal(t, n, ColumnNumber(ColumnName(n)))
	}
	assert.Equal(t, 8, ColumnNumber("h"))
	assert.Equal(t, 0, ColumnNumber("1A"))
	assert.Equal(t, "AA", ColumnName(27))
}

func TestWriteError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &WriteError{Kind: KindLocked, Row: 16, Err: errors.New("protected")})
	assert.ErrorIs(t, err, ErrLocked)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, KindLocked, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
}

func TestMemory_CursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(DefaultLayout())

	row, err := m.FindFirstFreeRow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, row)

	require.NoError(t, m.WriteRow(ctx, row, DefaultLayout().Fields(&domain.Record{TransactionNo: "A"}, time.Now())))
	next, err := m.FindFirstFreeRow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 17, next)

	err = m.WriteRow(ctx, 16, nil)
	require.Error(t, err)
	assert.Equal(t, KindUnknown, KindOf(err))

	keys, err := m.LoadExistingKeys(ctx, "H")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)
}

func TestMemory_Preload(t *testing.T) {
	m := NewMemory(DefaultLayout())
	m.Preload("X", "Y")

	keys, err := m.LoadExistingKeys(context.Background(), "H")
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, keys)

	row, _ := m.FindFirstFreeRow(context.Background())
	assert.Equal(t, 18, row)
}
