package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestJournal_AppendAndListDay(t *testing.T) {
	j, _ := openTemp(t)
	ctx := context.Background()

	approved := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, Entry{
		Identity:      "TX-1",
		TransactionNo: "100",
		Category:      domain.CategoryDeposit,
		LedgerRow:     16,
		Amount:        decimal.RequireFromString("100.50"),
		ApprovedAt:    &approved,
		WrittenAt:     day.Add(10 * time.Hour),
	}))
	require.NoError(t, j.Append(ctx, Entry{
		Identity:  "TX-2",
		Category:  domain.CategoryWithdrawal,
		LedgerRow: 17,
		Amount:    decimal.RequireFromString("-20"),
		WrittenAt: day.Add(26 * time.Hour),
	}))

	got, err := j.ListDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "TX-1", got[0].Identity)
	assert.Equal(t, "100", got[0].TransactionNo)
	assert.Equal(t, 16, got[0].LedgerRow)
	assert.True(t, decimal.RequireFromString("100.5").Equal(got[0].Amount))
	require.NotNil(t, got[0].ApprovedAt)
	assert.True(t, approved.Equal(*got[0].ApprovedAt))

	next, err := j.ListDay(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Nil(t, next[0].ApprovedAt)
	assert.Equal(t, domain.CategoryWithdrawal, next[0].Category)
}

func TestJournal_RecentNewestFirst(t *testing.T) {
	j, _ := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"A", "B", "C"} {
		require.NoError(t, j.Append(ctx, Entry{Identity: id, Category: domain.CategoryDeposit, WrittenAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	got, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].Identity)
	assert.Equal(t, "B", got[1].Identity)
}

func TestJournal_ReopenKeepsEntries(t *testing.T) {
	j, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, Entry{Identity: "A", Category: domain.CategoryDeposit}))
	require.NoError(t, j.Close())

	again, err := Open(ctx, path)
	require.NoError(t, err)
	defer again.Close()

	got, err := again.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Identity)
}
