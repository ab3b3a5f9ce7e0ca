package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

func record() *domain.Record {
	return &domain.Record{
		TransactionID: "TX/1",
		TransactionNo: "100",
		Category:      domain.CategoryDeposit,
		Status:        domain.StatusApproved,
		ExtractedAt:   time.Date(2024, 1, 15, 9, 30, 5, 0, time.UTC),
	}
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "2024-01-15/TX_1_093005.txt", ObjectName(record()))
	assert.Equal(t, "0001-01-01/unknown_000000.txt", ObjectName(&domain.Record{}))
}

func TestDir_Archive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, NewDir(root).Archive(context.Background(), record(), "İşlem ID\nTX/1"))

	data, err := os.ReadFile(filepath.Join(root, "2024-01-15", "TX_1_093005.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "identity: TX/1\n")
	assert.Contains(t, string(data), "category: DEPOSIT\n")
	assert.Contains(t, string(data), "\nİşlem ID\nTX/1\n")
}

func TestParseURI(t *testing.T) {
	bucket, object, err := ParseURI("gs://overlays/details/2024-01-15/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "overlays", bucket)
	assert.Equal(t, "details/2024-01-15/a.txt", object)

	for _, bad := range []string{"s3://x/y", "gs://bucket", "gs://bucket/"} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}
