package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/txn-harvester/internal/journal"
)

type DeliveryRow struct {
	Identity      string `bigquery:"identity"`       // REQUIRED
	TransactionNo string `bigquery:"transaction_no"` // NULLABLE
	Category      string `bigquery:"category"`       // REQUIRED
	LedgerRow     int64  `bigquery:"ledger_row"`     // REQUIRED

	Amount *big.Rat `bigquery:"amount"` // NUMERIC

	ApprovedAt  bigquery.NullTimestamp `bigquery:"approved_at"`  // NULLABLE
	WrittenTS   time.Time              `bigquery:"written_ts"`   // REQUIRED
	WrittenDate civil.Date             `bigquery:"written_date"` // REQUIRED, partition column
}

// RowFromEntry converts a journal entry to its table row.
func RowFromEntry(e journal.Entry) *DeliveryRow {
	row := &DeliveryRow{
		Identity:      e.Identity,
		TransactionNo: e.TransactionNo,
		Category:      string(e.Category),
		LedgerRow:     int64(e.LedgerRow),
		Amount:        e.Amount.Rat(),
		WrittenTS:     e.WrittenAt,
		WrittenDate:   civil.DateOf(e.WrittenAt),
	}
	if e.ApprovedAt != nil {
		row.ApprovedAt = bigquery.NullTimestamp{Timestamp: *e.ApprovedAt, Valid: true}
	}
	return row
}

// ExportDeliveries streams journal entries into the deliveries table. The
// identity doubles as the insert ID, so re-exporting a day is deduplicated
// by BigQuery on a best-effort basis.
func (r *Repository) ExportDeliveries(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(entries))
	for _, e := range entries {
		savers = append(savers, &bigquery.StructSaver{
			Struct:   RowFromEntry(e),
			InsertID: e.Identity,
		})
	}

	// Use fully qualified table name to avoid project ID issues
	table := r.client.DatasetInProject(r.projectID, r.datasetID).Table(deliveriesTable)
	if err := table.Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("ExportDeliveries: inserting rows: %w", err)
	}
	return nil
}
