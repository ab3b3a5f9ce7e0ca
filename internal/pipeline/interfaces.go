package pipeline

import (
	"context"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/journal"
)

// DeliveryJournal records every successful ledger write.
// journal.Journal is the production implementation.
type DeliveryJournal interface {
	Append(ctx context.Context, e journal.Entry) error
}

// Archiver stores the overlay text of a record that is about to be written.
// archive.Dir and archive.GCS implement it.
type Archiver interface {
	Archive(ctx context.Context, rec *domain.Record, text string) error
}
