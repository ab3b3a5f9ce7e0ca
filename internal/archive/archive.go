// Package archive stores the raw detail overlay text of delivered records so
// a ledger row can be traced back to what the back office showed.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

// Archiver persists overlay text for a record.
type Archiver interface {
	Archive(ctx context.Context, rec *domain.Record, text string) error
}

// ObjectName is the relative path an overlay is stored under:
// <yyyy-mm-dd>/<identity>_<hhmmss>.txt, dated by extraction time.
func ObjectName(rec *domain.Record) string {
	id := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, rec.Identity())
	if id == "" {
		id = "unknown"
	}
	ts := rec.ExtractedAt.UTC()
	return path.Join(ts.Format("2006-01-02"), fmt.Sprintf("%s_%s.txt", id, ts.Format("150405")))
}

// Render prefixes the overlay text with a short header.
func Render(rec *domain.Record, text string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "identity: %s\n", rec.Identity())
	fmt.Fprintf(&b, "transaction_no: %s\n", rec.TransactionNo)
	fmt.Fprintf(&b, "category: %s\n", rec.Category)
	fmt.Fprintf(&b, "status: %s\n", rec.Status)
	fmt.Fprintf(&b, "page: %d row: %d\n", rec.PageNumber, rec.RowIndex)
	fmt.Fprintf(&b, "extracted_at: %s\n", rec.ExtractedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	b.WriteString("\n")
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	return []byte(b.String())
}
