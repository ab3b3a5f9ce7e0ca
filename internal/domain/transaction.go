package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record represents one transaction harvested from the back-office list view.
// Amounts are stored unsigned; the ledger layout applies the sign for the
// record's category at write time.
type Record struct {
	// TransactionID comes from the detail overlay and is the preferred identity.
	TransactionID string
	// TransactionNo is the row-level reference and the fallback identity.
	TransactionNo string
	ExternalRef   string
	CustomerRef   string

	Status   Status
	Category Category
	// TransactionType is the raw type label read from the detail overlay.
	TransactionType string

	CustomerID   string
	CustomerName string
	UserID       string
	Username     string
	FullName     string

	RequestedAmount decimal.Decimal
	ResultAmount    decimal.Decimal
	PaymentAmount   decimal.Decimal

	BankName      string
	AccountHolder string
	IBAN          string

	CreatedAt      time.Time // zero value means the date block could not be parsed
	AcceptedAt     *time.Time
	LastApprovedAt *time.Time
	LastRejectedAt *time.Time
	LastUpdatedAt  *time.Time

	PageNumber  int
	RowIndex    int
	ExtractedAt time.Time
	HasDetail   bool
}

// Identity returns the deduplication key: TransactionID when known, otherwise
// TransactionNo. Empty when neither was extracted.
func (r *Record) Identity() string {
	if r.TransactionID != "" {
		return r.TransactionID
	}
	return r.TransactionNo
}

// Eligible reports whether the record may be written to the ledger.
func (r *Record) Eligible() bool {
	return r.Status == StatusApproved && r.Identity() != ""
}

// SetTransactionID assigns the detail-level identity once. A later value never
// replaces an earlier one so re-enrichment cannot change a record's key.
func (r *Record) SetTransactionID(id string) {
	if r.TransactionID == "" {
		r.TransactionID = id
	}
}

// WatermarkTime returns the approval timestamp used for incremental resumption.
func (r *Record) WatermarkTime() (time.Time, bool) {
	if r.LastApprovedAt == nil || r.LastApprovedAt.IsZero() {
		return time.Time{}, false
	}
	return *r.LastApprovedAt, true
}
