package extract

import (
	"time"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/shopspring/decimal"
)

// setter writes one parsed value into a record.
type setter func(rec *domain.Record, value string, loc *time.Location)

func text(field func(*domain.Record) *string) setter {
	return func(rec *domain.Record, value string, _ *time.Location) {
		*field(rec) = value
	}
}

func amount(field func(*domain.Record) *decimal.Decimal) setter {
	return func(rec *domain.Record, value string, _ *time.Location) {
		*field(rec) = ParseAmount(value)
	}
}

func optionalTime(field func(*domain.Record) **time.Time) setter {
	return func(rec *domain.Record, value string, loc *time.Location) {
		*field(rec) = parseOptionalTime(value, loc)
	}
}

func requiredTime(field func(*domain.Record) *time.Time) setter {
	return func(rec *domain.Record, value string, loc *time.Location) {
		*field(rec) = ParseDateTime(value, loc)
	}
}

// identity never replaces an identity that is already set.
func identity() setter {
	return func(rec *domain.Record, value string, _ *time.Location) {
		rec.SetTransactionID(value)
	}
}

func transactionType() setter {
	return func(rec *domain.Record, value string, _ *time.Location) {
		rec.TransactionType = value
		if c, err := domain.ParseCategory(value); err == nil && !rec.Category.Valid() {
			rec.Category = c
		}
	}
}

// FieldSpec binds a label shown by the page to the record field it fills.
type FieldSpec struct {
	Label string
	Field string
	set   setter
}

// Locale holds the labels of one UI language.
type Locale struct {
	// DatePrefixes are the labeled lines of the row's date block.
	DatePrefixes []FieldSpec
	// DetailFields are the labeled values of the detail overlay.
	DetailFields []FieldSpec
	// Empty is the placeholder shown for an absent value.
	Empty string
	// Location is the time zone the page renders timestamps in.
	Location *time.Location
}

// rowCell describes one positional cell group: the i-th element found by the
// selector fills the i-th field.
type rowCell struct {
	name   string
	fields []setter
}

var (
	refFields = rowCell{name: "refs", fields: []setter{
		text(func(r *domain.Record) *string { return &r.TransactionNo }),
		text(func(r *domain.Record) *string { return &r.ExternalRef }),
		text(func(r *domain.Record) *string { return &r.CustomerRef }),
	}}
	customerFields = rowCell{name: "customer", fields: []setter{
		text(func(r *domain.Record) *string { return &r.CustomerID }),
		text(func(r *domain.Record) *string { return &r.CustomerName }),
	}}
	amountFields = rowCell{name: "amounts", fields: []setter{
		amount(func(r *domain.Record) *decimal.Decimal { return &r.RequestedAmount }),
		amount(func(r *domain.Record) *decimal.Decimal { return &r.ResultAmount }),
	}}
)

// TurkishLocale is the default back-office language.
func TurkishLocale() Locale {
	return Locale{
		DatePrefixes: []FieldSpec{
			{Label: "Oluşturulma:", Field: "created_at", set: requiredTime(func(r *domain.Record) *time.Time { return &r.CreatedAt })},
			{Label: "Kabul:", Field: "accepted_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.AcceptedAt })},
			{Label: "Onay:", Field: "last_approved_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.LastApprovedAt })},
			{Label: "Red:", Field: "last_rejected_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.LastRejectedAt })},
			{Label: "Güncelleme:", Field: "last_updated_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.LastUpdatedAt })},
		},
		DetailFields: []FieldSpec{
			{Label: "Ödeme Tutarı", Field: "payment_amount", set: amount(func(r *domain.Record) *decimal.Decimal { return &r.PaymentAmount })},
			{Label: "Sonuç Tutarı", Field: "result_amount", set: amount(func(r *domain.Record) *decimal.Decimal { return &r.ResultAmount })},
			{Label: "İşlem ID", Field: "transaction_id", set: identity()},
			{Label: "İşlem Tipi", Field: "transaction_type", set: transactionType()},
			{Label: "Kullanıcı ID", Field: "user_id", set: text(func(r *domain.Record) *string { return &r.UserID })},
			{Label: "Kullanıcı Adı", Field: "username", set: text(func(r *domain.Record) *string { return &r.Username })},
			{Label: "İsim Soyisim", Field: "full_name", set: text(func(r *domain.Record) *string { return &r.FullName })},
			{Label: "Atanan Banka Hesabı", Field: "bank_name", set: text(func(r *domain.Record) *string { return &r.BankName })},
			{Label: "IBAN Sahibi", Field: "account_holder", set: text(func(r *domain.Record) *string { return &r.AccountHolder })},
			{Label: "IBAN", Field: "iban", set: text(func(r *domain.Record) *string { return &r.IBAN })},
			{Label: "İşlem Oluşturma Tarihi", Field: "created_at", set: requiredTime(func(r *domain.Record) *time.Time { return &r.CreatedAt })},
			{Label: "İşleme Kabul Tarihi", Field: "accepted_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.AcceptedAt })},
			{Label: "Son Onay Tarihi", Field: "last_approved_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.LastApprovedAt })},
			{Label: "Son İptal/Red Tarihi", Field: "last_rejected_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.LastRejectedAt })},
			{Label: "Son Güncelleme Tarihi", Field: "last_updated_at", set: optionalTime(func(r *domain.Record) **time.Time { return &r.LastUpdatedAt })},
		},
		Empty:    "-",
		Location: time.UTC,
	}
}

// EnglishLocale matches the English rendering of the same page.
func EnglishLocale() Locale {
	tr := TurkishLocale()
	labels := map[string]string{
		"Oluşturulma:":           "Created:",
		"Kabul:":                 "Accepted:",
		"Onay:":                  "Approved:",
		"Red:":                   "Rejected:",
		"Güncelleme:":            "Updated:",
		"Ödeme Tutarı":           "Payment Amount",
		"Sonuç Tutarı":           "Result Amount",
		"İşlem ID":               "Transaction ID",
		"İşlem Tipi":             "Transaction Type",
		"Kullanıcı ID":           "User ID",
		"Kullanıcı Adı":          "Username",
		"İsim Soyisim":           "Full Name",
		"Atanan Banka Hesabı":    "Assigned Bank Account",
		"IBAN Sahibi":            "IBAN Holder",
		"İşlem Oluşturma Tarihi": "Created At",
		"İşleme Kabul Tarihi":    "Accepted At",
		"Son Onay Tarihi":        "Last Approved At",
		"Son İptal/Red Tarihi":   "Last Rejected At",
		"Son Güncelleme Tarihi":  "Last Updated At",
	}
	translate := func(specs []FieldSpec) []FieldSpec {
		out := make([]FieldSpec, len(specs))
		for i, s := range specs {
			if en, ok := labels[s.Label]; ok {
				s.Label = en
			}
			out[i] = s
		}
		return out
	}
	tr.DatePrefixes = translate(tr.DatePrefixes)
	tr.DetailFields = translate(tr.DetailFields)
	return tr
}
