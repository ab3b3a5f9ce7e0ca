package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state shown in the status badge of a row.
type Status string

const (
	StatusUnknown   Status = ""
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusPending   Status = "PENDING"
	StatusCancelled Status = "CANCELLED"
)

// statusLabels maps badge text, lowercased, to a Status.
var statusLabels = map[string]Status{
	"onaylandı":  StatusApproved,
	"onaylandi":  StatusApproved,
	"approved":   StatusApproved,
	"reddedildi": StatusRejected,
	"rejected":   StatusRejected,
	"beklemede":  StatusPending,
	"pending":    StatusPending,
	"iptal":      StatusCancelled,
	"cancelled":  StatusCancelled,
	"canceled":   StatusCancelled,
}

// ParseStatus maps badge text to a Status. Unrecognised text yields StatusUnknown.
func ParseStatus(s string) Status {
	key := normalizeLabel(s)
	if st, ok := statusLabels[key]; ok {
		return st
	}
	return StatusUnknown
}

func (s Status) String() string {
	if s == StatusUnknown {
		return "UNKNOWN"
	}
	return string(s)
}

// Category partitions transactions into the two directions that are harvested
// in separate filter passes.
type Category string

const (
	CategoryDeposit    Category = "DEPOSIT"
	CategoryWithdrawal Category = "WITHDRAWAL"
)

// Categories lists the categories in the order a runner round visits them.
var Categories = []Category{CategoryDeposit, CategoryWithdrawal}

var categoryLabels = map[string]Category{
	"yatırım":    CategoryDeposit,
	"yatirim":    CategoryDeposit,
	"deposit":    CategoryDeposit,
	"çekim":      CategoryWithdrawal,
	"cekim":      CategoryWithdrawal,
	"withdrawal": CategoryWithdrawal,
}

// ParseCategory accepts either the canonical name or a UI label.
func ParseCategory(s string) (Category, error) {
	key := normalizeLabel(s)
	if c, ok := categoryLabels[key]; ok {
		return c, nil
	}
	switch Category(strings.ToUpper(key)) {
	case CategoryDeposit:
		return CategoryDeposit, nil
	case CategoryWithdrawal:
		return CategoryWithdrawal, nil
	}
	return "", fmt.Errorf("ParseCategory: unknown category %q", s)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c == CategoryDeposit || c == CategoryWithdrawal
}

// normalizeLabel lowercases UI text. Lowercasing the Turkish dotted capital I
// leaves a combining dot behind, which is dropped here.
func normalizeLabel(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "\u0307", "")
}
