package renderer

// Selectors collects the CSS selectors of the transaction history page.
// Row-relative selectors are queried with the row handle as scope.
type Selectors struct {
	HistoryLink string

	Rows         string
	RefButtons   string // transaction no, external ref, customer ref
	CustomerCell string // customer id, customer name
	AmountCell   string // requested amount, result amount
	StatusBadge  string
	StatusCell   string
	DatesCell    string
	DetailButton string
	ButtonText   string

	DetailOverlay string
	CloseButton   string

	NextPage string

	ClearFilters string
	DateFloor    string
	Combobox     string
	Option       string
	Search       string

	LoginEmail    string
	LoginPassword string
	LoginSubmit   string
}

// DefaultSelectors matches the markup of the back-office transaction history.
func DefaultSelectors() Selectors {
	return Selectors{
		HistoryLink: "a[href*='/marjin/transaction-history']",

		Rows:         "tbody tr[data-slot='table-row']",
		RefButtons:   "td:nth-child(1) button",
		CustomerCell: "td:nth-child(2) button",
		AmountCell:   "td:nth-child(3) button",
		StatusBadge:  "td:nth-child(5) [data-slot='badge']",
		StatusCell:   "td:nth-child(5)",
		DatesCell:    "td:nth-child(6)",
		DetailButton: "td:nth-child(7) button",
		ButtonText:   "p",

		DetailOverlay: "[role='dialog'], .modal, [data-slot='sheet-content']",
		CloseButton:   "button[aria-label='Close'], button[data-slot='close-button']",

		NextPage: "button[aria-label='Next page']",

		ClearFilters: "button[data-slot='clear-filters']",
		DateFloor:    "input[name='startDate']",
		Combobox:     "button[role='combobox']",
		Option:       "[role='option']",
		Search:       "button[data-slot='search'], button[type='submit']",

		LoginEmail:    "input[name='email']",
		LoginPassword: "input[name='password']",
		LoginSubmit:   "button[type='submit']",
	}
}
