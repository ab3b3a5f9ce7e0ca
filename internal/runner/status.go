package runner

import (
	"time"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

// CategoryStatus is the per-category part of Status.
type CategoryStatus struct {
	Category  domain.Category `json:"category"`
	Runs      int             `json:"runs"`
	Written   int             `json:"written"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Watermark *time.Time      `json:"watermark,omitempty"`
	Halted    bool            `json:"halted"`
	LastError string          `json:"last_error,omitempty"`
	NextRunAt *time.Time      `json:"next_run_at,omitempty"`
}

// Status is a point-in-time snapshot for operators.
type Status struct {
	State      State            `json:"state"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	Cycles     int              `json:"cycles"`
	Categories []CategoryStatus `json:"categories"`

	// PersistedIdentities were loaded from the ledger; SessionIdentities
	// were delivered by this process.
	PersistedIdentities int `json:"persisted_identities"`
	SessionIdentities   int `json:"session_identities"`

	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// Status returns a snapshot of the runner.
func (r *Runner) Status() Status {
	persisted, session := r.cfg.Dedup.Counts()

	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		State:               r.state,
		StartedAt:           r.startedAt,
		Cycles:              r.cycles,
		PersistedIdentities: persisted,
		SessionIdentities:   session,
		LastError:           r.lastErr,
		LastErrorAt:         r.lastErrAt,
	}

	order := r.opts.Categories
	if len(order) == 0 {
		order = domain.Categories
	}
	for _, c := range order {
		cs := r.category(c)
		item := CategoryStatus{
			Category:  c,
			Runs:      cs.runs,
			Written:   cs.written,
			Skipped:   cs.skipped,
			Failed:    cs.failed,
			Watermark: r.cfg.Watermarks.Get(c),
			Halted:    cs.halted,
			LastError: cs.lastErr,
		}
		if !cs.notBefore.IsZero() && !cs.halted {
			next := cs.notBefore
			item.NextRunAt = &next
		}
		st.Categories = append(st.Categories, item)
	}
	return st
}
