package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/jobs"
)

type CycleRunRow struct {
	RunID    string `bigquery:"run_id"`   // REQUIRED
	Round    int64  `bigquery:"round"`    // REQUIRED
	Category string `bigquery:"category"` // REQUIRED

	DateFloor    bigquery.NullDate      `bigquery:"date_floor"`    // NULLABLE
	NewWatermark bigquery.NullTimestamp `bigquery:"new_watermark"` // NULLABLE

	Status string `bigquery:"status"` // REQUIRED

	Written int64 `bigquery:"written"`
	Skipped int64 `bigquery:"skipped"`
	Failed  int64 `bigquery:"failed"`
	Pages   int64 `bigquery:"pages"`

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	ErrorMessage string `bigquery:"error_message"` // NULLABLE
}

const maxErrorLen = 2000

// RowFromRun converts a run to its table row. Error messages are truncated.
func RowFromRun(run *jobs.CycleRun) *CycleRunRow {
	row := &CycleRunRow{
		RunID:        run.RunID,
		Round:        int64(run.Round),
		Category:     string(run.Category),
		Status:       string(run.Status),
		Written:      int64(run.Written),
		Skipped:      int64(run.Skipped),
		Failed:       int64(run.Failed),
		Pages:        int64(run.Pages),
		StartedTS:    run.StartedAt,
		ErrorMessage: run.Error,
	}
	if len(row.ErrorMessage) > maxErrorLen {
		row.ErrorMessage = row.ErrorMessage[:maxErrorLen]
	}
	if run.DateFloor != nil {
		row.DateFloor = bigquery.NullDate{Date: civil.DateOf(*run.DateFloor), Valid: true}
	}
	if run.NewWatermark != nil {
		row.NewWatermark = bigquery.NullTimestamp{Timestamp: *run.NewWatermark, Valid: true}
	}
	if run.FinishedAt != nil {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: *run.FinishedAt, Valid: true}
	}
	return row
}

// ToRun converts a row back to a run. The date floor comes back as UTC
// midnight.
func (r *CycleRunRow) ToRun() *jobs.CycleRun {
	run := &jobs.CycleRun{
		RunID:     r.RunID,
		Round:     int(r.Round),
		Category:  domain.Category(r.Category),
		Status:    jobs.RunStatus(r.Status),
		Written:   int(r.Written),
		Skipped:   int(r.Skipped),
		Failed:    int(r.Failed),
		Pages:     int(r.Pages),
		StartedAt: r.StartedTS,
		Error:     r.ErrorMessage,
	}
	if r.DateFloor.Valid {
		t := r.DateFloor.Date.In(time.UTC)
		run.DateFloor = &t
	}
	if r.NewWatermark.Valid {
		t := r.NewWatermark.Timestamp
		run.NewWatermark = &t
	}
	if r.FinishedTS.Valid {
		t := r.FinishedTS.Timestamp
		run.FinishedAt = &t
	}
	return run
}
