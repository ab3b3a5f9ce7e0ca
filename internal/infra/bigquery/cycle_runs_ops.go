package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/txn-harvester/internal/jobs"
)

const (
	cycleRunsTable  = "cycle_runs"
	deliveriesTable = "deliveries"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("cycle run not found")

const cycleRunColumns = `
			run_id,
			round,
			category,
			date_floor,
			new_watermark,
			status,
			written,
			skipped,
			failed,
			pages,
			started_ts,
			finished_ts,
			error_message`

// Repository stores cycle runs and exported deliveries in one dataset. It
// holds a shared client for all operations.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a client for projectID.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// SaveRun upserts run by run_id. Its signature matches jobs.RunHandler so
// the run queue can drain into it directly.
func (r *Repository) SaveRun(ctx context.Context, run *jobs.CycleRun) error {
	if run.RunID == "" {
		return fmt.Errorf("SaveRun: run ID is required")
	}
	row := RowFromRun(run)

	q := r.client.Query(fmt.Sprintf(`
		MERGE %s.%s T
		USING (SELECT @run_id AS run_id) S
		ON T.run_id = S.run_id
		WHEN MATCHED THEN UPDATE SET
			status = @status,
			new_watermark = @new_watermark,
			written = @written,
			skipped = @skipped,
			failed = @failed,
			pages = @pages,
			finished_ts = @finished_ts,
			error_message = @error_message
		WHEN NOT MATCHED THEN INSERT (%s
		)
		VALUES (
			@run_id,
			@round,
			@category,
			@date_floor,
			@new_watermark,
			@status,
			@written,
			@skipped,
			@failed,
			@pages,
			@started_ts,
			@finished_ts,
			@error_message
		)
	`, r.datasetID, cycleRunsTable, cycleRunColumns))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "round", Value: row.Round},
		{Name: "category", Value: row.Category},
		{Name: "date_floor", Value: row.DateFloor},
		{Name: "new_watermark", Value: row.NewWatermark},
		{Name: "status", Value: row.Status},
		{Name: "written", Value: row.Written},
		{Name: "skipped", Value: row.Skipped},
		{Name: "failed", Value: row.Failed},
		{Name: "pages", Value: row.Pages},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "finished_ts", Value: row.FinishedTS},
		{Name: "error_message", Value: row.ErrorMessage},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("SaveRun: running merge query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("SaveRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("SaveRun: job error: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *Repository) GetRun(ctx context.Context, runID string) (*jobs.CycleRun, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT%s
		FROM %s.%s
		WHERE run_id = @run_id
		LIMIT 1
	`, cycleRunColumns, r.datasetID, cycleRunsTable))
	q.Parameters = []bigquery.QueryParameter{{Name: "run_id", Value: runID}}

	rows, err := r.read(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("GetRun: %s: %w", runID, ErrRunNotFound)
	}
	return rows[0], nil
}

// ListRuns retrieves runs newest first.
func (r *Repository) ListRuns(ctx context.Context, f jobs.RunFilter) ([]*jobs.CycleRun, error) {
	sql, params := listRunsQuery(r.datasetID, f)
	q := r.client.Query(sql)
	q.Parameters = params

	rows, err := r.read(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: %w", err)
	}
	return rows, nil
}

func (r *Repository) read(ctx context.Context, q *bigquery.Query) ([]*jobs.CycleRun, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var runs []*jobs.CycleRun
	for {
		var row CycleRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		runs = append(runs, row.ToRun())
	}
	return runs, nil
}

// listRunsQuery builds the filtered listing. Limit defaults to 50.
func listRunsQuery(datasetID string, f jobs.RunFilter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if f.Category != "" {
		where = append(where, "category = @category")
		params = append(params, bigquery.QueryParameter{Name: "category", Value: string(f.Category)})
	}
	if f.Status != "" {
		where = append(where, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(f.Status)})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	params = append(params,
		bigquery.QueryParameter{Name: "limit", Value: int64(limit)},
		bigquery.QueryParameter{Name: "offset", Value: int64(max(f.Offset, 0))},
	)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT%s\n\t\tFROM %s.%s", cycleRunColumns, datasetID, cycleRunsTable)
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE " + strings.Join(where, " AND "))
	}
	b.WriteString("\n\t\tORDER BY started_ts DESC\n\t\tLIMIT @limit OFFSET @offset")
	return b.String(), params
}

var _ jobs.RunStore = (*Repository)(nil)
