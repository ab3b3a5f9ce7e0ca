package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/api/handlers"
	"github.com/dvloznov/txn-harvester/internal/api/middleware"
	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/filter"
	"github.com/dvloznov/txn-harvester/internal/jobs"
	"github.com/dvloznov/txn-harvester/internal/journal"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/runner"
)

type fakeRunner struct {
	mu       sync.Mutex
	started  []runner.StartOptions
	startCtx context.Context
	stops    int
	resets   int
	halted   map[domain.Category]bool
	lastRuns jobs.RunFilter
}

func (f *fakeRunner) Start(ctx context.Context, opts runner.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, opts)
	f.startCtx = ctx
	return nil
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeRunner) Status() runner.Status {
	return runner.Status{State: runner.StateRunning, Cycles: 3}
}

func (f *fakeRunner) ResetProcessedIdentities(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeRunner) ResumeCategory(ctx context.Context, c domain.Category) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.halted[c]
	delete(f.halted, c)
	return was
}

func (f *fakeRunner) Runs(ctx context.Context, flt jobs.RunFilter) ([]*jobs.CycleRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRuns = flt
	return []*jobs.CycleRun{{RunID: "r1", Category: domain.CategoryDeposit, Status: jobs.RunStatusCompleted}}, nil
}

type fakeJournal struct {
	day   time.Time
	limit int
}

func (j *fakeJournal) ListDay(ctx context.Context, day time.Time) ([]journal.Entry, error) {
	j.day = day
	return []journal.Entry{{Identity: "A", Amount: decimal.NewFromInt(100)}}, nil
}

func (j *fakeJournal) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	j.limit = limit
	return nil, nil
}

type baseKey struct{}

func newServer(t *testing.T, secret string) (*httptest.Server, *fakeRunner, *fakeJournal) {
	t.Helper()
	fr := &fakeRunner{halted: map[domain.Category]bool{domain.CategoryWithdrawal: true}}
	fj := &fakeJournal{}
	base := context.WithValue(context.Background(), baseKey{}, "base")
	defaults := runner.StartOptions{Sort: filter.SortNewestFirst}

	h := NewRouter(zerolog.Nop(),
		handlers.NewRunnerHandler(base, fr, defaults),
		handlers.NewJournalHandler(fj),
		secret,
	)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, fr, fj
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRouter_Health(t *testing.T) {
	srv, _, _ := newServer(t, "secret")
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_AuthGuardsAPI(t *testing.T) {
	srv, _, _ := newServer(t, "secret")

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/status", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := middleware.IssueToken("secret", "ops", time.Minute)
	require.NoError(t, err)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/status", "", "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["state"])
}

func TestRouter_StartUsesBaseContextAndDefaults(t *testing.T) {
	srv, fr, _ := newServer(t, "")

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/runner/start", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runner/start",
		`{"date_floor":"2024-01-10","categories":["Yatırım"],"sort":"oldest"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.started, 2)
	assert.Nil(t, fr.started[0].DateFloor)
	assert.Equal(t, filter.SortNewestFirst, fr.started[0].Sort)

	second := fr.started[1]
	require.NotNil(t, second.DateFloor)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), *second.DateFloor)
	assert.Equal(t, []domain.Category{domain.CategoryDeposit}, second.Categories)
	assert.Equal(t, filter.SortOldestFirst, second.Sort)

	// The runner must not inherit the request context, which ends with the response.
	assert.Equal(t, "base", fr.startCtx.Value(baseKey{}))
	assert.NoError(t, fr.startCtx.Err())
}

func TestRouter_StartedRunnerLogsWithoutRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	fr := &fakeRunner{}
	base := logger.WithContext(context.Background(), zerolog.New(buf))
	srv := httptest.NewServer(NewRouter(zerolog.Nop(),
		handlers.NewRunnerHandler(base, fr, runner.StartOptions{}), nil, "secret"))
	t.Cleanup(srv.Close)

	tok, err := middleware.IssueToken("secret", "alice", time.Minute)
	require.NoError(t, err)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/runner/start", "",
		"Authorization", "Bearer "+tok, "X-Request-ID", "req-42")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	fr.mu.Lock()
	startCtx := fr.startCtx
	fr.mu.Unlock()
	l := logger.FromContext(startCtx)
	l.Info().Msg("cycle")

	assert.Contains(t, buf.String(), `"operator":"alice"`)
	assert.NotContains(t, buf.String(), "req-42")
}

func TestRouter_StartRejectsBadInput(t *testing.T) {
	srv, fr, _ := newServer(t, "")
	for _, body := range []string{`{`, `{"date_floor":"10/01/2024"}`, `{"categories":["sideways"]}`, `{"sort":"random"}`} {
		resp, _ := do(t, http.MethodPost, srv.URL+"/api/runner/start", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Empty(t, fr.started)
}

func TestRouter_StopResetResume(t *testing.T) {
	srv, fr, _ := newServer(t, "")

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/runner/stop", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runner/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runner/resume?category=WITHDRAWAL", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runner/resume?category=WITHDRAWAL", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/runner/resume", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/runner/stop", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	assert.Equal(t, 1, fr.stops)
	assert.Equal(t, 1, fr.resets)
}

func TestRouter_ListRuns(t *testing.T) {
	srv, fr, _ := newServer(t, "")
	resp, body := do(t, http.MethodGet, srv.URL+"/api/runs?category=deposit&status=failed&limit=5&offset=2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	fr.mu.Lock()
	defer fr.mu.Unlock()
	assert.Equal(t, jobs.RunFilter{
		Category: domain.CategoryDeposit,
		Status:   jobs.RunStatusFailed,
		Limit:    5,
		Offset:   2,
	}, fr.lastRuns)
}

func TestRouter_Journal(t *testing.T) {
	srv, _, fj := newServer(t, "")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/journal?date=2024-01-20", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), fj.day)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/journal?limit=7", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["entries"])
	assert.Equal(t, 7, fj.limit)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/journal?date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
