package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/txn-harvester/internal/api/middleware"
	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/filter"
	"github.com/dvloznov/txn-harvester/internal/jobs"
	"github.com/dvloznov/txn-harvester/internal/journal"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/runner"
)

const dateLayout = "2006-01-02"

// Runner is the part of *runner.Runner the API drives.
type Runner interface {
	Start(ctx context.Context, opts runner.StartOptions) error
	Stop()
	Status() runner.Status
	ResetProcessedIdentities(ctx context.Context)
	ResumeCategory(ctx context.Context, c domain.Category) bool
	Runs(ctx context.Context, f jobs.RunFilter) ([]*jobs.CycleRun, error)
}

// Journal is the read side of the delivery journal.
type Journal interface {
	ListDay(ctx context.Context, day time.Time) ([]journal.Entry, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// RunnerHandler handles the runner control endpoints.
type RunnerHandler struct {
	runner   Runner
	baseCtx  context.Context
	defaults runner.StartOptions
}

// NewRunnerHandler creates a runner handler. baseCtx outlives requests and
// bounds any runner started over HTTP; defaults fill a start request's
// omitted fields.
func NewRunnerHandler(baseCtx context.Context, r Runner, defaults runner.StartOptions) *RunnerHandler {
	return &RunnerHandler{runner: r, baseCtx: baseCtx, defaults: defaults}
}

// GetStatus handles GET /api/status
func (h *RunnerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.runner.Status())
}

type startRequest struct {
	DateFloor  string   `json:"date_floor"`
	Categories []string `json:"categories"`
	Sort       string   `json:"sort"`
}

// Start handles POST /api/runner/start. The body is optional.
func (h *RunnerHandler) Start(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	opts, err := h.startOptions(req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The loop outlives the request, so it logs with the base logger and
	// keeps only who started it.
	runLog := logger.FromContext(h.baseCtx)
	if op := middleware.OperatorFrom(r.Context()); op != "" {
		runLog = runLog.With().Str("operator", op).Logger()
	}
	if err := h.runner.Start(logger.WithContext(h.baseCtx, runLog), opts); err != nil {
		log.Error().Err(err).Msg("Failed to start runner")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start runner: "+err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, h.runner.Status())
}

func (h *RunnerHandler) startOptions(req startRequest) (runner.StartOptions, error) {
	opts := h.defaults
	if req.DateFloor != "" {
		t, err := time.Parse(dateLayout, req.DateFloor)
		if err != nil {
			return opts, errors.New("date_floor must be YYYY-MM-DD")
		}
		opts.DateFloor = &t
	}
	if len(req.Categories) > 0 {
		opts.Categories = nil
		for _, s := range req.Categories {
			c, err := domain.ParseCategory(s)
			if err != nil {
				return opts, err
			}
			opts.Categories = append(opts.Categories, c)
		}
	}
	if req.Sort != "" {
		s, err := filter.ParseSortOrder(req.Sort)
		if err != nil {
			return opts, err
		}
		opts.Sort = s
	}
	return opts, nil
}

// Stop handles POST /api/runner/stop. It does not wait for the loop to exit.
func (h *RunnerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.runner.Stop()
	middleware.WriteJSON(w, http.StatusAccepted, h.runner.Status())
}

// Reset handles POST /api/runner/reset
func (h *RunnerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.runner.ResetProcessedIdentities(r.Context())
	middleware.WriteJSON(w, http.StatusOK, h.runner.Status())
}

// Resume handles POST /api/runner/resume?category=
func (h *RunnerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	c, err := domain.ParseCategory(r.URL.Query().Get("category"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.runner.ResumeCategory(r.Context(), c) {
		middleware.WriteError(w, http.StatusConflict, "Category is not halted")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, h.runner.Status())
}

// ListRuns handles GET /api/runs
func (h *RunnerHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	query := r.URL.Query()

	f := jobs.RunFilter{Status: jobs.RunStatus(query.Get("status"))}
	if s := query.Get("category"); s != "" {
		c, err := domain.ParseCategory(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Category = c
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		f.Offset = offset
	}

	runs, err := h.runner.Runs(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*jobs.CycleRun{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// JournalHandler serves the delivery journal.
type JournalHandler struct {
	journal Journal
}

// NewJournalHandler creates a journal handler.
func NewJournalHandler(j Journal) *JournalHandler {
	return &JournalHandler{journal: j}
}

// List handles GET /api/journal. With ?date=YYYY-MM-DD it lists that day,
// otherwise the most recent entries (?limit=, default 50).
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	query := r.URL.Query()

	var (
		entries []journal.Entry
		err     error
	)
	if s := query.Get("date"); s != "" {
		day, perr := time.Parse(dateLayout, s)
		if perr != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid date format")
			return
		}
		entries, err = h.journal.ListDay(ctx, day)
	} else {
		limit, _ := strconv.Atoi(query.Get("limit"))
		entries, err = h.journal.Recent(ctx, limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read journal")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
