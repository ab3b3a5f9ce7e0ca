// Package app assembles a harvester from configuration. Binaries call Build
// and Close; everything else talks to the components it exposes.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/txn-harvester/internal/archive"
	"github.com/dvloznov/txn-harvester/internal/config"
	"github.com/dvloznov/txn-harvester/internal/dedup"
	"github.com/dvloznov/txn-harvester/internal/extract"
	"github.com/dvloznov/txn-harvester/internal/filter"
	infraBQ "github.com/dvloznov/txn-harvester/internal/infra/bigquery"
	"github.com/dvloznov/txn-harvester/internal/jobs"
	"github.com/dvloznov/txn-harvester/internal/jobs/inmemory"
	"github.com/dvloznov/txn-harvester/internal/journal"
	"github.com/dvloznov/txn-harvester/internal/ledger"
	"github.com/dvloznov/txn-harvester/internal/ledger/excel"
	"github.com/dvloznov/txn-harvester/internal/ledger/notion"
	"github.com/dvloznov/txn-harvester/internal/ledger/sheets"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/paginate"
	"github.com/dvloznov/txn-harvester/internal/pipeline"
	"github.com/dvloznov/txn-harvester/internal/renderer"
	"github.com/dvloznov/txn-harvester/internal/renderer/chrome"
	"github.com/dvloznov/txn-harvester/internal/runner"
	"github.com/dvloznov/txn-harvester/internal/watermark"
)

// Options adjust Build for the calling binary.
type Options struct {
	// Renderer replaces the Chrome renderer. Tests pass a fake here.
	Renderer renderer.Renderer
	// DryRun writes to an in-memory ledger seeded from the configured one.
	DryRun bool
}

// App holds the wired components.
type App struct {
	Config *config.Config
	Layout ledger.Layout

	Renderer   renderer.Renderer
	Ledger     ledger.Ledger
	Journal    *journal.Journal
	Dedup      *dedup.Store
	Watermarks *watermark.Store
	Runs       jobs.RunStore
	Cycle      *pipeline.Cycle
	Runner     *runner.Runner

	queue   *inmemory.Queue
	closers []func() error
}

// Build wires every component cfg asks for. On error, whatever was already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	log := logger.FromContext(ctx)

	a = &App{
		Config:     cfg,
		Layout:     LayoutFor(cfg),
		Dedup:      dedup.NewStore(),
		Watermarks: watermark.NewStore(),
		Runs:       inmemory.NewStore(0),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if a.Ledger, err = OpenLedger(ctx, cfg, a.Layout); err != nil {
		return a, err
	}
	if opts.DryRun {
		a.Ledger, err = dryRunLedger(ctx, a.Ledger, a.Layout)
		if err != nil {
			return a, err
		}
		log.Warn().Msg("Dry run: rows go to an in-memory ledger")
	}

	var deliveries pipeline.DeliveryJournal
	if cfg.JournalPath != "" {
		j, err := journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			return a, fmt.Errorf("Build: %w", err)
		}
		a.Journal = j
		a.closers = append(a.closers, j.Close)
		deliveries = j
	}

	overlays, err := a.openArchive(ctx)
	if err != nil {
		return a, err
	}

	var publisher jobs.Publisher
	if cfg.BigQueryProject != "" {
		repo, err := infraBQ.NewRepository(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return a, fmt.Errorf("Build: %w", err)
		}
		a.closers = append(a.closers, repo.Close)

		a.queue = inmemory.NewQueue(100, 2)
		if err := a.queue.Start(logger.WithComponent(ctx, "run-sink"), repo.SaveRun); err != nil {
			return a, fmt.Errorf("Build: starting run sink: %w", err)
		}
		publisher = a.queue
		log.Info().Str("project", cfg.BigQueryProject).Str("dataset", cfg.BigQueryDataset).Msg("Cycle runs are exported to BigQuery")
	}

	r := opts.Renderer
	if r == nil {
		cr, err := chrome.New(ctx, chrome.Options{
			BaseURL:       cfg.BaseURL,
			Username:      cfg.Username,
			Password:      cfg.Password,
			BasicAuthUser: cfg.BasicAuthUser,
			BasicAuthPass: cfg.BasicAuthPass,
			Headless:      cfg.Headless,
			ActionTimeout: cfg.BrowserTimeout,
			Selectors:     renderer.DefaultSelectors(),
		})
		if err != nil {
			return a, fmt.Errorf("Build: %w", err)
		}
		a.closers = append(a.closers, func() error { cr.Close(); return nil })
		r = cr
	}
	if cfg.PaceInterval > 0 {
		r = renderer.NewPaced(r, cfg.PaceInterval, cfg.PaceBurst)
	}
	a.Renderer = r

	sel := renderer.DefaultSelectors()
	a.Cycle = pipeline.New(pipeline.Config{
		Renderer:  r,
		Selectors: sel,
		Extractor: extract.New(r, sel, extract.TurkishLocale()),
		Filter:    filter.NewController(r, sel, filter.WithLookback(cfg.Lookback)),
		Paginator: paginate.New(r, sel),
		Dedup:     a.Dedup,
		Ledger:    a.Ledger,
		Layout:    a.Layout,
		Archive:   overlays,
		Journal:   deliveries,
		ListURL:   cfg.ListURL,
		MaxPages:  cfg.MaxPages,
	})

	a.Runner = runner.New(runner.Config{
		Cycle:      a.Cycle,
		Dedup:      a.Dedup,
		Watermarks: a.Watermarks,
		Ledger:     a.Ledger,
		KeyColumn:  a.Layout.KeyColumn,
		Runs:       a.Runs,
		Publisher:  publisher,
		Interval:   cfg.Interval,
		Cooldown:   cfg.Cooldown,
	})
	return a, nil
}

// StartOptions are the runner's start filters from configuration.
func (a *App) StartOptions() runner.StartOptions {
	return runner.StartOptions{
		DateFloor:  a.Config.DateFloor,
		Categories: a.Config.Categories,
		Sort:       a.Config.Sort,
	}
}

// Close stops the runner, drains the run sink and releases resources in
// reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Runner != nil {
		a.Runner.Stop()
		if err := a.Runner.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for runner: %w", err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping run sink: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openArchive(ctx context.Context) (pipeline.Archiver, error) {
	cfg := a.Config
	switch {
	case cfg.GCSBucket != "":
		g, err := archive.NewGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("Build: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	case cfg.ArchiveDir != "":
		return archive.NewDir(cfg.ArchiveDir), nil
	}
	return nil, nil
}

// LayoutFor is the default layout with the configured sheet name.
func LayoutFor(cfg *config.Config) ledger.Layout {
	layout := ledger.DefaultLayout()
	if cfg.SheetName != "" {
		layout.Sheet = cfg.SheetName
	}
	return layout
}

// OpenLedger builds the ledger named by cfg.LedgerKind.
func OpenLedger(ctx context.Context, cfg *config.Config, layout ledger.Layout) (ledger.Ledger, error) {
	switch cfg.LedgerKind {
	case config.LedgerSheets:
		l, err := sheets.NewFromCredentials(ctx, cfg.SheetsCredentials, cfg.SpreadsheetID, layout)
		if err != nil {
			return nil, fmt.Errorf("OpenLedger: %w", err)
		}
		return l, nil
	case config.LedgerNotion:
		return notion.New(notion.NewClient(cfg.NotionToken), cfg.NotionDatabaseID, layout), nil
	case config.LedgerExcel:
		return excel.New(cfg.ExcelPath, layout), nil
	case config.LedgerMemory:
		return ledger.NewMemory(layout), nil
	}
	return nil, fmt.Errorf("OpenLedger: unknown ledger kind %q", cfg.LedgerKind)
}

// dryRunLedger copies the real ledger's keys into a memory ledger so a dry
// run still skips what was already delivered.
func dryRunLedger(ctx context.Context, real ledger.Ledger, layout ledger.Layout) (ledger.Ledger, error) {
	keys, err := real.LoadExistingKeys(ctx, layout.KeyColumn)
	if err != nil {
		return nil, fmt.Errorf("dry run: loading keys: %w", err)
	}
	mem := ledger.NewMemory(layout)
	mem.Preload(keys...)
	return mem, nil
}
