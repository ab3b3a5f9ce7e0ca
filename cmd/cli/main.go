package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/txn-harvester/internal/api/middleware"
	"github.com/dvloznov/txn-harvester/internal/app"
	"github.com/dvloznov/txn-harvester/internal/archive"
	"github.com/dvloznov/txn-harvester/internal/config"
	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/filter"
	infraBQ "github.com/dvloznov/txn-harvester/internal/infra/bigquery"
	"github.com/dvloznov/txn-harvester/internal/journal"
	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/pipeline"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "once":
		runOnce(log)
	case "keys":
		runKeys(log)
	case "journal":
		runJournal(log)
	case "archive":
		runArchive(log)
	case "token":
		runToken(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Transaction Harvester CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  once      Run a single sync cycle for one category")
	fmt.Println("  keys      Print the identities already present in the ledger")
	fmt.Println("  journal   List delivered rows, optionally exporting them to BigQuery")
	fmt.Println("  archive   Print an archived detail overlay from GCS")
	fmt.Println("  token     Issue a bearer token for the control API")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nConfiguration is read from the environment and .env.")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

func loadConfig(log zerolog.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	return cfg
}

func runOnce(log zerolog.Logger) {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	category := fs.String("category", string(domain.CategoryDeposit), "Category to harvest (DEPOSIT or WITHDRAWAL)")
	dateFloor := fs.String("date-floor", "", "Earliest date to harvest (YYYY-MM-DD)")
	sortOrder := fs.String("sort", "", "Sort order (newest or oldest)")
	dryRun := fs.Bool("dry-run", false, "Write to an in-memory ledger instead of the configured one")
	fs.Parse(os.Args[2:])

	cat, err := domain.ParseCategory(*category)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --category")
	}
	req := pipeline.Request{Category: cat}
	if *dateFloor != "" {
		floor, err := time.Parse(time.DateOnly, *dateFloor)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --date-floor, expected YYYY-MM-DD")
		}
		req.DateFloor = &floor
	}
	if *sortOrder != "" {
		if req.Sort, err = filter.ParseSortOrder(*sortOrder); err != nil {
			log.Fatal().Err(err).Msg("Invalid --sort")
		}
	}

	cfg := loadConfig(log)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Build(ctx, cfg, app.Options{DryRun: *dryRun})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build harvester")
	}
	defer a.Close(context.Background())

	keys, err := a.Ledger.LoadExistingKeys(ctx, a.Layout.KeyColumn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger keys")
	}
	a.Dedup.Seed(keys)

	res, err := a.Cycle.Run(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Cycle failed")
	}

	fmt.Printf("Category:  %s\n", cat)
	fmt.Printf("Pages:     %d\n", res.Pages)
	fmt.Printf("Written:   %d\n", res.Written)
	fmt.Printf("Skipped:   %d\n", res.Skipped)
	fmt.Printf("Failed:    %d\n", res.Failed)
	for reason, n := range res.SkipReasons {
		fmt.Printf("  %-20s %d\n", reason, n)
	}
	if res.NewWatermark != nil {
		fmt.Printf("Watermark: %s\n", res.NewWatermark.Format(time.RFC3339))
	}
	if !res.Filter.Complete() {
		fmt.Printf("Filters not applied: %v\n", res.Filter.NotApplied)
	}
}

func runKeys(log zerolog.Logger) {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	count := fs.Bool("count", false, "Print only the number of keys")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	layout := app.LayoutFor(cfg)
	l, err := app.OpenLedger(ctx, cfg, layout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}

	keys, err := l.LoadExistingKeys(ctx, layout.KeyColumn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load keys")
	}

	if *count {
		fmt.Println(len(keys))
		return
	}
	for _, k := range keys {
		fmt.Println(k)
	}
}

func runJournal(log zerolog.Logger) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	date := fs.String("date", "", "Day to list (YYYY-MM-DD, default today)")
	export := fs.Bool("export", false, "Stream the listed rows to the BigQuery deliveries table")
	fs.Parse(os.Args[2:])

	day := time.Now().UTC()
	if *date != "" {
		d, err := time.Parse(time.DateOnly, *date)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --date, expected YYYY-MM-DD")
		}
		day = d
	}

	cfg := loadConfig(log)
	if cfg.JournalPath == "" {
		log.Fatal().Msg("JOURNAL_PATH is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	j, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open journal")
	}
	defer j.Close()

	entries, err := j.ListDay(ctx, day)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list journal")
	}

	fmt.Printf("%d row(s) delivered on %s\n\n", len(entries), day.Format(time.DateOnly))
	for _, e := range entries {
		fmt.Printf("%-5d %-24s %-10s %12s  %s\n",
			e.LedgerRow, e.Identity, e.Category, e.Amount.StringFixed(2), e.WrittenAt.Format(time.RFC3339))
	}

	if !*export || len(entries) == 0 {
		return
	}
	if cfg.BigQueryProject == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT is required for --export")
	}
	repo, err := infraBQ.NewRepository(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer repo.Close()

	if err := repo.ExportDeliveries(ctx, entries); err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}
	fmt.Printf("\nExported %d row(s) to %s.deliveries\n", len(entries), cfg.BigQueryDataset)
}

func runArchive(log zerolog.Logger) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	uri := fs.String("uri", "", "gs:// URI of the archived overlay")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Error: --uri is required")
	}
	bucket, _, err := archive.ParseURI(*uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --uri")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	g, err := archive.NewGCS(ctx, bucket, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer g.Close()

	data, err := g.Fetch(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch overlay")
	}
	os.Stdout.Write(data)
}

func runToken(log zerolog.Logger) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "Operator name recorded in request logs")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	fs.Parse(os.Args[2:])

	if *subject == "" {
		log.Fatal().Msg("Error: --subject is required")
	}

	cfg := loadConfig(log)
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is not set; the API accepts requests without a token")
	}

	tok, err := middleware.IssueToken(cfg.JWTSecret, *subject, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	fmt.Println(tok)
}
