package main

import (
	"context"
	"flag"
	"os"
	"time"

	infraBQ "github.com/dvloznov/txn-harvester/internal/infra/bigquery"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

func main() {
	var (
		projectID = flag.String("project", os.Getenv("BIGQUERY_PROJECT"), "GCP project ID (or set BIGQUERY_PROJECT)")
		datasetID = flag.String("dataset", envOr("BIGQUERY_DATASET", "harvester"), "BigQuery dataset ID")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name recorded in schema_migrations")
		dryRun    = flag.Bool("dry-run", false, "List migrations without applying them")
	)
	flag.Parse()

	log := logger.New()

	if *projectID == "" {
		log.Fatal().Msg("Error: -project is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRepository(ctx, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer repo.Close()

	if *dryRun {
		migrations, err := repo.Migrations()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migrations")
		}
		for _, m := range migrations {
			log.Info().Int("version", m.Version).Str("name", m.Name).Str("checksum", m.Checksum[:12]).Msg("Migration")
		}
		return
	}

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Applying migrations")

	applied, err := repo.Migrate(ctx, *appliedBy)
	if err != nil {
		log.Fatal().Err(err).Int("applied", applied).Msg("Migration failed")
	}
	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		return
	}
	log.Info().Int("applied", applied).Msg("Migrations applied")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
