package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/txn-harvester/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one versioned DDL file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

var migrationFilePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// LoadMigrations reads NNNN_name.sql files from the root of fsys, sorted by
// version. {{PROJECT_ID}} and {{DATASET_ID}} are substituted; the checksum
// is taken before substitution so it does not depend on the target dataset.
func LoadMigrations(fsys fs.FS, projectID, datasetID string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("LoadMigrations: reading directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("LoadMigrations: version %04d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("LoadMigrations: reading %s: %w", entry.Name(), err)
		}
		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     m[2],
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrations returns the embedded schema for the repository's dataset.
func (r *Repository) Migrations() ([]Migration, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("Migrations: %w", err)
	}
	return LoadMigrations(sub, r.projectID, r.datasetID)
}

// Migrate applies pending embedded migrations in order and records each in
// schema_migrations. It returns how many were applied. A recorded migration
// whose checksum has since changed is an error.
func (r *Repository) Migrate(ctx context.Context, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	migrations, err := r.Migrations()
	if err != nil {
		return 0, err
	}
	if err := r.exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)`, r.projectID, r.datasetID), nil); err != nil {
		return 0, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	applied, err := r.appliedChecksums(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if sum, ok := applied[m.Version]; ok {
			if sum != "" && sum != m.Checksum {
				return count, fmt.Errorf("Migrate: %s changed after it was applied", m.Filename)
			}
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Migration already applied")
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")
		if err := r.exec(ctx, m.SQL, nil); err != nil {
			return count, fmt.Errorf("Migrate: executing %s: %w", m.Filename, err)
		}
		if err := r.exec(ctx, fmt.Sprintf(`
			INSERT INTO `+"`%s.%s.schema_migrations`"+`
			(version, name, applied_at, checksum, applied_by)
			VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`,
			r.projectID, r.datasetID), []bigquery.QueryParameter{
			{Name: "version", Value: m.Version},
			{Name: "name", Value: m.Name},
			{Name: "checksum", Value: m.Checksum},
			{Name: "applied_by", Value: appliedBy},
		}); err != nil {
			return count, fmt.Errorf("Migrate: recording %s: %w", m.Filename, err)
		}
		count++
	}
	return count, nil
}

func (r *Repository) appliedChecksums(ctx context.Context) (map[int]string, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT version, checksum
		FROM `+"`%s.%s.schema_migrations`", r.projectID, r.datasetID))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("appliedChecksums: %w", err)
	}

	applied := make(map[int]string)
	for {
		var row struct {
			Version  int64
			Checksum bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("appliedChecksums: iterating: %w", err)
		}
		applied[int(row.Version)] = row.Checksum.StringVal
	}
	return applied, nil
}

func (r *Repository) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
