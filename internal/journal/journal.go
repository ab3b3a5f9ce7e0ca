// Package journal keeps a local SQLite record of every row delivered to the
// ledger, so operators can list what went out on a given day.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one delivered ledger row.
type Entry struct {
	ID            int64           `json:"id"`
	Identity      string          `json:"identity"`
	TransactionNo string          `json:"transaction_no"`
	Category      domain.Category `json:"category"`
	LedgerRow     int             `json:"ledger_row"`
	Amount        decimal.Decimal `json:"amount"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
	WrittenAt     time.Time       `json:"written_at"`
}

// Journal is the SQLite-backed delivery log.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: opening %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}
	if err := migrateUp(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func migrateUp(ctx context.Context, db *sql.DB) error {
	log := logger.FromContext(ctx)

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrateUp: reading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrateUp: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrateUp: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Msg("Journal schema up to date")
			return nil
		}
		return fmt.Errorf("migrateUp: applying: %w", err)
	}
	log.Info().Msg("Journal migrations applied")
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores e. WrittenAt defaults to now.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.WrittenAt.IsZero() {
		e.WrittenAt = time.Now()
	}
	var approved sql.NullInt64
	if e.ApprovedAt != nil {
		approved = sql.NullInt64{Int64: e.ApprovedAt.UnixNano(), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO deliveries (identity, transaction_no, category, ledger_row, amount, approved_at, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Identity, e.TransactionNo, string(e.Category), e.LedgerRow, e.Amount.String(), approved, e.WrittenAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// ListDay returns the entries written on the calendar day of day, in its
// location, oldest first.
func (j *Journal) ListDay(ctx context.Context, day time.Time) ([]Entry, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	return j.query(ctx, `
		SELECT id, identity, transaction_no, category, ledger_row, amount, approved_at, written_at
		FROM deliveries
		WHERE written_at >= ? AND written_at < ?
		ORDER BY written_at ASC, id ASC`,
		start.UnixNano(), end.UnixNano(),
	)
}

// Recent returns the last limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(ctx, `
		SELECT id, identity, transaction_no, category, ledger_row, amount, approved_at, written_at
		FROM deliveries
		ORDER BY written_at DESC, id DESC
		LIMIT ?`, limit)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			category string
			amount   string
			approved sql.NullInt64
			written  int64
		)
		if err := rows.Scan(&e.ID, &e.Identity, &e.TransactionNo, &category, &e.LedgerRow, &amount, &approved, &written); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		e.Category = domain.Category(category)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("scan delivery %d: amount %q: %w", e.ID, amount, err)
		}
		if approved.Valid {
			t := time.Unix(0, approved.Int64).UTC()
			e.ApprovedAt = &t
		}
		e.WrittenAt = time.Unix(0, written).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
