// Package config loads harvester settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/filter"
)

// Ledger kinds accepted by LEDGER_KIND.
const (
	LedgerSheets = "sheets"
	LedgerNotion = "notion"
	LedgerExcel  = "excel"
	LedgerMemory = "memory"
)

const dateLayout = "2006-01-02"

type Config struct {
	// Back office
	BaseURL        string
	ListURL        string
	Username       string
	Password       string
	BasicAuthUser  string
	BasicAuthPass  string
	Headless       bool
	BrowserTimeout time.Duration
	PaceInterval   time.Duration
	PaceBurst      int

	// Ledger
	LedgerKind        string
	SheetsCredentials string
	SpreadsheetID     string
	SheetName         string
	NotionToken       string
	NotionDatabaseID  string
	ExcelPath         string

	// Local state and archives
	JournalPath string
	ArchiveDir  string
	GCSBucket   string
	GCSPrefix   string

	// Run history sink; empty project disables it
	BigQueryProject string
	BigQueryDataset string

	// Runner
	Categories []domain.Category
	DateFloor  *time.Time
	Sort       filter.SortOrder
	Interval   time.Duration
	Cooldown   time.Duration
	Lookback   time.Duration
	MaxPages   int
	AutoStart  bool

	// Operator API and logging
	APIAddr   string
	JWTSecret string
	LogLevel  string
	LogFormat string
}

// Load reads .env from the working directory or its parent, then the
// environment. Malformed values fall back to defaults; Load only fails on
// values that cannot be defaulted sensibly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	baseURL := strings.TrimRight(getEnv("HARVESTER_BASE_URL", ""), "/")
	cfg := &Config{
		BaseURL:        baseURL,
		ListURL:        getEnv("HARVESTER_LIST_URL", joinURL(baseURL, "/marjin/transaction-history")),
		Username:       getEnv("HARVESTER_USERNAME", ""),
		Password:       getEnv("HARVESTER_PASSWORD", ""),
		BasicAuthUser:  getEnv("HARVESTER_BASIC_AUTH_USER", ""),
		BasicAuthPass:  getEnv("HARVESTER_BASIC_AUTH_PASSWORD", ""),
		Headless:       getEnvAsBool("HARVESTER_HEADLESS", true),
		BrowserTimeout: getEnvAsDuration("HARVESTER_BROWSER_TIMEOUT", 30*time.Second),
		PaceInterval:   getEnvAsDuration("HARVESTER_PACE_INTERVAL", 250*time.Millisecond),
		PaceBurst:      getEnvAsInt("HARVESTER_PACE_BURST", 4),

		LedgerKind:        strings.ToLower(getEnv("LEDGER_KIND", LedgerSheets)),
		SheetsCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		SpreadsheetID:     getEnv("SHEETS_SPREADSHEET_ID", ""),
		SheetName:         getEnv("SHEETS_SHEET_NAME", ""),
		NotionToken:       getEnv("NOTION_TOKEN", ""),
		NotionDatabaseID:  getEnv("NOTION_DATABASE_ID", ""),
		ExcelPath:         getEnv("EXCEL_PATH", "ledger.xlsx"),

		JournalPath: getEnv("JOURNAL_PATH", "harvester.db"),
		ArchiveDir:  getEnv("ARCHIVE_DIR", ""),
		GCSBucket:   getEnv("GCS_BUCKET", ""),
		GCSPrefix:   getEnv("GCS_PREFIX", "overlays"),

		BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset: getEnv("BIGQUERY_DATASET", "harvester"),

		Interval:  getEnvAsDuration("RUNNER_INTERVAL", 5*time.Minute),
		Cooldown:  getEnvAsDuration("RUNNER_COOLDOWN", time.Minute),
		Lookback:  getEnvAsDuration("FILTER_LOOKBACK", 24*time.Hour),
		MaxPages:  getEnvAsInt("MAX_PAGES", 50),
		AutoStart: getEnvAsBool("RUNNER_AUTOSTART", true),

		APIAddr:   getEnv("API_ADDR", ":8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	categories, err := parseCategories(getEnv("RUNNER_CATEGORIES", ""))
	if err != nil {
		return nil, fmt.Errorf("Load: RUNNER_CATEGORIES: %w", err)
	}
	cfg.Categories = categories

	if s := getEnv("RUNNER_DATE_FLOOR", ""); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("Load: RUNNER_DATE_FLOOR: %w", err)
		}
		cfg.DateFloor = &t
	}

	if cfg.Sort, err = filter.ParseSortOrder(getEnv("RUNNER_SORT", "")); err != nil {
		return nil, fmt.Errorf("Load: RUNNER_SORT: %w", err)
	}

	return cfg, nil
}

// Validate reports every missing setting the configured ledger and back
// office need.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" && c.ListURL == "" {
		errs = append(errs, errors.New("HARVESTER_BASE_URL is required"))
	}
	if c.Username == "" || c.Password == "" {
		errs = append(errs, errors.New("HARVESTER_USERNAME and HARVESTER_PASSWORD are required"))
	}
	switch c.LedgerKind {
	case LedgerSheets:
		if c.SpreadsheetID == "" {
			errs = append(errs, errors.New("SHEETS_SPREADSHEET_ID is required for the sheets ledger"))
		}
	case LedgerNotion:
		if c.NotionToken == "" || c.NotionDatabaseID == "" {
			errs = append(errs, errors.New("NOTION_TOKEN and NOTION_DATABASE_ID are required for the notion ledger"))
		}
	case LedgerExcel:
		if c.ExcelPath == "" {
			errs = append(errs, errors.New("EXCEL_PATH is required for the excel ledger"))
		}
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_KIND %q", c.LedgerKind))
	}
	if c.Interval <= 0 || c.Cooldown <= 0 {
		errs = append(errs, errors.New("RUNNER_INTERVAL and RUNNER_COOLDOWN must be positive"))
	}
	return errors.Join(errs...)
}

func parseCategories(s string) ([]domain.Category, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []domain.Category
	for _, part := range strings.Split(s, ",") {
		c, err := domain.ParseCategory(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func joinURL(base, path string) string {
	if base == "" {
		return ""
	}
	return base + path
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
