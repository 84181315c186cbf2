/*
Package sqlite provides a SQLite-backed implementation of points.Store.

PURPOSE:
  Holds both sides of the point engine's data in one database: the tables
  the store-front system owns (customers, items, conditions, periods,
  source documents) and the tables the engine owns (ledger, ledger lines,
  watermarks, run history, sequences).

INTERFACES IMPLEMENTED:
  points.Store: Reads, run history, period administration
  points.Tx:    Unit-of-work view bound to one *sql.Tx

KEY TABLES:
  source_documents / source_lines: Sale and return documents (read-only to the engine)
  point_ledger / point_ledger_lines: Ledger entries and their per-item breakdown
  point_watermarks: Last processed modification time per source document
  point_runs: One row per batch pass or customer rebuild
  sequences: Named counters (ledger doc numbers)

ENCODING:
  - Amounts and points: TEXT, written and read through decimal.Decimal
  - Timestamps: fixed-width UTC text so they compare correctly as strings
  - Calendar dates: YYYY-MM-DD

CONCURRENCY:
  Transactions begin IMMEDIATE, so writers serialize at BEGIN instead of
  failing at their first write. In-memory databases are limited to one
  connection because every connection would otherwise get its own empty
  database.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := points.NewEngine(store)

SEE ALSO:
  - points/store.go: Interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/warp/points-engine/points"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000000Z"
	dateLayout      = "2006-01-02"
)

// Store implements points.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ points.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- =====================================================================
	-- Store-front tables (written by fixtures, read by the engine)
	-- =====================================================================

	CREATE TABLE IF NOT EXISTS customers (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		reward_point TEXT NOT NULL DEFAULT '0',
		point_balance TEXT NOT NULL DEFAULT '0',
		balance_updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS items (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		have_point INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS point_conditions (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		amount_per_point TEXT NOT NULL DEFAULT '0',
		points_earned TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS item_conditions (
		item_code TEXT PRIMARY KEY,
		condition_code TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS point_periods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		remark TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS source_documents (
		doc_type TEXT NOT NULL,
		doc_no TEXT NOT NULL,
		doc_date TEXT NOT NULL,
		doc_time TEXT NOT NULL DEFAULT '',
		cust_code TEXT NOT NULL DEFAULT '',
		ref_doc_no TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL,
		voided INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (doc_type, doc_no)
	);

	CREATE INDEX IF NOT EXISTS idx_source_documents_cust
		ON source_documents(cust_code);
	CREATE INDEX IF NOT EXISTS idx_source_documents_date
		ON source_documents(doc_type, doc_date, doc_time);

	CREATE TABLE IF NOT EXISTS source_lines (
		doc_type TEXT NOT NULL,
		doc_no TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		barcode TEXT NOT NULL DEFAULT '',
		item_code TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		unit_code TEXT NOT NULL DEFAULT '',
		qty TEXT NOT NULL DEFAULT '0',
		price TEXT NOT NULL DEFAULT '0',
		amount TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (doc_type, doc_no, line_no),
		FOREIGN KEY (doc_type, doc_no) REFERENCES source_documents(doc_type, doc_no) ON DELETE CASCADE
	);

	-- =====================================================================
	-- Engine-owned tables
	-- =====================================================================

	CREATE TABLE IF NOT EXISTS point_ledger (
		doc_no TEXT PRIMARY KEY,
		doc_date TEXT NOT NULL,
		doc_time TEXT NOT NULL DEFAULT '',
		cust_code TEXT NOT NULL,
		sale_doc_no TEXT NOT NULL DEFAULT '',
		return_doc_no TEXT NOT NULL DEFAULT '',
		sum_sale_amount TEXT NOT NULL DEFAULT '0',
		sum_return_amount TEXT NOT NULL DEFAULT '0',
		sum_total_amount TEXT NOT NULL DEFAULT '0',
		points_earned TEXT NOT NULL DEFAULT '0',
		points_used TEXT NOT NULL DEFAULT '0',
		remark TEXT NOT NULL DEFAULT '',
		cancels_doc_no TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_point_ledger_cust
		ON point_ledger(cust_code, doc_date DESC, doc_time DESC);
	CREATE INDEX IF NOT EXISTS idx_point_ledger_sale
		ON point_ledger(sale_doc_no) WHERE sale_doc_no <> '';
	CREATE INDEX IF NOT EXISTS idx_point_ledger_return
		ON point_ledger(return_doc_no) WHERE return_doc_no <> '';

	-- A redemption can be cancelled at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_point_ledger_cancels
		ON point_ledger(cancels_doc_no) WHERE cancels_doc_no <> '';

	CREATE TABLE IF NOT EXISTS point_ledger_lines (
		doc_no TEXT NOT NULL REFERENCES point_ledger(doc_no) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		line_no INTEGER NOT NULL,
		barcode TEXT NOT NULL DEFAULT '',
		item_code TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		unit_code TEXT NOT NULL DEFAULT '',
		qty TEXT NOT NULL DEFAULT '0',
		price TEXT NOT NULL DEFAULT '0',
		sale_amount TEXT NOT NULL DEFAULT '0',
		return_amount TEXT NOT NULL DEFAULT '0',
		total_amount TEXT NOT NULL DEFAULT '0',
		points TEXT NOT NULL DEFAULT '0',
		condition_code TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (doc_no, seq)
	);

	CREATE TABLE IF NOT EXISTS point_watermarks (
		doc_type TEXT NOT NULL,
		doc_no TEXT NOT NULL,
		last_modified TEXT NOT NULL,
		processed_at TEXT NOT NULL,
		PRIMARY KEY (doc_type, doc_no)
	);

	CREATE TABLE IF NOT EXISTS point_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		cust_code TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_point_runs_started
		ON point_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// WithTx executes fn within a database transaction.
// If fn returns an error the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(points.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	return errors.Wrap(sqlTx.Commit(), "commit transaction")
}

// txStore is the points.Tx view of one *sql.Tx. Every read goes through the
// transaction so it sees the unit's own writes.
type txStore struct {
	tx *sql.Tx
}

var _ points.Tx = (*txStore)(nil)

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func nullableTimestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTimestamp(t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Reset deletes all data. Useful for tests and re-seeding.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"point_ledger_lines", "point_ledger", "point_watermarks", "point_runs", "sequences",
		"source_lines", "source_documents", "item_conditions", "point_conditions",
		"items", "point_periods", "customers",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return errors.Wrapf(err, "reset %s", t)
		}
	}
	return nil
}
