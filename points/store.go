/*
store.go - Persistence interface for the point engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  reads source documents, conditions and periods from tables it does not
  own, and writes the ledger, watermarks, balances and run history.

KEY INTERFACES:
  Store:  Non-transactional reads, run history and period administration
  Tx:     Everything a unit of work touches, bound to one transaction

UNIT OF WORK:
  Store.WithTx() runs fn inside a single transaction. If fn returns an
  error the transaction is rolled back, otherwise it is committed. Every
  read made through Tx sees the transaction's own writes.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via database/sql

SEE ALSO:
  - engine.go: Drives units of work through this interface
*/
package points

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Entry point and non-transactional reads
// =============================================================================

// Store is the engine's persistence boundary.
type Store interface {
	// WithTx executes fn within a transaction.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// ActivePeriods returns the eligibility periods with the active flag set.
	ActivePeriods(ctx context.Context) ([]EligibilityPeriod, error)

	// DueDocuments returns documents of one type that have a customer and
	// either no watermark or a watermark older than their last-modified
	// time, ordered by document date, time and number. Voided documents
	// are only returned when a stale watermark exists for them.
	DueDocuments(ctx context.Context, docType DocType) ([]SourceDocument, error)

	// SaveRun inserts or updates a run record.
	SaveRun(ctx context.Context, run Run) error

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// EntryOwners returns the distinct customers of the ledger entries
	// derived from one source document.
	EntryOwners(ctx context.Context, docType DocType, docNo string) ([]string, error)

	Reader
	PeriodStore
}

// Reader exposes the read views used by the HTTP layer.
type Reader interface {
	// Customer returns the customer with its stored balance.
	Customer(ctx context.Context, custCode string) (Customer, error)

	// ListEntries returns a page of a customer's ledger, newest first,
	// together with the total number of entries.
	ListEntries(ctx context.Context, custCode string, limit, offset int) ([]LedgerEntry, int, error)

	// Entry returns one ledger entry with its lines.
	Entry(ctx context.Context, docNo string) (LedgerEntry, error)
}

// PeriodStore administers eligibility periods.
type PeriodStore interface {
	ListPeriods(ctx context.Context) ([]EligibilityPeriod, error)
	Period(ctx context.Context, id int64) (EligibilityPeriod, error)
	CreatePeriod(ctx context.Context, p EligibilityPeriod) (EligibilityPeriod, error)
	UpdatePeriod(ctx context.Context, p EligibilityPeriod) (EligibilityPeriod, error)
	DeletePeriod(ctx context.Context, id int64) error
}

// =============================================================================
// TX - Operations bound to one unit of work
// =============================================================================

// Tx is a view of the store inside a transaction.
type Tx interface {
	// Source documents (read-only)
	Document(ctx context.Context, docType DocType, docNo string) (SourceDocument, error)
	Lines(ctx context.Context, docType DocType, docNo string) ([]LineItem, error)
	CustomerDocuments(ctx context.Context, custCode string) ([]SourceDocument, error)

	// Configuration (read-only)
	EligibleItems(ctx context.Context, itemCodes []string) (map[string]bool, error)
	RuleSet(ctx context.Context) (RuleSet, error)
	ActivePeriods(ctx context.Context) ([]EligibilityPeriod, error)

	// Ledger
	NextSequence(ctx context.Context, name string) (int64, error)
	EntriesForDocument(ctx context.Context, docType DocType, docNo string) ([]LedgerEntry, error)
	RebuildableEntries(ctx context.Context, custCode string) ([]LedgerEntry, error)
	CustomerEntries(ctx context.Context, custCode string) ([]LedgerEntry, error)
	Entry(ctx context.Context, docNo string) (LedgerEntry, error)
	CancellationOf(ctx context.Context, docNo string) (LedgerEntry, bool, error)
	UpsertEntry(ctx context.Context, entry LedgerEntry) error
	ReplaceLines(ctx context.Context, docNo string, lines []LedgerLine) error
	DeleteEntry(ctx context.Context, docNo string) error

	// Watermarks
	Watermark(ctx context.Context, docType DocType, docNo string) (Watermark, bool, error)
	RecordWatermark(ctx context.Context, w Watermark) error
	DeleteCustomerWatermarks(ctx context.Context, custCode string) (int, error)

	// Customers
	Customer(ctx context.Context, custCode string) (Customer, error)
	SaveBalance(ctx context.Context, bal CustomerBalance) (bool, error)
}

// =============================================================================
// RUN HISTORY
// =============================================================================

// RunMode identifies what kind of pass a run was.
type RunMode string

const (
	ModeProcessAll RunMode = "process_all"
	ModeRecalc     RunMode = "recalc"
)

// RunStatus is the final state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run records one orchestrator pass or customer rebuild.
type Run struct {
	ID         string
	Mode       RunMode
	CustCode   string
	Status     RunStatus
	Processed  int
	Skipped    int
	Failed     int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
