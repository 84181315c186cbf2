/*
Package points provides the loyalty point reconciliation engine.

PURPOSE:
  Turns sale and return documents recorded in the store-front system into
  ledger entries, and derives every customer's point balance from that
  ledger. The engine runs as a catch-up batch: it discovers documents that
  are new or were edited since they were last processed, computes their
  points, and commits each one in its own unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - SourceDocument / LineItem: Read-only sale and return documents
  - PointCondition: Threshold rule (every N amount earns M points)
  - EligibilityPeriod: Date ranges during which accrual is switched on
  - LedgerEntry / LedgerLine: The engine's unit of record
  - Watermark: Last processed modification time of a source document
  - CustomerBalance: Derived reward point / point balance pair

DESIGN PRINCIPLES:
  1. Derived balances: CustomerBalance is recomputed from the full ledger,
     never incremented
  2. Precision: Amounts and points use decimal.Decimal
  3. Replace, don't patch: a recomputed entry replaces all of its lines
  4. Re-runnable: processing the same document twice yields the same ledger

SEE ALSO:
  - allocation.go: Sale point calculation
  - reversal.go: Return point deduction
  - engine.go: Batch orchestrator
  - balance.go: Balance reconciler
*/
package points

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SOURCE DOCUMENTS - Owned by the store-front system, read-only here
// =============================================================================

// DocType discriminates sale documents from return documents.
type DocType string

const (
	DocSale   DocType = "sale"
	DocReturn DocType = "return"
)

func (t DocType) Valid() bool { return t == DocSale || t == DocReturn }

// SourceDocument is a sale or return header.
type SourceDocument struct {
	DocNo        string
	Type         DocType
	DocDate      time.Time // calendar date, time-of-day is zero
	DocTime      string    // "15:04"
	CustCode     string
	RefDocNo     string // returns: the originating sale
	LastModified time.Time
	Voided       bool
}

// LineItem is one detail row of a SourceDocument.
type LineItem struct {
	LineNo   int
	Barcode  string
	ItemCode string
	ItemName string
	UnitCode string
	Qty      decimal.Decimal
	Price    decimal.Decimal
	Amount   decimal.Decimal
}

// =============================================================================
// CONFIGURATION - Conditions and periods
// =============================================================================

// DefaultAmountPerPoint applies when a condition carries no usable threshold.
var DefaultAmountPerPoint = decimal.NewFromInt(1000)

// PointCondition earns PointsEarned points for every AmountPerPoint spent.
type PointCondition struct {
	Code           string
	Name           string
	AmountPerPoint decimal.Decimal
	PointsEarned   decimal.Decimal
}

// Threshold returns the amount that earns one unit of PointsEarned.
func (c PointCondition) Threshold() decimal.Decimal {
	if !c.AmountPerPoint.IsPositive() {
		return DefaultAmountPerPoint
	}
	return c.AmountPerPoint
}

// RuleSet is the condition configuration in effect at calculation time.
// There is no history: reprocessing an old document uses today's rules.
type RuleSet struct {
	Conditions     map[string]PointCondition // condition code -> condition
	ItemConditions map[string]string         // item code -> condition code
}

// ConditionFor returns the condition mapped to an item, if any.
func (rs RuleSet) ConditionFor(itemCode string) (PointCondition, bool) {
	code, ok := rs.ItemConditions[itemCode]
	if !ok {
		return PointCondition{}, false
	}
	cond, ok := rs.Conditions[code]
	return cond, ok
}

// EligibilityPeriod is an inclusive date range during which documents accrue points.
type EligibilityPeriod struct {
	ID        int64
	StartDate time.Time
	EndDate   time.Time
	Active    bool
	Remark    string
	CreatedBy string
	UpdatedAt time.Time
}

// Contains reports whether the calendar date of t falls inside the period.
func (p EligibilityPeriod) Contains(t time.Time) bool {
	d := dateOnly(t)
	return !d.Before(dateOnly(p.StartDate)) && !d.After(dateOnly(p.EndDate))
}

// Validate checks the period bounds.
func (p EligibilityPeriod) Validate() error {
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return ErrInvalidPeriod
	}
	if dateOnly(p.StartDate).After(dateOnly(p.EndDate)) {
		return ErrInvalidPeriod
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// LEDGER - Owned by the engine
// =============================================================================

// LedgerEntry is one posted point transaction.
//
// Batch entries link to exactly one source document through SaleDocNo or
// ReturnDocNo. Manual entries (add, use, cancel-use) link to neither.
type LedgerEntry struct {
	DocNo           string
	DocDate         time.Time
	DocTime         string
	CustCode        string
	SaleDocNo       string
	ReturnDocNo     string
	SumSaleAmount   decimal.Decimal
	SumReturnAmount decimal.Decimal
	PointsEarned    decimal.Decimal // signed: negative for return deductions
	PointsUsed      decimal.Decimal // positive for redemptions, negative for their cancellation
	Remark          string
	CancelsDocNo    string
	UpdatedAt       time.Time
	Lines           []LedgerLine
}

// SumTotalAmount is the net document amount (sale minus return).
func (e LedgerEntry) SumTotalAmount() decimal.Decimal {
	return e.SumSaleAmount.Sub(e.SumReturnAmount)
}

// LinkedToDocument reports whether the entry was produced by batch processing.
func (e LedgerEntry) LinkedToDocument() bool {
	return e.SaleDocNo != "" || e.ReturnDocNo != ""
}

// LinePointsTotal sums the points attributed to the entry's lines.
func (e LedgerEntry) LinePointsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Points)
	}
	return total
}

// EntryKind classifies ledger entries for display and events.
type EntryKind string

const (
	KindAccrual    EntryKind = "accrual"
	KindDeduction  EntryKind = "deduction"
	KindManualAdd  EntryKind = "manual_add"
	KindRedemption EntryKind = "redemption"
	KindCancelUse  EntryKind = "cancel_use"
)

// Kind derives the entry kind from its linkage and point columns.
func (e LedgerEntry) Kind() EntryKind {
	switch {
	case e.SaleDocNo != "":
		return KindAccrual
	case e.ReturnDocNo != "":
		return KindDeduction
	case e.CancelsDocNo != "":
		return KindCancelUse
	case e.PointsUsed.IsPositive():
		return KindRedemption
	default:
		return KindManualAdd
	}
}

// LedgerLine is the per-item breakdown of a LedgerEntry.
type LedgerLine struct {
	LineNo        int
	Barcode       string
	ItemCode      string
	ItemName      string
	UnitCode      string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	SaleAmount    decimal.Decimal
	ReturnAmount  decimal.Decimal
	Points        decimal.Decimal // signed, sums to the entry's PointsEarned
	ConditionCode string
	Remark        string
}

// TotalAmount is the signed line amount (sale minus return).
func (l LedgerLine) TotalAmount() decimal.Decimal {
	return l.SaleAmount.Sub(l.ReturnAmount)
}

// Watermark records the source document version that was last processed.
type Watermark struct {
	DocNo        string
	DocType      DocType
	LastModified time.Time
	ProcessedAt  time.Time
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// Customer is a loyalty member as stored in the customer master.
type Customer struct {
	Code    string
	Name    string
	Balance CustomerBalance
}

// CustomerBalance is derived from the ledger and never edited directly.
type CustomerBalance struct {
	CustCode     string          `json:"cust_code"`
	RewardPoint  decimal.Decimal `json:"reward_point"`  // lifetime accrual net of return deductions
	PointBalance decimal.Decimal `json:"point_balance"` // RewardPoint minus redemptions
}
