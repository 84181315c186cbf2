package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *Store {
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func saveSale(t *testing.T, s *Store, docNo, cust, modified string, voided bool) points.SourceDocument {
	doc := points.SourceDocument{
		DocNo:        docNo,
		Type:         points.DocSale,
		DocDate:      ts(modified).Truncate(24 * time.Hour),
		DocTime:      "10:00",
		CustCode:     cust,
		LastModified: ts(modified),
		Voided:       voided,
	}
	require.NoError(t, s.SaveDocument(context.Background(), doc, []points.LineItem{
		{ItemCode: "X", Qty: dec("2"), Price: dec("500.25"), Amount: dec("1000.50")},
	}))
	return doc
}

func dueNumbers(t *testing.T, s *Store) []string {
	docs, err := s.DueDocuments(context.Background(), points.DocSale)
	require.NoError(t, err)
	var out []string
	for _, d := range docs {
		out = append(out, d.DocNo)
	}
	return out
}

func record(t *testing.T, s *Store, doc points.SourceDocument) {
	require.NoError(t, s.WithTx(context.Background(), func(tx points.Tx) error {
		return tx.RecordWatermark(context.Background(), points.Watermark{
			DocNo:        doc.DocNo,
			DocType:      doc.Type,
			LastModified: doc.LastModified,
			ProcessedAt:  doc.LastModified.Add(time.Hour),
		})
	}))
}

// =============================================================================
// SOURCE DOCUMENTS AND WATERMARKS
// =============================================================================

func TestDueDocuments(t *testing.T) {
	// GIVEN: Documents in every watermark state
	s := newTestStore(t)
	saveSale(t, s, "S-NEW", "C1", "2026-03-03T09:00:00Z", false)
	done := saveSale(t, s, "S-DONE", "C1", "2026-03-01T09:00:00Z", false)
	edited := saveSale(t, s, "S-EDIT", "C1", "2026-03-02T09:00:00Z", false)
	voidedDone := saveSale(t, s, "S-VOID", "C1", "2026-03-02T10:00:00Z", false)
	saveSale(t, s, "S-VOID-NEW", "C1", "2026-03-02T11:00:00Z", true)
	saveSale(t, s, "S-ANON", "", "2026-03-02T12:00:00Z", false)
	record(t, s, done)
	record(t, s, edited)
	record(t, s, voidedDone)

	edited.LastModified = edited.LastModified.Add(time.Millisecond)
	require.NoError(t, s.SaveDocument(context.Background(), edited, nil))
	voidedDone.Voided = true
	voidedDone.LastModified = voidedDone.LastModified.Add(time.Minute)
	require.NoError(t, s.SaveDocument(context.Background(), voidedDone, nil))

	// WHEN / THEN: New, edited and voided-after-processing documents are due,
	// in document date order
	assert.Equal(t, []string{"S-EDIT", "S-VOID", "S-NEW"}, dueNumbers(t, s))
}

func TestSaveDocument_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	saveSale(t, s, "S-1", "C1", "2026-03-03T09:15:30.123456Z", false)

	doc, lines, err := s.SourceDocument(context.Background(), points.DocSale, "S-1")
	require.NoError(t, err)
	assert.True(t, ts("2026-03-03T09:15:30.123456Z").Equal(doc.LastModified))
	assert.Equal(t, "2026-03-03", doc.DocDate.Format("2006-01-02"))
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].LineNo)
	assert.True(t, dec("1000.50").Equal(lines[0].Amount))

	_, _, err = s.SourceDocument(context.Background(), points.DocReturn, "S-1")
	assert.ErrorIs(t, err, points.ErrDocumentNotFound)
}

func TestDeleteCustomerWatermarks(t *testing.T) {
	s := newTestStore(t)
	a := saveSale(t, s, "S-A", "C1", "2026-03-01T09:00:00Z", false)
	b := saveSale(t, s, "S-B", "C2", "2026-03-01T09:00:00Z", false)
	record(t, s, a)
	record(t, s, b)

	require.NoError(t, s.WithTx(context.Background(), func(tx points.Tx) error {
		n, err := tx.DeleteCustomerWatermarks(context.Background(), "C1")
		assert.Equal(t, 1, n)
		return err
	}))

	assert.Equal(t, []string{"S-A"}, dueNumbers(t, s))
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestRuleSetAndEligibleItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveItem(ctx, Item{Code: "X", HavePoint: true}))
	require.NoError(t, s.SaveItem(ctx, Item{Code: "Y", HavePoint: false}))
	require.NoError(t, s.SaveCondition(ctx, points.PointCondition{
		Code: "A", Name: "Default", AmountPerPoint: dec("25.5"), PointsEarned: dec("2"),
	}))
	require.NoError(t, s.MapItem(ctx, "X", "A"))

	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		flags, err := tx.EligibleItems(ctx, []string{"X", "Y", "Z"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"X": true}, flags)

		empty, err := tx.EligibleItems(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)

		rs, err := tx.RuleSet(ctx)
		require.NoError(t, err)
		c, ok := rs.ConditionFor("X")
		require.True(t, ok)
		assert.True(t, dec("25.5").Equal(c.AmountPerPoint))
		_, ok = rs.ConditionFor("Y")
		assert.False(t, ok)
		return nil
	}))
}

// =============================================================================
// LEDGER
// =============================================================================

func sampleEntry(docNo string) points.LedgerEntry {
	return points.LedgerEntry{
		DocNo:         docNo,
		DocDate:       ts("2026-03-10T00:00:00Z"),
		DocTime:       "09:15",
		CustCode:      "C1",
		SaleDocNo:     "S-1",
		SumSaleAmount: dec("3000"),
		PointsEarned:  dec("3"),
		PointsUsed:    decimal.Zero,
		UpdatedAt:     ts("2026-03-15T10:30:00Z"),
		Lines: []points.LedgerLine{
			{LineNo: 1, ItemCode: "X", Qty: dec("1"), Price: dec("1000"), SaleAmount: dec("1000"), Points: dec("1.01")},
			{LineNo: 2, ItemCode: "Y", Qty: dec("1"), Price: dec("2000"), SaleAmount: dec("2000"), Points: dec("1.99")},
		},
	}
}

func TestLedger_UpsertReplacesLines(t *testing.T) {
	// GIVEN: An entry with two lines
	ctx := context.Background()
	s := newTestStore(t)
	e := sampleEntry("PT-20260315-000001")
	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		return points.WriteEntry(ctx, tx, e)
	}))

	// WHEN: It is rewritten with a single line
	e.PointsEarned = dec("5")
	e.Lines = []points.LedgerLine{{LineNo: 7, ItemCode: "X", SaleAmount: dec("3000"), Points: dec("5")}}
	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		return points.WriteEntry(ctx, tx, e)
	}))

	// THEN: The header is updated and the old lines are gone
	got, err := s.Entry(ctx, e.DocNo)
	require.NoError(t, err)
	assert.True(t, dec("5").Equal(got.PointsEarned))
	assert.True(t, dec("3000").Equal(got.SumSaleAmount))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 7, got.Lines[0].LineNo)
	assert.Equal(t, "2026-03-10", got.DocDate.Format("2006-01-02"))
}

func TestLedger_UnbalancedEntryIsRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := sampleEntry("PT-20260315-000001")
	e.PointsEarned = dec("4")

	err := s.WithTx(ctx, func(tx points.Tx) error {
		return points.WriteEntry(ctx, tx, e)
	})

	assert.ErrorIs(t, err, points.ErrUnbalancedEntry)
	_, err = s.Entry(ctx, e.DocNo)
	assert.ErrorIs(t, err, points.ErrEntryNotFound)
}

func TestLedger_DeleteCascadesToLines(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := sampleEntry("PT-20260315-000001")
	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		return points.WriteEntry(ctx, tx, e)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		return tx.DeleteEntry(ctx, e.DocNo)
	}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM point_ledger_lines`).Scan(&n))
	assert.Zero(t, n)
}

func TestLedger_OneCancellationPerRedemption(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cancel := func(docNo string) points.LedgerEntry {
		return points.LedgerEntry{
			DocNo:        docNo,
			DocDate:      ts("2026-03-15T00:00:00Z"),
			CustCode:     "C1",
			PointsUsed:   dec("-4"),
			CancelsDocNo: "PT-20260315-000001",
			UpdatedAt:    ts("2026-03-15T10:30:00Z"),
		}
	}

	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		return tx.UpsertEntry(ctx, cancel("PT-20260315-000002"))
	}))
	err := s.WithTx(ctx, func(tx points.Tx) error {
		return tx.UpsertEntry(ctx, cancel("PT-20260315-000003"))
	})
	assert.Error(t, err, "a second cancellation violates the unique index")

	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		got, found, err := tx.CancellationOf(ctx, "PT-20260315-000001")
		require.True(t, found)
		assert.Equal(t, "PT-20260315-000002", got.DocNo)
		return err
	}))
}

func TestNextSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var got []int64
	for i := 0; i < 3; i++ {
		require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
			n, err := tx.NextSequence(ctx, points.DocSequence)
			got = append(got, n)
			return err
		}))
	}
	// A rolled-back increment is not consumed.
	_ = s.WithTx(ctx, func(tx points.Tx) error {
		_, _ = tx.NextSequence(ctx, points.DocSequence)
		return assert.AnError
	})
	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		n, err := tx.NextSequence(ctx, points.DocSequence)
		got = append(got, n)
		return err
	}))

	assert.Equal(t, []int64{1, 2, 3, 4}, got)
}

// =============================================================================
// CUSTOMERS, PERIODS, RUNS
// =============================================================================

func TestSaveBalance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveCustomer(ctx, "C1", "Somchai"))

	require.NoError(t, s.WithTx(ctx, func(tx points.Tx) error {
		ok, err := tx.SaveBalance(ctx, points.CustomerBalance{CustCode: "C1", RewardPoint: dec("12.5"), PointBalance: dec("8.25")})
		assert.True(t, ok)
		require.NoError(t, err)

		ok, err = tx.SaveBalance(ctx, points.CustomerBalance{CustCode: "GHOST", RewardPoint: dec("1")})
		assert.False(t, ok)
		return err
	}))

	c, err := s.Customer(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Somchai", c.Name)
	assert.True(t, dec("12.5").Equal(c.Balance.RewardPoint))
	assert.True(t, dec("8.25").Equal(c.Balance.PointBalance))

	// Renaming keeps the stored balance.
	require.NoError(t, s.SaveCustomer(ctx, "C1", "Somchai J."))
	c, err = s.Customer(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, dec("8.25").Equal(c.Balance.PointBalance))
}

func TestPeriods(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	active, err := s.CreatePeriod(ctx, points.EligibilityPeriod{
		StartDate: ts("2026-03-01T00:00:00Z"), EndDate: ts("2026-03-31T00:00:00Z"), Active: true,
	})
	require.NoError(t, err)
	_, err = s.CreatePeriod(ctx, points.EligibilityPeriod{
		StartDate: ts("2026-01-01T00:00:00Z"), EndDate: ts("2026-01-31T00:00:00Z"), Active: false,
	})
	require.NoError(t, err)

	periods, err := s.ActivePeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, active.ID, periods[0].ID)
	assert.Equal(t, "2026-03-31", periods[0].EndDate.Format("2006-01-02"))

	all, err := s.ListPeriods(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.Period(ctx, 404)
	assert.ErrorIs(t, err, points.ErrPeriodNotFound)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	started := ts("2026-03-15T05:00:00Z")

	run := points.Run{ID: "r1", Mode: points.ModeProcessAll, Status: points.RunRunning, StartedAt: started}
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveRun(ctx, points.Run{
		ID: "r2", Mode: points.ModeRecalc, CustCode: "C1", Status: points.RunRunning, StartedAt: started,
	}))

	run.Status = points.RunCompleted
	run.Processed = 7
	run.FinishedAt = started.Add(3 * time.Second)
	require.NoError(t, s.SaveRun(ctx, run))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID, "ties on start time fall back to insertion order")
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Equal(t, points.RunCompleted, runs[1].Status)
	assert.Equal(t, 7, runs[1].Processed)
	assert.True(t, started.Add(3*time.Second).Equal(runs[1].FinishedAt))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", dsn(":memory:"))
	assert.Equal(t, "file:x.db?cache=shared&_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate",
		dsn("file:x.db?cache=shared"))
}
