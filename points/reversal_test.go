package points_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/points"
)

func saleEntry(amount, earned string) *points.LedgerEntry {
	return &points.LedgerEntry{
		DocNo:         "PT-20260301-000001",
		SaleDocNo:     "INV-1",
		SumSaleAmount: d(amount),
		PointsEarned:  d(earned),
	}
}

// =============================================================================
// LINKED DEDUCTION
// =============================================================================

func TestReverse_ProportionalToOriginalSale(t *testing.T) {
	// GIVEN: A sale of 3,000 that earned 3 points
	rs := rules([]points.PointCondition{cond("A", "1000", "1")}, map[string]string{"X": "A", "Y": "A"})
	original := saleEntry("3000", "3")

	// WHEN: 1,500 of it comes back on two lines
	entry := points.Reverse(rs, []points.LineItem{line(1, "X", "1000"), line(2, "Y", "500")}, original)

	// THEN: floor(1500 * 3 / 3000) = 1 point is deducted, spread 0.67 / 0.33
	require.NotNil(t, entry)
	assertDecimal(t, "-1", entry.PointsEarned)
	assertDecimal(t, "1500", entry.SumReturnAmount)
	assertDecimal(t, "0", entry.SumSaleAmount)
	assertDecimal(t, "-0.67", entry.Lines[0].Points)
	assertDecimal(t, "-0.33", entry.Lines[1].Points)
	assertDecimal(t, "1000", entry.Lines[0].ReturnAmount)
	assertDecimal(t, "-1000", entry.Lines[0].TotalAmount())
	assertLinesSum(t, entry)
}

func TestReverse_FullReturnDeductsExactlyOriginal(t *testing.T) {
	// GIVEN: A sale that earned fractional points
	rs := rules(nil, nil)
	original := saleEntry("2000", "2.5")

	// WHEN: Everything is returned, and in a second case more than was sold
	full := points.Reverse(rs, []points.LineItem{line(1, "X", "2000")}, original)
	over := points.Reverse(rs, []points.LineItem{line(1, "X", "2600")}, original)

	// THEN: Both deduct exactly what the sale earned
	require.NotNil(t, full)
	require.NotNil(t, over)
	assertDecimal(t, "-2.5", full.PointsEarned)
	assertDecimal(t, "-2.5", over.PointsEarned)
	assertLinesSum(t, full)
}

func TestReverse_OriginalWithoutPointsDeductsNothing(t *testing.T) {
	rs := rules([]points.PointCondition{cond("A", "100", "1")}, map[string]string{"X": "A"})

	entry := points.Reverse(rs, []points.LineItem{line(1, "X", "500")}, saleEntry("500", "0"))

	require.NotNil(t, entry)
	assertDecimal(t, "0", entry.PointsEarned)
	assertDecimal(t, "0", entry.Lines[0].Points)
}

// =============================================================================
// FALLBACK
// =============================================================================

func TestReverse_FallbackRecomputesConditions(t *testing.T) {
	// GIVEN: No ledger entry for the referenced sale
	rs := rules([]points.PointCondition{cond("A", "1000", "1"), cond("B", "500", "2")},
		map[string]string{"X": "A", "Y": "B"})

	// WHEN: Reversing 2,400 of X and 1,100 of Y
	entry := points.Reverse(rs, []points.LineItem{line(1, "X", "2400"), line(2, "Y", "1100")}, nil)

	// THEN: Deduction is floor(2400/1000)*1 + floor(1100/500)*2 = 6
	require.NotNil(t, entry)
	assertDecimal(t, "-6", entry.PointsEarned)
	assertLinesSum(t, entry)
	assert.Equal(t, "A", entry.Lines[0].ConditionCode)
	for _, l := range entry.Lines {
		assert.False(t, l.Points.IsPositive(), "return lines never carry positive points")
	}
}

func TestReverse_SaleEntryWithoutAmountFallsBack(t *testing.T) {
	rs := rules([]points.PointCondition{cond("A", "1000", "1")}, map[string]string{"X": "A"})

	deduction := points.Deduction(rs, []points.LineItem{line(1, "X", "2000")}, saleEntry("0", "9"))

	assertDecimal(t, "2", deduction)
}

func TestLinkedSaleEntry(t *testing.T) {
	entries := []points.LedgerEntry{
		{DocNo: "A", SaleDocNo: "INV-1", SumSaleAmount: d("0")},
		{DocNo: "B", SaleDocNo: "INV-1", SumSaleAmount: d("10")},
	}
	got := points.LinkedSaleEntry(entries)
	require.NotNil(t, got)
	assert.Equal(t, "B", got.DocNo)
	assert.Nil(t, points.LinkedSaleEntry(nil))
}

// =============================================================================
// BALANCE
// =============================================================================

func TestSummarize(t *testing.T) {
	// GIVEN: Accruals, a return deduction, a redemption and its cancellation
	entries := []points.LedgerEntry{
		{PointsEarned: d("10"), PointsUsed: d("0")},
		{PointsEarned: d("5.5"), PointsUsed: d("0")},
		{PointsEarned: d("-3"), PointsUsed: d("0")},
		{PointsEarned: d("0"), PointsUsed: d("4")},
		{PointsEarned: d("0"), PointsUsed: d("-4")},
		{PointsEarned: d("0"), PointsUsed: d("2")},
	}

	// WHEN
	bal := points.Summarize("C001", entries)

	// THEN: reward = 15.5 - 3, balance = reward - (4 - 4 + 2)
	assert.Equal(t, "C001", bal.CustCode)
	assertDecimal(t, "12.5", bal.RewardPoint)
	assertDecimal(t, "10.5", bal.PointBalance)
}

func TestEntryKind(t *testing.T) {
	assert.Equal(t, points.KindAccrual, points.LedgerEntry{SaleDocNo: "S"}.Kind())
	assert.Equal(t, points.KindDeduction, points.LedgerEntry{ReturnDocNo: "R"}.Kind())
	assert.Equal(t, points.KindRedemption, points.LedgerEntry{PointsUsed: d("1")}.Kind())
	assert.Equal(t, points.KindCancelUse, points.LedgerEntry{PointsUsed: d("-1"), CancelsDocNo: "X"}.Kind())
	assert.Equal(t, points.KindManualAdd, points.LedgerEntry{PointsEarned: d("1")}.Kind())
}
