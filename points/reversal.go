/*
reversal.go - Point deduction for a return document

A return takes back points in proportion to what the originating sale
earned, so a customer cannot keep points for goods they brought back.

RULES:
  1. Linked: the referenced sale has a ledger entry with a positive sale
     amount. deduction = floor(returnTotal * earned / saleAmount).
     Returning the full sale amount (or more) deducts exactly what the
     sale earned, never more.
  2. Fallback: no usable sale entry. The return lines are grouped and
     thresholded with the current conditions, like a sale.
  3. The deduction is spread over the eligible return lines in proportion
     to their amounts, remainder to the first line, then negated.

EXAMPLE:
  Sale 3,000 earned 3. Return 1,500 of it.
  deduction = floor(1500 * 3 / 3000) = 1   ->  pointsEarned = -1
*/
package points

import "github.com/shopspring/decimal"

// Deduction returns the positive number of points a return takes back.
// original may be nil when the referenced sale has no ledger entry.
func Deduction(rules RuleSet, eligible []LineItem, original *LedgerEntry) decimal.Decimal {
	returnTotal := sumAmounts(eligible)

	if original != nil && original.SumSaleAmount.IsPositive() {
		if !returnTotal.IsPositive() || !original.PointsEarned.IsPositive() {
			return decimal.Zero
		}
		if returnTotal.GreaterThanOrEqual(original.SumSaleAmount) {
			return original.PointsEarned
		}
		return returnTotal.Mul(original.PointsEarned).Div(original.SumSaleAmount).Floor()
	}

	deduction := decimal.Zero
	for _, g := range groupByCondition(rules, eligible) {
		deduction = deduction.Add(g.Earned())
	}
	return deduction
}

// Reverse computes the candidate entry for a return from its eligible lines.
// It returns nil when there are no eligible lines.
func Reverse(rules RuleSet, eligible []LineItem, original *LedgerEntry) *LedgerEntry {
	if len(eligible) == 0 {
		return nil
	}

	deduction := Deduction(rules, eligible, original)
	returnTotal := sumAmounts(eligible)

	entry := &LedgerEntry{
		SumSaleAmount:   decimal.Zero,
		SumReturnAmount: returnTotal,
		PointsUsed:      decimal.Zero,
	}

	for _, l := range eligible {
		cond, _ := rules.ConditionFor(l.ItemCode)
		entry.Lines = append(entry.Lines, LedgerLine{
			LineNo:        l.LineNo,
			Barcode:       l.Barcode,
			ItemCode:      l.ItemCode,
			ItemName:      l.ItemName,
			UnitCode:      l.UnitCode,
			Qty:           l.Qty,
			Price:         l.Price,
			SaleAmount:    decimal.Zero,
			ReturnAmount:  l.Amount,
			Points:        share(l.Amount, returnTotal, deduction),
			ConditionCode: cond.Code,
		})
	}
	absorbRemainder(entry.Lines, deduction)

	for i := range entry.Lines {
		entry.Lines[i].Points = entry.Lines[i].Points.Neg()
	}
	entry.PointsEarned = deduction.Neg()
	return entry
}

// LinkedSaleEntry picks the sale entry a return deducts against.
func LinkedSaleEntry(entries []LedgerEntry) *LedgerEntry {
	for i := range entries {
		if entries[i].SaleDocNo != "" && entries[i].SumSaleAmount.IsPositive() {
			return &entries[i]
		}
	}
	return nil
}

func sumAmounts(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}
