/*
allocation.go - Earned points for a sale document

ALGORITHM:
  1. Map each eligible line to its condition through the item mapping.
     Lines without a mapping are itemized with zero points.
  2. Group mapped lines by condition. Groups keep the order in which their
     condition first appears, lines keep input order, and unmapped lines
     follow all groups.
  3. groupEarned = floor(groupTotal / amountPerPoint) * pointsEarned.
     The threshold is hard: 2,999 at 1000/1 earns 2, 3,000 earns 3.
  4. Each line gets round(lineAmount / groupTotal * groupEarned, 2).
  5. Whatever rounding leaves over is added to the first detail line so
     the lines always sum to the entry total exactly.

EXAMPLE:
  Condition A: 1000 per 1 point. Lines 1,500 + 1,500 (group total 3,000).
  groupEarned = floor(3000/1000) * 1 = 3
  shares      = 1.50 + 1.50 = 3.00, remainder 0

SEE ALSO:
  - reversal.go: Uses the same grouping as its fallback
*/
package points

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// conditionGroup is a set of lines sharing one condition.
type conditionGroup struct {
	Condition PointCondition
	Mapped    bool
	Lines     []LineItem
	Total     decimal.Decimal
}

// Earned applies the hard threshold rule to the group total.
func (g conditionGroup) Earned() decimal.Decimal {
	if !g.Mapped || !g.Total.IsPositive() {
		return decimal.Zero
	}
	units, _ := g.Total.QuoRem(g.Condition.Threshold(), 0)
	return units.Mul(g.Condition.PointsEarned)
}

// groupByCondition groups lines by their mapped condition.
// The returned order is deterministic for a given input order.
func groupByCondition(rules RuleSet, lines []LineItem) []conditionGroup {
	var groups []conditionGroup
	index := make(map[string]int)
	unmapped := conditionGroup{Total: decimal.Zero}

	for _, l := range lines {
		cond, ok := rules.ConditionFor(l.ItemCode)
		if !ok {
			unmapped.Lines = append(unmapped.Lines, l)
			unmapped.Total = unmapped.Total.Add(l.Amount)
			continue
		}
		i, seen := index[cond.Code]
		if !seen {
			i = len(groups)
			index[cond.Code] = i
			groups = append(groups, conditionGroup{Condition: cond, Mapped: true, Total: decimal.Zero})
		}
		groups[i].Lines = append(groups[i].Lines, l)
		groups[i].Total = groups[i].Total.Add(l.Amount)
	}

	if len(unmapped.Lines) > 0 {
		groups = append(groups, unmapped)
	}
	return groups
}

// share returns round(amount / total * points, 2), or zero for a non-positive total.
func share(amount, total, points decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(points).DivRound(total, 2)
}

// Allocate computes the candidate entry for a sale from its eligible lines.
// It returns nil when there are no eligible lines. Header linkage fields
// (doc number, customer, dates) are left for the caller.
func Allocate(rules RuleSet, eligible []LineItem) *LedgerEntry {
	if len(eligible) == 0 {
		return nil
	}

	entry := &LedgerEntry{
		SumSaleAmount:   decimal.Zero,
		SumReturnAmount: decimal.Zero,
		PointsEarned:    decimal.Zero,
		PointsUsed:      decimal.Zero,
	}

	for _, g := range groupByCondition(rules, eligible) {
		earned := g.Earned()
		entry.PointsEarned = entry.PointsEarned.Add(earned)
		for _, l := range g.Lines {
			entry.SumSaleAmount = entry.SumSaleAmount.Add(l.Amount)
			entry.Lines = append(entry.Lines, LedgerLine{
				LineNo:        l.LineNo,
				Barcode:       l.Barcode,
				ItemCode:      l.ItemCode,
				ItemName:      l.ItemName,
				UnitCode:      l.UnitCode,
				Qty:           l.Qty,
				Price:         l.Price,
				SaleAmount:    l.Amount,
				ReturnAmount:  decimal.Zero,
				Points:        share(l.Amount, g.Total, earned),
				ConditionCode: g.Condition.Code,
			})
		}
	}

	absorbRemainder(entry.Lines, entry.PointsEarned)
	return entry
}

// absorbRemainder adds total minus the sum of line points to the first line.
func absorbRemainder(lines []LedgerLine, total decimal.Decimal) {
	if len(lines) == 0 {
		return
	}
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Points)
	}
	if rem := total.Sub(sum); !rem.IsZero() {
		lines[0].Points = lines[0].Points.Add(rem)
	}
}
