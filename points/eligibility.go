/*
eligibility.go - Which line items count toward points

Items carry a per-item flag in the item master. Lines whose item is not
flagged are ignored by both the allocation and the reversal engine. A
document with no eligible lines produces no ledger entry, but its
watermark is still recorded so it is not scanned again.
*/
package points

import "time"

// FilterEligible returns the lines whose item is flagged, in input order.
func FilterEligible(lines []LineItem, eligible map[string]bool) []LineItem {
	var out []LineItem
	for _, l := range lines {
		if eligible[l.ItemCode] {
			out = append(out, l)
		}
	}
	return out
}

// ItemCodes returns the distinct item codes of lines, in first-seen order.
func ItemCodes(lines []LineItem) []string {
	seen := make(map[string]bool, len(lines))
	var codes []string
	for _, l := range lines {
		if !seen[l.ItemCode] {
			seen[l.ItemCode] = true
			codes = append(codes, l.ItemCode)
		}
	}
	return codes
}

// InAnyPeriod reports whether date falls in at least one active period.
func InAnyPeriod(periods []EligibilityPeriod, date time.Time) bool {
	for _, p := range periods {
		if p.Active && p.Contains(date) {
			return true
		}
	}
	return false
}
