/*
balance.go - Balance reconciler

A customer's balance is a pure function of their ledger:

  rewardPoint  = sum(positive pointsEarned) - sum(|negative pointsEarned|)
  pointBalance = rewardPoint - sum(pointsUsed)

Cancelled redemptions carry negative pointsUsed, so they add back. The
reconciler is the only writer of stored balances.
*/
package points

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Summarize derives the balance of custCode from its ledger entries.
func Summarize(custCode string, entries []LedgerEntry) CustomerBalance {
	earned := decimal.Zero
	deducted := decimal.Zero
	used := decimal.Zero
	for _, e := range entries {
		switch {
		case e.PointsEarned.IsPositive():
			earned = earned.Add(e.PointsEarned)
		case e.PointsEarned.IsNegative():
			deducted = deducted.Add(e.PointsEarned.Abs())
		}
		used = used.Add(e.PointsUsed)
	}
	reward := earned.Sub(deducted)
	return CustomerBalance{
		CustCode:     custCode,
		RewardPoint:  reward,
		PointBalance: reward.Sub(used),
	}
}

// Reconcile recomputes and stores the balance of custCode inside tx.
// The returned flag is false when the customer master has no such row.
func Reconcile(ctx context.Context, tx Tx, custCode string) (CustomerBalance, bool, error) {
	entries, err := tx.CustomerEntries(ctx, custCode)
	if err != nil {
		return CustomerBalance{}, false, errors.Wrapf(err, "load ledger of %s", custCode)
	}
	bal := Summarize(custCode, entries)
	ok, err := tx.SaveBalance(ctx, bal)
	if err != nil {
		return CustomerBalance{}, false, errors.Wrapf(err, "save balance of %s", custCode)
	}
	return bal, ok, nil
}
