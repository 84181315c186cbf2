/*
rebuild.go - Full per-customer rebuild

Recomputes a customer's ledger from their documents inside a
single transaction:

  1. Delete every entry of the customer that uses no points: accruals,
     deductions and manual credits
  2. Delete the watermarks of the customer's source documents
  3. Reprocess every document of the customer dated in an active period,
     sales before returns, reusing the doc numbers of the deleted entries
  4. Reconcile the balance once

Redemptions and their cancellations are never touched. Manual credits are
not recreated. Without an active period nothing is deleted and the balance
is only reconciled.
*/
package points

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type docKey struct {
	Type  DocType
	DocNo string
}

func sourceKey(e LedgerEntry) docKey {
	if e.SaleDocNo != "" {
		return docKey{DocSale, e.SaleDocNo}
	}
	return docKey{DocReturn, e.ReturnDocNo}
}

// RecalcCustomer rebuilds the ledger of custCode from its documents and
// returns the reconciled balance.
func (e *Engine) RecalcCustomer(ctx context.Context, custCode string) (CustomerBalance, error) {
	custCode = strings.TrimSpace(custCode)
	if custCode == "" {
		return CustomerBalance{}, ErrInvalidCustomer
	}

	ctx, span := e.tracer.Start(ctx, "points.RecalcCustomer", trace.WithAttributes(
		attribute.String("cust_code", custCode),
	))
	defer span.End()

	unlock := e.customers.Lock(custCode)
	defer unlock()

	run := e.beginRun(ctx, ModeRecalc, custCode)
	log := e.log.With().Str("run_id", run.ID).Str("cust_code", custCode).Logger()

	var (
		res RunResult
		u   unit
		bal CustomerBalance
	)
	err := e.store.WithTx(ctx, func(tx Tx) error {
		res, u = RunResult{}, unit{}

		if _, err := tx.Customer(ctx, custCode); err != nil {
			return err
		}
		periods, err := tx.ActivePeriods(ctx)
		if err != nil {
			return errors.Wrap(err, "load active periods")
		}
		if len(periods) == 0 {
			res.NoActivePeriod = true
		} else if err := e.rebuild(ctx, tx, custCode, periods, &res, &u); err != nil {
			return err
		}

		b, _, err := Reconcile(ctx, tx, custCode)
		if err != nil {
			return err
		}
		bal = b
		u.setBalance(b)
		return nil
	})
	res.RunID = run.ID
	e.endRun(ctx, run, res, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Msg("[Engine] Customer rebuild failed")
		return CustomerBalance{}, err
	}

	log.Info().
		Int("processed", res.Processed).
		Int("skipped", res.Skipped).
		Str("reward_point", bal.RewardPoint.String()).
		Str("point_balance", bal.PointBalance.String()).
		Msg("[Engine] Customer rebuilt")
	e.publish(ctx, u.events(e.clock()))
	return bal, nil
}

func (e *Engine) rebuild(ctx context.Context, tx Tx, custCode string, periods []EligibilityPeriod, res *RunResult, u *unit) error {
	prior, err := tx.RebuildableEntries(ctx, custCode)
	if err != nil {
		return errors.Wrap(err, "load rebuildable entries")
	}

	reuse := make(map[docKey]string, len(prior))
	for _, p := range prior {
		if p.SaleDocNo != "" || p.ReturnDocNo != "" {
			key := sourceKey(p)
			if _, ok := reuse[key]; !ok {
				reuse[key] = p.DocNo
			}
		}
		if err := tx.DeleteEntry(ctx, p.DocNo); err != nil {
			return errors.Wrapf(err, "delete entry %s", p.DocNo)
		}
		u.removed = append(u.removed, p)
	}

	if _, err := tx.DeleteCustomerWatermarks(ctx, custCode); err != nil {
		return errors.Wrap(err, "delete watermarks")
	}

	docs, err := tx.CustomerDocuments(ctx, custCode)
	if err != nil {
		return errors.Wrap(err, "load customer documents")
	}
	rules, err := tx.RuleSet(ctx)
	if err != nil {
		return errors.Wrap(err, "load conditions")
	}

	for _, doc := range docs {
		if !InAnyPeriod(periods, doc.DocDate) {
			continue
		}
		entry, err := e.writeDocument(ctx, tx, doc, rules, reuse[docKey{doc.Type, doc.DocNo}])
		if err != nil {
			return &DocumentError{DocNo: doc.DocNo, DocType: doc.Type, Err: err}
		}
		if entry != nil {
			u.written = append(u.written, *entry)
			res.Processed++
		} else {
			res.Skipped++
		}
		if err := recordWatermark(ctx, tx, doc, e.clock()); err != nil {
			return errors.Wrapf(err, "record watermark of %s", doc.DocNo)
		}
	}
	return nil
}
