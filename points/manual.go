/*
manual.go - Manual point operations

  AddPoints:  credit points outside any document (pointsEarned > 0)
  UsePoints:  redeem points (pointsUsed > 0), guarded by the balance
  CancelUse:  refund a redemption with a mirror entry (pointsUsed < 0)

Each operation is one short transaction that writes one entry and
reconciles the customer. The redemption guard reads the ledger inside the
same transaction, so two concurrent redemptions cannot both pass it.
*/
package points

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ManualRequest asks to add or use points for a customer.
type ManualRequest struct {
	CustCode string
	Points   decimal.Decimal
	Remark   string
	Actor    string
}

func (r ManualRequest) validate() error {
	if strings.TrimSpace(r.CustCode) == "" {
		return ErrInvalidCustomer
	}
	if !r.Points.IsPositive() {
		return ErrInvalidPoints
	}
	return nil
}

// CancelRequest asks to refund a redemption. CustCode is optional; when set
// it must match the redemption's customer.
type CancelRequest struct {
	DocNo    string
	CustCode string
	Remark   string
	Actor    string
}

// ManualResult is the written entry and the customer's balance after it.
type ManualResult struct {
	Entry   LedgerEntry
	Balance CustomerBalance
}

// AddPoints credits req.Points to the customer.
func (e *Engine) AddPoints(ctx context.Context, req ManualRequest) (res ManualResult, err error) {
	defer func() { e.metrics.manual("add", err) }()
	if err := req.validate(); err != nil {
		return ManualResult{}, err
	}
	return e.manualEntry(ctx, "AddPoints", strings.TrimSpace(req.CustCode), func(_ Tx, entry *LedgerEntry) error {
		entry.PointsEarned = req.Points
		entry.Remark = remarkOr(req.Remark, "points added by "+actorName(req.Actor))
		return nil
	})
}

// UsePoints redeems req.Points if the customer's balance covers them.
func (e *Engine) UsePoints(ctx context.Context, req ManualRequest) (res ManualResult, err error) {
	defer func() { e.metrics.manual("use", err) }()
	if err := req.validate(); err != nil {
		return ManualResult{}, err
	}
	custCode := strings.TrimSpace(req.CustCode)
	return e.manualEntry(ctx, "UsePoints", custCode, func(tx Tx, entry *LedgerEntry) error {
		entries, err := tx.CustomerEntries(ctx, custCode)
		if err != nil {
			return errors.Wrap(err, "load ledger")
		}
		bal := Summarize(custCode, entries)
		if req.Points.GreaterThan(bal.PointBalance) {
			return &InsufficientPointsError{
				CustCode:  custCode,
				Available: bal.PointBalance,
				Requested: req.Points,
			}
		}
		entry.PointsUsed = req.Points
		entry.Remark = remarkOr(req.Remark, "points used by "+actorName(req.Actor))
		return nil
	})
}

// CancelUse refunds the redemption req.DocNo. A redemption can be
// cancelled once.
func (e *Engine) CancelUse(ctx context.Context, req CancelRequest) (res ManualResult, err error) {
	defer func() { e.metrics.manual("cancel_use", err) }()

	docNo := strings.TrimSpace(req.DocNo)
	if docNo == "" {
		return ManualResult{}, ErrInvalidDocNo
	}

	// The customer lock needs the customer before the transaction starts.
	orig, err := e.store.Entry(ctx, docNo)
	if errors.Is(err, ErrEntryNotFound) {
		return ManualResult{}, ErrRedemptionNotFound
	}
	if err != nil {
		return ManualResult{}, errors.Wrapf(err, "load entry %s", docNo)
	}

	return e.manualEntry(ctx, "CancelUse", orig.CustCode, func(tx Tx, entry *LedgerEntry) error {
		current, err := tx.Entry(ctx, docNo)
		if errors.Is(err, ErrEntryNotFound) {
			return ErrRedemptionNotFound
		}
		if err != nil {
			return errors.Wrapf(err, "reload entry %s", docNo)
		}
		if current.Kind() != KindRedemption {
			return ErrRedemptionNotFound
		}
		if req.CustCode != "" && strings.TrimSpace(req.CustCode) != current.CustCode {
			return ErrRedemptionNotFound
		}
		_, cancelled, err := tx.CancellationOf(ctx, docNo)
		if err != nil {
			return errors.Wrap(err, "look up cancellation")
		}
		if cancelled {
			return ErrAlreadyCancelled
		}

		entry.PointsUsed = current.PointsUsed.Neg()
		entry.CancelsDocNo = current.DocNo
		entry.Remark = remarkOr(req.Remark, fmt.Sprintf("cancel use %s by %s", current.DocNo, actorName(req.Actor)))
		return nil
	})
}

// manualEntry writes one manual entry for custCode. build fills the point
// columns and may reject the operation.
func (e *Engine) manualEntry(ctx context.Context, op, custCode string, build func(Tx, *LedgerEntry) error) (ManualResult, error) {
	ctx, span := e.tracer.Start(ctx, "points."+op, trace.WithAttributes(
		attribute.String("cust_code", custCode),
	))
	defer span.End()

	unlock := e.customers.Lock(custCode)
	defer unlock()

	var res ManualResult
	err := e.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.Customer(ctx, custCode); err != nil {
			return err
		}

		now := e.clock()
		entry := LedgerEntry{
			DocDate:         dateOnly(now),
			DocTime:         now.Format("15:04"),
			CustCode:        custCode,
			SumSaleAmount:   decimal.Zero,
			SumReturnAmount: decimal.Zero,
			PointsEarned:    decimal.Zero,
			PointsUsed:      decimal.Zero,
			UpdatedAt:       now,
		}
		if err := build(tx, &entry); err != nil {
			return err
		}

		docNo, err := NextDocNo(ctx, tx, now)
		if err != nil {
			return err
		}
		entry.DocNo = docNo
		if err := WriteEntry(ctx, tx, entry); err != nil {
			return err
		}

		bal, _, err := Reconcile(ctx, tx, custCode)
		if err != nil {
			return err
		}
		res = ManualResult{Entry: entry, Balance: bal}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ManualResult{}, err
	}

	e.log.Info().
		Str("cust_code", custCode).
		Str("doc_no", res.Entry.DocNo).
		Str("kind", string(res.Entry.Kind())).
		Str("point_balance", res.Balance.PointBalance.String()).
		Msg("[Engine] Manual entry written")

	ev := newEvent(EventEntryWritten, res.Entry, e.clock())
	ev.Balance = &res.Balance
	e.publish(ctx, []LedgerEvent{ev})
	return res, nil
}

func remarkOr(remark, fallback string) string {
	if strings.TrimSpace(remark) != "" {
		return remark
	}
	return fallback
}

func actorName(actor string) string {
	if actor == "" {
		return "staff"
	}
	return actor
}
