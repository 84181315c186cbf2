package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names what happened to a ledger entry.
type EventType string

const (
	EventEntryWritten EventType = "ledger.entry_written"
	EventEntryRemoved EventType = "ledger.entry_removed"
)

// LedgerEvent is published after a unit of work commits.
type LedgerEvent struct {
	ID           string           `json:"id"`
	Type         EventType        `json:"type"`
	Kind         EntryKind        `json:"kind"`
	DocNo        string           `json:"doc_no"`
	CustCode     string           `json:"cust_code"`
	SaleDocNo    string           `json:"sale_doc_no,omitempty"`
	ReturnDocNo  string           `json:"return_doc_no,omitempty"`
	CancelsDocNo string           `json:"cancels_doc_no,omitempty"`
	PointsEarned decimal.Decimal  `json:"points_earned"`
	PointsUsed   decimal.Decimal  `json:"points_used"`
	Balance      *CustomerBalance `json:"balance,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// Publisher delivers ledger events. Delivery is best-effort: a failure is
// logged and never undoes a committed unit of work.
type Publisher interface {
	Publish(ctx context.Context, events ...LedgerEvent) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...LedgerEvent) error { return nil }

func newEvent(typ EventType, e LedgerEntry, at time.Time) LedgerEvent {
	return LedgerEvent{
		ID:           uuid.NewString(),
		Type:         typ,
		Kind:         e.Kind(),
		DocNo:        e.DocNo,
		CustCode:     e.CustCode,
		SaleDocNo:    e.SaleDocNo,
		ReturnDocNo:  e.ReturnDocNo,
		CancelsDocNo: e.CancelsDocNo,
		PointsEarned: e.PointsEarned,
		PointsUsed:   e.PointsUsed,
		OccurredAt:   at,
	}
}

// withBalances attaches the reconciled balance of each event's customer.
func withBalances(events []LedgerEvent, balances map[string]CustomerBalance) []LedgerEvent {
	for i := range events {
		if b, ok := balances[events[i].CustCode]; ok {
			b := b
			events[i].Balance = &b
		}
	}
	return events
}
