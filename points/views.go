package points

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// READ VIEWS
// =============================================================================

const maxPageSize = 500

// Customer returns a customer with its stored balance.
func (e *Engine) Customer(ctx context.Context, custCode string) (Customer, error) {
	custCode = strings.TrimSpace(custCode)
	if custCode == "" {
		return Customer{}, ErrInvalidCustomer
	}
	return e.store.Customer(ctx, custCode)
}

// ListEntries returns one page of a customer's ledger and the total count.
func (e *Engine) ListEntries(ctx context.Context, custCode string, limit, offset int) ([]LedgerEntry, int, error) {
	custCode = strings.TrimSpace(custCode)
	if custCode == "" {
		return nil, 0, ErrInvalidCustomer
	}
	if limit <= 0 || limit > maxPageSize {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.ListEntries(ctx, custCode, limit, offset)
}

// Entry returns one ledger entry with its lines.
func (e *Engine) Entry(ctx context.Context, docNo string) (LedgerEntry, error) {
	return e.store.Entry(ctx, strings.TrimSpace(docNo))
}

// ListRuns returns recent run records, newest first.
func (e *Engine) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = 20
	}
	return e.store.ListRuns(ctx, limit)
}

// =============================================================================
// ELIGIBILITY PERIODS
// =============================================================================

func (e *Engine) ListPeriods(ctx context.Context) ([]EligibilityPeriod, error) {
	return e.store.ListPeriods(ctx)
}

func (e *Engine) CreatePeriod(ctx context.Context, p EligibilityPeriod) (EligibilityPeriod, error) {
	if err := p.Validate(); err != nil {
		return EligibilityPeriod{}, err
	}
	p.UpdatedAt = e.clock()
	created, err := e.store.CreatePeriod(ctx, p)
	if err != nil {
		return EligibilityPeriod{}, errors.Wrap(err, "create period")
	}
	e.log.Info().Int64("period_id", created.ID).
		Time("start", created.StartDate).Time("end", created.EndDate).
		Bool("active", created.Active).
		Msg("[Engine] Eligibility period created")
	return created, nil
}

func (e *Engine) UpdatePeriod(ctx context.Context, p EligibilityPeriod) (EligibilityPeriod, error) {
	if err := p.Validate(); err != nil {
		return EligibilityPeriod{}, err
	}
	p.UpdatedAt = e.clock()
	updated, err := e.store.UpdatePeriod(ctx, p)
	if err != nil {
		return EligibilityPeriod{}, err
	}
	e.log.Info().Int64("period_id", updated.ID).Bool("active", updated.Active).
		Msg("[Engine] Eligibility period updated")
	return updated, nil
}

func (e *Engine) DeletePeriod(ctx context.Context, id int64) error {
	if err := e.store.DeletePeriod(ctx, id); err != nil {
		return err
	}
	e.log.Info().Int64("period_id", id).Msg("[Engine] Eligibility period deleted")
	return nil
}
