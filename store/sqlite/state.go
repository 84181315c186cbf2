package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// WATERMARKS
// =============================================================================

func (ts *txStore) Watermark(ctx context.Context, docType points.DocType, docNo string) (points.Watermark, bool, error) {
	var lastModified, processedAt string
	err := ts.tx.QueryRowContext(ctx, `
		SELECT last_modified, processed_at FROM point_watermarks
		WHERE doc_type = ? AND doc_no = ?
	`, string(docType), docNo).Scan(&lastModified, &processedAt)
	if err == sql.ErrNoRows {
		return points.Watermark{}, false, nil
	}
	if err != nil {
		return points.Watermark{}, false, err
	}
	return points.Watermark{
		DocNo:        docNo,
		DocType:      docType,
		LastModified: parseTimestamp(lastModified),
		ProcessedAt:  parseTimestamp(processedAt),
	}, true, nil
}

func (ts *txStore) RecordWatermark(ctx context.Context, w points.Watermark) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO point_watermarks (doc_type, doc_no, last_modified, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_type, doc_no) DO UPDATE SET
			last_modified = excluded.last_modified,
			processed_at = excluded.processed_at
	`, string(w.DocType), w.DocNo, formatTimestamp(w.LastModified), formatTimestamp(w.ProcessedAt))
	return err
}

// DeleteCustomerWatermarks forgets every document of the customer.
func (ts *txStore) DeleteCustomerWatermarks(ctx context.Context, custCode string) (int, error) {
	res, err := ts.tx.ExecContext(ctx, `
		DELETE FROM point_watermarks
		WHERE (doc_type, doc_no) IN (
			SELECT doc_type, doc_no FROM source_documents WHERE cust_code = ?
		)
	`, custCode)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func getCustomer(ctx context.Context, q querier, custCode string) (points.Customer, error) {
	var c points.Customer
	err := q.QueryRowContext(ctx,
		`SELECT code, name, reward_point, point_balance FROM customers WHERE code = ?`, custCode,
	).Scan(&c.Code, &c.Name, &c.Balance.RewardPoint, &c.Balance.PointBalance)
	if err == sql.ErrNoRows {
		return points.Customer{}, points.ErrCustomerNotFound
	}
	if err != nil {
		return points.Customer{}, err
	}
	c.Balance.CustCode = c.Code
	return c, nil
}

// Customer returns a customer with its stored balance.
func (s *Store) Customer(ctx context.Context, custCode string) (points.Customer, error) {
	return getCustomer(ctx, s.db, custCode)
}

func (ts *txStore) Customer(ctx context.Context, custCode string) (points.Customer, error) {
	return getCustomer(ctx, ts.tx, custCode)
}

// SaveBalance overwrites the stored balance. It reports false when the
// customer does not exist.
func (ts *txStore) SaveBalance(ctx context.Context, bal points.CustomerBalance) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE customers
		SET reward_point = ?, point_balance = ?, balance_updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE code = ?
	`, bal.RewardPoint, bal.PointBalance, bal.CustCode)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// ELIGIBILITY PERIODS
// =============================================================================

const periodColumns = `id, start_date, end_date, active, remark, created_by, updated_at`

func scanPeriod(row scanner) (points.EligibilityPeriod, error) {
	var p points.EligibilityPeriod
	var start, end, updatedAt string
	if err := row.Scan(&p.ID, &start, &end, &p.Active, &p.Remark, &p.CreatedBy, &updatedAt); err != nil {
		return points.EligibilityPeriod{}, err
	}
	p.StartDate = parseDate(start)
	p.EndDate = parseDate(end)
	p.UpdatedAt = parseTimestamp(updatedAt)
	return p, nil
}

func queryPeriods(ctx context.Context, q querier, query string, args ...any) ([]points.EligibilityPeriod, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []points.EligibilityPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

const activePeriodsQuery = `SELECT ` + periodColumns + ` FROM point_periods WHERE active = 1 ORDER BY start_date`

func (s *Store) ActivePeriods(ctx context.Context) ([]points.EligibilityPeriod, error) {
	return queryPeriods(ctx, s.db, activePeriodsQuery)
}

func (ts *txStore) ActivePeriods(ctx context.Context) ([]points.EligibilityPeriod, error) {
	return queryPeriods(ctx, ts.tx, activePeriodsQuery)
}

func (s *Store) ListPeriods(ctx context.Context) ([]points.EligibilityPeriod, error) {
	return queryPeriods(ctx, s.db,
		`SELECT `+periodColumns+` FROM point_periods ORDER BY start_date DESC, id DESC`)
}

func (s *Store) Period(ctx context.Context, id int64) (points.EligibilityPeriod, error) {
	p, err := scanPeriod(s.db.QueryRowContext(ctx,
		`SELECT `+periodColumns+` FROM point_periods WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return points.EligibilityPeriod{}, points.ErrPeriodNotFound
	}
	return p, err
}

func (s *Store) CreatePeriod(ctx context.Context, p points.EligibilityPeriod) (points.EligibilityPeriod, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO point_periods (start_date, end_date, active, remark, created_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, formatDate(p.StartDate), formatDate(p.EndDate), boolToInt(p.Active), p.Remark, p.CreatedBy,
		formatTimestamp(p.UpdatedAt))
	if err != nil {
		return points.EligibilityPeriod{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return points.EligibilityPeriod{}, err
	}
	return s.Period(ctx, id)
}

func (s *Store) UpdatePeriod(ctx context.Context, p points.EligibilityPeriod) (points.EligibilityPeriod, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE point_periods
		SET start_date = ?, end_date = ?, active = ?, remark = ?, updated_at = ?
		WHERE id = ?
	`, formatDate(p.StartDate), formatDate(p.EndDate), boolToInt(p.Active), p.Remark,
		formatTimestamp(p.UpdatedAt), p.ID)
	if err != nil {
		return points.EligibilityPeriod{}, errors.Wrapf(err, "update period %d", p.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return points.EligibilityPeriod{}, points.ErrPeriodNotFound
	}
	return s.Period(ctx, p.ID)
}

func (s *Store) DeletePeriod(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM point_periods WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete period %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return points.ErrPeriodNotFound
	}
	return nil
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r points.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO point_runs (id, mode, cust_code, status, processed, skipped, failed, error,
			started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			skipped = excluded.skipped,
			failed = excluded.failed,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, r.ID, string(r.Mode), r.CustCode, string(r.Status), r.Processed, r.Skipped, r.Failed, r.Error,
		formatTimestamp(r.StartedAt), nullableTimestamp(r.FinishedAt))
	return err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]points.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, cust_code, status, processed, skipped, failed, error, started_at, finished_at
		FROM point_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []points.Run
	for rows.Next() {
		var r points.Run
		var mode, status, startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &mode, &r.CustCode, &status, &r.Processed, &r.Skipped, &r.Failed,
			&r.Error, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.Mode = points.RunMode(mode)
		r.Status = points.RunStatus(status)
		r.StartedAt = parseTimestamp(startedAt)
		if finishedAt.Valid {
			r.FinishedAt = parseTimestamp(finishedAt.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
