package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// LEDGER - point_ledger and point_ledger_lines
// =============================================================================

const entryColumns = `doc_no, doc_date, doc_time, cust_code, sale_doc_no, return_doc_no,
	sum_sale_amount, sum_return_amount, points_earned, points_used, remark, cancels_doc_no, updated_at`

func scanEntry(row scanner) (points.LedgerEntry, error) {
	var e points.LedgerEntry
	var docDate, updatedAt string
	if err := row.Scan(&e.DocNo, &docDate, &e.DocTime, &e.CustCode, &e.SaleDocNo, &e.ReturnDocNo,
		&e.SumSaleAmount, &e.SumReturnAmount, &e.PointsEarned, &e.PointsUsed,
		&e.Remark, &e.CancelsDocNo, &updatedAt); err != nil {
		return points.LedgerEntry{}, err
	}
	e.DocDate = parseDate(docDate)
	e.UpdatedAt = parseTimestamp(updatedAt)
	return e, nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]points.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []points.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func queryLedgerLines(ctx context.Context, q querier, docNo string) ([]points.LedgerLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT line_no, barcode, item_code, item_name, unit_code, qty, price,
			sale_amount, return_amount, points, condition_code, remark
		FROM point_ledger_lines
		WHERE doc_no = ?
		ORDER BY seq
	`, docNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []points.LedgerLine
	for rows.Next() {
		var l points.LedgerLine
		if err := rows.Scan(&l.LineNo, &l.Barcode, &l.ItemCode, &l.ItemName, &l.UnitCode,
			&l.Qty, &l.Price, &l.SaleAmount, &l.ReturnAmount, &l.Points,
			&l.ConditionCode, &l.Remark); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// getEntry loads one entry with its lines.
func getEntry(ctx context.Context, q querier, docNo string) (points.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM point_ledger WHERE doc_no = ?`, docNo)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return points.LedgerEntry{}, points.ErrEntryNotFound
	}
	if err != nil {
		return points.LedgerEntry{}, err
	}
	if e.Lines, err = queryLedgerLines(ctx, q, docNo); err != nil {
		return points.LedgerEntry{}, err
	}
	return e, nil
}

// Entry returns a ledger entry with its lines.
func (s *Store) Entry(ctx context.Context, docNo string) (points.LedgerEntry, error) {
	return getEntry(ctx, s.db, docNo)
}

// EntryOwners returns the customers holding entries derived from a source document.
func (s *Store) EntryOwners(ctx context.Context, docType points.DocType, docNo string) ([]string, error) {
	column := "sale_doc_no"
	if docType == points.DocReturn {
		column = "return_doc_no"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT cust_code FROM point_ledger WHERE `+column+` = ? AND cust_code <> '' ORDER BY cust_code`, docNo)
	if err != nil {
		return nil, errors.Wrap(err, "query entry owners")
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		owners = append(owners, code)
	}
	return owners, rows.Err()
}

// ListEntries returns a page of a customer's ledger, newest first.
func (s *Store) ListEntries(ctx context.Context, custCode string, limit, offset int) ([]points.LedgerEntry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM point_ledger WHERE cust_code = ?`, custCode).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count entries")
	}

	entries, err := queryEntries(ctx, s.db, `
		SELECT `+entryColumns+`
		FROM point_ledger
		WHERE cust_code = ?
		ORDER BY doc_date DESC, doc_time DESC, doc_no DESC
		LIMIT ? OFFSET ?
	`, custCode, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list entries")
	}
	return entries, total, nil
}

// =============================================================================
// LEDGER - Transactional side
// =============================================================================

func (ts *txStore) Entry(ctx context.Context, docNo string) (points.LedgerEntry, error) {
	return getEntry(ctx, ts.tx, docNo)
}

// EntriesForDocument returns the entries derived from one source document.
func (ts *txStore) EntriesForDocument(ctx context.Context, docType points.DocType, docNo string) ([]points.LedgerEntry, error) {
	column := "sale_doc_no"
	if docType == points.DocReturn {
		column = "return_doc_no"
	}
	return queryEntries(ctx, ts.tx,
		`SELECT `+entryColumns+` FROM point_ledger WHERE `+column+` = ? ORDER BY doc_no`, docNo)
}

// RebuildableEntries returns a customer's entries that use no points:
// accruals, deductions and manual credits. Redemptions and their
// cancellations are left out.
func (ts *txStore) RebuildableEntries(ctx context.Context, custCode string) ([]points.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx, `
		SELECT `+entryColumns+`
		FROM point_ledger
		WHERE cust_code = ? AND CAST(points_used AS REAL) = 0
		ORDER BY doc_no
	`, custCode)
}

// CustomerEntries returns every entry header of a customer.
func (ts *txStore) CustomerEntries(ctx context.Context, custCode string) ([]points.LedgerEntry, error) {
	return queryEntries(ctx, ts.tx,
		`SELECT `+entryColumns+` FROM point_ledger WHERE cust_code = ? ORDER BY doc_no`, custCode)
}

func (ts *txStore) CancellationOf(ctx context.Context, docNo string) (points.LedgerEntry, bool, error) {
	row := ts.tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM point_ledger WHERE cancels_doc_no = ?`, docNo)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return points.LedgerEntry{}, false, nil
	}
	if err != nil {
		return points.LedgerEntry{}, false, err
	}
	return e, true, nil
}

// UpsertEntry inserts the header or overwrites its derived fields.
func (ts *txStore) UpsertEntry(ctx context.Context, e points.LedgerEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO point_ledger (doc_no, doc_date, doc_time, cust_code, sale_doc_no, return_doc_no,
			sum_sale_amount, sum_return_amount, sum_total_amount, points_earned, points_used,
			remark, cancels_doc_no, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_no) DO UPDATE SET
			doc_date = excluded.doc_date,
			doc_time = excluded.doc_time,
			cust_code = excluded.cust_code,
			sale_doc_no = excluded.sale_doc_no,
			return_doc_no = excluded.return_doc_no,
			sum_sale_amount = excluded.sum_sale_amount,
			sum_return_amount = excluded.sum_return_amount,
			sum_total_amount = excluded.sum_total_amount,
			points_earned = excluded.points_earned,
			points_used = excluded.points_used,
			remark = excluded.remark,
			cancels_doc_no = excluded.cancels_doc_no,
			updated_at = excluded.updated_at
	`, e.DocNo, formatDate(e.DocDate), e.DocTime, e.CustCode, e.SaleDocNo, e.ReturnDocNo,
		e.SumSaleAmount, e.SumReturnAmount, e.SumTotalAmount(), e.PointsEarned, e.PointsUsed,
		e.Remark, e.CancelsDocNo, formatTimestamp(e.UpdatedAt))
	return err
}

// ReplaceLines deletes every line of docNo and inserts lines in order.
func (ts *txStore) ReplaceLines(ctx context.Context, docNo string, lines []points.LedgerLine) error {
	if _, err := ts.tx.ExecContext(ctx, `DELETE FROM point_ledger_lines WHERE doc_no = ?`, docNo); err != nil {
		return err
	}

	if len(lines) == 0 {
		return nil
	}
	stmt, err := ts.tx.PrepareContext(ctx, `
		INSERT INTO point_ledger_lines (doc_no, seq, line_no, barcode, item_code, item_name, unit_code,
			qty, price, sale_amount, return_amount, total_amount, points, condition_code, remark)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, l := range lines {
		if _, err := stmt.ExecContext(ctx, docNo, i+1, l.LineNo, l.Barcode, l.ItemCode, l.ItemName,
			l.UnitCode, l.Qty, l.Price, l.SaleAmount, l.ReturnAmount, l.TotalAmount(), l.Points,
			l.ConditionCode, l.Remark); err != nil {
			return errors.Wrapf(err, "insert line %d", i+1)
		}
	}
	return nil
}

// DeleteEntry removes a header and, through the foreign key, its lines.
func (ts *txStore) DeleteEntry(ctx context.Context, docNo string) error {
	_, err := ts.tx.ExecContext(ctx, `DELETE FROM point_ledger WHERE doc_no = ?`, docNo)
	return err
}

// NextSequence increments and returns the named counter, starting at 1.
func (ts *txStore) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := ts.tx.QueryRowContext(ctx, `
		INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name).Scan(&value)
	return value, err
}
