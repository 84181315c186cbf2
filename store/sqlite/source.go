package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// SOURCE DOCUMENTS - Read side used by the engine
// =============================================================================

const documentColumns = `doc_no, doc_type, doc_date, doc_time, cust_code, ref_doc_no, last_modified, voided`

func scanDocument(row scanner) (points.SourceDocument, error) {
	var d points.SourceDocument
	var docType, docDate, lastModified string
	if err := row.Scan(&d.DocNo, &docType, &docDate, &d.DocTime, &d.CustCode,
		&d.RefDocNo, &lastModified, &d.Voided); err != nil {
		return points.SourceDocument{}, err
	}
	d.Type = points.DocType(docType)
	d.DocDate = parseDate(docDate)
	d.LastModified = parseTimestamp(lastModified)
	return d, nil
}

func queryDocuments(ctx context.Context, q querier, query string, args ...any) ([]points.SourceDocument, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []points.SourceDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DueDocuments returns documents of docType that are new or modified since
// their watermark. Never-processed voided documents are left out since they
// have nothing to retract.
func (s *Store) DueDocuments(ctx context.Context, docType points.DocType) ([]points.SourceDocument, error) {
	query := `
		SELECT d.doc_no, d.doc_type, d.doc_date, d.doc_time, d.cust_code, d.ref_doc_no, d.last_modified, d.voided
		FROM source_documents d
		LEFT JOIN point_watermarks w ON w.doc_type = d.doc_type AND w.doc_no = d.doc_no
		WHERE d.doc_type = ? AND d.cust_code <> ''
			AND (
				(w.doc_no IS NULL AND d.voided = 0)
				OR (w.doc_no IS NOT NULL AND w.last_modified < d.last_modified)
			)
		ORDER BY d.doc_date, d.doc_time, d.doc_no
	`
	docs, err := queryDocuments(ctx, s.db, query, string(docType))
	return docs, errors.Wrapf(err, "query due %s documents", docType)
}

func (ts *txStore) Document(ctx context.Context, docType points.DocType, docNo string) (points.SourceDocument, error) {
	row := ts.tx.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM source_documents WHERE doc_type = ? AND doc_no = ?`,
		string(docType), docNo)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return points.SourceDocument{}, points.ErrDocumentNotFound
	}
	return d, err
}

// CustomerDocuments returns all documents of a customer, sales before
// returns, each in date order.
func (ts *txStore) CustomerDocuments(ctx context.Context, custCode string) ([]points.SourceDocument, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM source_documents
		WHERE cust_code = ?
		ORDER BY CASE doc_type WHEN 'sale' THEN 0 ELSE 1 END, doc_date, doc_time, doc_no
	`
	return queryDocuments(ctx, ts.tx, query, custCode)
}

func (ts *txStore) Lines(ctx context.Context, docType points.DocType, docNo string) ([]points.LineItem, error) {
	return queryLines(ctx, ts.tx, docType, docNo)
}

func queryLines(ctx context.Context, q querier, docType points.DocType, docNo string) ([]points.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT line_no, barcode, item_code, item_name, unit_code, qty, price, amount
		FROM source_lines
		WHERE doc_type = ? AND doc_no = ?
		ORDER BY line_no
	`, string(docType), docNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []points.LineItem
	for rows.Next() {
		var l points.LineItem
		if err := rows.Scan(&l.LineNo, &l.Barcode, &l.ItemCode, &l.ItemName, &l.UnitCode,
			&l.Qty, &l.Price, &l.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// CONFIGURATION - Flags, conditions, periods
// =============================================================================

func (ts *txStore) EligibleItems(ctx context.Context, itemCodes []string) (map[string]bool, error) {
	eligible := make(map[string]bool, len(itemCodes))
	if len(itemCodes) == 0 {
		return eligible, nil
	}

	placeholders := make([]byte, 0, len(itemCodes)*2)
	args := make([]any, len(itemCodes))
	for i, code := range itemCodes {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = code
	}

	rows, err := ts.tx.QueryContext(ctx,
		`SELECT code FROM items WHERE have_point = 1 AND code IN (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		eligible[code] = true
	}
	return eligible, rows.Err()
}

func (ts *txStore) RuleSet(ctx context.Context) (points.RuleSet, error) {
	rules := points.RuleSet{
		Conditions:     make(map[string]points.PointCondition),
		ItemConditions: make(map[string]string),
	}

	rows, err := ts.tx.QueryContext(ctx,
		`SELECT code, name, amount_per_point, points_earned FROM point_conditions`)
	if err != nil {
		return rules, err
	}
	for rows.Next() {
		var c points.PointCondition
		if err := rows.Scan(&c.Code, &c.Name, &c.AmountPerPoint, &c.PointsEarned); err != nil {
			rows.Close()
			return rules, err
		}
		rules.Conditions[c.Code] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return rules, err
	}

	rows, err = ts.tx.QueryContext(ctx, `SELECT item_code, condition_code FROM item_conditions`)
	if err != nil {
		return rules, err
	}
	defer rows.Close()
	for rows.Next() {
		var item, cond string
		if err := rows.Scan(&item, &cond); err != nil {
			return rules, err
		}
		rules.ItemConditions[item] = cond
	}
	return rules, rows.Err()
}

// =============================================================================
// FIXTURE WRITERS - Stand-ins for the store-front system
// =============================================================================

// Item is a row of the item master.
type Item struct {
	Code      string
	Name      string
	HavePoint bool
}

// SaveCustomer creates or renames a customer. Stored balances are kept.
func (s *Store) SaveCustomer(ctx context.Context, code, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (code, name) VALUES (?, ?)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name
	`, code, name)
	return errors.Wrapf(err, "save customer %s", code)
}

// SaveItem creates or updates an item and its eligibility flag.
func (s *Store) SaveItem(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (code, name, have_point) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name, have_point = excluded.have_point
	`, item.Code, item.Name, boolToInt(item.HavePoint))
	return errors.Wrapf(err, "save item %s", item.Code)
}

// SaveCondition creates or updates a point condition.
func (s *Store) SaveCondition(ctx context.Context, c points.PointCondition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO point_conditions (code, name, amount_per_point, points_earned) VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			amount_per_point = excluded.amount_per_point,
			points_earned = excluded.points_earned
	`, c.Code, c.Name, c.AmountPerPoint, c.PointsEarned)
	return errors.Wrapf(err, "save condition %s", c.Code)
}

// MapItem assigns an item to a condition.
func (s *Store) MapItem(ctx context.Context, itemCode, conditionCode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_conditions (item_code, condition_code) VALUES (?, ?)
		ON CONFLICT(item_code) DO UPDATE SET condition_code = excluded.condition_code
	`, itemCode, conditionCode)
	return errors.Wrapf(err, "map item %s", itemCode)
}

// SaveDocument upserts a source document and replaces its lines atomically.
func (s *Store) SaveDocument(ctx context.Context, doc points.SourceDocument, lines []points.LineItem) error {
	if !doc.Type.Valid() {
		return errors.Errorf("invalid document type %q", doc.Type)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_type, doc_no) DO UPDATE SET
			doc_date = excluded.doc_date,
			doc_time = excluded.doc_time,
			cust_code = excluded.cust_code,
			ref_doc_no = excluded.ref_doc_no,
			last_modified = excluded.last_modified,
			voided = excluded.voided
	`, doc.DocNo, string(doc.Type), formatDate(doc.DocDate), doc.DocTime, doc.CustCode,
		doc.RefDocNo, formatTimestamp(doc.LastModified), boolToInt(doc.Voided))
	if err != nil {
		return errors.Wrapf(err, "save document %s", doc.DocNo)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM source_lines WHERE doc_type = ? AND doc_no = ?`, string(doc.Type), doc.DocNo); err != nil {
		return errors.Wrapf(err, "clear lines of %s", doc.DocNo)
	}

	for i, l := range lines {
		lineNo := l.LineNo
		if lineNo == 0 {
			lineNo = i + 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO source_lines (doc_type, doc_no, line_no, barcode, item_code, item_name,
				unit_code, qty, price, amount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, string(doc.Type), doc.DocNo, lineNo, l.Barcode, l.ItemCode, l.ItemName, l.UnitCode,
			l.Qty, l.Price, l.Amount)
		if err != nil {
			return errors.Wrapf(err, "save line %d of %s", lineNo, doc.DocNo)
		}
	}

	return errors.Wrap(tx.Commit(), "commit document")
}

// SourceDocument returns a stored source document and its lines.
func (s *Store) SourceDocument(ctx context.Context, docType points.DocType, docNo string) (points.SourceDocument, []points.LineItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM source_documents WHERE doc_type = ? AND doc_no = ?`,
		string(docType), docNo)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return points.SourceDocument{}, nil, points.ErrDocumentNotFound
	}
	if err != nil {
		return points.SourceDocument{}, nil, err
	}
	lines, err := queryLines(ctx, s.db, docType, docNo)
	return doc, lines, err
}
