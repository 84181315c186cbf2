/*
Package fixture seeds the store-front tables from a YAML file.

PURPOSE:
  The engine only reads customers, items, conditions, periods and source
  documents; in production another system writes them. A fixture stands
  in for that system in development, demos and tests.

FILE FORMAT:
  reset: true                  # wipe every table first
  customers:
    - {code: C001, name: Somchai}
  items:
    - {code: RICE5, name: Rice 5kg, have_point: true}
  conditions:
    - code: STD
      name: Standard
      amount_per_point: "1000"
      points_earned: "1"
      items: [RICE5]           # mapped to this condition
  periods:
    - {start: 2026-03-01, end: 2026-03-31, active: true}
  documents:
    - doc_no: INV-0001
      type: sale               # sale | return
      date: 2026-03-10
      time: "09:15"
      cust_code: C001
      ref_doc_no: ""           # returns: the sale they reverse
      last_modified: 2026-03-10T09:20:00Z
      voided: false
      lines:
        - {item_code: RICE5, qty: "2", price: "1500", amount: "3000"}

  Amounts are strings so they parse exactly. A document without
  last_modified gets the time the fixture is applied.

SEE ALSO:
  - cmd/pointsd: `pointsd seed <file>`
  - api/handlers.go: POST /api/fixtures
*/
package fixture

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqlite"
)

// =============================================================================
// FILE MODEL
// =============================================================================

// Fixture is the parsed content of a fixture file.
type Fixture struct {
	Reset      bool        `yaml:"reset"`
	Customers  []Customer  `yaml:"customers"`
	Items      []Item      `yaml:"items"`
	Conditions []Condition `yaml:"conditions"`
	Periods    []Period    `yaml:"periods"`
	Documents  []Document  `yaml:"documents"`
}

type Customer struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type Item struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	HavePoint bool   `yaml:"have_point"`
}

type Condition struct {
	Code           string   `yaml:"code"`
	Name           string   `yaml:"name"`
	AmountPerPoint string   `yaml:"amount_per_point"`
	PointsEarned   string   `yaml:"points_earned"`
	Items          []string `yaml:"items"`
}

type Period struct {
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	Active    bool   `yaml:"active"`
	Remark    string `yaml:"remark"`
	CreatedBy string `yaml:"created_by"`
}

type Document struct {
	DocNo        string `yaml:"doc_no"`
	Type         string `yaml:"type"`
	Date         string `yaml:"date"`
	Time         string `yaml:"time"`
	CustCode     string `yaml:"cust_code"`
	RefDocNo     string `yaml:"ref_doc_no"`
	LastModified string `yaml:"last_modified"`
	Voided       bool   `yaml:"voided"`
	Lines        []Line `yaml:"lines"`
}

type Line struct {
	Barcode  string `yaml:"barcode"`
	ItemCode string `yaml:"item_code"`
	ItemName string `yaml:"item_name"`
	UnitCode string `yaml:"unit_code"`
	Qty      string `yaml:"qty"`
	Price    string `yaml:"price"`
	Amount   string `yaml:"amount"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Customers  int `json:"customers"`
	Items      int `json:"items"`
	Conditions int `json:"conditions"`
	Periods    int `json:"periods"`
	Documents  int `json:"documents"`
}

// =============================================================================
// LOADING
// =============================================================================

// Parse decodes a fixture.
func Parse(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, errors.Wrap(err, "parse fixture")
	}
	return f, nil
}

// Load reads and decodes the fixture file at path.
func Load(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, errors.Wrapf(err, "read fixture %s", path)
	}
	return Parse(data)
}

// Apply writes f into store. Rows are upserted, so applying the same
// fixture twice is harmless; periods are always appended.
func Apply(ctx context.Context, store *sqlite.Store, f Fixture, now time.Time) (Summary, error) {
	var sum Summary

	if f.Reset {
		if err := store.Reset(ctx); err != nil {
			return sum, err
		}
	}

	for _, c := range f.Customers {
		if err := store.SaveCustomer(ctx, c.Code, c.Name); err != nil {
			return sum, err
		}
		sum.Customers++
	}

	for _, it := range f.Items {
		if err := store.SaveItem(ctx, sqlite.Item{Code: it.Code, Name: it.Name, HavePoint: it.HavePoint}); err != nil {
			return sum, err
		}
		sum.Items++
	}

	for _, c := range f.Conditions {
		cond, err := c.toCondition()
		if err != nil {
			return sum, err
		}
		if err := store.SaveCondition(ctx, cond); err != nil {
			return sum, err
		}
		for _, item := range c.Items {
			if err := store.MapItem(ctx, item, c.Code); err != nil {
				return sum, err
			}
		}
		sum.Conditions++
	}

	for i, p := range f.Periods {
		period, err := p.toPeriod(now)
		if err != nil {
			return sum, errors.Wrapf(err, "period %d", i+1)
		}
		if _, err := store.CreatePeriod(ctx, period); err != nil {
			return sum, err
		}
		sum.Periods++
	}

	for _, d := range f.Documents {
		doc, lines, err := d.toDocument(now)
		if err != nil {
			return sum, errors.Wrapf(err, "document %s", d.DocNo)
		}
		if err := store.SaveDocument(ctx, doc, lines); err != nil {
			return sum, err
		}
		sum.Documents++
	}

	return sum, nil
}

// =============================================================================
// CONVERSION
// =============================================================================

func (c Condition) toCondition() (points.PointCondition, error) {
	per, err := parseDecimal(c.AmountPerPoint, "0")
	if err != nil {
		return points.PointCondition{}, errors.Wrapf(err, "condition %s amount_per_point", c.Code)
	}
	earned, err := parseDecimal(c.PointsEarned, "1")
	if err != nil {
		return points.PointCondition{}, errors.Wrapf(err, "condition %s points_earned", c.Code)
	}
	return points.PointCondition{Code: c.Code, Name: c.Name, AmountPerPoint: per, PointsEarned: earned}, nil
}

func (p Period) toPeriod(now time.Time) (points.EligibilityPeriod, error) {
	start, err := time.Parse("2006-01-02", p.Start)
	if err != nil {
		return points.EligibilityPeriod{}, errors.Wrap(err, "start")
	}
	end, err := time.Parse("2006-01-02", p.End)
	if err != nil {
		return points.EligibilityPeriod{}, errors.Wrap(err, "end")
	}
	period := points.EligibilityPeriod{
		StartDate: start,
		EndDate:   end,
		Active:    p.Active,
		Remark:    p.Remark,
		CreatedBy: p.CreatedBy,
		UpdatedAt: now,
	}
	return period, period.Validate()
}

func (d Document) toDocument(now time.Time) (points.SourceDocument, []points.LineItem, error) {
	docType := points.DocType(d.Type)
	if !docType.Valid() {
		return points.SourceDocument{}, nil, errors.Errorf("unknown type %q", d.Type)
	}
	date, err := time.Parse("2006-01-02", d.Date)
	if err != nil {
		return points.SourceDocument{}, nil, errors.Wrap(err, "date")
	}
	modified := now
	if d.LastModified != "" {
		if modified, err = time.Parse(time.RFC3339, d.LastModified); err != nil {
			return points.SourceDocument{}, nil, errors.Wrap(err, "last_modified")
		}
	}

	doc := points.SourceDocument{
		DocNo:        d.DocNo,
		Type:         docType,
		DocDate:      date,
		DocTime:      d.Time,
		CustCode:     d.CustCode,
		RefDocNo:     d.RefDocNo,
		LastModified: modified.UTC(),
		Voided:       d.Voided,
	}

	lines := make([]points.LineItem, 0, len(d.Lines))
	for i, l := range d.Lines {
		qty, err := parseDecimal(l.Qty, "1")
		if err != nil {
			return points.SourceDocument{}, nil, errors.Wrapf(err, "line %d qty", i+1)
		}
		price, err := parseDecimal(l.Price, "0")
		if err != nil {
			return points.SourceDocument{}, nil, errors.Wrapf(err, "line %d price", i+1)
		}
		amount, err := parseDecimal(l.Amount, "")
		if err != nil {
			return points.SourceDocument{}, nil, errors.Wrapf(err, "line %d amount", i+1)
		}
		if l.Amount == "" {
			amount = qty.Mul(price)
		}
		lines = append(lines, points.LineItem{
			LineNo:   i + 1,
			Barcode:  l.Barcode,
			ItemCode: l.ItemCode,
			ItemName: l.ItemName,
			UnitCode: l.UnitCode,
			Qty:      qty,
			Price:    price,
			Amount:   amount,
		})
	}
	return doc, lines, nil
}

// parseDecimal parses s, or fallback when s is empty. An empty fallback
// yields zero.
func parseDecimal(s, fallback string) (decimal.Decimal, error) {
	if s == "" {
		s = fallback
	}
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
