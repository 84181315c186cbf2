/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Customers:
    CustomerDTO

  Movements (ledger entries):
    MovementDTO, MovementLineDTO, MovementPageDTO

  Manual operations:
    PointsRequest, CancelUseRequest, ManualResultDTO

  Periods:
    PeriodDTO, PeriodRequest

  Runs:
    RunDTO

AMOUNTS:
  Points and money are decimals, serialized as JSON strings ("12.5") so
  clients never see float rounding. Requests accept strings or numbers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/points"
)

const (
	dateLayout = "2006-01-02"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerDTO is a customer with its derived balance.
type CustomerDTO struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	RewardPoint  decimal.Decimal `json:"reward_point"`
	PointBalance decimal.Decimal `json:"point_balance"`
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// MovementDTO is one ledger entry.
type MovementDTO struct {
	DocNo           string            `json:"doc_no"`
	DocDate         string            `json:"doc_date"`
	DocTime         string            `json:"doc_time"`
	CustCode        string            `json:"cust_code"`
	Kind            points.EntryKind  `json:"kind"`
	SaleDocNo       string            `json:"sale_doc_no,omitempty"`
	ReturnDocNo     string            `json:"return_doc_no,omitempty"`
	CancelsDocNo    string            `json:"cancels_doc_no,omitempty"`
	SumSaleAmount   decimal.Decimal   `json:"sum_sale_amount"`
	SumReturnAmount decimal.Decimal   `json:"sum_return_amount"`
	SumTotalAmount  decimal.Decimal   `json:"sum_total_amount"`
	PointsEarned    decimal.Decimal   `json:"points_earned"`
	PointsUsed      decimal.Decimal   `json:"points_used"`
	Remark          string            `json:"remark"`
	UpdatedAt       string            `json:"updated_at"`
	Lines           []MovementLineDTO `json:"lines,omitempty"`
}

// MovementLineDTO is the per-item breakdown of a movement.
type MovementLineDTO struct {
	LineNo        int             `json:"line_no"`
	Barcode       string          `json:"barcode,omitempty"`
	ItemCode      string          `json:"item_code"`
	ItemName      string          `json:"item_name"`
	UnitCode      string          `json:"unit_code,omitempty"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	SaleAmount    decimal.Decimal `json:"sale_amount"`
	ReturnAmount  decimal.Decimal `json:"return_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Points        decimal.Decimal `json:"points"`
	ConditionCode string          `json:"condition_code"`
	Remark        string          `json:"remark,omitempty"`
}

// MovementPageDTO is one page of a customer's movements, newest first.
type MovementPageDTO struct {
	Items  []MovementDTO `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// =============================================================================
// MANUAL OPERATIONS
// =============================================================================

// PointsRequest adds or uses points. Actor names the staff member.
type PointsRequest struct {
	Points decimal.Decimal `json:"points"`
	Remark string          `json:"remark"`
	Actor  string          `json:"actor"`
}

// CancelUseRequest cancels a redemption. CustCode is optional.
type CancelUseRequest struct {
	CustCode string `json:"cust_code"`
	Remark   string `json:"remark"`
	Actor    string `json:"actor"`
}

// ManualResultDTO is the entry a manual operation wrote and the balance after it.
type ManualResultDTO struct {
	Movement MovementDTO            `json:"movement"`
	Balance  points.CustomerBalance `json:"balance"`
}

// =============================================================================
// PERIODS
// =============================================================================

type PeriodDTO struct {
	ID        int64  `json:"id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Active    bool   `json:"active"`
	Remark    string `json:"remark"`
	CreatedBy string `json:"created_by"`
	UpdatedAt string `json:"updated_at"`
}

// PeriodRequest creates or replaces a period. Active defaults to true.
type PeriodRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Active    *bool  `json:"active"`
	Remark    string `json:"remark"`
	CreatedBy string `json:"created_by"`
}

// =============================================================================
// RUNS
// =============================================================================

type RunDTO struct {
	ID         string           `json:"id"`
	Mode       points.RunMode   `json:"mode"`
	CustCode   string           `json:"cust_code,omitempty"`
	Status     points.RunStatus `json:"status"`
	Processed  int              `json:"processed"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Error      string           `json:"error,omitempty"`
	StartedAt  string           `json:"started_at"`
	FinishedAt string           `json:"finished_at,omitempty"`
}

// ErrorResponse is returned for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCustomerDTO(c points.Customer) CustomerDTO {
	return CustomerDTO{
		Code:         c.Code,
		Name:         c.Name,
		RewardPoint:  c.Balance.RewardPoint,
		PointBalance: c.Balance.PointBalance,
	}
}

func toMovementDTO(e points.LedgerEntry) MovementDTO {
	dto := MovementDTO{
		DocNo:           e.DocNo,
		DocDate:         e.DocDate.Format(dateLayout),
		DocTime:         e.DocTime,
		CustCode:        e.CustCode,
		Kind:            e.Kind(),
		SaleDocNo:       e.SaleDocNo,
		ReturnDocNo:     e.ReturnDocNo,
		CancelsDocNo:    e.CancelsDocNo,
		SumSaleAmount:   e.SumSaleAmount,
		SumReturnAmount: e.SumReturnAmount,
		SumTotalAmount:  e.SumTotalAmount(),
		PointsEarned:    e.PointsEarned,
		PointsUsed:      e.PointsUsed,
		Remark:          e.Remark,
		UpdatedAt:       formatTime(e.UpdatedAt),
	}
	for _, l := range e.Lines {
		dto.Lines = append(dto.Lines, MovementLineDTO{
			LineNo:        l.LineNo,
			Barcode:       l.Barcode,
			ItemCode:      l.ItemCode,
			ItemName:      l.ItemName,
			UnitCode:      l.UnitCode,
			Qty:           l.Qty,
			Price:         l.Price,
			SaleAmount:    l.SaleAmount,
			ReturnAmount:  l.ReturnAmount,
			TotalAmount:   l.TotalAmount(),
			Points:        l.Points,
			ConditionCode: l.ConditionCode,
			Remark:        l.Remark,
		})
	}
	return dto
}

func toPeriodDTO(p points.EligibilityPeriod) PeriodDTO {
	return PeriodDTO{
		ID:        p.ID,
		StartDate: p.StartDate.Format(dateLayout),
		EndDate:   p.EndDate.Format(dateLayout),
		Active:    p.Active,
		Remark:    p.Remark,
		CreatedBy: p.CreatedBy,
		UpdatedAt: formatTime(p.UpdatedAt),
	}
}

func toRunDTO(r points.Run) RunDTO {
	return RunDTO{
		ID:         r.ID,
		Mode:       r.Mode,
		CustCode:   r.CustCode,
		Status:     r.Status,
		Processed:  r.Processed,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Error:      r.Error,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
	}
}

// toPeriod parses a PeriodRequest. id is zero for creation.
func (req PeriodRequest) toPeriod(id int64) (points.EligibilityPeriod, error) {
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return points.EligibilityPeriod{}, err
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return points.EligibilityPeriod{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return points.EligibilityPeriod{
		ID:        id,
		StartDate: start,
		EndDate:   end,
		Active:    active,
		Remark:    req.Remark,
		CreatedBy: req.CreatedBy,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
