/*
handlers.go - HTTP API handlers for the point engine

PURPOSE:
  Exposes the point engine via a small admin REST API. Handles HTTP
  request/response, JSON serialization, and delegates to points.Engine.

ENDPOINTS:
  Customers:
    GET    /api/customers/{code}                 Customer and balance
    GET    /api/customers/{code}/movements       Ledger page (?limit=&offset=)
    POST   /api/customers/{code}/points/add      Manual credit
    POST   /api/customers/{code}/points/use      Redemption
    POST   /api/customers/{code}/recalc          Full rebuild

  Movements:
    GET    /api/movements/{docNo}                One ledger entry with lines
    POST   /api/movements/{docNo}/cancel         Cancel a redemption

  Processing:
    POST   /api/process                          Batch pass over due documents
    GET    /api/runs                             Run history (?limit=)

  Periods:
    GET    /api/periods                          List
    POST   /api/periods                          Create
    PUT    /api/periods/{id}                     Replace
    DELETE /api/periods/{id}                     Delete

  Dev:
    POST   /api/fixtures                         Apply a YAML fixture body
    POST   /api/reset                            Wipe every table

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, insufficient points
  - 404: Customer, movement, redemption or period not found
  - 409: Conflict (pass already running, redemption already cancelled)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The actor on manual operations is taken from the
  request body as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/points-engine/fixture"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqlite"
)

const maxFixtureBytes = 10 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Engine *points.Engine
	Store  *sqlite.Store

	log zerolog.Logger
	now func() time.Time
}

// NewHandler creates a new handler over engine and the store it runs on.
func NewHandler(engine *points.Engine, store *sqlite.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Store:  store,
		log:    log,
		now:    time.Now,
	}
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// GetCustomer returns a customer with its balance.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.Customer(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// ListMovements returns one page of a customer's ledger, newest first.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	entries, total, err := h.Engine.ListEntries(r.Context(), chi.URLParam(r, "code"), limit, offset)
	if err != nil {
		h.fail(w, r, "Failed to list movements", err)
		return
	}

	page := MovementPageDTO{Items: make([]MovementDTO, 0, len(entries)), Total: total, Limit: limit, Offset: offset}
	for _, e := range entries {
		page.Items = append(page.Items, toMovementDTO(e))
	}
	writeJSON(w, http.StatusOK, page)
}

// RecalcCustomer rebuilds a customer's ledger from their documents.
func (h *Handler) RecalcCustomer(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Engine.RecalcCustomer(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "Failed to recalculate customer", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// =============================================================================
// MANUAL OPERATION HANDLERS
// =============================================================================

// AddPoints credits points to a customer.
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	h.manual(w, r, h.Engine.AddPoints, "Failed to add points")
}

// UsePoints redeems points from a customer.
func (h *Handler) UsePoints(w http.ResponseWriter, r *http.Request) {
	h.manual(w, r, h.Engine.UsePoints, "Failed to use points")
}

func (h *Handler) manual(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, req points.ManualRequest) (points.ManualResult, error),
	failure string,
) {
	var req PointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := op(r.Context(), points.ManualRequest{
		CustCode: chi.URLParam(r, "code"),
		Points:   req.Points,
		Remark:   req.Remark,
		Actor:    req.Actor,
	})
	if err != nil {
		h.fail(w, r, failure, err)
		return
	}
	writeJSON(w, http.StatusCreated, ManualResultDTO{Movement: toMovementDTO(res.Entry), Balance: res.Balance})
}

// CancelUse refunds a redemption.
func (h *Handler) CancelUse(w http.ResponseWriter, r *http.Request) {
	var req CancelUseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	res, err := h.Engine.CancelUse(r.Context(), points.CancelRequest{
		DocNo:    chi.URLParam(r, "docNo"),
		CustCode: req.CustCode,
		Remark:   req.Remark,
		Actor:    req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Failed to cancel redemption", err)
		return
	}
	writeJSON(w, http.StatusCreated, ManualResultDTO{Movement: toMovementDTO(res.Entry), Balance: res.Balance})
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// GetMovement returns one ledger entry with its lines.
func (h *Handler) GetMovement(w http.ResponseWriter, r *http.Request) {
	e, err := h.Engine.Entry(r.Context(), chi.URLParam(r, "docNo"))
	if err != nil {
		h.fail(w, r, "Failed to get movement", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(e))
}

// =============================================================================
// PROCESSING HANDLERS
// =============================================================================

// ProcessAll runs one batch pass and reports its counts.
func (h *Handler) ProcessAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ProcessAll(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to process documents", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListRuns returns recent runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	runs, err := h.Engine.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Engine.ListPeriods(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list periods", err)
		return
	}

	dtos := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		dtos = append(dtos, toPeriodDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePeriod(w, r, 0)
	if !ok {
		return
	}

	created, err := h.Engine.CreatePeriod(r.Context(), p)
	if err != nil {
		h.fail(w, r, "Failed to create period", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(created))
}

func (h *Handler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period id", err)
		return
	}
	p, ok := decodePeriod(w, r, id)
	if !ok {
		return
	}

	updated, err := h.Engine.UpdatePeriod(r.Context(), p)
	if err != nil {
		h.fail(w, r, "Failed to update period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(updated))
}

func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period id", err)
		return
	}

	if err := h.Engine.DeletePeriod(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete period", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodePeriod(w http.ResponseWriter, r *http.Request, id int64) (points.EligibilityPeriod, bool) {
	var req PeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return points.EligibilityPeriod{}, false
	}
	p, err := req.toPeriod(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return points.EligibilityPeriod{}, false
	}
	return p, true
}

// =============================================================================
// FIXTURE HANDLERS
// =============================================================================

// LoadFixture applies a YAML fixture sent as the request body.
func (h *Handler) LoadFixture(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFixtureBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read fixture", err)
		return
	}
	f, err := fixture.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fixture", err)
		return
	}

	sum, err := fixture.Apply(r.Context(), h.Store, f, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to apply fixture", err)
		return
	}
	h.log.Info().Interface("summary", sum).Bool("reset", f.Reset).Msg("[API] Fixture applied")
	writeJSON(w, http.StatusOK, sum)
}

// ResetDatabase wipes every table.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.log.Warn().Msg("[API] Database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case points.IsClientError(err):
		return http.StatusBadRequest
	case points.IsNotFound(err):
		return http.StatusNotFound
	case points.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status it maps to. Only server errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("[API] " + message)
	}
	writeError(w, status, message, err)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
