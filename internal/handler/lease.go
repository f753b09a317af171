package handler

import (
	"net/http"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// LeaseHandler implements HTTP handlers for leases and their rent schedule.
type LeaseHandler struct {
	rent *rent.Service
}

// NewLeaseHandler creates a new LeaseHandler.
func NewLeaseHandler(svc *rent.Service) *LeaseHandler {
	return &LeaseHandler{rent: svc}
}

// ---------------------------------------------------------------------------
// Lease
// ---------------------------------------------------------------------------

func (h *LeaseHandler) CreateLease(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req rent.LeaseInput
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.rent.CreateLease(r.Context(), tc, req, parseAuditContext(r, tc))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *LeaseHandler) GetLease(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	l, err := h.rent.GetLease(r.Context(), tc, id)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListLeases lists leases, optionally filtered by status, tenant_id and
// unit_id.
func (h *LeaseHandler) ListLeases(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	tenantID, ok := queryUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	unitID, ok := queryUUID(w, r, "unit_id")
	if !ok {
		return
	}
	page := parsePagination(r)
	leases, err := h.rent.ListLeases(r.Context(), tc, store.LeaseFilter{
		Status:   domain.LeaseStatus(r.URL.Query().Get("status")),
		TenantID: tenantID,
		UnitID:   unitID,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(leases))
}

type terminateLeaseRequest struct {
	EndDate types.Date `json:"end_date"`
}

// TerminateLease ends an active lease.
// POST /v1/leases/{leaseID}/terminate
func (h *LeaseHandler) TerminateLease(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	var req terminateLeaseRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	res, err := h.rent.TerminateLease(r.Context(), tc, id, req.EndDate, parseAuditContext(r, tc))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type returnDepositRequest struct {
	ReturnedAmount int64  `json:"returned_amount"`
	Notes          string `json:"notes"`
}

// ReturnDeposit records the deposit returned at the end of a lease.
// POST /v1/leases/{leaseID}/deposit-return
func (h *LeaseHandler) ReturnDeposit(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	var req returnDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.rent.ReturnDeposit(r.Context(), tc, id, req.ReturnedAmount, req.Notes, parseAuditContext(r, tc))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// Initial payments
// ---------------------------------------------------------------------------

type initialPaymentsRequest struct {
	Mode          rent.InitialMode `json:"mode"`
	DepositAmount int64            `json:"deposit_amount"`
	AgencyFees    *int64           `json:"agency_fees,omitempty"`
	Method        string           `json:"payment_method"`
	Date          types.Date       `json:"payment_date"`
}

// RecordInitialPayments records the deposit and agency fees of a pending
// lease. mode is "computed" or "simple"; the long operation names are
// accepted as well.
// POST /v1/leases/{leaseID}/initial-payments
func (h *LeaseHandler) RecordInitialPayments(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	var req initialPaymentsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Mode {
	case "computed":
		req.Mode = rent.ModeComputed
	case "simple", "":
		req.Mode = rent.ModeSimple
	}
	res, err := h.rent.RecordInitialPayments(r.Context(), tc, rent.InitialPaymentsInput{
		LeaseID:       id,
		Mode:          req.Mode,
		DepositAmount: req.DepositAmount,
		AgencyFees:    req.AgencyFees,
		Method:        req.Method,
		Date:          req.Date,
	}, parseAuditContext(r, tc))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// ---------------------------------------------------------------------------
// Periods
// ---------------------------------------------------------------------------

type generatePeriodsRequest struct {
	Count int `json:"count"`
}

// GeneratePeriods creates the payment periods of a lease. A zero count
// covers the whole term of a fixed lease.
// POST /v1/leases/{leaseID}/periods
func (h *LeaseHandler) GeneratePeriods(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	var req generatePeriodsRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	periods, err := h.rent.GeneratePeriods(r.Context(), tc, id, req.Count)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nonNil(periods))
}

// ListPeriods lists a lease's periods, optionally filtered by status.
func (h *LeaseHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	var statuses []domain.PeriodStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, domain.PeriodStatus(s))
	}
	periods, err := h.rent.ListPeriods(r.Context(), tc, id, statuses...)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(periods))
}

// PreviewLateFee shows the fee a period would carry on as_of (today when
// omitted) without writing anything.
// GET /v1/periods/{periodID}/late-fee-preview
func (h *LeaseHandler) PreviewLateFee(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "periodID")
	if !ok {
		return
	}
	asOf, ok := queryDate(w, r, "as_of")
	if !ok {
		return
	}
	preview, err := h.rent.PreviewLateFee(r.Context(), tc, id, asOf)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// PaymentStats summarises what a lease has paid and still owes.
// GET /v1/leases/{leaseID}/payment-stats
func (h *LeaseHandler) PaymentStats(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	stats, err := h.rent.PaymentStats(r.Context(), tc, id)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
