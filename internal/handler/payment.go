package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/eventbus"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// PaymentHandler implements HTTP handlers for rent payments, late fees and
// notifications.
type PaymentHandler struct {
	rent *rent.Service
	hub  *eventbus.Hub
}

// NewPaymentHandler creates a new PaymentHandler. hub may be nil, in which
// case the notification stream is unavailable.
func NewPaymentHandler(svc *rent.Service, hub *eventbus.Hub) *PaymentHandler {
	return &PaymentHandler{rent: svc, hub: hub}
}

// ---------------------------------------------------------------------------
// Payment
// ---------------------------------------------------------------------------

type recordPaymentRequest struct {
	PeriodIDs      []uuid.UUID `json:"period_ids"`
	Amount         int64       `json:"amount"`
	Method         string      `json:"payment_method"`
	Date           types.Date  `json:"payment_date"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// RecordPayment records a rent payment for one or more periods. The
// Idempotency-Key header is used when the body carries no key.
// POST /v1/leases/{leaseID}/payments
func (h *PaymentHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	leaseID, ok := parseUUID(w, r, "leaseID")
	if !ok {
		return
	}
	var req recordPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	res, err := h.rent.RecordPayment(r.Context(), tc, rent.PaymentInput{
		LeaseID:        leaseID,
		PeriodIDs:      req.PeriodIDs,
		Amount:         req.Amount,
		Method:         req.Method,
		Date:           req.Date,
		IdempotencyKey: req.IdempotencyKey,
	}, parseAuditContext(r, tc))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// ListPayments lists payments, optionally filtered by lease_id, status and
// a comma separated type list.
// GET /v1/payments
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	leaseID, ok := queryUUID(w, r, "lease_id")
	if !ok {
		return
	}
	page := parsePagination(r)
	f := store.PaymentFilter{
		LeaseID: leaseID,
		Status:  domain.PaymentStatus(r.URL.Query().Get("status")),
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	if t := r.URL.Query().Get("type"); t != "" {
		for _, pt := range strings.Split(t, ",") {
			f.Types = append(f.Types, domain.PaymentType(strings.TrimSpace(pt)))
		}
	}
	payments, err := h.rent.ListPayments(r.Context(), tc, f)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(payments))
}

// ---------------------------------------------------------------------------
// Late fees
// ---------------------------------------------------------------------------

// ListLateFees lists late fees, optionally by lease_id and status.
// GET /v1/late-fees
func (h *PaymentHandler) ListLateFees(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	leaseID, ok := queryUUID(w, r, "lease_id")
	if !ok {
		return
	}
	fees, err := h.rent.ListLateFees(r.Context(), tc, leaseID, domain.LateFeeStatus(r.URL.Query().Get("status")))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(fees))
}

type payLateFeeRequest struct {
	Method string     `json:"payment_method"`
	Date   types.Date `json:"payment_date"`
}

// PayLateFee settles a pending late fee on its own.
// POST /v1/late-fees/{feeID}/pay
func (h *PaymentHandler) PayLateFee(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "feeID")
	if !ok {
		return
	}
	var req payLateFeeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	fee, payment, err := h.rent.PayLateFee(r.Context(), tc, id, req.Method, req.Date, parseAuditContext(r, tc))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"late_fee": fee, "payment": payment})
}

// CancelLateFee waives a pending late fee.
// POST /v1/late-fees/{feeID}/cancel
func (h *PaymentHandler) CancelLateFee(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "feeID")
	if !ok {
		return
	}
	fee, err := h.rent.CancelLateFee(r.Context(), tc, id)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fee)
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// ListNotifications lists notifications, optionally by tenant_id or
// lease_id; unread=true keeps unread ones only.
// GET /v1/notifications
func (h *PaymentHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	tenantID, ok := queryUUID(w, r, "tenant_id")
	if !ok {
		return
	}
	leaseID, ok := queryUUID(w, r, "lease_id")
	if !ok {
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	notes, err := h.rent.ListNotifications(r.Context(), tc, store.NotificationFilter{
		TenantID:   tenantID,
		LeaseID:    leaseID,
		UnreadOnly: unread,
		Limit:      parsePagination(r).Limit,
	})
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(notes))
}

// MarkNotificationRead flags a notification as read.
// POST /v1/notifications/{notificationID}/read
func (h *PaymentHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "notificationID")
	if !ok {
		return
	}
	if err := h.rent.MarkNotificationRead(r.Context(), tc, id); err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamNotifications upgrades to a websocket carrying the agency's events.
// GET /v1/notifications/stream
func (h *PaymentHandler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "notification stream is not enabled")
		return
	}
	h.hub.Serve(w, r, tc.AgencyID.String())
}
