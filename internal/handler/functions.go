package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/gateway"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// FunctionsOptions configures the checkout initializers.
type FunctionsOptions struct {
	// SignupAmount is the price of opening an agency account.
	SignupAmount int64
	Currency     string
}

// FunctionsHandler serves the /functions endpoints called by the web app:
// late payments and the provider checkout initializers.
type FunctionsHandler struct {
	rent     *rent.Service
	store    *store.Store
	orange   gateway.Initializer
	paydunya gateway.Initializer
	signup   gateway.Initializer
	opts     FunctionsOptions
}

// NewFunctionsHandler creates a new FunctionsHandler.
func NewFunctionsHandler(svc *rent.Service, s *store.Store, orange, paydunya, signup gateway.Initializer, opts FunctionsOptions) *FunctionsHandler {
	if opts.Currency == "" {
		opts.Currency = "XOF"
	}
	return &FunctionsHandler{rent: svc, store: s, orange: orange, paydunya: paydunya, signup: signup, opts: opts}
}

// writeFunctionError answers with the {success:false} envelope. Rule
// violations and unknown ids are client errors.
func writeFunctionError(w http.ResponseWriter, r *http.Request, err error) {
	if re, ok := domain.AsRule(err); ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": re.Message, "code": re.Code})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "not found", "code": "NOT_FOUND"})
		return
	}
	log.Printf("functions: %s: %v", r.URL.Path, err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal server error", "code": "INTERNAL_ERROR"})
}

type latePaymentRequest struct {
	LeaseID       uuid.UUID   `json:"leaseId"`
	PeriodIDs     []uuid.UUID `json:"periodIds"`
	PaymentMethod string      `json:"paymentMethod"`
	PaymentDate   types.Date  `json:"paymentDate"`
	Amount        int64       `json:"amount"`
}

// HandleLatePayment pays late periods together with their pending fees.
// POST /functions/handle-late-payment
func (h *FunctionsHandler) HandleLatePayment(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req latePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body", "code": "INVALID_JSON"})
		return
	}
	res, err := h.rent.HandleLatePayment(r.Context(), tc, rent.PaymentInput{
		LeaseID:        req.LeaseID,
		PeriodIDs:      req.PeriodIDs,
		Amount:         req.Amount,
		Method:         req.PaymentMethod,
		Date:           req.PaymentDate,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}, parseAuditContext(r, tc))
	if err != nil {
		writeFunctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"payment":          res.Payment,
		"late_fee_payment": res.LateFeePayment,
		"periods":          res.Periods,
		"stale":            res.Stale,
	})
}

type checkoutResponse struct {
	Token     string     `json:"token"`
	URL       string     `json:"url"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty"`
}

type orangeMoneyInitRequest struct {
	LeaseID     uuid.UUID   `json:"leaseId"`
	PeriodIDs   []uuid.UUID `json:"periodIds"`
	Description string      `json:"description"`
}

// InitializeOrangeMoney opens an Orange Money checkout for rent periods.
// The pending payment is created first so that the callback can name it.
// POST /functions/initialize-orange-money-payment
func (h *FunctionsHandler) InitializeOrangeMoney(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req orangeMoneyInitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	co, err := h.rent.OpenCheckout(r.Context(), tc, rent.CheckoutInput{
		LeaseID:   req.LeaseID,
		PeriodIDs: req.PeriodIDs,
		Gateway:   "orange_money",
	}, parseAuditContext(r, tc))
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "Rent payment"
	}
	out, err := h.orange.Initialize(r.Context(), gateway.CheckoutRequest{
		Reference:   co.Payment.ID.String(),
		Amount:      co.Payment.Amount,
		Currency:    currencyOr(co.Lease.Currency, h.opts.Currency),
		Description: desc,
		Metadata: map[string]string{
			"payment_id": co.Payment.ID.String(),
			"lease_id":   co.Lease.ID.String(),
			"tenant_id":  co.Lease.TenantID.String(),
		},
	})
	if err != nil {
		log.Printf("functions: orange money checkout for payment %s: %v", co.Payment.ID, err)
		if aerr := h.rent.AbandonCheckout(r.Context(), tc, co.Payment.ID, "INIT_FAILED"); aerr != nil {
			log.Printf("functions: releasing payment %s: %v", co.Payment.ID, aerr)
		}
		writeError(w, http.StatusBadGateway, "GATEWAY_ERROR", "payment provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Token: out.Token, URL: out.URL, PaymentID: &co.Payment.ID})
}

type payDunyaInitRequest struct {
	PlanID *uuid.UUID `json:"planId"`
}

// InitializePayDunya opens a subscription renewal checkout for the caller's
// agency, for the requested plan or the agency's current one.
// POST /functions/initialize-paydunya-payment
func (h *FunctionsHandler) InitializePayDunya(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req payDunyaInitRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	c := h.store.Conn()
	agency, err := c.GetAgency(r.Context(), tc.AgencyID)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	planID := req.PlanID
	if planID == nil {
		planID = agency.SubscriptionPlanID
	}
	if planID == nil {
		writeError(w, http.StatusBadRequest, domain.CodeValidation, "planId is required")
		return
	}
	plan, err := c.GetPlan(r.Context(), *planID)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	out, err := h.paydunya.Initialize(r.Context(), gateway.CheckoutRequest{
		Reference:   uuid.NewString(),
		Amount:      plan.Price,
		Currency:    h.opts.Currency,
		Description: "Subscription " + plan.Name + " for " + agency.Name,
		Metadata: map[string]string{
			"agency_id": agency.ID.String(),
			"plan_id":   plan.ID.String(),
		},
	})
	if err != nil {
		log.Printf("functions: paydunya checkout for agency %s: %v", agency.ID, err)
		writeError(w, http.StatusBadGateway, "GATEWAY_ERROR", "payment provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Token: out.Token, URL: out.URL})
}

// InitializeSignup opens the payment that creates a new agency account.
// The account details come back with the provider's callback. This endpoint
// is public.
// POST /functions/initialize-payment
func (h *FunctionsHandler) InitializeSignup(w http.ResponseWriter, r *http.Request) {
	var req gateway.Signup
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}
	_, err := h.store.Conn().UserByEmail(r.Context(), req.Email)
	switch {
	case err == nil:
		writeError(w, http.StatusBadRequest, domain.CodeValidation, "an account already exists for "+req.Email)
		return
	case !errors.Is(err, store.ErrNotFound):
		serviceErrorToHTTP(w, r, err)
		return
	}
	out, err := h.signup.Initialize(r.Context(), gateway.CheckoutRequest{
		Reference:   uuid.NewString(),
		Amount:      h.opts.SignupAmount,
		Currency:    h.opts.Currency,
		Description: "Agency account " + req.AgencyName,
		Metadata:    req.Metadata(),
	})
	if err != nil {
		log.Printf("functions: signup checkout: %v", err)
		writeError(w, http.StatusBadGateway, "GATEWAY_ERROR", "payment provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Token: out.Token, URL: out.URL})
}

func currencyOr(c, fallback string) string {
	if c != "" {
		return c
	}
	return fallback
}
