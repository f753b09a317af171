package handler

import (
	"net/http"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/rent"
)

// PropertyHandler implements HTTP handlers for properties, units, tenants
// and the agency's resource counts.
type PropertyHandler struct {
	rent *rent.Service
}

// NewPropertyHandler creates a new PropertyHandler.
func NewPropertyHandler(svc *rent.Service) *PropertyHandler {
	return &PropertyHandler{rent: svc}
}

// ---------------------------------------------------------------------------
// Property
// ---------------------------------------------------------------------------

type createPropertyRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *PropertyHandler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req createPropertyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := &domain.Property{Name: req.Name, Address: req.Address}
	if err := h.rent.CreateProperty(r.Context(), tc, p); err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PropertyHandler) ListProperties(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	props, err := h.rent.ListProperties(r.Context(), tc)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(props))
}

// ---------------------------------------------------------------------------
// Unit
// ---------------------------------------------------------------------------

type createUnitRequest struct {
	Name       string `json:"name"`
	RentAmount int64  `json:"rent_amount"`
}

func (h *PropertyHandler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	propertyID, ok := parseUUID(w, r, "propertyID")
	if !ok {
		return
	}
	var req createUnitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u := &domain.Unit{PropertyID: propertyID, Name: req.Name, RentAmount: req.RentAmount}
	if err := h.rent.CreateUnit(r.Context(), tc, u); err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *PropertyHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	propertyID, ok := parseUUID(w, r, "propertyID")
	if !ok {
		return
	}
	units, err := h.rent.ListUnits(r.Context(), tc, propertyID)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(units))
}

// ---------------------------------------------------------------------------
// Tenant
// ---------------------------------------------------------------------------

type createTenantRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (h *PropertyHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var req createTenantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t := &domain.Tenant{FirstName: req.FirstName, LastName: req.LastName, Email: req.Email, Phone: req.Phone}
	if err := h.rent.CreateTenant(r.Context(), tc, t); err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *PropertyHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, r, "tenantID")
	if !ok {
		return
	}
	t, err := h.rent.GetTenant(r.Context(), tc, id)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *PropertyHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	tenants, err := h.rent.ListTenants(r.Context(), tc)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tenants))
}

// RecomputeCounts refreshes and returns the agency's cached counts.
// POST /v1/agency/recompute-counts
func (h *PropertyHandler) RecomputeCounts(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	a, err := h.rent.RecomputeCounts(r.Context(), tc)
	if err != nil {
		serviceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// nonNil makes empty lists encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
