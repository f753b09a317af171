package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/types"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID               string
	EventType        string
	OccurredAt       time.Time
	AgencyID         string
	AffectedEntities []types.SourceRef
	Summary          string
	Category         string // "lease", "payment", "late_fee", "agency"
	Weight           string // "critical", "major", "minor", "info"
	Polarity         string // "positive", "negative", "neutral"
	Payload          json.RawMessage
	// Stale lists the aggregate keys whose cached views this event invalidates.
	Stale []string
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func short(id uuid.UUID) string { return id.String()[:8] }

func leaseRefs(l *domain.Lease) []types.SourceRef {
	return []types.SourceRef{
		{EntityType: "lease", EntityID: l.ID.String(), Role: "subject"},
		{EntityType: "tenant", EntityID: l.TenantID.String(), Role: "related"},
		{EntityType: "unit", EntityID: l.UnitID.String(), Role: "context"},
	}
}

// ── Lease events ─────────────────────────────────────────────────────────────

// LeaseCreatedPayload carries event-specific data for LeaseCreated.
type LeaseCreatedPayload struct {
	LeaseID          string      `json:"lease_id"`
	TenantID         string      `json:"tenant_id"`
	UnitID           string      `json:"unit_id"`
	StartDate        types.Date  `json:"start_date"`
	Rent             types.Money `json:"rent"`
	PaymentFrequency string      `json:"payment_frequency"`
}

func NewLeaseCreated(l *domain.Lease) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        "lease_created",
		OccurredAt:       time.Now(),
		AgencyID:         l.AgencyID.String(),
		AffectedEntities: leaseRefs(l),
		Summary:          fmt.Sprintf("Lease %s created at %d %s", short(l.ID), l.RentAmount, l.Currency),
		Category:         "lease",
		Weight:           "major",
		Polarity:         "neutral",
		Payload: mustJSON(LeaseCreatedPayload{
			LeaseID: l.ID.String(), TenantID: l.TenantID.String(), UnitID: l.UnitID.String(),
			StartDate: l.StartDate, Rent: types.Money{Amount: l.RentAmount, Currency: l.Currency},
			PaymentFrequency: string(l.PaymentFrequency),
		}),
		Stale: []string{domain.StaleLease, domain.StalePropertyUnits},
	}
}

// InitialPaymentsRecordedPayload carries event-specific data for InitialPaymentsRecorded.
type InitialPaymentsRecordedPayload struct {
	LeaseID    string `json:"lease_id"`
	Deposit    int64  `json:"deposit"`
	AgencyFees int64  `json:"agency_fees"`
	Mode       string `json:"mode"`
}

func NewInitialPaymentsRecorded(l *domain.Lease, deposit, fees int64, mode string) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        "initial_payments_recorded",
		OccurredAt:       time.Now(),
		AgencyID:         l.AgencyID.String(),
		AffectedEntities: leaseRefs(l),
		Summary:          fmt.Sprintf("Deposit %d and agency fees %d recorded on lease %s", deposit, fees, short(l.ID)),
		Category:         "payment",
		Weight:           "major",
		Polarity:         "positive",
		Payload: mustJSON(InitialPaymentsRecordedPayload{
			LeaseID: l.ID.String(), Deposit: deposit, AgencyFees: fees, Mode: mode,
		}),
		Stale: []string{domain.StaleLease, domain.StalePaymentStats, domain.StalePropertyUnits},
	}
}

// PeriodsGeneratedPayload carries event-specific data for PeriodsGenerated.
type PeriodsGeneratedPayload struct {
	LeaseID string     `json:"lease_id"`
	Count   int        `json:"count"`
	First   types.Date `json:"first_start"`
	Last    types.Date `json:"last_end"`
}

func NewPeriodsGenerated(l *domain.Lease, periods []*domain.PaymentPeriod) DomainEvent {
	p := PeriodsGeneratedPayload{LeaseID: l.ID.String(), Count: len(periods)}
	if len(periods) > 0 {
		p.First = periods[0].StartDate
		p.Last = periods[len(periods)-1].EndDate
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        "periods_generated",
		OccurredAt:       time.Now(),
		AgencyID:         l.AgencyID.String(),
		AffectedEntities: leaseRefs(l)[:1],
		Summary:          fmt.Sprintf("%d payment periods generated for lease %s", len(periods), short(l.ID)),
		Category:         "lease",
		Weight:           "info",
		Polarity:         "neutral",
		Payload:          mustJSON(p),
		Stale:            []string{domain.StalePeriods, domain.StalePaymentStats},
	}
}

// LeaseEndedPayload carries event-specific data for LeaseTerminated and LeaseExpired.
type LeaseEndedPayload struct {
	LeaseID          string     `json:"lease_id"`
	EndDate          types.Date `json:"end_date"`
	CancelledPeriods int        `json:"cancelled_periods"`
}

func NewLeaseTerminated(l *domain.Lease, cancelled int) DomainEvent {
	return leaseEnded("lease_terminated", "terminated", l, cancelled)
}

func NewLeaseExpired(l *domain.Lease, cancelled int) DomainEvent {
	return leaseEnded("lease_expired", "expired", l, cancelled)
}

func leaseEnded(eventType, verb string, l *domain.Lease, cancelled int) DomainEvent {
	var end types.Date
	if l.EndDate != nil {
		end = *l.EndDate
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        eventType,
		OccurredAt:       time.Now(),
		AgencyID:         l.AgencyID.String(),
		AffectedEntities: leaseRefs(l),
		Summary:          fmt.Sprintf("Lease %s %s on %s", short(l.ID), verb, end),
		Category:         "lease",
		Weight:           "major",
		Polarity:         "neutral",
		Payload:          mustJSON(LeaseEndedPayload{LeaseID: l.ID.String(), EndDate: end, CancelledPeriods: cancelled}),
		Stale:            []string{domain.StaleLease, domain.StalePeriods, domain.StaleLateFees, domain.StalePropertyUnits},
	}
}

// DepositReturnedPayload carries event-specific data for DepositReturned.
type DepositReturnedPayload struct {
	LeaseID   string `json:"lease_id"`
	Deposit   int64  `json:"deposit"`
	Returned  int64  `json:"returned"`
	Deduction int64  `json:"deduction"`
	Notes     string `json:"notes,omitempty"`
}

func NewDepositReturned(l *domain.Lease, returned int64, notes string) DomainEvent {
	polarity := "positive"
	if returned < l.DepositAmount {
		polarity = "negative"
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        "deposit_returned",
		OccurredAt:       time.Now(),
		AgencyID:         l.AgencyID.String(),
		AffectedEntities: leaseRefs(l),
		Summary:          fmt.Sprintf("Deposit %d of %d returned on lease %s", returned, l.DepositAmount, short(l.ID)),
		Category:         "lease",
		Weight:           "minor",
		Polarity:         polarity,
		Payload: mustJSON(DepositReturnedPayload{
			LeaseID: l.ID.String(), Deposit: l.DepositAmount, Returned: returned,
			Deduction: l.DepositAmount - returned, Notes: notes,
		}),
		Stale: []string{domain.StaleLease, domain.StaleNotifications},
	}
}

// ── Payment events ───────────────────────────────────────────────────────────

// PaymentRecordedPayload carries event-specific data for PaymentRecorded.
type PaymentRecordedPayload struct {
	PaymentID         string      `json:"payment_id"`
	LeaseID           string      `json:"lease_id"`
	Amount            types.Money `json:"amount"`
	PaymentMethod     string      `json:"payment_method"`
	PaymentDate       types.Date  `json:"payment_date"`
	PaymentStatusType string      `json:"payment_status_type"`
	PeriodIDs         []string    `json:"period_ids"`
	Gateway           string      `json:"gateway,omitempty"`
}

func NewPaymentRecorded(l *domain.Lease, p *domain.Payment, periods []*domain.PaymentPeriod) DomainEvent {
	refs := append(leaseRefs(l), types.SourceRef{EntityType: "payment", EntityID: p.ID.String(), Role: "target"})
	periodIDs := make([]string, len(periods))
	for i, pp := range periods {
		periodIDs[i] = pp.ID.String()
	}
	polarity := "positive"
	if p.PaymentStatusType == domain.PaymentLateArr {
		polarity = "negative"
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        "payment_recorded",
		OccurredAt:       time.Now(),
		AgencyID:         l.AgencyID.String(),
		AffectedEntities: refs,
		Summary:          fmt.Sprintf("Payment of %d %s covering %d period(s) on lease %s", p.Amount, l.Currency, len(periods), short(l.ID)),
		Category:         "payment",
		Weight:           "minor",
		Polarity:         polarity,
		Payload: mustJSON(PaymentRecordedPayload{
			PaymentID: p.ID.String(), LeaseID: l.ID.String(),
			Amount:        types.Money{Amount: p.Amount, Currency: l.Currency},
			PaymentMethod: p.PaymentMethod, PaymentDate: p.PaymentDate,
			PaymentStatusType: string(p.PaymentStatusType), PeriodIDs: periodIDs, Gateway: p.Gateway,
		}),
		Stale: []string{
			domain.StaleLease, domain.StalePaymentStats, domain.StalePeriods,
			domain.StalePropertyUnits, domain.StaleNotifications,
		},
	}
}

// PaymentFailedPayload carries event-specific data for PaymentFailed.
type PaymentFailedPayload struct {
	PaymentID string `json:"payment_id"`
	Gateway   string `json:"gateway"`
	Status    string `json:"status"`
}

func NewPaymentFailed(p *domain.Payment, gatewayStatus string) DomainEvent {
	refs := []types.SourceRef{{EntityType: "payment", EntityID: p.ID.String(), Role: "subject"}}
	if p.LeaseID != nil {
		refs = append(refs, types.SourceRef{EntityType: "lease", EntityID: p.LeaseID.String(), Role: "context"})
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        "payment_failed",
		OccurredAt:       time.Now(),
		AgencyID:         p.AgencyID.String(),
		AffectedEntities: refs,
		Summary:          fmt.Sprintf("%s payment %s failed with status %s", p.Gateway, short(p.ID), gatewayStatus),
		Category:         "payment",
		Weight:           "minor",
		Polarity:         "negative",
		Payload:          mustJSON(PaymentFailedPayload{PaymentID: p.ID.String(), Gateway: p.Gateway, Status: gatewayStatus}),
		Stale:            []string{domain.StalePaymentStats, domain.StalePeriods},
	}
}

// ── Late fee events ──────────────────────────────────────────────────────────

// PeriodLatePayload carries event-specific data for PeriodMarkedLate.
type PeriodLatePayload struct {
	LeaseID   string     `json:"lease_id"`
	PeriodID  string     `json:"period_id"`
	DueDate   types.Date `json:"due_date"`
	DaysLate  int        `json:"days_late"`
	LateFeeID string     `json:"late_fee_id,omitempty"`
	FeeAmount int64      `json:"fee_amount"`
}

func NewPeriodMarkedLate(l *domain.Lease, p *domain.PaymentPeriod, fee *domain.LateFee) DomainEvent {
	payload := PeriodLatePayload{LeaseID: l.ID.String(), PeriodID: p.ID.String(), DueDate: p.DueDate}
	refs := append(leaseRefs(l), types.SourceRef{EntityType: "payment_period", EntityID: p.ID.String(), Role: "target"})
	if fee != nil {
		payload.LateFeeID = fee.ID.String()
		payload.FeeAmount = fee.Amount
		payload.DaysLate = fee.DaysLate
		refs = append(refs, types.SourceRef{EntityType: "late_fee", EntityID: fee.ID.String(), Role: "related"})
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        "period_marked_late",
		OccurredAt:       time.Now(),
		AgencyID:         l.AgencyID.String(),
		AffectedEntities: refs,
		Summary:          fmt.Sprintf("Rent due %s on lease %s is late", p.DueDate, short(l.ID)),
		Category:         "late_fee",
		Weight:           "major",
		Polarity:         "negative",
		Payload:          mustJSON(payload),
		Stale:            []string{domain.StalePeriods, domain.StaleLateFees, domain.StalePaymentStats, domain.StaleNotifications},
	}
}

// LateFeeResolvedPayload carries event-specific data for LateFeePaid and LateFeeCancelled.
type LateFeeResolvedPayload struct {
	LateFeeID string `json:"late_fee_id"`
	LeaseID   string `json:"lease_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

func NewLateFeeResolved(f *domain.LateFee) DomainEvent {
	polarity := "positive"
	if f.Status == domain.LateFeeCancelled {
		polarity = "neutral"
	}
	return DomainEvent{
		ID:         newID(),
		EventType:  "late_fee_" + string(f.Status),
		OccurredAt: time.Now(),
		AgencyID:   f.AgencyID.String(),
		AffectedEntities: []types.SourceRef{
			{EntityType: "late_fee", EntityID: f.ID.String(), Role: "subject"},
			{EntityType: "lease", EntityID: f.LeaseID.String(), Role: "context"},
		},
		Summary:  fmt.Sprintf("Late fee %s of %d marked %s", short(f.ID), f.Amount, f.Status),
		Category: "late_fee",
		Weight:   "minor",
		Polarity: polarity,
		Payload: mustJSON(LateFeeResolvedPayload{
			LateFeeID: f.ID.String(), LeaseID: f.LeaseID.String(), Amount: f.Amount, Status: string(f.Status),
		}),
		Stale: []string{domain.StaleLateFees, domain.StalePaymentStats},
	}
}

// ── Agency events ────────────────────────────────────────────────────────────

// AgencyEventPayload carries event-specific data for agency lifecycle events.
type AgencyEventPayload struct {
	AgencyID  string      `json:"agency_id"`
	Status    string      `json:"status"`
	ExpiresAt *types.Date `json:"subscription_expires_at,omitempty"`
	Amount    int64       `json:"amount,omitempty"`
	Gateway   string      `json:"gateway,omitempty"`
}

func agencyEvent(eventType, summary, weight, polarity string, a *domain.Agency, amount int64, gateway string) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  eventType,
		OccurredAt: time.Now(),
		AgencyID:   a.ID.String(),
		AffectedEntities: []types.SourceRef{
			{EntityType: "agency", EntityID: a.ID.String(), Role: "subject"},
		},
		Summary:  summary,
		Category: "agency",
		Weight:   weight,
		Polarity: polarity,
		Payload: mustJSON(AgencyEventPayload{
			AgencyID: a.ID.String(), Status: string(a.Status), ExpiresAt: a.SubscriptionExpiresAt,
			Amount: amount, Gateway: gateway,
		}),
		Stale: []string{domain.StaleAgency},
	}
}

func NewAgencySignedUp(a *domain.Agency, gateway string) DomainEvent {
	return agencyEvent("agency_signed_up", fmt.Sprintf("Agency %q signed up", a.Name), "critical", "positive", a, 0, gateway)
}

func NewSubscriptionRenewed(a *domain.Agency, amount int64, gateway string) DomainEvent {
	return agencyEvent("subscription_renewed",
		fmt.Sprintf("Subscription of agency %s renewed until %s", short(a.ID), a.SubscriptionExpiresAt),
		"major", "positive", a, amount, gateway)
}

func NewAgencyBlocked(a *domain.Agency) DomainEvent {
	return agencyEvent("agency_blocked",
		fmt.Sprintf("Agency %s blocked: subscription expired", short(a.ID)),
		"critical", "negative", a, 0, "")
}

// NotificationCreatedPayload carries event-specific data for NotificationCreated.
type NotificationCreatedPayload struct {
	Notification *domain.Notification `json:"notification"`
}

// NewNotificationCreated announces a persisted notification so that live
// dashboards can show it without polling.
func NewNotificationCreated(n *domain.Notification) DomainEvent {
	refs := []types.SourceRef{{EntityType: "notification", EntityID: n.ID.String(), Role: "subject"}}
	if n.LeaseID != nil {
		refs = append(refs, types.SourceRef{EntityType: "lease", EntityID: n.LeaseID.String(), Role: "context"})
	}
	return DomainEvent{
		ID:               newID(),
		EventType:        "notification_created",
		OccurredAt:       time.Now(),
		AgencyID:         n.AgencyID.String(),
		AffectedEntities: refs,
		Summary:          fmt.Sprintf("%s notification for %d", n.Type, n.Amount),
		Category:         "notification",
		Weight:           "info",
		Polarity:         "neutral",
		Payload:          mustJSON(NotificationCreatedPayload{Notification: n}),
		Stale:            []string{domain.StaleNotifications},
	}
}
