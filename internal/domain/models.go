package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/matthewbaird/rentflow/internal/types"
)

// TenantContext is the explicit tenancy boundary passed to every core
// operation. It is resolved once per request from the caller's credentials.
type TenantContext struct {
	AgencyID uuid.UUID
	UserID   uuid.UUID
	Role     Role
}

// Audit carries who changed a row and why.
type Audit struct {
	Actor         string
	Source        string // "user", "gateway", "system"
	CorrelationID string
}

// SystemAudit is used by the evaluator and webhook reconcilers.
func SystemAudit(source string) Audit {
	return Audit{Actor: "system", Source: source}
}

// Agency is the tenant boundary owning properties, tenants and leases.
type Agency struct {
	ID                     uuid.UUID    `json:"id"`
	Name                   string       `json:"name"`
	Phone                  string       `json:"phone,omitempty"`
	Address                string       `json:"address,omitempty"`
	Status                 AgencyStatus `json:"status"`
	SubscriptionPlanID     *uuid.UUID   `json:"subscription_plan_id,omitempty"`
	SubscriptionExpiresAt  *types.Date  `json:"subscription_expires_at,omitempty"`
	CurrentPropertiesCount int          `json:"current_properties_count"`
	CurrentTenantsCount    int          `json:"current_tenants_count"`
	CurrentProfilesCount   int          `json:"current_profiles_count"`
	CreatedAt              time.Time    `json:"created_at"`
}

// Unlimited marks a subscription limit without a ceiling.
const Unlimited = -1

// SubscriptionPlan bounds what an agency may create.
type SubscriptionPlan struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	MaxProperties int       `json:"max_properties"`
	MaxTenants    int       `json:"max_tenants"`
	MaxUsers      int       `json:"max_users"`
	Price         int64     `json:"price"`
	DurationDays  int       `json:"duration_days"`
	Features      []string  `json:"features"`
}

// CheckLimit reports whether one more item fits under max.
func CheckLimit(max, current int) bool {
	return max == Unlimited || current < max
}

// Property is a building or estate managed by an agency.
type Property struct {
	ID        uuid.UUID `json:"id"`
	AgencyID  uuid.UUID `json:"agency_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Unit is a rentable apartment within a property.
type Unit struct {
	ID         uuid.UUID `json:"id"`
	AgencyID   uuid.UUID `json:"agency_id"`
	PropertyID uuid.UUID `json:"property_id"`
	Name       string    `json:"name"`
	RentAmount int64     `json:"rent_amount"`
	CreatedAt  time.Time `json:"created_at"`
}

// Tenant is a person renting a unit.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	AgencyID  uuid.UUID `json:"agency_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Lease is a tenancy agreement with a rent schedule.
type Lease struct {
	ID                       uuid.UUID    `json:"id"`
	AgencyID                 uuid.UUID    `json:"agency_id"`
	TenantID                 uuid.UUID    `json:"tenant_id"`
	UnitID                   uuid.UUID    `json:"unit_id"`
	StartDate                types.Date   `json:"start_date"`
	EndDate                  *types.Date  `json:"end_date,omitempty"`
	RentAmount               int64        `json:"rent_amount"`
	DepositAmount            int64        `json:"deposit_amount"`
	AgencyFees               int64        `json:"agency_fees"`
	Currency                 string       `json:"currency"`
	PaymentFrequency         Frequency    `json:"payment_frequency"`
	DurationType             DurationType `json:"duration_type"`
	Status                   LeaseStatus  `json:"status"`
	PaymentType              string       `json:"payment_type"`
	InitialFeesPaid          bool         `json:"initial_fees_paid"`
	InitialPaymentsCompleted bool         `json:"initial_payments_completed"`
	DepositReturnDate        *types.Date  `json:"deposit_return_date,omitempty"`
	DepositReturnAmount      *int64       `json:"deposit_return_amount,omitempty"`
	DepositReturnNotes       string       `json:"deposit_return_notes,omitempty"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`
	CreatedBy                string       `json:"created_by"`
	UpdatedBy                string       `json:"updated_by"`
}

// PaymentPeriod is one billing interval of a lease.
type PaymentPeriod struct {
	ID        uuid.UUID    `json:"id"`
	AgencyID  uuid.UUID    `json:"agency_id"`
	LeaseID   uuid.UUID    `json:"lease_id"`
	Sequence  int          `json:"sequence"`
	StartDate types.Date   `json:"start_date"`
	EndDate   types.Date   `json:"end_date"`
	DueDate   types.Date   `json:"due_date"`
	Amount    int64        `json:"amount"`
	Status    PeriodStatus `json:"status"`
	PaymentID *uuid.UUID   `json:"payment_id,omitempty"`
}

// Payment is a settled or pending money movement.
type Payment struct {
	ID                uuid.UUID         `json:"id"`
	AgencyID          uuid.UUID         `json:"agency_id"`
	LeaseID           *uuid.UUID        `json:"lease_id,omitempty"`
	Amount            int64             `json:"amount"`
	PaymentDate       types.Date        `json:"payment_date"`
	DueDate           *types.Date       `json:"due_date,omitempty"`
	Status            PaymentStatus     `json:"status"`
	PaymentMethod     string            `json:"payment_method"`
	PaymentType       PaymentType       `json:"payment_type"`
	PaymentStatusType PaymentStatusType `json:"payment_status_type,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	Gateway           string            `json:"gateway,omitempty"`
	GatewayReference  string            `json:"gateway_reference,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	CreatedBy         string            `json:"created_by"`
}

// LateFee is a penalty attached to a late period.
type LateFee struct {
	ID         uuid.UUID     `json:"id"`
	AgencyID   uuid.UUID     `json:"agency_id"`
	LeaseID    uuid.UUID     `json:"lease_id"`
	PeriodID   uuid.UUID     `json:"period_id"`
	Amount     int64         `json:"amount"`
	DaysLate   int           `json:"days_late"`
	Status     LateFeeStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Notification is a write-once message for a tenant or agency dashboard.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	AgencyID  uuid.UUID        `json:"agency_id"`
	TenantID  *uuid.UUID       `json:"tenant_id,omitempty"`
	LeaseID   *uuid.UUID       `json:"lease_id,omitempty"`
	Type      NotificationType `json:"type"`
	Amount    int64            `json:"amount"`
	DueDate   *types.Date      `json:"due_date,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

// User is an authenticated account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile links a user to an agency.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	AgencyID  uuid.UUID `json:"agency_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
}

// SubscriptionPayment is the payment history of an agency's subscription.
type SubscriptionPayment struct {
	ID       uuid.UUID  `json:"id"`
	AgencyID uuid.UUID  `json:"agency_id"`
	PlanID   *uuid.UUID `json:"plan_id,omitempty"`
	Amount   int64      `json:"amount"`
	Gateway  string     `json:"gateway"`
	Token    string     `json:"token"`
	Status   string     `json:"status"`
	PaidAt   time.Time  `json:"paid_at"`
}

// Stale aggregate keys returned by writes so that views can refresh.
const (
	StaleLease         = "lease"
	StalePaymentStats  = "lease-payment-stats"
	StalePeriods       = "payment-periods"
	StalePropertyUnits = "property-units"
	StaleLateFees      = "late-fees"
	StaleNotifications = "notifications"
	StaleAgency        = "agency"
)
