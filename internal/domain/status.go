// Package domain holds the rent core's entities, their state machines and
// the business-rule error type shared by services and handlers.
package domain

// LeaseStatus is the lifecycle state of a lease.
type LeaseStatus string

const (
	LeasePending LeaseStatus = "pending"
	LeaseActive  LeaseStatus = "active"
	LeaseExpired LeaseStatus = "expired"
)

// PeriodStatus is the billing state of a payment period.
type PeriodStatus string

const (
	PeriodFuture    PeriodStatus = "future"
	PeriodPending   PeriodStatus = "pending"
	PeriodPaid      PeriodStatus = "paid"
	PeriodLate      PeriodStatus = "late"
	PeriodCancelled PeriodStatus = "cancelled"
)

// Payable reports whether a period can still receive a payment.
func (s PeriodStatus) Payable() bool {
	return s == PeriodFuture || s == PeriodPending || s == PeriodLate
}

// PaymentStatus is the settlement state of a payment row.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentLate      PaymentStatus = "late"
	PaymentCancelled PaymentStatus = "cancelled"
)

// LateFeeStatus is the state of a late fee.
type LateFeeStatus string

const (
	LateFeePending   LateFeeStatus = "pending"
	LateFeePaid      LateFeeStatus = "paid"
	LateFeeCancelled LateFeeStatus = "cancelled"
)

// AgencyStatus gates every operation of an agency's users.
type AgencyStatus string

const (
	AgencyPending AgencyStatus = "pending"
	AgencyActive  AgencyStatus = "active"
	AgencyBlocked AgencyStatus = "blocked"
)

// Frequency is how often rent falls due.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// DurationType says whether a lease has a fixed end date.
type DurationType string

const (
	DurationFixed      DurationType = "fixed"
	DurationIndefinite DurationType = "indefinite"
)

// Valid reports whether d is a known duration type.
func (d DurationType) Valid() bool {
	return d == DurationFixed || d == DurationIndefinite
}

// PaymentType classifies what a payment settles.
type PaymentType string

const (
	PaymentTypeDeposit      PaymentType = "deposit"
	PaymentTypeAgencyFees   PaymentType = "agency_fees"
	PaymentTypeRent         PaymentType = "rent"
	PaymentTypeLateFee      PaymentType = "late_fee"
	PaymentTypeSubscription PaymentType = "subscription"
)

// PaymentStatusType records when a payment arrived relative to its periods.
type PaymentStatusType string

const (
	PaymentOnTime  PaymentStatusType = "on_time"
	PaymentLateArr PaymentStatusType = "late"
	PaymentAdvance PaymentStatusType = "advance"
	PaymentInitial PaymentStatusType = "initial"
)

// NotificationType is the kind of a payment notification.
type NotificationType string

const (
	NotifyUpcoming             NotificationType = "upcoming"
	NotifyLate                 NotificationType = "late"
	NotifyDepositReturn        NotificationType = "deposit_return"
	NotifyPaymentReceived      NotificationType = "payment_received"
	NotifySubscriptionExpiring NotificationType = "subscription_expiring"
)

// Role is an agency user's role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
)
