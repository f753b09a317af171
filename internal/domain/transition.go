package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is wrapped by every rejected state change.
var ErrInvalidTransition = errors.New("invalid transition")

// ValidLeaseTransitions is the lease state machine.
var ValidLeaseTransitions = map[LeaseStatus][]LeaseStatus{
	LeasePending: {LeaseActive},
	LeaseActive:  {LeaseExpired},
	LeaseExpired: {},
}

// ValidPeriodTransitions is the payment period state machine. A future
// period may be paid directly (advance payment) or cancelled when the lease
// ends early.
var ValidPeriodTransitions = map[PeriodStatus][]PeriodStatus{
	PeriodFuture:    {PeriodPending, PeriodPaid, PeriodCancelled},
	PeriodPending:   {PeriodPaid, PeriodLate, PeriodCancelled},
	PeriodLate:      {PeriodPaid, PeriodCancelled},
	PeriodPaid:      {},
	PeriodCancelled: {},
}

// ValidPaymentTransitions is the payment row state machine.
var ValidPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentPaid, PaymentLate, PaymentCancelled},
	PaymentPaid:      {},
	PaymentLate:      {},
	PaymentCancelled: {},
}

// ValidLateFeeTransitions is the late fee state machine.
var ValidLateFeeTransitions = map[LateFeeStatus][]LateFeeStatus{
	LateFeePending:   {LateFeePaid, LateFeeCancelled},
	LateFeePaid:      {},
	LateFeeCancelled: {},
}

// ValidAgencyTransitions is the agency state machine.
var ValidAgencyTransitions = map[AgencyStatus][]AgencyStatus{
	AgencyPending: {AgencyActive, AgencyBlocked},
	AgencyActive:  {AgencyBlocked},
	AgencyBlocked: {AgencyActive},
}

// ValidateTransition checks whether moving from current to target is allowed
// by the given transition table. The returned error wraps
// ErrInvalidTransition.
func ValidateTransition[S ~string](transitions map[S][]S, current, target S) error {
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("%w: unknown current state %q", ErrInvalidTransition, current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %q to %q is not allowed", ErrInvalidTransition, current, target)
}
