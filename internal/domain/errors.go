package domain

import (
	"errors"
	"fmt"
)

// Rule error codes surfaced to API clients.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeInitialIncomplete  = "INITIAL_PAYMENTS_INCOMPLETE"
	CodeInitialDone        = "INITIAL_PAYMENTS_COMPLETED"
	CodePeriodNotPayable   = "PERIOD_NOT_PAYABLE"
	CodePeriodMismatch     = "PERIOD_LEASE_MISMATCH"
	CodeAmountTooLow       = "AMOUNT_TOO_LOW"
	CodeNothingDue         = "NOTHING_DUE"
	CodeDepositExceeded    = "DEPOSIT_EXCEEDED"
	CodeDepositReturned    = "DEPOSIT_ALREADY_RETURNED"
	CodeLimitReached       = "LIMIT_REACHED"
	CodeAgencyBlocked      = "AGENCY_BLOCKED"
	CodePeriodsExist       = "PERIODS_EXIST"
	CodeLeaseNotActive     = "LEASE_NOT_ACTIVE"
	CodeLeaseNotTerminated = "LEASE_NOT_TERMINATED"
)

// RuleError is a business-rule violation. It carries a stable code so that
// clients can react programmatically instead of parsing messages.
type RuleError struct {
	Code    string
	Message string
}

func (e *RuleError) Error() string { return e.Message }

// Rule builds a RuleError.
func Rule(code, format string, args ...any) *RuleError {
	return &RuleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Invalid builds a validation RuleError.
func Invalid(format string, args ...any) *RuleError {
	return Rule(CodeValidation, format, args...)
}

// AsRule extracts a RuleError from err. Invalid transitions are reported as
// rule errors too.
func AsRule(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	if errors.Is(err, ErrInvalidTransition) {
		return &RuleError{Code: CodeInvalidTransition, Message: err.Error()}, true
	}
	return nil, false
}
