package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition_Lease(t *testing.T) {
	require.NoError(t, ValidateTransition(ValidLeaseTransitions, LeasePending, LeaseActive))
	require.NoError(t, ValidateTransition(ValidLeaseTransitions, LeaseActive, LeaseExpired))

	err := ValidateTransition(ValidLeaseTransitions, LeaseExpired, LeaseActive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = ValidateTransition(ValidLeaseTransitions, LeasePending, LeaseExpired)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestValidateTransition_Period(t *testing.T) {
	cases := []struct {
		from, to PeriodStatus
		ok       bool
	}{
		{PeriodFuture, PeriodPending, true},
		{PeriodFuture, PeriodPaid, true},
		{PeriodPending, PeriodLate, true},
		{PeriodLate, PeriodPaid, true},
		{PeriodPaid, PeriodPending, false},
		{PeriodPaid, PeriodLate, false},
		{PeriodCancelled, PeriodPaid, false},
		{PeriodFuture, PeriodLate, false},
	}
	for _, c := range cases {
		err := ValidateTransition(ValidPeriodTransitions, c.from, c.to)
		if c.ok {
			assert.NoError(t, err, "%s -> %s", c.from, c.to)
		} else {
			assert.Error(t, err, "%s -> %s", c.from, c.to)
		}
	}
}

func TestValidateTransition_UnknownState(t *testing.T) {
	err := ValidateTransition(ValidLateFeeTransitions, LateFeeStatus("bogus"), LateFeePaid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown current state")
}

func TestAsRule(t *testing.T) {
	re, ok := AsRule(Rule(CodeDepositExceeded, "too much: %d", 5))
	require.True(t, ok)
	assert.Equal(t, CodeDepositExceeded, re.Code)
	assert.Equal(t, "too much: 5", re.Message)

	re, ok = AsRule(ValidateTransition(ValidPaymentTransitions, PaymentPaid, PaymentPending))
	require.True(t, ok)
	assert.Equal(t, CodeInvalidTransition, re.Code)

	_, ok = AsRule(errors.New("disk on fire"))
	assert.False(t, ok)
}

func TestCheckLimit(t *testing.T) {
	assert.True(t, CheckLimit(Unlimited, 1_000_000))
	assert.True(t, CheckLimit(3, 2))
	assert.False(t, CheckLimit(3, 3))
	assert.False(t, CheckLimit(0, 0))
}

func TestPeriodStatus_Payable(t *testing.T) {
	assert.True(t, PeriodFuture.Payable())
	assert.True(t, PeriodPending.Payable())
	assert.True(t, PeriodLate.Payable())
	assert.False(t, PeriodPaid.Payable())
	assert.False(t, PeriodCancelled.Payable())
}
