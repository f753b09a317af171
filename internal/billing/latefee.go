package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentflow/internal/types"
)

// Late fee types.
const (
	FeeFlat    = "flat"
	FeePercent = "percent"
	FeePerDay  = "per_day"
	FeeTiered  = "tiered"
)

// DefaultLateFeePolicy charges 10% of the rent once a payment is more than
// five days late. It is uncapped.
func DefaultLateFeePolicy() types.LateFeePolicy {
	return types.LateFeePolicy{
		GracePeriodDays: 5,
		FeeType:         FeePercent,
		Percent:         10,
	}
}

// ValidatePolicy rejects policies that cannot produce a fee.
func ValidatePolicy(p types.LateFeePolicy) error {
	if p.GracePeriodDays < 0 {
		return fmt.Errorf("grace_period_days must not be negative")
	}
	if p.MaxFee < 0 {
		return fmt.Errorf("max_fee must not be negative")
	}
	switch p.FeeType {
	case FeeFlat:
		if p.FlatAmount <= 0 {
			return fmt.Errorf("flat late fee needs a positive flat_amount")
		}
	case FeePercent:
		if p.Percent <= 0 {
			return fmt.Errorf("percent late fee needs a positive percent")
		}
	case FeePerDay:
		if p.PerDayAmount <= 0 {
			return fmt.Errorf("per_day late fee needs a positive per_day_amount")
		}
	case FeeTiered:
		if len(p.Tiers) == 0 {
			return fmt.Errorf("tiered late fee needs at least one tier")
		}
	default:
		return fmt.Errorf("unknown late fee type %q", p.FeeType)
	}
	return nil
}

// DaysLate counts whole days from due to asOf; zero when not yet due.
func DaysLate(due, asOf types.Date) int {
	if !asOf.After(due) {
		return 0
	}
	return asOf.DaysSince(due)
}

// IsLate reports whether a period due on due is past its grace period.
func IsLate(due, asOf types.Date, p types.LateFeePolicy) bool {
	return DaysLate(due, asOf) > p.GracePeriodDays
}

// LateFee computes the penalty for a rent that is daysLate days overdue.
// Nothing is charged within the grace period.
func LateFee(daysLate int, rent int64, p types.LateFeePolicy) int64 {
	if daysLate <= p.GracePeriodDays {
		return 0
	}
	var fee int64
	switch p.FeeType {
	case FeeFlat:
		fee = p.FlatAmount
	case FeePercent:
		fee = decimal.NewFromInt(rent).
			Mul(decimal.NewFromFloat(p.Percent)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case FeePerDay:
		fee = int64(daysLate-p.GracePeriodDays) * p.PerDayAmount
	case FeeTiered:
		for _, t := range p.Tiers {
			if daysLate >= t.DaysLateMin && (t.DaysLateMax == 0 || daysLate <= t.DaysLateMax) {
				fee = t.Amount
			}
		}
	}
	if p.MaxFee > 0 && fee > p.MaxFee {
		fee = p.MaxFee
	}
	return fee
}

// AgencyFees computes the agency fee as a multiple of rent, rounded half up.
func AgencyFees(rent int64, months float64) int64 {
	return decimal.NewFromInt(rent).
		Mul(decimal.NewFromFloat(months)).
		Round(0).
		IntPart()
}
