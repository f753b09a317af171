// Package billing holds the pure rent computations: payment period
// generation and late fee amounts. Nothing here touches storage.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/types"
)

// MaxPeriods bounds a single generation request.
const MaxPeriods = 5000

// Period is one computed billing interval. Start and End are inclusive.
type Period struct {
	Sequence int        `json:"sequence"`
	Start    types.Date `json:"start_date"`
	End      types.Date `json:"end_date"`
	Due      types.Date `json:"due_date"`
	Amount   int64      `json:"amount"`
}

// InitialStatus is the status a freshly generated period gets as of asOf.
func (p Period) InitialStatus(asOf types.Date) domain.PeriodStatus {
	if p.Start.After(asOf) {
		return domain.PeriodFuture
	}
	return domain.PeriodPending
}

// Advance returns the start of the n-th period after start. Offsets are
// always measured from the lease start so month-end clamping never drifts:
// Jan 31 advances to Feb 28 (or 29) and then to Mar 31.
func Advance(start types.Date, freq domain.Frequency, n int) (types.Date, error) {
	switch freq {
	case domain.FrequencyDaily:
		return start.AddDays(n), nil
	case domain.FrequencyWeekly:
		return start.AddDays(7 * n), nil
	case domain.FrequencyMonthly:
		return addMonthsClamped(start, n), nil
	case domain.FrequencyQuarterly:
		return addMonthsClamped(start, 3*n), nil
	case domain.FrequencyYearly:
		return addMonthsClamped(start, 12*n), nil
	}
	return types.Date{}, fmt.Errorf("unknown payment frequency %q", freq)
}

func addMonthsClamped(d types.Date, months int) types.Date {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return types.MakeDate(first.Year(), first.Month(), day)
}

// Periods produces count consecutive periods starting at start. Each period
// ends the day before the next one starts, so periods never overlap and
// never leave gaps.
func Periods(rent int64, freq domain.Frequency, start types.Date, count int) ([]Period, error) {
	if err := validate(rent, freq, start); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, errors.New("period count must be positive")
	}
	if count > MaxPeriods {
		return nil, fmt.Errorf("period count %d exceeds maximum %d", count, MaxPeriods)
	}
	periods := make([]Period, 0, count)
	cur := start
	for i := 0; i < count; i++ {
		next, err := Advance(start, freq, i+1)
		if err != nil {
			return nil, err
		}
		periods = append(periods, Period{
			Sequence: i + 1,
			Start:    cur,
			End:      next.AddDays(-1),
			Due:      cur,
			Amount:   rent,
		})
		cur = next
	}
	return periods, nil
}

// PeriodsUntil produces the periods covering start..end inclusive, as used by
// fixed-term leases. The last period is clipped at end.
func PeriodsUntil(rent int64, freq domain.Frequency, start, end types.Date) ([]Period, error) {
	if err := validate(rent, freq, start); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, errors.New("end date is before start date")
	}
	var periods []Period
	cur := start
	for i := 0; !cur.After(end); i++ {
		if i >= MaxPeriods {
			return nil, fmt.Errorf("lease term exceeds %d periods", MaxPeriods)
		}
		next, err := Advance(start, freq, i+1)
		if err != nil {
			return nil, err
		}
		last := next.AddDays(-1)
		if last.After(end) {
			last = end
		}
		periods = append(periods, Period{
			Sequence: i + 1,
			Start:    cur,
			End:      last,
			Due:      cur,
			Amount:   rent,
		})
		cur = next
	}
	return periods, nil
}

func validate(rent int64, freq domain.Frequency, start types.Date) error {
	if rent < 0 {
		return errors.New("rent amount must not be negative")
	}
	if !freq.Valid() {
		return fmt.Errorf("unknown payment frequency %q", freq)
	}
	if start.IsZero() {
		return errors.New("start date is required")
	}
	return nil
}
