package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/types"
)

func date(y int, m time.Month, d int) types.Date { return types.MakeDate(y, m, d) }

func TestPeriods_MonthlyContiguous(t *testing.T) {
	for _, n := range []int{1, 2, 3, 12, 25} {
		periods, err := Periods(100000, domain.FrequencyMonthly, date(2024, 1, 15), n)
		require.NoError(t, err)
		require.Len(t, periods, n)
		for i, p := range periods {
			assert.Equal(t, i+1, p.Sequence)
			assert.Equal(t, int64(100000), p.Amount)
			assert.False(t, p.End.Before(p.Start), "period %d ends before it starts", i)
			if i > 0 {
				assert.True(t, p.Start.Equal(periods[i-1].End.AddDays(1)),
					"period %d starts %s, previous ended %s", i, p.Start, periods[i-1].End)
			}
		}
	}
}

func TestPeriods_MonthEndClamp(t *testing.T) {
	periods, err := Periods(500, domain.FrequencyMonthly, date(2024, 1, 31), 4)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-31", periods[0].Start.String())
	assert.Equal(t, "2024-02-28", periods[0].End.String())
	assert.Equal(t, "2024-02-29", periods[1].Start.String())
	assert.Equal(t, "2024-03-30", periods[1].End.String())
	// Offsets come from the lease start, so March is back on the 31st.
	assert.Equal(t, "2024-03-31", periods[2].Start.String())
	assert.Equal(t, "2024-04-30", periods[3].Start.String())
}

func TestPeriods_Frequencies(t *testing.T) {
	start := date(2024, 3, 1)
	cases := []struct {
		freq       domain.Frequency
		secondFrom string
		firstEnd   string
	}{
		{domain.FrequencyDaily, "2024-03-02", "2024-03-01"},
		{domain.FrequencyWeekly, "2024-03-08", "2024-03-07"},
		{domain.FrequencyMonthly, "2024-04-01", "2024-03-31"},
		{domain.FrequencyQuarterly, "2024-06-01", "2024-05-31"},
		{domain.FrequencyYearly, "2025-03-01", "2025-02-28"},
	}
	for _, c := range cases {
		t.Run(string(c.freq), func(t *testing.T) {
			periods, err := Periods(1000, c.freq, start, 2)
			require.NoError(t, err)
			assert.Equal(t, c.firstEnd, periods[0].End.String())
			assert.Equal(t, c.secondFrom, periods[1].Start.String())
			assert.Equal(t, periods[0].Start, periods[0].Due)
		})
	}
}

func TestPeriods_YearlyLeapDay(t *testing.T) {
	periods, err := Periods(1, domain.FrequencyYearly, date(2024, 2, 29), 2)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-28", periods[1].Start.String())
}

func TestPeriods_InvalidInput(t *testing.T) {
	_, err := Periods(100, domain.Frequency("hourly"), date(2024, 1, 1), 3)
	assert.Error(t, err)
	_, err = Periods(100, domain.FrequencyMonthly, date(2024, 1, 1), 0)
	assert.Error(t, err)
	_, err = Periods(-1, domain.FrequencyMonthly, date(2024, 1, 1), 1)
	assert.Error(t, err)
	_, err = Periods(100, domain.FrequencyMonthly, types.Date{}, 1)
	assert.Error(t, err)
	_, err = Periods(100, domain.FrequencyDaily, date(2024, 1, 1), MaxPeriods+1)
	assert.Error(t, err)
}

func TestPeriodsUntil_ClipsLastPeriod(t *testing.T) {
	periods, err := PeriodsUntil(100000, domain.FrequencyMonthly, date(2024, 1, 1), date(2024, 3, 15))
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, "2024-03-01", periods[2].Start.String())
	assert.Equal(t, "2024-03-15", periods[2].End.String())

	_, err = PeriodsUntil(100000, domain.FrequencyMonthly, date(2024, 3, 1), date(2024, 1, 1))
	assert.Error(t, err)
}

func TestPeriod_InitialStatus(t *testing.T) {
	periods, err := Periods(100, domain.FrequencyMonthly, date(2024, 1, 1), 3)
	require.NoError(t, err)
	asOf := date(2024, 2, 10)
	assert.Equal(t, domain.PeriodPending, periods[0].InitialStatus(asOf))
	assert.Equal(t, domain.PeriodPending, periods[1].InitialStatus(asOf))
	assert.Equal(t, domain.PeriodFuture, periods[2].InitialStatus(asOf))
}
