package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/seed"
	"github.com/matthewbaird/rentflow/internal/store/storetest"
	"github.com/matthewbaird/rentflow/internal/types"
)

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	today := types.MakeDate(2024, time.May, 15)
	svc := rent.New(s, nil, rent.Options{Today: func() types.Date { return today }})

	d, err := seed.SeedDemo(ctx, s, svc, today)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Len(t, d.Leases, 3)
	assert.Equal(t, "2024-03-01", d.Leases[0].StartDate.String())

	active, err := svc.GetLease(ctx, d.TC, d.Leases[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseActive, active.Status)
	pending, err := svc.GetLease(ctx, d.TC, d.Leases[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeasePending, pending.Status)

	periods, err := svc.ListPeriods(ctx, d.TC, d.Leases[2].ID)
	require.NoError(t, err)
	assert.Len(t, periods, 12)

	user, err := s.Conn().UserByEmail(ctx, seed.DemoEmail)
	require.NoError(t, err)
	assert.Equal(t, d.Admin.ID, user.ID)

	again, err := seed.SeedDemo(ctx, s, svc, today)
	require.NoError(t, err)
	assert.Nil(t, again)
}
