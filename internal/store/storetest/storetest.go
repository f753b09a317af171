// Package storetest opens migrated in-memory databases and seeds the rows
// most tests need: an active agency with a unit, a tenant and a lease.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

var dbSeq atomic.Int64

// New returns a migrated store backed by a private in-memory SQLite database.
func New(t testing.TB) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:rentflow_test_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", dbSeq.Add(1))
	s, err := store.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// Fixture is the set of rows created by Seed.
type Fixture struct {
	Plan     *domain.SubscriptionPlan
	Agency   *domain.Agency
	Property *domain.Property
	Unit     *domain.Unit
	Tenant   *domain.Tenant
	Lease    *domain.Lease
	TC       domain.TenantContext
}

// LeaseOption adjusts the seeded lease before insert.
type LeaseOption func(*domain.Lease)

// Seed creates an active agency on an unlimited plan with one pending lease
// of 100000 XOF per month starting start.
func Seed(t testing.TB, s *store.Store, start types.Date, opts ...LeaseOption) *Fixture {
	t.Helper()
	ctx := context.Background()
	f := &Fixture{}
	err := s.WithTx(ctx, func(c *store.Conn) error {
		f.Plan = &domain.SubscriptionPlan{
			Name: "Unlimited", MaxProperties: domain.Unlimited, MaxTenants: domain.Unlimited,
			MaxUsers: domain.Unlimited, Price: 25000, DurationDays: 30,
		}
		if err := c.CreatePlan(ctx, f.Plan); err != nil {
			return err
		}
		expires := start.AddDays(365)
		f.Agency = &domain.Agency{
			Name: "Agence Dakar", Status: domain.AgencyActive,
			SubscriptionPlanID: &f.Plan.ID, SubscriptionExpiresAt: &expires,
		}
		if err := c.CreateAgency(ctx, f.Agency); err != nil {
			return err
		}
		f.Property = &domain.Property{AgencyID: f.Agency.ID, Name: "Résidence Almadies", Address: "Almadies, Dakar"}
		if err := c.CreateProperty(ctx, f.Property); err != nil {
			return err
		}
		f.Unit = &domain.Unit{AgencyID: f.Agency.ID, PropertyID: f.Property.ID, Name: "A1", RentAmount: 100000}
		if err := c.CreateUnit(ctx, f.Unit); err != nil {
			return err
		}
		f.Tenant = &domain.Tenant{AgencyID: f.Agency.ID, FirstName: "Awa", LastName: "Diop", Phone: "+221770000000"}
		if err := c.CreateTenant(ctx, f.Tenant); err != nil {
			return err
		}
		f.Lease = &domain.Lease{
			AgencyID: f.Agency.ID, TenantID: f.Tenant.ID, UnitID: f.Unit.ID,
			StartDate: start, RentAmount: 100000, DepositAmount: 200000, AgencyFees: 50000,
			PaymentFrequency: domain.FrequencyMonthly, DurationType: domain.DurationIndefinite,
			PaymentType: "cash",
		}
		for _, o := range opts {
			o(f.Lease)
		}
		return c.CreateLease(ctx, f.Lease, domain.Audit{Actor: "test", Source: "user"})
	})
	require.NoError(t, err)
	f.TC = domain.TenantContext{AgencyID: f.Agency.ID, UserID: uuid.New(), Role: domain.RoleAdmin}
	return f
}
