// Package seed provides demo data for local development: subscription
// plans and one agency with an admin account, properties, tenants and
// leases at different stages.
package seed

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// Demo credentials. Never use them outside a development database.
const (
	DemoEmail    = "demo@rentflow.local"
	DemoPassword = "demo-password"
)

// Demo is what SeedDemo created.
type Demo struct {
	Agency *domain.Agency
	Admin  *domain.User
	TC     domain.TenantContext
	Leases []*domain.Lease
}

type demoUnit struct {
	property string
	name     string
	rent     int64
}

type demoTenant struct {
	first, last, phone string
}

var (
	demoProperties = []*domain.Property{
		{Name: "Résidence Almadies", Address: "Route des Almadies, Dakar"},
		{Name: "Immeuble Plateau", Address: "Avenue Pompidou, Dakar"},
	}
	demoUnits = []demoUnit{
		{"Résidence Almadies", "A1", 150000},
		{"Résidence Almadies", "A2", 150000},
		{"Immeuble Plateau", "3B", 90000},
	}
	demoTenants = []demoTenant{
		{"Awa", "Diop", "+221770000001"},
		{"Moussa", "Ndiaye", "+221770000002"},
		{"Fatou", "Sall", "+221770000003"},
	}
)

// SeedDemo creates the demo plans and agency. If any agency already exists
// it skips seeding and returns nil. Rows below the agency go through svc so
// that their events are recorded.
func SeedDemo(ctx context.Context, s *store.Store, svc *rent.Service, today types.Date) (*Demo, error) {
	agencies, err := s.Conn().ListAgencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking agencies: %w", err)
	}
	if len(agencies) > 0 {
		log.Printf("seed: %d agencies found, skipping", len(agencies))
		return nil, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing demo password: %w", err)
	}

	d := &Demo{}
	err = s.WithTx(ctx, func(c *store.Conn) error {
		starter := &domain.SubscriptionPlan{
			Name: "Starter", MaxProperties: 2, MaxTenants: 10, MaxUsers: 2,
			Price: 15000, DurationDays: 30, Features: []string{"rent_tracking"},
		}
		pro := &domain.SubscriptionPlan{
			Name: "Pro", MaxProperties: domain.Unlimited, MaxTenants: domain.Unlimited, MaxUsers: domain.Unlimited,
			Price: 25000, DurationDays: 30, Features: []string{"rent_tracking", "late_fees", "online_payments"},
		}
		for _, p := range []*domain.SubscriptionPlan{starter, pro} {
			if err := c.CreatePlan(ctx, p); err != nil {
				return fmt.Errorf("creating plan %s: %w", p.Name, err)
			}
		}

		expires := today.AddDays(pro.DurationDays)
		d.Agency = &domain.Agency{
			Name: "Agence Teranga", Phone: "+221338000000", Address: "Dakar",
			Status: domain.AgencyActive, SubscriptionPlanID: &pro.ID, SubscriptionExpiresAt: &expires,
		}
		if err := c.CreateAgency(ctx, d.Agency); err != nil {
			return fmt.Errorf("creating agency: %w", err)
		}
		d.Admin = &domain.User{Email: DemoEmail, PasswordHash: string(hash)}
		if err := c.CreateUser(ctx, d.Admin); err != nil {
			return fmt.Errorf("creating admin: %w", err)
		}
		if err := c.CreateProfile(ctx, &domain.Profile{
			ID: d.Admin.ID, AgencyID: d.Agency.ID, FirstName: "Demo", LastName: "Admin", Role: domain.RoleAdmin,
		}); err != nil {
			return fmt.Errorf("creating admin profile: %w", err)
		}
		return c.CreateAdministrator(ctx, d.Agency.ID, d.Admin.ID)
	})
	if err != nil {
		return nil, err
	}
	d.TC = domain.TenantContext{AgencyID: d.Agency.ID, UserID: d.Admin.ID, Role: domain.RoleAdmin}

	props := make(map[string]*domain.Property, len(demoProperties))
	for _, tmpl := range demoProperties {
		p := *tmpl
		if err := svc.CreateProperty(ctx, d.TC, &p); err != nil {
			return nil, fmt.Errorf("creating property %s: %w", p.Name, err)
		}
		props[p.Name] = &p
	}
	units := make([]*domain.Unit, 0, len(demoUnits))
	for _, du := range demoUnits {
		u := &domain.Unit{PropertyID: props[du.property].ID, Name: du.name, RentAmount: du.rent}
		if err := svc.CreateUnit(ctx, d.TC, u); err != nil {
			return nil, fmt.Errorf("creating unit %s: %w", du.name, err)
		}
		units = append(units, u)
	}

	// Two months in: the first lease is active with its periods, the second
	// still waits for its deposit, the third is a one year fixed lease.
	twoBack := today.AddDate(0, -2, 0)
	start := types.MakeDate(twoBack.Year(), twoBack.Month(), 1)
	end := types.NewDate(start.AddDate(1, 0, -1))
	audit := domain.Audit{Actor: "seed", Source: "system"}
	for i, dt := range demoTenants {
		t := &domain.Tenant{FirstName: dt.first, LastName: dt.last, Phone: dt.phone}
		if err := svc.CreateTenant(ctx, d.TC, t); err != nil {
			return nil, fmt.Errorf("creating tenant %s: %w", dt.last, err)
		}
		in := rent.LeaseInput{
			TenantID:         t.ID,
			UnitID:           units[i].ID,
			StartDate:        start,
			DepositAmount:    2 * units[i].RentAmount,
			AgencyFees:       units[i].RentAmount / 2,
			PaymentFrequency: domain.FrequencyMonthly,
			DurationType:     domain.DurationIndefinite,
			PaymentType:      "cash",
		}
		if i == 2 {
			in.DurationType = domain.DurationFixed
			in.EndDate = &end
		}
		l, err := svc.CreateLease(ctx, d.TC, in, audit)
		if err != nil {
			return nil, fmt.Errorf("creating lease for %s: %w", dt.last, err)
		}
		d.Leases = append(d.Leases, l)
	}

	for _, l := range []*domain.Lease{d.Leases[0], d.Leases[2]} {
		count := 12
		if l.DurationType == domain.DurationFixed {
			count = 0
		}
		if _, err := svc.RecordInitialPayments(ctx, d.TC, rent.InitialPaymentsInput{
			LeaseID: l.ID, Mode: rent.ModeSimple, Method: "cash", Date: start,
		}, audit); err != nil {
			return nil, fmt.Errorf("recording initial payments: %w", err)
		}
		if _, err := svc.GeneratePeriods(ctx, d.TC, l.ID, count); err != nil {
			return nil, fmt.Errorf("generating periods: %w", err)
		}
	}

	log.Printf("seed: agency %s created with %d leases (admin %s)", d.Agency.Name, len(d.Leases), DemoEmail)
	return d, nil
}
