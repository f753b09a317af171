package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/gateway"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func applyRentPayment(ctx context.Context, c *store.Conn, n *gateway.Notification) (outcome, error) {
	if n.PaymentID == nil {
		return outcome{}, domain.Invalid("payment_id is required")
	}
	res, err := rent.ApplyGatewayPayment(ctx, c, *n.PaymentID, n.Succeeded(), n.Status, n.Reference, n.Amount)
	if err != nil {
		return outcome{}, err
	}
	if n.LeaseID != nil && (res.Payment.LeaseID == nil || *res.Payment.LeaseID != *n.LeaseID) {
		return outcome{}, domain.Rule(domain.CodePeriodMismatch, "payment does not belong to lease %s", n.LeaseID)
	}
	switch {
	case res.Unchanged:
		return outcome{message: "payment already " + string(res.Payment.Status)}, nil
	case n.Succeeded():
		return outcome{message: "payment processed", events: res.Events}, nil
	default:
		return outcome{message: "payment cancelled", events: res.Events}, nil
	}
}

// applySubscription reactivates an agency and extends its subscription by
// one plan period, counted from the current expiry when still in the future.
func (p *Pipeline) applySubscription(ctx context.Context, c *store.Conn, n *gateway.Notification) (outcome, error) {
	if !n.Succeeded() {
		return outcome{message: "payment not completed"}, nil
	}
	if n.AgencyID == nil {
		return outcome{}, domain.Invalid("agency_id is required")
	}
	a, err := c.GetAgency(ctx, *n.AgencyID)
	if err != nil {
		return outcome{}, notFoundAsInvalid(err, "unknown agency %s", n.AgencyID)
	}

	planID := n.PlanID
	if planID == nil {
		planID = a.SubscriptionPlanID
	}
	days := p.opts.DefaultPlanDays
	if planID != nil {
		plan, err := c.GetPlan(ctx, *planID)
		if err != nil {
			return outcome{}, notFoundAsInvalid(err, "unknown plan %s", planID)
		}
		if n.Amount > 0 && n.Amount < plan.Price {
			return outcome{}, domain.Rule(domain.CodeAmountTooLow, "amount %d is below the plan price %d", n.Amount, plan.Price)
		}
		if plan.DurationDays > 0 {
			days = plan.DurationDays
		}
	}

	today := p.opts.Today()
	base := today
	if a.SubscriptionExpiresAt != nil && a.SubscriptionExpiresAt.After(today) {
		base = *a.SubscriptionExpiresAt
	}
	expires := base.AddDays(days)
	if err := c.SetAgencySubscription(ctx, a.ID, planID, expires); err != nil {
		return outcome{}, fmt.Errorf("extending subscription: %w", err)
	}
	if a.Status != domain.AgencyActive {
		if err := domain.ValidateTransition(domain.ValidAgencyTransitions, a.Status, domain.AgencyActive); err != nil {
			return outcome{}, err
		}
		if err := c.UpdateAgencyStatus(ctx, a.ID, a.Status, domain.AgencyActive); err != nil {
			return outcome{}, fmt.Errorf("activating agency: %w", err)
		}
		a.Status = domain.AgencyActive
	}
	a.SubscriptionPlanID = planID
	a.SubscriptionExpiresAt = &expires

	err = c.CreateSubscriptionPayment(ctx, &domain.SubscriptionPayment{
		AgencyID: a.ID,
		PlanID:   planID,
		Amount:   n.Amount,
		Gateway:  n.Gateway,
		Token:    n.Token,
		Status:   n.Status,
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		message: "subscription renewed",
		events:  []event.DomainEvent{event.NewSubscriptionRenewed(a, n.Amount, n.Gateway)},
	}, nil
}

// applySignup creates the owner account, the agency, its first profile and
// the administrator link. Any failure leaves none of them behind.
func (p *Pipeline) applySignup(ctx context.Context, c *store.Conn, n *gateway.Notification) (outcome, error) {
	if !n.Succeeded() {
		return outcome{message: "signup payment not accepted"}, nil
	}
	su := n.Signup
	if su == nil {
		return outcome{}, domain.Invalid("signup details are required")
	}
	_, err := c.UserByEmail(ctx, su.Email)
	if err == nil {
		return outcome{}, domain.Invalid("an account already exists for %s", su.Email)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return outcome{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), p.opts.BcryptCost)
	if err != nil {
		return outcome{}, fmt.Errorf("hashing password: %w", err)
	}
	user := &domain.User{Email: su.Email, PasswordHash: string(hash)}
	if err := c.CreateUser(ctx, user); err != nil {
		return outcome{}, err
	}

	expires := p.opts.Today().AddDays(p.opts.SignupDays)
	agency := &domain.Agency{
		Name:                  su.AgencyName,
		Phone:                 strings.TrimSpace(su.Phone),
		Address:               strings.TrimSpace(su.Address),
		Status:                domain.AgencyActive,
		SubscriptionExpiresAt: &expires,
	}
	if err := c.CreateAgency(ctx, agency); err != nil {
		return outcome{}, err
	}
	profile := &domain.Profile{
		ID:        user.ID,
		AgencyID:  agency.ID,
		FirstName: strings.TrimSpace(su.FirstName),
		LastName:  strings.TrimSpace(su.LastName),
		Phone:     agency.Phone,
		Role:      domain.RoleAdmin,
	}
	if err := c.CreateProfile(ctx, profile); err != nil {
		return outcome{}, err
	}
	if err := c.CreateAdministrator(ctx, agency.ID, user.ID); err != nil {
		return outcome{}, err
	}
	if _, err := c.RecomputeAgencyCounts(ctx, agency.ID); err != nil {
		return outcome{}, err
	}
	return outcome{
		message: "agency created",
		events:  []event.DomainEvent{event.NewAgencySignedUp(agency, n.Gateway)},
	}, nil
}
