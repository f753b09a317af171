package rent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
)

// CheckoutInput opens a gateway checkout for rent periods.
type CheckoutInput struct {
	LeaseID   uuid.UUID   `json:"lease_id"`
	PeriodIDs []uuid.UUID `json:"period_ids"`
	Gateway   string      `json:"gateway"`
}

// Checkout is a pending gateway payment waiting for its callback.
type Checkout struct {
	Payment *domain.Payment         `json:"payment"`
	Periods []*domain.PaymentPeriod `json:"periods"`
	Lease   *domain.Lease           `json:"lease"`
}

// OpenCheckout creates the pending rent payment a gateway callback will
// settle and links the periods it covers. The periods keep their status
// until the callback arrives.
func (s *Service) OpenCheckout(ctx context.Context, tc domain.TenantContext, in CheckoutInput, audit domain.Audit) (*Checkout, error) {
	if in.LeaseID == uuid.Nil {
		return nil, domain.Invalid("lease_id is required")
	}
	if in.Gateway == "" {
		return nil, domain.Invalid("gateway is required")
	}
	today := s.opts.Today()
	var out *Checkout
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		l, err := c.GetLease(ctx, tc.AgencyID, in.LeaseID)
		if err != nil {
			return err
		}
		if !l.InitialPaymentsCompleted {
			return domain.Rule(domain.CodeInitialIncomplete, "initial payments must be recorded before rent")
		}
		if l.Status != domain.LeaseActive {
			return domain.Rule(domain.CodeLeaseNotActive, "lease is %s", l.Status)
		}
		periods, err := payablePeriods(ctx, c, l, in.PeriodIDs)
		if err != nil {
			return err
		}
		var amount int64
		periodIDs := make([]uuid.UUID, 0, len(periods))
		for _, p := range periods {
			if p.PaymentID != nil {
				return domain.Rule(domain.CodePeriodNotPayable, "period %d already has an open checkout", p.Sequence)
			}
			amount += p.Amount
			periodIDs = append(periodIDs, p.ID)
		}

		leaseID := l.ID
		firstDue := periods[0].DueDate
		p := &domain.Payment{
			ID:                uuid.New(),
			AgencyID:          l.AgencyID,
			LeaseID:           &leaseID,
			Amount:            amount,
			PaymentDate:       today,
			DueDate:           &firstDue,
			Status:            domain.PaymentPending,
			PaymentMethod:     in.Gateway,
			PaymentType:       domain.PaymentTypeRent,
			PaymentStatusType: statusType(periods),
			Gateway:           in.Gateway,
		}
		if err := c.CreatePayment(ctx, p, audit); err != nil {
			return err
		}
		if err := c.LinkPeriodsToPayment(ctx, l.AgencyID, periodIDs, p.ID); err != nil {
			return fmt.Errorf("linking periods: %w", err)
		}
		for _, period := range periods {
			id := p.ID
			period.PaymentID = &id
		}
		out = &Checkout{Payment: p, Periods: periods, Lease: l}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GatewayResult reports what a gateway callback did to a rent payment.
type GatewayResult struct {
	Payment *domain.Payment
	Periods []*domain.PaymentPeriod
	// Unchanged is set when the payment had already left pending.
	Unchanged bool
	Events    []event.DomainEvent
}

// ApplyGatewayPayment settles a pending gateway rent payment on c, which the
// caller owns. On success the payment and its linked periods become paid and
// the tenant is notified; on failure the payment is cancelled and its periods
// released. The returned events must be emitted after commit.
func ApplyGatewayPayment(ctx context.Context, c *store.Conn, paymentID uuid.UUID, succeeded bool, gatewayStatus, reference string, amount int64) (*GatewayResult, error) {
	p, err := c.FindPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Invalid("unknown payment %s", paymentID)
	}
	if err != nil {
		return nil, err
	}
	if p.PaymentType != domain.PaymentTypeRent || p.LeaseID == nil {
		return nil, domain.Invalid("payment %s is not a rent payment", paymentID)
	}
	if p.Status != domain.PaymentPending {
		return &GatewayResult{Payment: p, Unchanged: true}, nil
	}

	if !succeeded {
		if err := c.TransitionPayment(ctx, p, domain.PaymentCancelled, reference); err != nil {
			return nil, err
		}
		if err := c.UnlinkPeriods(ctx, p.AgencyID, p.ID); err != nil {
			return nil, fmt.Errorf("releasing periods: %w", err)
		}
		return &GatewayResult{Payment: p, Events: []event.DomainEvent{event.NewPaymentFailed(p, gatewayStatus)}}, nil
	}

	if amount > 0 && amount < p.Amount {
		return nil, domain.Rule(domain.CodeAmountTooLow, "gateway amount %d is below the %d due", amount, p.Amount)
	}
	l, err := c.GetLease(ctx, p.AgencyID, *p.LeaseID)
	if err != nil {
		return nil, fmt.Errorf("loading lease: %w", err)
	}
	if err := c.TransitionPayment(ctx, p, domain.PaymentPaid, reference); err != nil {
		return nil, err
	}
	periods, err := c.PeriodsByPayment(ctx, p.AgencyID, p.ID)
	if err != nil {
		return nil, err
	}
	paid := periods[:0]
	for _, period := range periods {
		if !period.Status.Payable() {
			continue
		}
		if err := c.TransitionPeriod(ctx, period, domain.PeriodPaid, &p.ID); err != nil {
			return nil, fmt.Errorf("marking period %d paid: %w", period.Sequence, err)
		}
		paid = append(paid, period)
	}
	n, err := notify(ctx, c, notification(l, domain.NotifyPaymentReceived, p.Amount, p.DueDate), "")
	if err != nil {
		return nil, err
	}
	evts := append([]event.DomainEvent{event.NewPaymentRecorded(l, p, paid)}, notificationEvents(n)...)
	return &GatewayResult{Payment: p, Periods: paid, Events: evts}, nil
}

// AbandonCheckout cancels a pending gateway payment that never reached the
// provider and releases its periods.
func (s *Service) AbandonCheckout(ctx context.Context, tc domain.TenantContext, paymentID uuid.UUID, reason string) error {
	var res *GatewayResult
	err := s.store.WithTx(ctx, func(c *store.Conn) error {
		if _, err := c.GetPayment(ctx, tc.AgencyID, paymentID); err != nil {
			return err
		}
		var err error
		res, err = ApplyGatewayPayment(ctx, c, paymentID, false, reason, "", 0)
		return err
	})
	if err != nil {
		return err
	}
	s.emit(ctx, res.Events...)
	return nil
}
