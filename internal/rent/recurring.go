package rent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// PaymentInput pays one or more periods of a lease.
type PaymentInput struct {
	LeaseID uuid.UUID `json:"lease_id"`
	// PeriodIDs lists the periods settled by the payment. When empty, the
	// earliest unpaid period is paid.
	PeriodIDs []uuid.UUID `json:"period_ids"`
	Amount    int64       `json:"amount"`
	Method    string      `json:"payment_method"`
	Date      types.Date  `json:"payment_date"`
	// IdempotencyKey is a client-chosen key, unique per agency. Repeating it
	// returns the original payment.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (in PaymentInput) validate() error {
	if in.LeaseID == uuid.Nil {
		return domain.Invalid("lease_id is required")
	}
	if in.Amount <= 0 {
		return domain.Invalid("amount must be positive")
	}
	if in.Method == "" {
		return domain.Invalid("payment_method is required")
	}
	return nil
}

// PaymentResult is the outcome of a rent payment.
type PaymentResult struct {
	Payment *domain.Payment         `json:"payment"`
	Periods []*domain.PaymentPeriod `json:"periods"`
	// LateFeePayment and LateFees are set when a late payment also settled
	// the pending late fees of its periods.
	LateFeePayment *domain.Payment   `json:"late_fee_payment,omitempty"`
	LateFees       []*domain.LateFee `json:"late_fees,omitempty"`
	// Replayed is set when the idempotency key matched an earlier payment
	// and nothing was written.
	Replayed bool `json:"replayed"`
	// Stale lists the aggregates whose cached views must refresh.
	Stale []string `json:"stale"`

	// marked holds the events of periods found overdue while paying.
	marked []event.DomainEvent
}

var paymentStale = []string{
	domain.StaleLease, domain.StalePaymentStats, domain.StalePeriods,
	domain.StalePropertyUnits, domain.StaleNotifications,
}

// RecordPayment creates one rent payment and marks the referenced periods
// paid, all in one transaction.
func (s *Service) RecordPayment(ctx context.Context, tc domain.TenantContext, in PaymentInput, audit domain.Audit) (*PaymentResult, error) {
	return s.pay(ctx, tc, in, false, audit)
}

// HandleLatePayment pays late periods together with their pending late
// fees. The amount must cover both; the fees are recorded as a separate
// late_fee payment and marked paid.
func (s *Service) HandleLatePayment(ctx context.Context, tc domain.TenantContext, in PaymentInput, audit domain.Audit) (*PaymentResult, error) {
	if len(in.PeriodIDs) == 0 {
		return nil, domain.Invalid("period_ids are required for a late payment")
	}
	return s.pay(ctx, tc, in, true, audit)
}

func (s *Service) pay(ctx context.Context, tc domain.TenantContext, in PaymentInput, late bool, audit domain.Audit) (*PaymentResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.Date = s.today(in.Date)

	var (
		res   *PaymentResult
		lease *domain.Lease
		note  *domain.Notification
	)
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		if in.IdempotencyKey != "" {
			replay, err := replayPayment(ctx, c, tc, in.IdempotencyKey)
			if err != nil || replay != nil {
				res = replay
				return err
			}
		}
		var err error
		res, lease, note, err = s.settle(ctx, c, tc, in, late, audit)
		return err
	})
	if err != nil {
		if in.IdempotencyKey != "" && isUniqueViolation(err) {
			// Lost a race against a request with the same key.
			if replay, rerr := replayPayment(ctx, s.read(), tc, in.IdempotencyKey); rerr == nil && replay != nil {
				return replay, nil
			}
		}
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}

	evts := append(res.marked, event.NewPaymentRecorded(lease, res.Payment, res.Periods))
	for _, f := range res.LateFees {
		evts = append(evts, event.NewLateFeeResolved(f))
	}
	evts = append(evts, notificationEvents(note)...)
	s.emit(ctx, evts...)
	return res, nil
}

func replayPayment(ctx context.Context, c *store.Conn, tc domain.TenantContext, key string) (*PaymentResult, error) {
	p, err := c.PaymentByIdempotencyKey(ctx, tc.AgencyID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	periods, err := c.PeriodsByPayment(ctx, tc.AgencyID, p.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Payment: p, Periods: periods, Replayed: true, Stale: []string{}}, nil
}

// payablePeriods resolves the periods a payment settles and checks that each
// belongs to the lease and can still be paid.
func payablePeriods(ctx context.Context, c *store.Conn, l *domain.Lease, periodIDs []uuid.UUID) ([]*domain.PaymentPeriod, error) {
	if len(periodIDs) == 0 {
		p, err := c.EarliestUnpaidPeriod(ctx, l.AgencyID, l.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Rule(domain.CodeNothingDue, "lease has no unpaid period")
		}
		if err != nil {
			return nil, err
		}
		return []*domain.PaymentPeriod{p}, nil
	}

	seen := make(map[uuid.UUID]bool, len(periodIDs))
	unique := make([]uuid.UUID, 0, len(periodIDs))
	for _, id := range periodIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	periods, err := c.GetPeriods(ctx, l.AgencyID, unique)
	if err != nil {
		return nil, err
	}
	if len(periods) != len(unique) {
		return nil, domain.Invalid("unknown payment period")
	}
	for _, p := range periods {
		if p.LeaseID != l.ID {
			return nil, domain.Rule(domain.CodePeriodMismatch, "period %d does not belong to lease", p.Sequence)
		}
		if !p.Status.Payable() {
			return nil, domain.Rule(domain.CodePeriodNotPayable, "period %d is %s", p.Sequence, p.Status)
		}
	}
	return periods, nil
}

// markOverdue moves pending periods past their grace period on asOf to late
// and charges their late fee, as an evaluator pass on asOf would.
func (s *Service) markOverdue(ctx context.Context, c *store.Conn, l *domain.Lease, periods []*domain.PaymentPeriod, asOf types.Date) ([]event.DomainEvent, error) {
	var evts []event.DomainEvent
	for _, p := range periods {
		if p.Status != domain.PeriodPending || !billing.IsLate(p.DueDate, asOf, s.opts.LateFeePolicy) {
			continue
		}
		if err := c.TransitionPeriod(ctx, p, domain.PeriodLate, nil); err != nil {
			return nil, fmt.Errorf("marking period %d late: %w", p.Sequence, err)
		}
		fee, _, _, err := s.chargeLateFee(ctx, c, p, asOf)
		if err != nil {
			return nil, err
		}
		evts = append(evts, event.NewPeriodMarkedLate(l, p, fee))
	}
	return evts, nil
}

// statusType classifies a payment by the periods it settles.
func statusType(periods []*domain.PaymentPeriod) domain.PaymentStatusType {
	t := domain.PaymentOnTime
	for _, p := range periods {
		switch p.Status {
		case domain.PeriodLate:
			return domain.PaymentLateArr
		case domain.PeriodFuture:
			t = domain.PaymentAdvance
		}
	}
	return t
}

func (s *Service) settle(ctx context.Context, c *store.Conn, tc domain.TenantContext, in PaymentInput, late bool, audit domain.Audit) (*PaymentResult, *domain.Lease, *domain.Notification, error) {
	l, err := c.GetLease(ctx, tc.AgencyID, in.LeaseID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !l.InitialPaymentsCompleted {
		return nil, nil, nil, domain.Rule(domain.CodeInitialIncomplete, "initial payments must be recorded before rent")
	}
	if l.Status != domain.LeaseActive {
		return nil, nil, nil, domain.Rule(domain.CodeLeaseNotActive, "lease is %s", l.Status)
	}
	periods, err := payablePeriods(ctx, c, l, in.PeriodIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	marked, err := s.markOverdue(ctx, c, l, periods, in.Date)
	if err != nil {
		return nil, nil, nil, err
	}

	var due, feeTotal int64
	var fees []*domain.LateFee
	for _, p := range periods {
		due += p.Amount
		if !late {
			continue
		}
		if p.Status != domain.PeriodLate {
			return nil, nil, nil, domain.Rule(domain.CodePeriodNotPayable, "period %d is not late", p.Sequence)
		}
		f, err := c.LateFeeForPeriod(ctx, tc.AgencyID, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, nil, err
		}
		if f.Status == domain.LateFeePending {
			fees = append(fees, f)
			feeTotal += f.Amount
		}
	}
	if in.Amount < due+feeTotal {
		return nil, nil, nil, domain.Rule(domain.CodeAmountTooLow, "amount %d is below the %d due", in.Amount, due+feeTotal)
	}

	leaseID := l.ID
	firstDue := periods[0].DueDate
	res := &PaymentResult{Periods: periods, Stale: paymentStale, marked: marked}
	if len(marked) > 0 {
		res.Stale = append(append([]string{}, paymentStale...), domain.StaleLateFees)
	}
	res.Payment = &domain.Payment{
		ID:                uuid.New(),
		AgencyID:          l.AgencyID,
		LeaseID:           &leaseID,
		Amount:            in.Amount - feeTotal,
		PaymentDate:       in.Date,
		DueDate:           &firstDue,
		Status:            domain.PaymentPaid,
		PaymentMethod:     in.Method,
		PaymentType:       domain.PaymentTypeRent,
		PaymentStatusType: statusType(periods),
		IdempotencyKey:    in.IdempotencyKey,
	}
	if err := c.CreatePayment(ctx, res.Payment, audit); err != nil {
		return nil, nil, nil, err
	}
	for _, p := range periods {
		if err := c.TransitionPeriod(ctx, p, domain.PeriodPaid, &res.Payment.ID); err != nil {
			return nil, nil, nil, fmt.Errorf("marking period %d paid: %w", p.Sequence, err)
		}
	}

	if feeTotal > 0 {
		res.LateFeePayment = &domain.Payment{
			ID:                uuid.New(),
			AgencyID:          l.AgencyID,
			LeaseID:           &leaseID,
			Amount:            feeTotal,
			PaymentDate:       in.Date,
			DueDate:           &firstDue,
			Status:            domain.PaymentPaid,
			PaymentMethod:     in.Method,
			PaymentType:       domain.PaymentTypeLateFee,
			PaymentStatusType: domain.PaymentLateArr,
		}
		if in.IdempotencyKey != "" {
			res.LateFeePayment.IdempotencyKey = in.IdempotencyKey + ":late-fee"
		}
		if err := c.CreatePayment(ctx, res.LateFeePayment, audit); err != nil {
			return nil, nil, nil, err
		}
		for _, f := range fees {
			if err := c.ResolveLateFee(ctx, f, domain.LateFeePaid); err != nil {
				return nil, nil, nil, fmt.Errorf("marking late fee paid: %w", err)
			}
		}
		res.LateFees = fees
	}

	note, err := notify(ctx, c, notification(l, domain.NotifyPaymentReceived, in.Amount, &firstDue), "")
	if err != nil {
		return nil, nil, nil, err
	}
	return res, l, note, nil
}
