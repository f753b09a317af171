package rent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/store/storetest"
	"github.com/matthewbaird/rentflow/internal/types"
)

var (
	leaseStart = types.MakeDate(2024, time.January, 1)
	audit      = domain.Audit{Actor: "test", Source: "user"}
)

type captured struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (c *captured) Record(_ context.Context, evt event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventType
	}
	return out
}

type clock struct{ today types.Date }

func (c *clock) Today() types.Date { return c.today }

type harness struct {
	svc   *rent.Service
	store *store.Store
	fx    *storetest.Fixture
	rec   *captured
	clock *clock
}

func newHarness(t *testing.T, today types.Date, opts ...storetest.LeaseOption) *harness {
	t.Helper()
	s := storetest.New(t)
	h := &harness{
		store: s,
		fx:    storetest.Seed(t, s, leaseStart, opts...),
		rec:   &captured{},
		clock: &clock{today: today},
	}
	h.svc = rent.New(s, h.rec, rent.Options{Today: h.clock.Today})
	return h
}

func (h *harness) activate(t *testing.T) *rent.InitialPaymentsResult {
	t.Helper()
	res, err := h.svc.RecordInitialPayments(context.Background(), h.fx.TC, rent.InitialPaymentsInput{
		LeaseID: h.fx.Lease.ID,
		Mode:    rent.ModeSimple,
		Method:  "cash",
	}, audit)
	require.NoError(t, err)
	return res
}

func (h *harness) periods(t *testing.T, n int) []*domain.PaymentPeriod {
	t.Helper()
	ps, err := h.svc.GeneratePeriods(context.Background(), h.fx.TC, h.fx.Lease.ID, n)
	require.NoError(t, err)
	return ps
}

func (h *harness) listPeriods(t *testing.T) []*domain.PaymentPeriod {
	t.Helper()
	ps, err := h.svc.ListPeriods(context.Background(), h.fx.TC, h.fx.Lease.ID)
	require.NoError(t, err)
	return ps
}

func requireRule(t *testing.T, err error, code string) {
	t.Helper()
	re, ok := domain.AsRule(err)
	require.True(t, ok, "want %s, got %v", code, err)
	assert.Equal(t, code, re.Code)
}

func TestLeaseLifecycle_InitialThenFirstPeriod(t *testing.T) {
	h := newHarness(t, types.MakeDate(2024, time.March, 10))
	ctx := context.Background()

	initial := h.activate(t)
	assert.Equal(t, int64(200000), initial.Deposit.Amount)
	assert.Equal(t, int64(50000), initial.AgencyFees.Amount)
	assert.Equal(t, domain.LeaseActive, initial.Lease.Status)
	assert.True(t, initial.Lease.InitialPaymentsCompleted)

	ps := h.periods(t, 3)
	require.Len(t, ps, 3)
	for i, p := range ps {
		assert.Equal(t, domain.PeriodPending, p.Status, "period %d", i+1)
		assert.Equal(t, int64(100000), p.Amount)
	}
	assert.Equal(t, "2024-02-01", ps[1].DueDate.String())

	res, err := h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID:   h.fx.Lease.ID,
		PeriodIDs: []uuid.UUID{ps[0].ID},
		Amount:    100000,
		Method:    "cash",
		Date:      types.MakeDate(2024, time.January, 3),
	}, audit)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, res.Payment.Status)
	assert.Equal(t, domain.PaymentTypeRent, res.Payment.PaymentType)
	assert.Equal(t, domain.PaymentOnTime, res.Payment.PaymentStatusType)
	assert.Contains(t, res.Stale, domain.StalePaymentStats)

	after := h.listPeriods(t)
	assert.Equal(t, domain.PeriodPaid, after[0].Status)
	require.NotNil(t, after[0].PaymentID)
	assert.Equal(t, res.Payment.ID, *after[0].PaymentID)
	assert.Equal(t, domain.PeriodPending, after[1].Status)
	assert.Equal(t, domain.PeriodPending, after[2].Status)
	assert.Nil(t, after[1].PaymentID)

	stats, err := h.svc.PaymentStats(ctx, h.fx.TC, h.fx.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), stats.RentPaid)
	assert.Equal(t, int64(250000), stats.InitialPaid)
	assert.Equal(t, int64(200000), stats.Outstanding)
	assert.Equal(t, 1, stats.Periods[domain.PeriodPaid])
	require.NotNil(t, stats.NextDue)
	assert.Equal(t, after[1].ID, stats.NextDue.ID)

	assert.Equal(t, []string{
		"initial_payments_recorded", "periods_generated", "payment_recorded", "notification_created",
	}, h.rec.types())
}

func TestRecordInitialPayments_Idempotent(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()
	first := h.activate(t)

	again, err := h.svc.RecordInitialPayments(ctx, h.fx.TC, rent.InitialPaymentsInput{
		LeaseID: h.fx.Lease.ID,
		Mode:    rent.ModeComputed,
		Method:  "orange_money",
	}, audit)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, first.Deposit.ID, again.Deposit.ID)
	assert.Equal(t, first.AgencyFees.ID, again.AgencyFees.ID)

	payments, err := h.store.Conn().ListPayments(ctx, h.fx.Agency.ID, store.PaymentFilter{LeaseID: &h.fx.Lease.ID})
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.Equal(t, []string{"initial_payments_recorded"}, h.rec.types())
}

func TestRecordInitialPayments_ComputedFees(t *testing.T) {
	h := newHarness(t, leaseStart)
	res, err := h.svc.RecordInitialPayments(context.Background(), h.fx.TC, rent.InitialPaymentsInput{
		LeaseID: h.fx.Lease.ID,
		Mode:    rent.ModeComputed,
		Method:  "cash",
	}, audit)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), res.AgencyFees.Amount)
}

func TestGeneratePeriods_Guards(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()

	_, err := h.svc.GeneratePeriods(ctx, h.fx.TC, h.fx.Lease.ID, 3)
	requireRule(t, err, domain.CodeInitialIncomplete)

	h.activate(t)
	ps := h.periods(t, 3)
	assert.Equal(t, domain.PeriodPending, ps[0].Status)
	assert.Equal(t, domain.PeriodFuture, ps[1].Status)

	_, err = h.svc.GeneratePeriods(ctx, h.fx.TC, h.fx.Lease.ID, 3)
	requireRule(t, err, domain.CodePeriodsExist)
}

func TestRecordPayment_MultiplePeriodsAtomic(t *testing.T) {
	h := newHarness(t, types.MakeDate(2024, time.March, 10))
	ctx := context.Background()
	h.activate(t)
	ps := h.periods(t, 3)

	require.NoError(t, h.store.Exec(ctx, `CREATE TRIGGER fail_period_update BEFORE UPDATE ON payment_periods
		BEGIN SELECT RAISE(ABORT, 'simulated failure'); END`))

	_, err := h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID:   h.fx.Lease.ID,
		PeriodIDs: []uuid.UUID{ps[0].ID, ps[1].ID},
		Amount:    200000,
		Method:    "cash",
	}, audit)
	require.Error(t, err)

	rentPayments, err := h.store.Conn().ListPayments(ctx, h.fx.Agency.ID, store.PaymentFilter{
		LeaseID: &h.fx.Lease.ID,
		Types:   []domain.PaymentType{domain.PaymentTypeRent},
	})
	require.NoError(t, err)
	assert.Empty(t, rentPayments)
	for _, p := range h.listPeriods(t) {
		assert.Equal(t, domain.PeriodPending, p.Status)
		assert.Nil(t, p.PaymentID)
	}

	require.NoError(t, h.store.Exec(ctx, `DROP TRIGGER fail_period_update`))
	res, err := h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID:   h.fx.Lease.ID,
		PeriodIDs: []uuid.UUID{ps[0].ID, ps[1].ID, ps[0].ID},
		Amount:    200000,
		Method:    "cash",
	}, audit)
	require.NoError(t, err)
	assert.Len(t, res.Periods, 2)
	assert.Equal(t, int64(200000), res.Payment.Amount)
}

func TestRecordPayment_IdempotencyKey(t *testing.T) {
	h := newHarness(t, types.MakeDate(2024, time.March, 10))
	ctx := context.Background()
	h.activate(t)
	h.periods(t, 3)

	in := rent.PaymentInput{LeaseID: h.fx.Lease.ID, Amount: 100000, Method: "wave", IdempotencyKey: "req-1"}
	first, err := h.svc.RecordPayment(ctx, h.fx.TC, in, audit)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, 1, first.Periods[0].Sequence)

	second, err := h.svc.RecordPayment(ctx, h.fx.TC, in, audit)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	require.Len(t, second.Periods, 1)
	assert.Equal(t, first.Periods[0].ID, second.Periods[0].ID)

	ps := h.listPeriods(t)
	assert.Equal(t, domain.PeriodPaid, ps[0].Status)
	assert.Equal(t, domain.PeriodPending, ps[1].Status)
}

func TestRecordPayment_Rules(t *testing.T) {
	h := newHarness(t, types.MakeDate(2024, time.March, 10))
	ctx := context.Background()

	_, err := h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{LeaseID: h.fx.Lease.ID, Amount: 100000, Method: "cash"}, audit)
	requireRule(t, err, domain.CodeInitialIncomplete)

	h.activate(t)
	ps := h.periods(t, 2)

	_, err = h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[0].ID}, Amount: 99999, Method: "cash",
	}, audit)
	requireRule(t, err, domain.CodeAmountTooLow)

	_, err = h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{uuid.New()}, Amount: 100000, Method: "cash",
	}, audit)
	requireRule(t, err, domain.CodeValidation)

	_, err = h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{LeaseID: h.fx.Lease.ID, Amount: 0, Method: "cash"}, audit)
	requireRule(t, err, domain.CodeValidation)

	for range ps {
		_, err = h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{LeaseID: h.fx.Lease.ID, Amount: 100000, Method: "cash"}, audit)
		require.NoError(t, err)
	}
	_, err = h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{LeaseID: h.fx.Lease.ID, Amount: 100000, Method: "cash"}, audit)
	requireRule(t, err, domain.CodeNothingDue)

	_, err = h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[0].ID}, Amount: 100000, Method: "cash",
	}, audit)
	requireRule(t, err, domain.CodePeriodNotPayable)

	other := domain.TenantContext{AgencyID: uuid.New(), UserID: uuid.New(), Role: domain.RoleAdmin}
	_, err = h.svc.GetLease(ctx, other, h.fx.Lease.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvaluateAgency_LateFeesAndIdempotence(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()
	h.activate(t)
	ps := h.periods(t, 3)
	require.Equal(t, domain.PeriodFuture, ps[1].Status)

	feb10 := types.MakeDate(2024, time.February, 10)
	ev, err := h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, feb10)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.PeriodsStarted)
	assert.Equal(t, 2, ev.PeriodsLate)
	assert.Equal(t, 2, ev.FeesCreated)
	assert.Equal(t, 2, ev.Notifications)

	again, err := h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, feb10)
	require.NoError(t, err)
	assert.Zero(t, again.Changes())

	after := h.listPeriods(t)
	assert.Equal(t, domain.PeriodLate, after[0].Status)
	assert.Equal(t, domain.PeriodLate, after[1].Status)
	assert.Equal(t, domain.PeriodFuture, after[2].Status)

	fees, err := h.svc.ListLateFees(ctx, h.fx.TC, &h.fx.Lease.ID, domain.LateFeePending)
	require.NoError(t, err)
	require.Len(t, fees, 2)
	assert.Equal(t, int64(10000), fees[0].Amount)

	feb27 := types.MakeDate(2024, time.February, 27)
	later, err := h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, feb27)
	require.NoError(t, err)
	assert.Equal(t, 2, later.FeesRefreshed)
	assert.Equal(t, 1, later.Notifications, "upcoming reminder for the March period")

	notes, err := h.svc.ListNotifications(ctx, h.fx.TC, store.NotificationFilter{LeaseID: &h.fx.Lease.ID})
	require.NoError(t, err)
	assert.Len(t, notes, 3)
}

func TestHandleLatePayment_SettlesFees(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()
	h.activate(t)
	ps := h.periods(t, 3)
	_, err := h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, types.MakeDate(2024, time.January, 20))
	require.NoError(t, err)

	in := rent.PaymentInput{LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[0].ID}, Amount: 105000, Method: "cash"}
	_, err = h.svc.HandleLatePayment(ctx, h.fx.TC, in, audit)
	requireRule(t, err, domain.CodeAmountTooLow)

	in.Amount = 110000
	res, err := h.svc.HandleLatePayment(ctx, h.fx.TC, in, audit)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), res.Payment.Amount)
	assert.Equal(t, domain.PaymentLateArr, res.Payment.PaymentStatusType)
	require.NotNil(t, res.LateFeePayment)
	assert.Equal(t, int64(10000), res.LateFeePayment.Amount)
	require.Len(t, res.LateFees, 1)
	assert.Equal(t, domain.LateFeePaid, res.LateFees[0].Status)

	_, err = h.svc.HandleLatePayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[1].ID}, Amount: 100000, Method: "cash",
	}, audit)
	requireRule(t, err, domain.CodePeriodNotPayable)

	stats, err := h.svc.PaymentStats(ctx, h.fx.TC, h.fx.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stats.LateFeesPaid)
	assert.Zero(t, stats.PendingLateFees)
}

func TestPayment_OverduePeriodWithoutEvaluatorPass(t *testing.T) {
	h := newHarness(t, types.MakeDate(2024, time.March, 10))
	ctx := context.Background()
	h.activate(t)
	ps := h.periods(t, 3)
	require.Equal(t, domain.PeriodPending, ps[0].Status)

	res, err := h.svc.RecordPayment(ctx, h.fx.TC, rent.PaymentInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[0].ID}, Amount: 100000, Method: "cash",
	}, audit)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentLateArr, res.Payment.PaymentStatusType)
	assert.Contains(t, res.Stale, domain.StaleLateFees)
	fees, err := h.svc.ListLateFees(ctx, h.fx.TC, &h.fx.Lease.ID, domain.LateFeePending)
	require.NoError(t, err)
	require.Len(t, fees, 1, "the fee stays payable on its own")
	assert.Equal(t, ps[0].ID, fees[0].PeriodID)
	assert.Equal(t, int64(10000), fees[0].Amount)
	assert.Contains(t, h.rec.types(), "period_marked_late")

	in := rent.PaymentInput{LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[1].ID}, Amount: 100000, Method: "cash"}
	_, err = h.svc.HandleLatePayment(ctx, h.fx.TC, in, audit)
	requireRule(t, err, domain.CodeAmountTooLow)
	assert.Equal(t, domain.PeriodPending, h.listPeriods(t)[1].Status, "a refused payment marks nothing")

	in.Amount = 110000
	late, err := h.svc.HandleLatePayment(ctx, h.fx.TC, in, audit)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentLateArr, late.Payment.PaymentStatusType)
	require.NotNil(t, late.LateFeePayment)
	assert.Equal(t, int64(10000), late.LateFeePayment.Amount)
	require.Len(t, late.LateFees, 1)
	assert.Equal(t, domain.LateFeePaid, late.LateFees[0].Status)

	after := h.listPeriods(t)
	assert.Equal(t, domain.PeriodPaid, after[0].Status)
	assert.Equal(t, domain.PeriodPaid, after[1].Status)
}

func TestLateFee_PreviewPayCancel(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()
	h.activate(t)
	ps := h.periods(t, 2)

	preview, err := h.svc.PreviewLateFee(ctx, h.fx.TC, ps[0].ID, types.MakeDate(2024, time.January, 4))
	require.NoError(t, err)
	assert.Equal(t, 3, preview.DaysLate)
	assert.Zero(t, preview.FeeAmount)

	preview, err = h.svc.PreviewLateFee(ctx, h.fx.TC, ps[0].ID, types.MakeDate(2024, time.January, 9))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), preview.FeeAmount)
	assert.Equal(t, int64(110000), preview.TotalDue)

	_, err = h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, types.MakeDate(2024, time.February, 10))
	require.NoError(t, err)
	fees, err := h.svc.ListLateFees(ctx, h.fx.TC, &h.fx.Lease.ID, domain.LateFeePending)
	require.NoError(t, err)
	require.Len(t, fees, 2)

	paid, payment, err := h.svc.PayLateFee(ctx, h.fx.TC, fees[0].ID, "cash", types.Date{}, audit)
	require.NoError(t, err)
	assert.Equal(t, domain.LateFeePaid, paid.Status)
	assert.Equal(t, domain.PaymentTypeLateFee, payment.PaymentType)

	_, _, err = h.svc.PayLateFee(ctx, h.fx.TC, fees[0].ID, "cash", types.Date{}, audit)
	requireRule(t, err, domain.CodeInvalidTransition)

	cancelled, err := h.svc.CancelLateFee(ctx, h.fx.TC, fees[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LateFeeCancelled, cancelled.Status)
}

func TestTerminateAndReturnDeposit(t *testing.T) {
	h := newHarness(t, types.MakeDate(2024, time.January, 10))
	ctx := context.Background()
	h.activate(t)
	h.periods(t, 3)

	_, err := h.svc.ReturnDeposit(ctx, h.fx.TC, h.fx.Lease.ID, 100000, "", audit)
	requireRule(t, err, domain.CodeLeaseNotTerminated)

	term, err := h.svc.TerminateLease(ctx, h.fx.TC, h.fx.Lease.ID, types.MakeDate(2024, time.January, 15), audit)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseExpired, term.Lease.Status)
	assert.Equal(t, 2, term.CancelledPeriods)

	ps := h.listPeriods(t)
	assert.Equal(t, domain.PeriodPending, ps[0].Status)
	assert.Equal(t, domain.PeriodCancelled, ps[1].Status)
	assert.Equal(t, domain.PeriodCancelled, ps[2].Status)

	_, err = h.svc.TerminateLease(ctx, h.fx.TC, h.fx.Lease.ID, types.Date{}, audit)
	requireRule(t, err, domain.CodeLeaseNotActive)

	_, err = h.svc.ReturnDeposit(ctx, h.fx.TC, h.fx.Lease.ID, 250000, "", audit)
	requireRule(t, err, domain.CodeDepositExceeded)
	_, err = h.svc.ReturnDeposit(ctx, h.fx.TC, h.fx.Lease.ID, -1, "", audit)
	requireRule(t, err, domain.CodeValidation)

	res, err := h.svc.ReturnDeposit(ctx, h.fx.TC, h.fx.Lease.ID, 150000, "paint", audit)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Deduction)
	require.NotNil(t, res.Notification)
	assert.Equal(t, domain.NotifyDepositReturn, res.Notification.Type)

	_, err = h.svc.ReturnDeposit(ctx, h.fx.TC, h.fx.Lease.ID, 150000, "", audit)
	requireRule(t, err, domain.CodeDepositReturned)

	got, err := h.svc.GetLease(ctx, h.fx.TC, h.fx.Lease.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DepositReturnAmount)
	assert.Equal(t, int64(150000), *got.DepositReturnAmount)
	assert.Equal(t, "2024-01-10", got.DepositReturnDate.String())
}

func TestEvaluateAgency_ExpiresFixedLease(t *testing.T) {
	end := types.MakeDate(2024, time.March, 31)
	h := newHarness(t, leaseStart, func(l *domain.Lease) {
		l.DurationType = domain.DurationFixed
		l.EndDate = &end
	})
	ctx := context.Background()
	h.activate(t)
	ps := h.periods(t, 0)
	require.Len(t, ps, 3)

	ev, err := h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, types.MakeDate(2024, time.April, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, ev.LeasesExpired)
	assert.Zero(t, ev.LeasesEvaluated)

	got, err := h.svc.GetLease(ctx, h.fx.TC, h.fx.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseExpired, got.Status)
	assert.Contains(t, h.rec.types(), "lease_expired")
}

func TestEvaluateAgency_Subscription(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()
	expires := types.MakeDate(2024, time.February, 5)
	require.NoError(t, h.store.WithTx(ctx, func(c *store.Conn) error {
		return c.SetAgencySubscription(ctx, h.fx.Agency.ID, nil, expires)
	}))

	ev, err := h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, types.MakeDate(2024, time.February, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Notifications)
	ev, err = h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, types.MakeDate(2024, time.February, 2))
	require.NoError(t, err)
	assert.Zero(t, ev.Notifications)

	ev, err = h.svc.EvaluateAgency(ctx, h.fx.Agency.ID, types.MakeDate(2024, time.February, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, ev.AgenciesBlocked)

	_, err = h.svc.RecordInitialPayments(ctx, h.fx.TC, rent.InitialPaymentsInput{LeaseID: h.fx.Lease.ID, Method: "cash"}, audit)
	requireRule(t, err, domain.CodeAgencyBlocked)
	assert.Contains(t, h.rec.types(), "agency_blocked")
}

func TestSubscriptionLimits(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()
	plan := &domain.SubscriptionPlan{Name: "Starter", MaxProperties: 2, MaxTenants: 1, MaxUsers: 1, Price: 10000, DurationDays: 30}
	require.NoError(t, h.store.WithTx(ctx, func(c *store.Conn) error {
		if err := c.CreatePlan(ctx, plan); err != nil {
			return err
		}
		return c.SetAgencySubscription(ctx, h.fx.Agency.ID, &plan.ID, types.MakeDate(2025, time.January, 1))
	}))

	err := h.svc.CreateTenant(ctx, h.fx.TC, &domain.Tenant{FirstName: "Moussa", LastName: "Fall"})
	requireRule(t, err, domain.CodeLimitReached)

	require.NoError(t, h.svc.CreateProperty(ctx, h.fx.TC, &domain.Property{Name: "Villa Ngor"}))
	err = h.svc.CreateProperty(ctx, h.fx.TC, &domain.Property{Name: "Immeuble Plateau"})
	requireRule(t, err, domain.CodeLimitReached)

	a, err := h.svc.RecomputeCounts(ctx, h.fx.TC)
	require.NoError(t, err)
	assert.Equal(t, 2, a.CurrentPropertiesCount)
	assert.Equal(t, 1, a.CurrentTenantsCount)
}

func TestCreateLease_DefaultsRentFromUnit(t *testing.T) {
	h := newHarness(t, leaseStart)
	ctx := context.Background()
	l, err := h.svc.CreateLease(ctx, h.fx.TC, rent.LeaseInput{
		TenantID:         h.fx.Tenant.ID,
		UnitID:           h.fx.Unit.ID,
		StartDate:        types.MakeDate(2024, time.May, 1),
		PaymentFrequency: domain.FrequencyMonthly,
		DurationType:     domain.DurationIndefinite,
	}, audit)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), l.RentAmount)
	assert.Equal(t, domain.LeasePending, l.Status)

	_, err = h.svc.CreateLease(ctx, h.fx.TC, rent.LeaseInput{
		TenantID:         uuid.New(),
		UnitID:           h.fx.Unit.ID,
		StartDate:        types.MakeDate(2024, time.May, 1),
		PaymentFrequency: domain.FrequencyMonthly,
		DurationType:     domain.DurationIndefinite,
	}, audit)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGatewayCheckout(t *testing.T) {
	h := newHarness(t, types.MakeDate(2024, time.March, 10))
	ctx := context.Background()
	h.activate(t)
	ps := h.periods(t, 3)

	co, err := h.svc.OpenCheckout(ctx, h.fx.TC, rent.CheckoutInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[0].ID, ps[1].ID}, Gateway: "orange_money",
	}, audit)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, co.Payment.Status)
	assert.Equal(t, int64(200000), co.Payment.Amount)

	_, err = h.svc.OpenCheckout(ctx, h.fx.TC, rent.CheckoutInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[1].ID}, Gateway: "orange_money",
	}, audit)
	requireRule(t, err, domain.CodePeriodNotPayable)

	var failed *rent.GatewayResult
	require.NoError(t, h.store.WithTx(ctx, func(c *store.Conn) (err error) {
		failed, err = rent.ApplyGatewayPayment(ctx, c, co.Payment.ID, false, "FAILED", "txn-1", 0)
		return err
	}))
	assert.Equal(t, domain.PaymentCancelled, failed.Payment.Status)
	for _, p := range h.listPeriods(t) {
		assert.Nil(t, p.PaymentID)
		assert.Equal(t, domain.PeriodPending, p.Status)
	}

	co, err = h.svc.OpenCheckout(ctx, h.fx.TC, rent.CheckoutInput{
		LeaseID: h.fx.Lease.ID, PeriodIDs: []uuid.UUID{ps[0].ID}, Gateway: "orange_money",
	}, audit)
	require.NoError(t, err)

	var paid *rent.GatewayResult
	require.NoError(t, h.store.WithTx(ctx, func(c *store.Conn) (err error) {
		paid, err = rent.ApplyGatewayPayment(ctx, c, co.Payment.ID, true, "SUCCESS", "txn-2", 100000)
		return err
	}))
	assert.Equal(t, domain.PaymentPaid, paid.Payment.Status)
	assert.Equal(t, "txn-2", paid.Payment.GatewayReference)
	require.Len(t, paid.Periods, 1)
	assert.Len(t, paid.Events, 2)

	after := h.listPeriods(t)
	assert.Equal(t, domain.PeriodPaid, after[0].Status)
	assert.Equal(t, domain.PeriodPending, after[1].Status)

	var replay *rent.GatewayResult
	require.NoError(t, h.store.WithTx(ctx, func(c *store.Conn) (err error) {
		replay, err = rent.ApplyGatewayPayment(ctx, c, co.Payment.ID, true, "SUCCESS", "txn-2", 100000)
		return err
	}))
	assert.True(t, replay.Unchanged)
}
