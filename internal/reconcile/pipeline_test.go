package reconcile_test

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"hash"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/gateway"
	"github.com/matthewbaird/rentflow/internal/reconcile"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/store/storetest"
	"github.com/matthewbaird/rentflow/internal/types"
)

const secret = "whsec_test"

var (
	leaseStart = types.MakeDate(2024, time.January, 1)
	today      = types.MakeDate(2024, time.March, 10)
	audit      = domain.Audit{Actor: "test", Source: "user"}
)

func pipeline(a gateway.Adapter, s *store.Store) *reconcile.Pipeline {
	return reconcile.New(a, s, nil, reconcile.Options{
		BcryptCost: bcrypt.MinCost,
		Today:      func() types.Date { return today },
	})
}

func post(t *testing.T, h http.Handler, header string, newHash func() hash.Hash, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/functions/webhook", strings.NewReader(body))
	if newHash != nil {
		req.Header.Set(header, gateway.Sign(newHash, secret, []byte(body)))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	if m, ok := out["message"]; ok {
		return m
	}
	return out["error"]
}

// openCheckout activates the seeded lease and opens an Orange Money
// checkout for its first period.
func openCheckout(t *testing.T, s *store.Store, f *storetest.Fixture) *rent.Checkout {
	t.Helper()
	ctx := context.Background()
	svc := rent.New(s, nil, rent.Options{Today: func() types.Date { return today }})
	_, err := svc.RecordInitialPayments(ctx, f.TC, rent.InitialPaymentsInput{LeaseID: f.Lease.ID, Method: "cash"}, audit)
	require.NoError(t, err)
	ps, err := svc.GeneratePeriods(ctx, f.TC, f.Lease.ID, 3)
	require.NoError(t, err)
	co, err := svc.OpenCheckout(ctx, f.TC, rent.CheckoutInput{
		LeaseID: f.Lease.ID, PeriodIDs: []uuid.UUID{ps[0].ID}, Gateway: "orange_money",
	}, audit)
	require.NoError(t, err)
	return co
}

func orangeBody(paymentID, leaseID uuid.UUID, status, txn string) string {
	return fmt.Sprintf(`{"status":%q,"amount":100000,"txnid":%q,"metadata":{"payment_id":%q,"lease_id":%q}}`,
		status, txn, paymentID, leaseID)
}

func TestPipeline_RejectsBadSignatures(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s, leaseStart)
	co := openCheckout(t, s, f)
	ctx := context.Background()

	cases := []struct {
		name    string
		adapter gateway.Adapter
		header  string
		newHash func() hash.Hash
		body    string
	}{
		{"orange money", gateway.NewOrangeMoney(gateway.Config{Secret: secret}), "x-orange-money-signature", sha512.New,
			orangeBody(co.Payment.ID, f.Lease.ID, "SUCCESS", "txn-1")},
		{"paydunya", gateway.NewPayDunya(gateway.Config{Secret: secret}), "x-paydunya-signature", sha256.New,
			fmt.Sprintf(`{"status":"completed","token":"tok","custom_data":{"agency_id":%q}}`, f.Agency.ID)},
		{"signup", gateway.NewSignupCheckout(gateway.Config{Secret: secret}), "x-payment-signature", sha512.New,
			`{"status":"ACCEPTED","metadata":{"email":"x@y.sn","password":"long-enough","agencyName":"X"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := pipeline(tc.adapter, s)
			// Unsigned, then signed with the wrong algorithm.
			for _, rec := range []*httptest.ResponseRecorder{
				post(t, p, tc.header, nil, tc.body),
				post(t, p, tc.header, tc.newHash, tc.body),
			} {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Equal(t, "invalid signature", message(t, rec))
			}
			n, err := s.Conn().CountWebhookEvents(ctx, tc.adapter.Name())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}

	got, err := s.Conn().GetPayment(ctx, f.Agency.ID, co.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, got.Status)
	_, err = s.Conn().UserByEmail(ctx, "x@y.sn")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPipeline_MethodAndBody(t *testing.T) {
	s := storetest.New(t)
	p := pipeline(gateway.NewOrangeMoney(gateway.Config{Secret: secret}), s)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = post(t, p, "x-orange-money-signature", sha256.New, `{"status":"SUCCESS","metadata":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, p, "x-orange-money-signature", sha256.New,
		orangeBody(uuid.New(), uuid.New(), "SUCCESS", "txn-unknown"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	n, err := s.Conn().CountWebhookEvents(context.Background(), "orange_money")
	require.NoError(t, err)
	assert.Zero(t, n, "a refused callback releases its claim")
}

func TestPipeline_RentPaymentAndReplay(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s, leaseStart)
	co := openCheckout(t, s, f)
	ctx := context.Background()
	p := pipeline(gateway.NewOrangeMoney(gateway.Config{Secret: secret}), s)
	body := orangeBody(co.Payment.ID, f.Lease.ID, "SUCCESS", "MP-1")

	rec := post(t, p, "x-orange-money-signature", sha256.New, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "payment processed", message(t, rec))

	got, err := s.Conn().GetPayment(ctx, f.Agency.ID, co.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.Status)
	assert.Equal(t, "MP-1", got.GatewayReference)

	periods, err := s.Conn().ListPeriods(ctx, f.Agency.ID, store.PeriodFilter{LeaseID: &f.Lease.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodPaid, periods[0].Status)
	assert.Equal(t, domain.PeriodPending, periods[1].Status)

	rec = post(t, p, "x-orange-money-signature", sha256.New, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already processed", message(t, rec))
	n, err := s.Conn().CountWebhookEvents(ctx, "orange_money")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	notes, err := s.Conn().ListNotifications(ctx, f.Agency.ID, store.NotificationFilter{LeaseID: &f.Lease.ID})
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestPipeline_RentPaymentFailed(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s, leaseStart)
	co := openCheckout(t, s, f)
	ctx := context.Background()
	p := pipeline(gateway.NewOrangeMoney(gateway.Config{Secret: secret}), s)

	rec := post(t, p, "x-orange-money-signature", sha256.New, orangeBody(co.Payment.ID, f.Lease.ID, "FAILED", "MP-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payment cancelled", message(t, rec))

	periods, err := s.Conn().ListPeriods(ctx, f.Agency.ID, store.PeriodFilter{LeaseID: &f.Lease.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodPending, periods[0].Status)
	assert.Nil(t, periods[0].PaymentID)

	rec = post(t, p, "x-orange-money-signature", sha256.New, orangeBody(co.Payment.ID, f.Lease.ID, "SUCCESS", "MP-3"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payment already cancelled", message(t, rec))
}

func TestPipeline_SubscriptionRenewal(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s, types.MakeDate(2023, time.January, 1))
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(c *store.Conn) error {
		return c.UpdateAgencyStatus(ctx, f.Agency.ID, domain.AgencyActive, domain.AgencyBlocked)
	}))
	p := pipeline(gateway.NewPayDunya(gateway.Config{Secret: secret}), s)

	body := fmt.Sprintf(`{"status":"completed","token":"tok-1","amount":25000,"custom_data":{"agency_id":%q,"plan_id":%q}}`,
		f.Agency.ID, f.Plan.ID)
	rec := post(t, p, "x-paydunya-signature", sha512.New, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "subscription renewed", message(t, rec))

	a, err := s.Conn().GetAgency(ctx, f.Agency.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgencyActive, a.Status)
	require.NotNil(t, a.SubscriptionExpiresAt)
	assert.Equal(t, today.AddDays(30), *a.SubscriptionExpiresAt)

	history, err := s.Conn().ListSubscriptionPayments(ctx, f.Agency.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "tok-1", history[0].Token)

	low := fmt.Sprintf(`{"status":"completed","token":"tok-2","amount":100,"custom_data":{"agency_id":%q,"plan_id":%q}}`,
		f.Agency.ID, f.Plan.ID)
	rec = post(t, p, "x-paydunya-signature", sha512.New, low)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeAmountTooLow)
}

func TestPipeline_Signup(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	p := pipeline(gateway.NewSignupCheckout(gateway.Config{Secret: secret}), s)
	body := `{"status":"ACCEPTED","transaction_id":"su-1","metadata":{"email":"owner@keur.sn","password":"correct-horse",` +
		`"agencyName":"Keur Immo","phone":"+221 77 000 00 00","address":"Dakar","firstName":"Fatou","lastName":"Sow"}}`

	rec := post(t, p, "x-payment-signature", sha256.New, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "agency created", message(t, rec))

	u, err := s.Conn().UserByEmail(ctx, "owner@keur.sn")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct-horse")))
	profile, err := s.Conn().GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, profile.Role)
	a, err := s.Conn().GetAgency(ctx, profile.AgencyID)
	require.NoError(t, err)
	assert.Equal(t, "Keur Immo", a.Name)
	assert.Equal(t, domain.AgencyActive, a.Status)
	assert.Equal(t, 1, a.CurrentProfilesCount)

	rec = post(t, p, "x-payment-signature", sha256.New, body)
	assert.Equal(t, "already processed", message(t, rec))

	again := strings.Replace(body, "su-1", "su-2", 1)
	rec = post(t, p, "x-payment-signature", sha256.New, again)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "email already taken")
}

func TestPipeline_SignupRollsBack(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, `CREATE TRIGGER fail_admin_insert BEFORE INSERT ON administrators
		BEGIN SELECT RAISE(ABORT, 'simulated failure'); END`))
	p := pipeline(gateway.NewSignupCheckout(gateway.Config{Secret: secret}), s)
	body := `{"status":"ACCEPTED","transaction_id":"su-9","metadata":{"email":"late@keur.sn","password":"correct-horse","agencyName":"Keur"}}`

	rec := post(t, p, "x-payment-signature", sha256.New, body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", message(t, rec))
	assert.NotContains(t, rec.Body.String(), "simulated")

	_, err := s.Conn().UserByEmail(ctx, "late@keur.sn")
	assert.ErrorIs(t, err, store.ErrNotFound)
	agencies, err := s.Conn().ListAgencies(ctx)
	require.NoError(t, err)
	assert.Empty(t, agencies)
	n, err := s.Conn().CountWebhookEvents(ctx, "signup")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipeline_PendingCallbackThenFinal(t *testing.T) {
	ctx := context.Background()

	t.Run("orange money", func(t *testing.T) {
		s := storetest.New(t)
		f := storetest.Seed(t, s, leaseStart)
		co := openCheckout(t, s, f)
		p := pipeline(gateway.NewOrangeMoney(gateway.Config{Secret: secret}), s)

		for _, status := range []string{"INITIATED", "PENDING"} {
			rec := post(t, p, "x-orange-money-signature", sha256.New, orangeBody(co.Payment.ID, f.Lease.ID, status, "MP-7"))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "payment pending", message(t, rec))
		}
		got, err := s.Conn().GetPayment(ctx, f.Agency.ID, co.Payment.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, got.Status)
		periods, err := s.Conn().ListPeriods(ctx, f.Agency.ID, store.PeriodFilter{LeaseID: &f.Lease.ID})
		require.NoError(t, err)
		require.NotNil(t, periods[0].PaymentID, "periods stay reserved")
		n, err := s.Conn().CountWebhookEvents(ctx, "orange_money")
		require.NoError(t, err)
		assert.Zero(t, n)

		rec := post(t, p, "x-orange-money-signature", sha256.New, orangeBody(co.Payment.ID, f.Lease.ID, "SUCCESS", "MP-7"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "payment processed", message(t, rec))
		got, err = s.Conn().GetPayment(ctx, f.Agency.ID, co.Payment.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, got.Status)
	})

	t.Run("paydunya", func(t *testing.T) {
		s := storetest.New(t)
		f := storetest.Seed(t, s, leaseStart)
		p := pipeline(gateway.NewPayDunya(gateway.Config{Secret: secret}), s)
		body := func(status string) string {
			return fmt.Sprintf(`{"status":%q,"token":"tok-7","amount":25000,"custom_data":{"agency_id":%q,"plan_id":%q}}`,
				status, f.Agency.ID, f.Plan.ID)
		}

		rec := post(t, p, "x-paydunya-signature", sha512.New, body("pending"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "payment pending", message(t, rec))
		a, err := s.Conn().GetAgency(ctx, f.Agency.ID)
		require.NoError(t, err)
		assert.Equal(t, *f.Agency.SubscriptionExpiresAt, *a.SubscriptionExpiresAt)

		rec = post(t, p, "x-paydunya-signature", sha512.New, body("completed"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "subscription renewed", message(t, rec))
		a, err = s.Conn().GetAgency(ctx, f.Agency.ID)
		require.NoError(t, err)
		assert.Equal(t, f.Agency.SubscriptionExpiresAt.AddDays(30), *a.SubscriptionExpiresAt)

		rec = post(t, p, "x-paydunya-signature", sha512.New, body("completed"))
		assert.Equal(t, "already processed", message(t, rec))
	})

	t.Run("signup", func(t *testing.T) {
		s := storetest.New(t)
		p := pipeline(gateway.NewSignupCheckout(gateway.Config{Secret: secret}), s)
		metadata := `"metadata":{"email":"wait@keur.sn","password":"correct-horse","agencyName":"Keur Attente"}`

		rec := post(t, p, "x-payment-signature", sha256.New, `{"status":"WAITING_FOR_CUSTOMER","transaction_id":"su-7",`+metadata+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "payment pending", message(t, rec))
		_, err := s.Conn().UserByEmail(ctx, "wait@keur.sn")
		assert.ErrorIs(t, err, store.ErrNotFound)

		rec = post(t, p, "x-payment-signature", sha256.New, `{"status":"ACCEPTED","transaction_id":"su-7",`+metadata+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "agency created", message(t, rec))
		_, err = s.Conn().UserByEmail(ctx, "wait@keur.sn")
		assert.NoError(t, err)
	})
}
