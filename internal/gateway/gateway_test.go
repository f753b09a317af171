package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"hash"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"status":"SUCCESS"}`)
	cases := []struct {
		name    string
		adapter Adapter
		header  string
		newHash func() hash.Hash
	}{
		{"orange money", NewOrangeMoney(Config{Secret: "om-secret"}), "x-orange-money-signature", sha256.New},
		{"paydunya", NewPayDunya(Config{Secret: "om-secret"}), "x-paydunya-signature", sha512.New},
		{"signup", NewSignupCheckout(Config{Secret: "om-secret"}), "x-payment-signature", sha256.New},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			assert.ErrorIs(t, tc.adapter.Verify(h, body), ErrSignature, "missing header")

			h.Set(tc.header, "not-hex")
			assert.ErrorIs(t, tc.adapter.Verify(h, body), ErrSignature, "garbage")

			h.Set(tc.header, Sign(tc.newHash, "other-secret", body))
			assert.ErrorIs(t, tc.adapter.Verify(h, body), ErrSignature, "wrong secret")

			h.Set(tc.header, Sign(tc.newHash, "om-secret", body))
			assert.NoError(t, tc.adapter.Verify(h, body))
			assert.ErrorIs(t, tc.adapter.Verify(h, append(body, ' ')), ErrSignature, "tampered body")
		})
	}
}

func TestVerify_NoSecretRejectsEverything(t *testing.T) {
	a := NewOrangeMoney(Config{})
	body := []byte(`{}`)
	h := http.Header{}
	h.Set("x-orange-money-signature", Sign(sha256.New, "", body))
	assert.ErrorIs(t, a.Verify(h, body), ErrSignature)
}

func TestOrangeMoney_Parse(t *testing.T) {
	a := NewOrangeMoney(Config{})
	paymentID, leaseID := uuid.New(), uuid.New()

	n, err := a.Parse([]byte(`{"status":"success","amount":"100000","txnid":"MP240101.1","metadata":{"payment_id":"` +
		paymentID.String() + `","lease_id":"` + leaseID.String() + `"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindRentPayment, n.Kind)
	assert.True(t, n.Succeeded())
	assert.Equal(t, int64(100000), n.Amount)
	assert.Equal(t, "MP240101.1", n.EventKey)
	assert.Equal(t, paymentID, *n.PaymentID)
	assert.Equal(t, leaseID, *n.LeaseID)
	assert.Nil(t, n.TenantID)

	n, err = a.Parse([]byte(`{"status":"FAILED","amount":100000,"metadata":{"payment_id":"` + paymentID.String() + `"}}`))
	require.NoError(t, err)
	assert.False(t, n.Succeeded())
	assert.Equal(t, ResultFailed, n.Result)
	assert.Equal(t, paymentID.String()+":FAILED", n.EventKey)

	for _, status := range []string{"PENDING", "INITIATED", "something-new"} {
		n, err = a.Parse([]byte(`{"status":"` + status + `","txnid":"MP-2","metadata":{"payment_id":"` + paymentID.String() + `"}}`))
		require.NoError(t, err)
		assert.Equal(t, ResultPending, n.Result, status)
		assert.False(t, n.Final(), status)
	}

	for _, body := range []string{
		`not json`,
		`{"amount":1,"metadata":{"payment_id":"` + paymentID.String() + `"}}`,
		`{"status":"SUCCESS","metadata":{"payment_id":"nope"}}`,
		`{"status":"SUCCESS","amount":"abc","metadata":{"payment_id":"` + paymentID.String() + `"}}`,
	} {
		_, err := a.Parse([]byte(body))
		assert.True(t, errors.Is(err, ErrMalformed), "body %s: %v", body, err)
	}
}

func TestPayDunya_Parse(t *testing.T) {
	a := NewPayDunya(Config{})
	agencyID, planID := uuid.New(), uuid.New()
	n, err := a.Parse([]byte(`{"status":"completed","token":"tok_1","amount":25000,"mode":"live","custom_data":{"agency_id":"` +
		agencyID.String() + `","plan_id":"` + planID.String() + `"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindSubscription, n.Kind)
	assert.True(t, n.Succeeded())
	assert.Equal(t, "tok_1", n.EventKey)
	assert.Equal(t, agencyID, *n.AgencyID)
	assert.Equal(t, planID, *n.PlanID)

	for status, want := range map[string]Result{"pending": ResultPending, "CANCELLED": ResultFailed, "expired": ResultFailed} {
		n, err = a.Parse([]byte(`{"status":"` + status + `","token":"tok_1","custom_data":{"agency_id":"` + agencyID.String() + `"}}`))
		require.NoError(t, err)
		assert.Equal(t, want, n.Result, status)
	}

	_, err = a.Parse([]byte(`{"status":"completed","token":"tok_1","custom_data":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSignupCheckout_Parse(t *testing.T) {
	a := NewSignupCheckout(Config{})
	body := []byte(`{"status":"ACCEPTED","metadata":{"email":" Owner@Example.com ","password":"s3cret-pass",` +
		`"agencyName":"Keur Immo","phone":"+221","firstName":"Fatou","lastName":"Sow"}}`)
	n, err := a.Parse(body)
	require.NoError(t, err)
	assert.True(t, n.Succeeded())
	require.NotNil(t, n.Signup)
	assert.Equal(t, "owner@example.com", n.Signup.Email)
	assert.Equal(t, "Keur Immo", n.Signup.AgencyName)
	assert.Equal(t, bodyKey(body), n.EventKey, "no transaction id falls back to the body hash")

	n, err = a.Parse([]byte(`{"status":"REFUSED","transaction_id":"t-9"}`))
	require.NoError(t, err)
	assert.False(t, n.Succeeded())
	assert.Nil(t, n.Signup)
	assert.Equal(t, "t-9", n.EventKey)

	_, err = a.Parse([]byte(`{"status":"ACCEPTED","metadata":{"email":"bad","password":"s3cret-pass","agencyName":"X"}}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = a.Parse([]byte(`{"status":"ACCEPTED","metadata":{"email":"a@b.sn","password":"short","agencyName":"X"}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOrangeMoney_Initialize(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webpayment", r.URL.Path)
		assert.Equal(t, "Bearer om-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"pay_token":"pt-1","payment_url":"https://pay.example/pt-1"}`))
	}))
	defer srv.Close()

	a := NewOrangeMoney(Config{APIKey: "om-key", BaseURL: srv.URL, NotifyURL: "https://hooks.example/om"})
	co, err := a.Initialize(context.Background(), CheckoutRequest{Reference: "pay-1", Amount: 100000})
	require.NoError(t, err)
	assert.Equal(t, "pt-1", co.Token)
	assert.Equal(t, "https://pay.example/pt-1", co.URL)
	assert.Equal(t, "pay-1", got["order_id"])
	assert.Equal(t, float64(100000), got["amount"])
	assert.Equal(t, "XOF", got["currency"])
	assert.Equal(t, "https://hooks.example/om", got["notif_url"])
}

func TestPayDunya_Initialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout-invoice/create", r.URL.Path)
		assert.Equal(t, "master", r.Header.Get("PAYDUNYA-MASTER-KEY"))
		w.Write([]byte(`{"response_code":"00","response_text":"https://paydunya.example/checkout/tok","token":"tok"}`))
	}))
	defer srv.Close()

	a := NewPayDunya(Config{APIKey: "master", Secret: "private", APIToken: "token", BaseURL: srv.URL})
	co, err := a.Initialize(context.Background(), CheckoutRequest{Amount: 25000, Description: "Plan Pro"})
	require.NoError(t, err)
	assert.Equal(t, "tok", co.Token)
	assert.Equal(t, "https://paydunya.example/checkout/tok", co.URL)
}

func TestSignupCheckout_InitializeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"608","message":"MINIMUM_REQUIRED_FIELDS"}`))
	}))
	defer srv.Close()

	a := NewSignupCheckout(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := a.Initialize(context.Background(), CheckoutRequest{Reference: "r", Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "608")
}

func TestInitialize_ErrorsAndTimeout(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer down.Close()

	a := NewOrangeMoney(Config{APIKey: "k", BaseURL: down.URL})
	_, err := a.Initialize(context.Background(), CheckoutRequest{Reference: "r", Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"pay_token":"late","payment_url":"https://pay.example/late"}`))
	}))
	defer slowSrv.Close()

	slow := NewOrangeMoney(Config{APIKey: "k", BaseURL: slowSrv.URL, Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err = slow.Initialize(context.Background(), CheckoutRequest{Reference: "r", Amount: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	_, err = NewOrangeMoney(Config{}).Initialize(context.Background(), CheckoutRequest{})
	assert.Error(t, err)
}
