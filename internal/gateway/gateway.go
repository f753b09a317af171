// Package gateway adapts the payment providers the service talks to. Each
// adapter verifies and parses the provider's webhook callbacks into a common
// Notification and opens checkouts through the provider's HTTP API.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind says which reconciler handles a notification.
type Kind string

const (
	KindRentPayment  Kind = "rent_payment"
	KindSubscription Kind = "subscription_payment"
	KindSignup       Kind = "agency_signup"
)

// Result classifies a provider's transaction status.
type Result int

const (
	// ResultPending is any status the provider may still move on from.
	ResultPending Result = iota
	ResultSucceeded
	// ResultFailed is a terminal failure: failed, expired or cancelled.
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultFailed:
		return "failed"
	default:
		return "pending"
	}
}

// classify maps a normalized provider status onto a Result. Unknown
// statuses are pending.
func classify(status string, succeeded, failed []string) Result {
	for _, s := range succeeded {
		if status == s {
			return ResultSucceeded
		}
	}
	for _, s := range failed {
		if status == s {
			return ResultFailed
		}
	}
	return ResultPending
}

var (
	// ErrSignature is returned by Verify for a missing or wrong signature.
	ErrSignature = errors.New("invalid webhook signature")
	// ErrMalformed is returned by Parse for payloads it cannot use.
	ErrMalformed = errors.New("malformed webhook payload")
)

// Notification is a provider callback in provider-neutral form.
type Notification struct {
	Gateway string
	// EventKey identifies the callback for replay detection.
	EventKey  string
	Kind      Kind
	Status    string
	Result    Result
	Amount    int64
	Reference string

	// Rent payments.
	PaymentID *uuid.UUID
	LeaseID   *uuid.UUID
	TenantID  *uuid.UUID

	// Subscription payments.
	AgencyID *uuid.UUID
	PlanID   *uuid.UUID
	Token    string

	Signup *Signup
}

// Succeeded reports whether the provider confirmed the payment.
func (n *Notification) Succeeded() bool { return n.Result == ResultSucceeded }

// Final reports whether the provider will not change the transaction's
// status again.
func (n *Notification) Final() bool { return n.Result != ResultPending }

// Signup is the account an agency owner asked for before paying.
type Signup struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	AgencyName string `json:"agencyName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

// Adapter verifies and parses one provider's callbacks.
type Adapter interface {
	Name() string
	Verify(h http.Header, body []byte) error
	Parse(body []byte) (*Notification, error)
}

// Initializer opens a hosted checkout with a provider.
type Initializer interface {
	Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// Config holds the credentials and endpoints of one provider.
type Config struct {
	// Secret signs webhook callbacks.
	Secret string
	APIKey string
	// APIToken is a second credential some providers require.
	APIToken  string
	BaseURL   string
	NotifyURL string
	ReturnURL string
	CancelURL string
	Timeout   time.Duration
}

// signer checks an HMAC hex signature carried in one request header.
type signer struct {
	header  string
	newHash func() hash.Hash
	secret  []byte
}

func (s signer) Verify(h http.Header, body []byte) error {
	got := strings.TrimSpace(h.Get(s.header))
	if len(s.secret) == 0 || got == "" {
		return ErrSignature
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(got, "sha256="))
	if err != nil {
		return ErrSignature
	}
	mac := hmac.New(s.newHash, s.secret)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ErrSignature
	}
	return nil
}

// Sign returns the hex HMAC of body, as a provider would send it.
func Sign(newHash func() hash.Hash, secret string, body []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// bodyKey derives an event key from the raw payload when the provider sends
// no transaction id.
func bodyKey(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
