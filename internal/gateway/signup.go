package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// SignupCheckout reconciles the payment that opens a new agency account.
type SignupCheckout struct {
	signer
	cfg    Config
	client *client
}

const signupBaseURL = "https://api-checkout.cinetpay.com/v2"

// NewSignupCheckout builds the signup adapter. Callbacks are signed with
// HMAC-SHA256 in the x-payment-signature header.
func NewSignupCheckout(cfg Config) *SignupCheckout {
	return &SignupCheckout{
		signer: signer{header: "x-payment-signature", newHash: sha256.New, secret: []byte(cfg.Secret)},
		cfg:    cfg,
		client: newClient(cfg, signupBaseURL),
	}
}

func (s *SignupCheckout) Name() string { return "signup" }

type signupCallback struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Amount        amount `json:"amount"`
	Metadata      Signup `json:"metadata"`
}

var signupFailed = []string{"REFUSED", "FAILED", "EXPIRED", "CANCELLED", "CANCELED"}

// Parse reads a signup callback. Only ACCEPTED callbacks need a complete
// account.
func (s *SignupCheckout) Parse(body []byte) (*Notification, error) {
	var cb signupCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cb.Status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrMalformed)
	}
	status := strings.ToUpper(cb.Status)
	n := &Notification{
		Gateway:   s.Name(),
		EventKey:  cb.TransactionID,
		Kind:      KindSignup,
		Status:    status,
		Result:    classify(status, []string{"ACCEPTED"}, signupFailed),
		Amount:    int64(cb.Amount),
		Reference: cb.TransactionID,
	}
	if n.EventKey == "" {
		n.EventKey = bodyKey(body)
	}
	if !n.Succeeded() {
		return n, nil
	}

	m := cb.Metadata
	if err := m.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: metadata.%v", ErrMalformed, err)
	}
	n.Signup = &m
	return n, nil
}

// Normalize trims the account details and checks that an account can be
// created from them.
func (s *Signup) Normalize() error {
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	s.AgencyName = strings.TrimSpace(s.AgencyName)
	if _, err := mail.ParseAddress(s.Email); err != nil {
		return errors.New("email is invalid")
	}
	if len(s.Password) < 8 || len(s.Password) > 72 {
		return errors.New("password must have 8 to 72 characters")
	}
	if s.AgencyName == "" {
		return errors.New("agencyName is required")
	}
	return nil
}

// Metadata flattens the account details for a checkout request.
func (s *Signup) Metadata() map[string]string {
	return map[string]string{
		"email":      s.Email,
		"password":   s.Password,
		"agencyName": s.AgencyName,
		"phone":      s.Phone,
		"address":    s.Address,
		"firstName":  s.FirstName,
		"lastName":   s.LastName,
	}
}

type signupCheckoutResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		PaymentToken string `json:"payment_token"`
		PaymentURL   string `json:"payment_url"`
	} `json:"data"`
}

// Initialize opens the signup payment. The account details travel in the
// metadata and come back with the callback.
func (s *SignupCheckout) Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if s.cfg.APIKey == "" {
		return nil, fmt.Errorf("signup checkout api key is not configured")
	}
	currency := req.Currency
	if currency == "" {
		currency = "XOF"
	}
	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	payload := map[string]any{
		"apikey":         s.cfg.APIKey,
		"site_id":        s.cfg.APIToken,
		"transaction_id": req.Reference,
		"amount":         req.Amount,
		"currency":       currency,
		"description":    req.Description,
		"metadata":       string(metadata),
		"notify_url":     s.cfg.NotifyURL,
		"return_url":     s.cfg.ReturnURL,
		"channels":       "ALL",
	}
	var out signupCheckoutResponse
	if err := s.client.postJSON(ctx, "/payment", nil, payload, &out); err != nil {
		return nil, fmt.Errorf("signup checkout: %w", err)
	}
	if out.Code != "201" || out.Data.PaymentToken == "" {
		return nil, fmt.Errorf("signup checkout: %s %s", out.Code, out.Message)
	}
	return &Checkout{Token: out.Data.PaymentToken, URL: out.Data.PaymentURL}, nil
}
