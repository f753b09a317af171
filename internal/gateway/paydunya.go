package gateway

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"strings"
)

// PayDunya reconciles agency subscription payments.
type PayDunya struct {
	signer
	cfg    Config
	client *client
}

const payDunyaBaseURL = "https://app.paydunya.com/api/v1"

// NewPayDunya builds the PayDunya adapter. Callbacks are signed with
// HMAC-SHA512 in the x-paydunya-signature header.
func NewPayDunya(cfg Config) *PayDunya {
	return &PayDunya{
		signer: signer{header: "x-paydunya-signature", newHash: sha512.New, secret: []byte(cfg.Secret)},
		cfg:    cfg,
		client: newClient(cfg, payDunyaBaseURL),
	}
}

func (p *PayDunya) Name() string { return "paydunya" }

var payDunyaFailed = []string{"failed", "expired", "cancelled", "canceled"}

type payDunyaCallback struct {
	Status     string `json:"status"`
	Token      string `json:"token"`
	Amount     amount `json:"amount"`
	Mode       string `json:"mode"`
	CustomData struct {
		AgencyID string `json:"agency_id"`
		PlanID   string `json:"plan_id"`
	} `json:"custom_data"`
}

// Parse reads an invoice callback. The invoice token is the event key.
func (p *PayDunya) Parse(body []byte) (*Notification, error) {
	var cb payDunyaCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cb.Token == "" || cb.Status == "" {
		return nil, fmt.Errorf("%w: status and token are required", ErrMalformed)
	}
	agencyID, err := parseOptionalUUID(cb.CustomData.AgencyID)
	if err != nil || agencyID == nil {
		return nil, fmt.Errorf("%w: custom_data.agency_id is required", ErrMalformed)
	}
	planID, err := parseOptionalUUID(cb.CustomData.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%w: custom_data.plan_id: %v", ErrMalformed, err)
	}
	status := strings.ToLower(cb.Status)
	return &Notification{
		Gateway:   p.Name(),
		EventKey:  cb.Token,
		Kind:      KindSubscription,
		Status:    status,
		Result:    classify(status, []string{"completed"}, payDunyaFailed),
		Amount:    int64(cb.Amount),
		Reference: cb.Token,
		Token:     cb.Token,
		AgencyID:  agencyID,
		PlanID:    planID,
	}, nil
}

type payDunyaInvoice struct {
	ResponseCode string `json:"response_code"`
	ResponseText string `json:"response_text"`
	Token        string `json:"token"`
}

// Initialize creates a checkout invoice for a subscription payment.
func (p *PayDunya) Initialize(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("paydunya api key is not configured")
	}
	payload := map[string]any{
		"invoice": map[string]any{
			"total_amount": req.Amount,
			"description":  req.Description,
		},
		"store": map[string]any{"name": "rentflow"},
		"actions": map[string]any{
			"callback_url": p.cfg.NotifyURL,
			"return_url":   p.cfg.ReturnURL,
			"cancel_url":   p.cfg.CancelURL,
		},
		"custom_data": req.Metadata,
	}
	headers := map[string]string{
		"PAYDUNYA-MASTER-KEY":  p.cfg.APIKey,
		"PAYDUNYA-PRIVATE-KEY": p.cfg.Secret,
		"PAYDUNYA-TOKEN":       p.cfg.APIToken,
	}
	var out payDunyaInvoice
	if err := p.client.postJSON(ctx, "/checkout-invoice/create", headers, payload, &out); err != nil {
		return nil, fmt.Errorf("paydunya checkout: %w", err)
	}
	if out.ResponseCode != "00" || out.Token == "" {
		return nil, fmt.Errorf("paydunya checkout: %s %s", out.ResponseCode, out.ResponseText)
	}
	return &Checkout{Token: out.Token, URL: out.ResponseText}, nil
}
