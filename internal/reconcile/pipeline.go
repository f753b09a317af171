// Package reconcile applies verified payment-gateway callbacks to the store.
// One Pipeline serves each gateway: it checks the signature, parses the
// callback, then claims the callback's event key and applies it in a single
// transaction so that a replayed callback changes nothing.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/gateway"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const defaultMaxBody = 64 << 10

// Options tunes a Pipeline.
type Options struct {
	// MaxBody caps the callback size in bytes.
	MaxBody int64
	// SignupDays is the subscription granted with a new agency.
	SignupDays int
	// DefaultPlanDays extends subscriptions paid without a known plan.
	DefaultPlanDays int
	BcryptCost      int
	Today           func() types.Date
}

func (o *Options) fill() {
	if o.MaxBody <= 0 {
		o.MaxBody = defaultMaxBody
	}
	if o.SignupDays <= 0 {
		o.SignupDays = 30
	}
	if o.DefaultPlanDays <= 0 {
		o.DefaultPlanDays = 30
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	if o.Today == nil {
		o.Today = types.Today
	}
}

// Pipeline is the webhook endpoint of one gateway.
type Pipeline struct {
	adapter  gateway.Adapter
	store    *store.Store
	recorder event.Recorder
	opts     Options
}

// New creates a Pipeline for adapter. recorder may be nil.
func New(adapter gateway.Adapter, s *store.Store, recorder event.Recorder, opts Options) *Pipeline {
	opts.fill()
	return &Pipeline{adapter: adapter, store: s, recorder: recorder, opts: opts}
}

// outcome is what applying one callback did.
type outcome struct {
	message string
	events  []event.DomainEvent
}

const (
	replayMessage  = "already processed"
	pendingMessage = "payment pending"
)

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gw := p.adapter.Name()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.opts.MaxBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body could not be read")
		return
	}
	if err := p.adapter.Verify(r.Header, body); err != nil {
		log.Printf("webhook: %s callback rejected: %v", gw, err)
		respondError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature")
		return
	}
	n, err := p.adapter.Parse(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}

	out, err := p.Apply(r.Context(), n)
	if err != nil {
		if re, ok := domain.AsRule(err); ok {
			log.Printf("webhook: %s event %s refused: %s", gw, n.EventKey, re.Message)
			respondError(w, http.StatusBadRequest, re.Code, re.Message)
			return
		}
		log.Printf("webhook: %s event %s failed: %v", gw, n.EventKey, err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	respond(w, http.StatusOK, map[string]any{"message": out})
}

// Apply claims the notification's event key and applies it in one
// transaction. A replay returns "already processed" and writes nothing.
// A status the provider may still move on from is acknowledged without
// claiming the key, so the final callback for the transaction still applies.
func (p *Pipeline) Apply(ctx context.Context, n *gateway.Notification) (string, error) {
	if !n.Final() {
		log.Printf("webhook: %s event %s is %s, nothing applied", n.Gateway, n.EventKey, n.Status)
		return pendingMessage, nil
	}
	var out outcome
	err := p.store.WithTx(ctx, func(c *store.Conn) error {
		claimed, err := c.ClaimWebhookEvent(ctx, n.Gateway, n.EventKey, n.Status)
		if err != nil {
			return err
		}
		if !claimed {
			out.message = replayMessage
			return nil
		}
		switch n.Kind {
		case gateway.KindRentPayment:
			out, err = applyRentPayment(ctx, c, n)
		case gateway.KindSubscription:
			out, err = p.applySubscription(ctx, c, n)
		case gateway.KindSignup:
			out, err = p.applySignup(ctx, c, n)
		default:
			err = domain.Invalid("unsupported notification kind %q", n.Kind)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	if out.message == replayMessage {
		log.Printf("webhook: %s event %s replayed", n.Gateway, n.EventKey)
	}
	event.Emit(ctx, p.recorder, out.events...)
	return out.message, nil
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webhook: encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respond(w, status, map[string]string{"error": message, "code": code})
}

func notFoundAsInvalid(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.Invalid(format, args...)
	}
	return err
}
