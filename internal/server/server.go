// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/activity"
	"github.com/matthewbaird/rentflow/internal/auth"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/eventbus"
	"github.com/matthewbaird/rentflow/internal/gateway"
	"github.com/matthewbaird/rentflow/internal/handler"
	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
)

// Webhooks are the reconciliation endpoints of the three providers.
type Webhooks struct {
	OrangeMoney http.Handler
	PayDunya    http.Handler
	Signup      http.Handler
}

// Checkouts open provider payment pages.
type Checkouts struct {
	OrangeMoney gateway.Initializer
	PayDunya    gateway.Initializer
	Signup      gateway.Initializer
}

// Deps is everything the router serves.
type Deps struct {
	Store       *store.Store
	Rent        *rent.Service
	Activity    activity.Store
	Hub         *eventbus.Hub
	JWT         *auth.JWTService
	Webhooks    Webhooks
	Checkouts   Checkouts
	Functions   handler.FunctionsOptions
	CORSOrigins []string
}

// AgencyStatus reports an agency's subscription state for the auth
// middleware.
func AgencyStatus(s *store.Store) auth.AgencyStatusFunc {
	return func(ctx context.Context, id uuid.UUID) (domain.AgencyStatus, error) {
		a, err := s.Conn().GetAgency(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return "", auth.ErrUnknownAgency
		}
		if err != nil {
			return "", err
		}
		return a.Status, nil
	}
}

// NewRouter registers every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	requireAuth := auth.Middleware(d.JWT, AgencyStatus(d.Store))

	// --- Gateway functions ---
	fh := handler.NewFunctionsHandler(d.Rent, d.Store, d.Checkouts.OrangeMoney, d.Checkouts.PayDunya, d.Checkouts.Signup, d.Functions)
	r.Route("/functions", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key",
				"x-orange-money-signature", "x-paydunya-signature", "x-payment-signature"},
			MaxAge: 300,
		}))

		// Providers sign their callbacks; no JWT. The pipelines answer other
		// methods themselves.
		r.Handle("/handle-orange-money-webhook", d.Webhooks.OrangeMoney)
		r.Handle("/handle-paydunya-webhook", d.Webhooks.PayDunya)
		r.Handle("/handle-payment-webhook", d.Webhooks.Signup)
		r.Post("/initialize-payment", fh.InitializeSignup)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/handle-late-payment", fh.HandleLatePayment)
			r.Post("/initialize-orange-money-payment", fh.InitializeOrangeMoney)
			r.Post("/initialize-paydunya-payment", fh.InitializePayDunya)
		})
	})

	ph := handler.NewPropertyHandler(d.Rent)
	lh := handler.NewLeaseHandler(d.Rent)
	payh := handler.NewPaymentHandler(d.Rent, d.Hub)
	acth := handler.NewActivityHandler(d.Activity)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireAuth)

		// --- Properties & tenants ---
		r.Post("/properties", ph.CreateProperty)
		r.Get("/properties", ph.ListProperties)
		r.Post("/properties/{propertyID}/units", ph.CreateUnit)
		r.Get("/properties/{propertyID}/units", ph.ListUnits)
		r.Post("/tenants", ph.CreateTenant)
		r.Get("/tenants", ph.ListTenants)
		r.Get("/tenants/{tenantID}", ph.GetTenant)
		r.Post("/agency/recompute-counts", ph.RecomputeCounts)

		// --- Leases ---
		r.Post("/leases", lh.CreateLease)
		r.Get("/leases", lh.ListLeases)
		r.Get("/leases/{leaseID}", lh.GetLease)
		r.Post("/leases/{leaseID}/terminate", lh.TerminateLease)
		r.Post("/leases/{leaseID}/deposit-return", lh.ReturnDeposit)
		r.Post("/leases/{leaseID}/initial-payments", lh.RecordInitialPayments)
		r.Post("/leases/{leaseID}/periods", lh.GeneratePeriods)
		r.Get("/leases/{leaseID}/periods", lh.ListPeriods)
		r.Get("/leases/{leaseID}/payment-stats", lh.PaymentStats)
		r.Get("/periods/{periodID}/late-fee-preview", lh.PreviewLateFee)

		// --- Payments, late fees, notifications ---
		r.Post("/leases/{leaseID}/payments", payh.RecordPayment)
		r.Get("/payments", payh.ListPayments)
		r.Get("/late-fees", payh.ListLateFees)
		r.Post("/late-fees/{feeID}/pay", payh.PayLateFee)
		r.Post("/late-fees/{feeID}/cancel", payh.CancelLateFee)
		r.Get("/notifications", payh.ListNotifications)
		r.Get("/notifications/stream", payh.StreamNotifications)
		r.Post("/notifications/{notificationID}/read", payh.MarkNotificationRead)

		// --- Activity ---
		r.Get("/activity/entity/{entity_type}/{entity_id}", acth.HandleGetEntityActivity)
		r.Get("/activity/summary/{entity_type}/{entity_id}", acth.HandleGetSignalSummary)
		r.Get("/activity/search", acth.HandleSearchActivity)
	})

	return r
}

// Config holds server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Run serves h until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, cfg Config, h http.Handler) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Printf("server: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
