// Package worker contains the long-running background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/matthewbaird/rentflow/internal/rent"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// Evaluator applies date-driven transitions to every agency: periods
// starting or going late, late fees, reminders, ended leases and expired
// subscriptions.
type Evaluator struct {
	store    *store.Store
	rent     *rent.Service
	interval time.Duration
	today    func() types.Date
}

// NewEvaluator creates an evaluator that runs every interval.
func NewEvaluator(s *store.Store, svc *rent.Service, interval time.Duration) *Evaluator {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Evaluator{store: s, rent: svc, interval: interval, today: types.Today}
}

// Run evaluates immediately and then on every tick until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) {
	log.Printf("evaluator: started, interval %s", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx, e.today()); err != nil && ctx.Err() == nil {
			log.Printf("evaluator: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("evaluator: stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce evaluates every agency as of asOf. A failing agency does not
// stop the others; their errors are joined.
func (e *Evaluator) RunOnce(ctx context.Context, asOf types.Date) (rent.Evaluation, error) {
	var total rent.Evaluation
	agencies, err := e.store.Conn().ListAgencies(ctx)
	if err != nil {
		return total, fmt.Errorf("listing agencies: %w", err)
	}

	var errs []error
	for _, a := range agencies {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ev, err := e.rent.EvaluateAgency(ctx, a.ID, asOf)
		total.Add(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("agency %s: %w", a.ID, err))
		}
	}
	if n := total.Changes(); n > 0 {
		log.Printf("evaluator: %s: %d agencies, %d leases, %d periods started, %d late, %d fees created, %d refreshed, %d notifications, %d leases expired, %d agencies blocked",
			asOf, total.AgenciesEvaluated, total.LeasesEvaluated, total.PeriodsStarted, total.PeriodsLate,
			total.FeesCreated, total.FeesRefreshed, total.Notifications, total.LeasesExpired, total.AgenciesBlocked)
	}
	return total, errors.Join(errs...)
}
