package billing

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/relaylabs/relay/internal/observability"
)

// ResetWorker sweeps for users whose quota cycle has lapsed and applies the
// monthly grant. Prompts arriving between sweeps still reset lazily through
// the gating chain; the worker just keeps idle accounts current.
type ResetWorker struct {
	svc    *Service
	logger *observability.Logger
	cron   *cron.Cron
}

// NewResetWorker builds a worker on the service's configured schedule.
func NewResetWorker(svc *Service, logger *observability.Logger) *ResetWorker {
	return &ResetWorker{
		svc:    svc,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the sweep and begins running it. The returned error only
// covers schedule parsing; sweep failures are logged and retried next tick.
func (w *ResetWorker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.svc.cfg.QuotaResetSchedule, func() {
		w.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (w *ResetWorker) Stop() {
	<-w.cron.Stop().Done()
}

// Sweep applies the monthly reset to every user whose cycle has lapsed.
func (w *ResetWorker) Sweep(ctx context.Context) {
	users, err := w.svc.store.UsersDueForReset(ctx, w.svc.now())
	if err != nil {
		w.logger.Error(ctx, "quota reset sweep failed", "error", err)
		return
	}
	for _, u := range users {
		if _, err := w.svc.TriggerMonthlyResetAndGrant(ctx, u.ID); err != nil {
			w.logger.Error(ctx, "quota reset failed", "user_id", u.ID, "error", err)
		}
	}
	if len(users) > 0 {
		w.logger.Info(ctx, "quota reset sweep complete", "users", len(users))
	}
}
