package service

import (
	"context"
	"time"

	"marketplace/internal/alert"
	"marketplace/internal/metrics"
	"marketplace/internal/storage"
	"marketplace/internal/tools/logger"
)

const ReconciliationReason = "reconciliation_required"

// Reconciler looks for payment attempts stuck in PROCESSING: the process
// died between the gateway call and recording its result, or the call timed
// out. Money is never moved automatically; each finding is raised to an
// operator and the attempt is closed as FAILED.
type Reconciler struct {
	storage    storage.Storage
	alerter    alert.Alerter
	staleAfter time.Duration
	now        func() time.Time
}

func NewReconciler(storage storage.Storage, alerter alert.Alerter, staleAfter time.Duration) *Reconciler {
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Reconciler{
		storage:    storage,
		alerter:    alerter,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep returns the number of attempts it closed.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.storage.ListStalePayments(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, err
	}
	metrics.StalePayments.Set(float64(len(stale)))

	closed := 0
	for _, p := range stale {
		if err := r.alerter.Alert(ctx, alert.Alert{
			Kind:      alert.KindPaymentReconcile,
			OrderID:   p.OrderID,
			PaymentID: p.ID,
			Reason:    "payment attempt left in PROCESSING, verify against gateway records",
			RaisedAt:  now,
		}); err != nil {
			logger.Logger.WarnContext(ctx, "alert delivery failed", "payment_id", p.ID, "error", err)
		}

		failed, err := p.Fail(ReconciliationReason, now)
		if err != nil {
			return closed, err
		}
		if err := r.storage.UpdatePayment(ctx, failed); err != nil {
			return closed, err
		}
		closed++
	}

	if closed > 0 {
		logger.Logger.WarnContext(ctx, "reconciliation sweep closed stale payment attempts", "count", closed)
	}
	return closed, nil
}
