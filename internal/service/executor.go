package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/alert"
	"marketplace/internal/gateway"
	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
	"marketplace/internal/order_cache"
	"marketplace/internal/storage"
	"marketplace/internal/tools/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var errFailedEnvelope = errors.New("saga failed by upstream envelope")

type Publisher interface {
	Publish(ctx context.Context, ev models.SagaEvent) error
}

type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

type ExecutorConfig struct {
	MaxRetries int
	// RetryDelay is the wait before the first retry; it doubles on every
	// following retry of the same step.
	RetryDelay time.Duration
	Retry      RetryPolicy
}

type ExecutorDeps struct {
	Storage   storage.Storage
	Publisher Publisher
	Gateway   gateway.Gateway
	Codec     Decrypter
	Cache     order_cache.Cache
	Alerter   alert.Alerter
	Now       func() time.Time
}

// Executor runs one saga step per consumed envelope and emits the successor.
type Executor struct {
	storage   storage.Storage
	publisher Publisher
	guard     *IdempotencyGuard
	gateway   gateway.Gateway
	codec     Decrypter
	shipments *ShipmentRegistrar
	warehouse *WarehouseRegistrar
	cache     order_cache.Cache
	alerter   alert.Alerter
	cfg       ExecutorConfig
	now       func() time.Time
}

func NewExecutor(deps ExecutorDeps, cfg ExecutorConfig) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = models.DefaultMaxRetries
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	cache := deps.Cache
	if cache == nil {
		cache = order_cache.Noop{}
	}
	alerter := deps.Alerter
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}

	return &Executor{
		storage:   deps.Storage,
		publisher: deps.Publisher,
		guard:     NewIdempotencyGuard(deps.Storage),
		gateway:   deps.Gateway,
		codec:     deps.Codec,
		shipments: NewShipmentRegistrar(deps.Storage, now),
		warehouse: NewWarehouseRegistrar(deps.Storage, now),
		cache:     cache,
		alerter:   alerter,
		cfg:       cfg,
		now:       now,
	}
}

type stepResult struct {
	outcome models.StepOutcome
	// cause is a business failure of the step. Effects written before it
	// (a failed payment attempt) are committed.
	cause         error
	statusChanged bool
	completed     bool
	// charge is set once the gateway accepted a charge in this transaction.
	charge *chargeNotPersisted
}

// chargeNotPersisted carries a charge the gateway accepted but the step
// could not record. The charge is cancelled outside the rolled back tx.
type chargeNotPersisted struct {
	attempt models.Payment
	ref     string
	err     error
}

func (e *chargeNotPersisted) Error() string {
	return fmt.Sprintf("persist payment %s: %v", e.attempt.ID, e.err)
}

func (e *chargeNotPersisted) Unwrap() error { return e.err }

// Handle executes the step named by ev. A non-nil error means the envelope
// must be redelivered; every business outcome is absorbed here.
func (e *Executor) Handle(ctx context.Context, ev models.SagaEvent) error {
	log := stepLogger(ev)

	switch ev.ProcessingStep {
	case models.StepComplete:
		return e.completeFromEnvelope(ctx, ev)
	case models.StepFailed:
		return e.fail(ctx, ev, errFailedEnvelope)
	}

	order, err := e.storage.GetOrder(ctx, ev.OrderID)
	if errors.Is(err, domainErrors.ErrOrderNotFound) {
		e.raise(ctx, alert.Alert{
			Kind:    alert.KindUndeliverableMessage,
			OrderID: ev.OrderID,
			EventID: ev.EventID,
			Code:    domainErrors.Code(err),
			Reason:  "envelope references unknown order",
		})
		return nil
	}
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		log.InfoContext(ctx, "order is terminal, envelope ignored", "status", order.Status)
		return nil
	}

	if ev.RetryCount > e.cfg.MaxRetries {
		return e.fail(ctx, ev, domainErrors.ErrMaxRetryExceeded)
	}
	if ev.RetryCount > 0 {
		if err := e.wait(ctx, ev.RetryCount); err != nil {
			return err
		}
	}

	res, err := e.execute(ctx, ev)
	if err != nil {
		switch {
		case errors.Is(err, domainErrors.ErrOrderTerminal):
			log.InfoContext(ctx, "order became terminal, envelope ignored")
			return nil
		case isConflict(err):
			// эффект шага уже записан другой доставкой
			res = stepResult{outcome: models.OutcomeSkipped}
			if err := e.journal(ctx, ev, res.outcome, nil); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return err
		default:
			res = stepResult{cause: err}
		}
	}

	if res.statusChanged {
		e.invalidate(ctx, ev.OrderID)
	}

	if res.cause == nil {
		metrics.SagaSteps.WithLabelValues(string(ev.ProcessingStep), string(res.outcome)).Inc()
		log.InfoContext(ctx, "saga step done", "outcome", res.outcome)
		return e.advance(ctx, ev, res)
	}

	if domainErrors.IsPermanent(res.cause) {
		return e.fail(ctx, ev, res.cause)
	}

	if ev.IsMaxRetryExceeded(e.cfg.MaxRetries) {
		return e.fail(ctx, ev, fmt.Errorf("%w: last error: %v", domainErrors.ErrMaxRetryExceeded, res.cause))
	}

	if err := e.journal(ctx, ev, models.OutcomeRetried, res.cause); err != nil {
		return err
	}
	next := ev.Retry()
	if err := e.publisher.Publish(ctx, next); err != nil {
		return err
	}
	metrics.SagaSteps.WithLabelValues(string(ev.ProcessingStep), string(models.OutcomeRetried)).Inc()
	metrics.SagaRetries.WithLabelValues(string(ev.ProcessingStep)).Inc()
	log.WarnContext(ctx, "saga step will be retried",
		"code", domainErrors.Code(res.cause), "error", res.cause, "next_retry_count", next.RetryCount)
	return nil
}

func (e *Executor) advance(ctx context.Context, ev models.SagaEvent, res stepResult) error {
	next, err := ev.Advance()
	if err != nil {
		return e.fail(ctx, ev, err)
	}
	switch {
	case res.completed:
		metrics.SagaSteps.WithLabelValues(string(models.StepComplete), string(models.OutcomeFinished)).Inc()
		stepLogger(next).InfoContext(ctx, "saga completed")
		return nil
	case next.ProcessingStep == models.StepComplete:
		// шаг пропущен из-за конфликта, заказ ещё не закрыт
		return e.completeFromEnvelope(ctx, next)
	}
	return e.publisher.Publish(ctx, next)
}

// execute runs the step in one transaction holding the order lock.
func (e *Executor) execute(ctx context.Context, ev models.SagaEvent) (stepResult, error) {
	var res stepResult
	err := withStorageRetry(ctx, e.cfg.Retry, func() error {
		res = stepResult{}
		err := e.storage.WithTx(ctx, func(ctx context.Context) error {
			order, err := e.storage.LockOrder(ctx, ev.OrderID)
			if err != nil {
				return err
			}
			if order.Status.IsTerminal() {
				return fmt.Errorf("%w: %s", domainErrors.ErrOrderTerminal, order.Status)
			}

			switch ev.ProcessingStep {
			case models.StepStarted:
				res, err = e.start(ctx, ev, order)
			case models.StepPayment:
				res, err = e.pay(ctx, ev, order)
			case models.StepShipment:
				res, err = e.ship(ctx, ev)
			case models.StepWarehouse:
				res, err = e.store(ctx, ev, order)
			default:
				return fmt.Errorf("%w: %s", domainErrors.ErrUnknownStep, ev.ProcessingStep)
			}
			if err != nil || res.cause != nil {
				return err
			}

			if err := e.storage.AppendSagaStep(ctx, e.record(ev, res.outcome, nil)); err != nil {
				return err
			}
			if res.completed {
				complete, _ := ev.Advance()
				return e.storage.AppendSagaStep(ctx, e.record(complete, models.OutcomeFinished, nil))
			}
			return nil
		})

		var lost *chargeNotPersisted
		if err != nil && res.charge != nil && !errors.As(err, &lost) {
			// списание прошло, но журнал или коммит упали
			res.charge.err = err
			err = res.charge
		}
		if errors.As(err, &lost) {
			e.compensate(ctx, ev, lost)
			// повтор транзакции списал бы деньги ещё раз
			return backoff.Permanent(err)
		}
		return err
	})
	return res, err
}

func (e *Executor) start(ctx context.Context, ev models.SagaEvent, order models.Order) (stepResult, error) {
	if err := ev.Validate(); err != nil {
		return stepResult{cause: err}, nil
	}
	if !ev.Request.PaymentRequest.Amount.Equal(order.Amount) {
		return stepResult{cause: fmt.Errorf("%w: amount does not match order", domainErrors.ErrValidationFailed)}, nil
	}
	if order.Status == models.StatusProcessing {
		return stepResult{outcome: models.OutcomeSkipped}, nil
	}

	next, err := order.Status.TransitionTo(models.StatusProcessing)
	if err != nil {
		return stepResult{}, err
	}
	if err := e.storage.UpdateOrderStatus(ctx, order.ID, order.Status, next); err != nil {
		return stepResult{}, err
	}
	return stepResult{outcome: models.OutcomeAdvanced, statusChanged: true}, nil
}

func (e *Executor) pay(ctx context.Context, ev models.SagaEvent, order models.Order) (stepResult, error) {
	paid, err := e.guard.HasSuccessfulPayment(ctx, order.ID)
	if err != nil {
		return stepResult{}, err
	}
	if paid {
		stepLogger(ev).InfoContext(ctx, "payment already recorded, charge skipped")
		return stepResult{outcome: models.OutcomeSkipped}, nil
	}

	req, err := e.chargeRequest(ev, order)
	if err != nil {
		return stepResult{cause: err}, nil
	}

	attempt, err := e.openAttempt(ctx, order)
	if err != nil {
		return stepResult{}, err
	}
	req.IdempotencyKey = attempt.ID

	ref, chargeErr := e.charge(ctx, req)
	if chargeErr != nil {
		if gateway.OutcomeUnknown(chargeErr) {
			// исход неизвестен, попытка остаётся PROCESSING, повтор пойдёт с тем же ключом
			return stepResult{cause: chargeErr}, nil
		}
		failed, err := attempt.Fail(domainErrors.Code(chargeErr), e.now())
		if err != nil {
			return stepResult{}, err
		}
		if err := e.storage.UpdatePayment(ctx, failed); err != nil {
			return stepResult{}, err
		}
		return stepResult{cause: chargeErr}, nil
	}

	done, err := attempt.Succeed(ref, e.now())
	if err != nil {
		return stepResult{}, err
	}
	if err := e.storage.UpdatePayment(ctx, done); err != nil {
		return stepResult{}, &chargeNotPersisted{attempt: attempt, ref: ref, err: err}
	}
	metrics.PaymentsCharged.Inc()
	return stepResult{
		outcome: models.OutcomeAdvanced,
		charge:  &chargeNotPersisted{attempt: attempt, ref: ref},
	}, nil
}

// openAttempt returns the attempt whose outcome is still unknown, so a retry
// reaches the provider with the same idempotency key. Otherwise a new attempt
// is committed.
func (e *Executor) openAttempt(ctx context.Context, order models.Order) (models.Payment, error) {
	payments, err := e.storage.ListPayments(ctx, order.ID)
	if err != nil {
		return models.Payment{}, err
	}
	for i := len(payments) - 1; i >= 0; i-- {
		if payments[i].Status == models.PaymentProcessing {
			return payments[i], nil
		}
	}

	now := e.now()
	attempt := models.Payment{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Amount:    order.Amount,
		Status:    models.PaymentProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.storage.CreatePaymentAttempt(ctx, attempt); err != nil {
		return models.Payment{}, err
	}
	return attempt, nil
}

func (e *Executor) ship(ctx context.Context, ev models.SagaEvent) (stepResult, error) {
	paid, err := e.guard.HasSuccessfulPayment(ctx, ev.OrderID)
	if err != nil {
		return stepResult{}, err
	}
	if !paid {
		return stepResult{cause: fmt.Errorf("%w: shipment before payment", domainErrors.ErrInvalidTransition)}, nil
	}

	created, err := e.shipments.Register(ctx, ev)
	if err != nil {
		if errors.Is(err, domainErrors.ErrShipmentRegistration) {
			return stepResult{cause: err}, nil
		}
		return stepResult{}, err
	}
	if !created {
		return stepResult{outcome: models.OutcomeSkipped}, nil
	}
	return stepResult{outcome: models.OutcomeAdvanced}, nil
}

func (e *Executor) store(ctx context.Context, ev models.SagaEvent, order models.Order) (stepResult, error) {
	created, err := e.warehouse.Register(ctx, ev)
	if err != nil {
		return stepResult{}, err
	}

	next, err := order.Status.TransitionTo(models.StatusCompleted)
	if err != nil {
		return stepResult{}, err
	}
	if err := e.storage.UpdateOrderStatus(ctx, order.ID, order.Status, next); err != nil {
		return stepResult{}, err
	}

	res := stepResult{outcome: models.OutcomeAdvanced, statusChanged: true, completed: true}
	if !created {
		res.outcome = models.OutcomeSkipped
	}
	return res, nil
}

// completeFromEnvelope finishes a saga delivered as a COMPLETE envelope.
// Orders without a recorded payment are never completed this way.
func (e *Executor) completeFromEnvelope(ctx context.Context, ev models.SagaEvent) error {
	var changed, unpaid bool
	err := withStorageRetry(ctx, e.cfg.Retry, func() error {
		changed, unpaid = false, false
		return e.storage.WithTx(ctx, func(ctx context.Context) error {
			order, err := e.storage.LockOrder(ctx, ev.OrderID)
			if err != nil {
				return err
			}
			if order.Status.IsTerminal() {
				return nil
			}
			paid, err := e.guard.HasSuccessfulPayment(ctx, order.ID)
			if err != nil {
				return err
			}
			if !paid {
				unpaid = true
				return nil
			}
			next, err := order.Status.TransitionTo(models.StatusCompleted)
			if err != nil {
				return err
			}
			if err := e.storage.UpdateOrderStatus(ctx, order.ID, order.Status, next); err != nil {
				return err
			}
			changed = true
			return e.storage.AppendSagaStep(ctx, e.record(ev, models.OutcomeFinished, nil))
		})
	})
	if errors.Is(err, domainErrors.ErrOrderNotFound) || errors.Is(err, domainErrors.ErrInvalidTransition) {
		e.raise(ctx, alert.Alert{
			Kind:    alert.KindUndeliverableMessage,
			OrderID: ev.OrderID,
			EventID: ev.EventID,
			Code:    domainErrors.Code(err),
			Reason:  "complete envelope rejected",
		})
		return nil
	}
	if err != nil {
		return err
	}
	if unpaid {
		e.raise(ctx, alert.Alert{
			Kind:    alert.KindUndeliverableMessage,
			OrderID: ev.OrderID,
			EventID: ev.EventID,
			Reason:  "complete envelope for unpaid order",
		})
		return nil
	}
	if changed {
		e.invalidate(ctx, ev.OrderID)
		metrics.SagaSteps.WithLabelValues(string(models.StepComplete), string(models.OutcomeFinished)).Inc()
		stepLogger(ev).InfoContext(ctx, "saga completed")
	}
	return nil
}

// fail moves the order to FAILED and raises an alert. It is a no-op for
// orders that are already terminal.
func (e *Executor) fail(ctx context.Context, ev models.SagaEvent, cause error) error {
	var changed bool
	err := withStorageRetry(ctx, e.cfg.Retry, func() error {
		changed = false
		return e.storage.WithTx(ctx, func(ctx context.Context) error {
			order, err := e.storage.LockOrder(ctx, ev.OrderID)
			if err != nil {
				return err
			}
			if order.Status.IsTerminal() {
				return nil
			}
			next, err := order.Status.TransitionTo(models.StatusFailed)
			if err != nil {
				return err
			}
			if err := e.storage.UpdateOrderStatus(ctx, order.ID, order.Status, next); err != nil {
				return err
			}
			changed = true
			return e.storage.AppendSagaStep(ctx, e.record(ev, models.OutcomeFailed, cause))
		})
	})
	if errors.Is(err, domainErrors.ErrOrderNotFound) {
		e.raise(ctx, alert.Alert{
			Kind:    alert.KindUndeliverableMessage,
			OrderID: ev.OrderID,
			EventID: ev.EventID,
			Code:    domainErrors.Code(err),
			Reason:  "failed envelope references unknown order",
		})
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	code := domainErrors.Code(cause)
	e.invalidate(ctx, ev.OrderID)
	metrics.SagaSteps.WithLabelValues(string(ev.ProcessingStep), string(models.OutcomeFailed)).Inc()
	metrics.SagaFailed.WithLabelValues(code).Inc()
	logger.LogErrorWithCode(ctx, cause, "saga failed",
		"order_id", ev.OrderID, "event_id", ev.EventID, "step", ev.ProcessingStep, "retry_count", ev.RetryCount)
	e.raise(ctx, alert.Alert{
		Kind:    alert.KindSagaFailed,
		OrderID: ev.OrderID,
		EventID: ev.EventID,
		Code:    code,
		Reason:  cause.Error(),
	})
	return nil
}

// compensate cancels a charge that could not be recorded and marks its
// attempt failed. A cancel failure leaves the attempt PROCESSING for the
// reconciliation sweep.
func (e *Executor) compensate(ctx context.Context, ev models.SagaEvent, lost *chargeNotPersisted) {
	log := stepLogger(ev).With("payment_id", lost.attempt.ID)

	start := time.Now()
	err := e.gateway.Cancel(ctx, lost.ref)
	metrics.GatewayLatency.WithLabelValues("cancel", resultLabel(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		e.raise(ctx, alert.Alert{
			Kind:      alert.KindCompensationFailed,
			OrderID:   ev.OrderID,
			EventID:   ev.EventID,
			PaymentID: lost.attempt.ID,
			Code:      domainErrors.Code(err),
			Reason:    "charge not recorded and cancel failed: " + err.Error(),
		})
		return
	}
	metrics.PaymentsCancelled.Inc()
	log.WarnContext(ctx, "unrecorded charge cancelled", "cause", lost.err)

	cancelled, err := lost.attempt.Fail("cancelled: "+domainErrors.Code(lost.err), e.now())
	if err != nil {
		return
	}
	if err := e.storage.UpdatePayment(ctx, cancelled); err != nil {
		log.WarnContext(ctx, "mark cancelled attempt failed", "error", err)
	}
}

func (e *Executor) chargeRequest(ev models.SagaEvent, order models.Order) (gateway.ChargeRequest, error) {
	p := ev.Request.PaymentRequest

	number, err := e.codec.Decrypt(p.CardNumber)
	if err != nil {
		return gateway.ChargeRequest{}, fmt.Errorf("card number: %w", err)
	}
	password, err := e.codec.Decrypt(p.CardPassword)
	if err != nil {
		return gateway.ChargeRequest{}, fmt.Errorf("card password: %w", err)
	}
	birthDate, err := e.codec.Decrypt(p.BirthDate)
	if err != nil {
		return gateway.ChargeRequest{}, fmt.Errorf("birth date: %w", err)
	}

	return gateway.ChargeRequest{
		OrderID:        order.ID,
		CardNumber:     number,
		CardPassword:   password,
		ExpirationDate: p.ExpirationDate,
		BirthDate:      birthDate,
		Amount:         order.Amount,
	}, nil
}

func (e *Executor) charge(ctx context.Context, req gateway.ChargeRequest) (string, error) {
	start := time.Now()
	ref, err := e.gateway.Charge(ctx, req)
	metrics.GatewayLatency.WithLabelValues("charge", resultLabel(err)).Observe(time.Since(start).Seconds())
	return ref, err
}

func (e *Executor) journal(ctx context.Context, ev models.SagaEvent, outcome models.StepOutcome, cause error) error {
	return withStorageRetry(ctx, e.cfg.Retry, func() error {
		return e.storage.AppendSagaStep(ctx, e.record(ev, outcome, cause))
	})
}

func (e *Executor) record(ev models.SagaEvent, outcome models.StepOutcome, cause error) models.SagaStepRecord {
	r := models.SagaStepRecord{
		EventID:    ev.EventID,
		OrderID:    ev.OrderID,
		Step:       ev.ProcessingStep,
		RetryCount: ev.RetryCount,
		Outcome:    outcome,
		CreatedAt:  e.now(),
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	return r
}

func (e *Executor) wait(ctx context.Context, retryCount int) error {
	d := e.retryDelay(retryCount)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) retryDelay(retryCount int) time.Duration {
	if e.cfg.RetryDelay <= 0 || retryCount < 1 {
		return 0
	}
	shift := retryCount - 1
	if shift > 10 {
		shift = 10
	}
	return e.cfg.RetryDelay << shift
}

func (e *Executor) invalidate(ctx context.Context, orderID int64) {
	if err := e.cache.Delete(ctx, order_cache.OrderKey(orderID)); err != nil {
		logger.Logger.WarnContext(ctx, "order cache invalidation failed", "order_id", orderID, "error", err)
	}
}

func (e *Executor) raise(ctx context.Context, a alert.Alert) {
	a.RaisedAt = e.now()
	if err := e.alerter.Alert(ctx, a); err != nil {
		logger.Logger.WarnContext(ctx, "alert delivery failed", "kind", a.Kind, "order_id", a.OrderID, "error", err)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, domainErrors.ErrPaymentAlreadyExists) ||
		errors.Is(err, domainErrors.ErrShipmentExists) ||
		errors.Is(err, domainErrors.ErrWarehouseItemExists)
}

func resultLabel(err error) string {
	if err == nil {
		return "OK"
	}
	return domainErrors.Code(err)
}

func stepLogger(ev models.SagaEvent) *slog.Logger {
	return logger.Logger.With(
		"order_id", ev.OrderID,
		"event_id", ev.EventID,
		"step", ev.ProcessingStep,
		"retry_count", ev.RetryCount,
	)
}
