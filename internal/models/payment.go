package models

import (
	"fmt"
	"time"

	"marketplace/internal/models/domainErrors"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSuccess    PaymentStatus = "SUCCESS"
	PaymentFailed     PaymentStatus = "FAILED"
)

// Payment is one attempt to charge an order. At most one attempt per order
// carries Success=true.
type Payment struct {
	ID             string          `json:"id"`
	OrderID        int64           `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Success        bool            `json:"success"`
	Status         PaymentStatus   `json:"status"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentFailed},
	PaymentProcessing: {PaymentSuccess, PaymentFailed},
}

// TransitionTo validates s -> next and returns next.
func (s PaymentStatus) TransitionTo(next PaymentStatus) (PaymentStatus, error) {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("%w: payment %s -> %s", domainErrors.ErrInvalidTransition, s, next)
}

// Succeed returns a copy of p finalised as the successful charge.
func (p Payment) Succeed(ref string, now time.Time) (Payment, error) {
	status, err := p.Status.TransitionTo(PaymentSuccess)
	if err != nil {
		return p, err
	}
	p.Status = status
	p.Success = true
	p.TransactionRef = ref
	p.FailureReason = ""
	p.UpdatedAt = now
	return p, nil
}

// Fail returns a copy of p finalised as failed with reason.
func (p Payment) Fail(reason string, now time.Time) (Payment, error) {
	status, err := p.Status.TransitionTo(PaymentFailed)
	if err != nil {
		return p, err
	}
	p.Status = status
	p.Success = false
	p.FailureReason = reason
	p.UpdatedAt = now
	return p, nil
}
