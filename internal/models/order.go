package models

import (
	"fmt"
	"time"

	"marketplace/internal/models/domainErrors"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusCreated    OrderStatus = "CREATED"    // создан при матчинге заявок
	StatusProcessing OrderStatus = "PROCESSING" // saga в работе
	StatusCompleted  OrderStatus = "COMPLETED"  // все шаги выполнены
	StatusFailed     OrderStatus = "FAILED"     // терминальная ошибка
)

// Order is a matched buy/sell transaction.
type Order struct {
	ID         int64           `json:"id"`
	BuyerID    int64           `json:"buyer_id"`
	SellerID   int64           `json:"seller_id"`
	BuyerEmail string          `json:"buyer_email"`
	Amount     decimal.Decimal `json:"amount"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusCreated:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransitionTo validates s -> next against the order lifecycle and returns next.
func (s OrderStatus) TransitionTo(next OrderStatus) (OrderStatus, error) {
	if s.IsTerminal() {
		return s, fmt.Errorf("%w: %s -> %s", domainErrors.ErrOrderTerminal, s, next)
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", domainErrors.ErrInvalidTransition, s, next)
}

// IsParty reports whether the caller is the buyer or the seller.
func (o Order) IsParty(c Caller) bool {
	return c.UserID != 0 && (c.UserID == o.BuyerID || c.UserID == o.SellerID)
}

// AmountScale is the number of decimal places money is stored with.
const AmountScale = 2

// ValidAmount reports whether d is positive and fits AmountScale without
// rounding.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(AmountScale))
}

// Validate checks the attributes set at match time.
func (o Order) Validate() error {
	if o.ID <= 0 || o.BuyerID <= 0 || o.SellerID <= 0 {
		return domainErrors.ErrValidationFailed
	}
	if o.BuyerID == o.SellerID {
		return domainErrors.ErrValidationFailed
	}
	if !ValidAmount(o.Amount) {
		return fmt.Errorf("%w: amount must be positive with at most %d decimal places", domainErrors.ErrValidationFailed, AmountScale)
	}
	return nil
}

// Caller is the authenticated identity performing an operation.
type Caller struct {
	UserID int64
	Email  string
}
