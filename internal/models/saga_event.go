package models

import (
	"fmt"
	"strings"
	"time"

	"marketplace/internal/models/domainErrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProcessingStep string

const (
	StepStarted   ProcessingStep = "STARTED"
	StepPayment   ProcessingStep = "PAYMENT"
	StepShipment  ProcessingStep = "SHIPMENT"
	StepWarehouse ProcessingStep = "WAREHOUSE"
	StepComplete  ProcessingStep = "COMPLETE"
	StepFailed    ProcessingStep = "FAILED"
)

// DefaultMaxRetries is the retry budget of a single step.
const DefaultMaxRetries = 3

var nextStep = map[ProcessingStep]ProcessingStep{
	StepStarted:   StepPayment,
	StepPayment:   StepShipment,
	StepShipment:  StepWarehouse,
	StepWarehouse: StepComplete,
}

// eventNamespace scopes the SHA-1 event ids of saga envelopes.
var eventNamespace = uuid.MustParse("5b3c1f0e-7d1a-4f7e-9a51-2f6d0c8e4a11")

// IsTerminal reports whether the step ends the saga.
func (s ProcessingStep) IsTerminal() bool {
	return s == StepComplete || s == StepFailed
}

// ParseProcessingStep parses s, returning ErrUnknownStep for unknown values.
func ParseProcessingStep(s string) (ProcessingStep, error) {
	step := ProcessingStep(strings.ToUpper(strings.TrimSpace(s)))
	switch step {
	case StepStarted, StepPayment, StepShipment, StepWarehouse, StepComplete, StepFailed:
		return step, nil
	}
	return "", fmt.Errorf("%w: %q", domainErrors.ErrUnknownStep, s)
}

// PaymentRequest carries the card data. CardNumber, CardPassword and
// BirthDate hold codec ciphertext while the request travels in an envelope.
type PaymentRequest struct {
	CardNumber     string          `json:"cardNumber"`
	CardPassword   string          `json:"cardPassword"`
	ExpirationDate string          `json:"expirationDate"`
	BirthDate      string          `json:"birthDate"`
	Amount         decimal.Decimal `json:"amount"`
}

// SagaRequest is the fulfillment payload of an order.
type SagaRequest struct {
	PaymentRequest   PaymentRequest `json:"paymentRequest"`
	ReceiverName     string         `json:"receiverName"`
	ReceiverPhone    string         `json:"receiverPhone"`
	PostalCode       string         `json:"postalCode"`
	Address          string         `json:"address"`
	WarehouseStorage bool           `json:"warehouseStorage"`
}

// SagaEvent is the envelope travelling through the saga log. Values are
// never mutated: progressing the saga builds a successor with the same EventID.
type SagaEvent struct {
	OrderID        int64          `json:"orderId"`
	UserEmail      string         `json:"userEmail"`
	Request        SagaRequest    `json:"requestDto"`
	EventCreatedAt time.Time      `json:"eventCreatedAt"`
	RetryCount     int            `json:"retryCount"`
	EventID        string         `json:"eventId"`
	ProcessingStep ProcessingStep `json:"processingStep"`
}

// NewSagaEvent builds the first envelope of an order's saga.
func NewSagaEvent(orderID int64, userEmail string, req SagaRequest, createdAt time.Time) SagaEvent {
	return SagaEvent{
		OrderID:        orderID,
		UserEmail:      userEmail,
		Request:        req,
		EventCreatedAt: createdAt,
		RetryCount:     0,
		EventID:        EventIDFor(orderID, createdAt),
		ProcessingStep: StepStarted,
	}
}

// EventIDFor derives the stable event id from the order id and creation time.
// Microsecond precision matches what Postgres keeps for timestamptz.
func EventIDFor(orderID int64, createdAt time.Time) string {
	name := fmt.Sprintf("%d:%d", orderID, createdAt.UTC().UnixMicro())
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// Retry returns the successor that re-runs the current step.
func (e SagaEvent) Retry() SagaEvent {
	e.RetryCount++
	return e
}

// Advance returns the successor for the next step with a fresh retry budget.
func (e SagaEvent) Advance() (SagaEvent, error) {
	next, ok := nextStep[e.ProcessingStep]
	if !ok {
		return e, fmt.Errorf("%w: cannot advance from %s", domainErrors.ErrUnknownStep, e.ProcessingStep)
	}
	e.ProcessingStep = next
	e.RetryCount = 0
	return e, nil
}

// Fail returns the successor in the terminal FAILED step.
func (e SagaEvent) Fail() SagaEvent {
	e.ProcessingStep = StepFailed
	return e
}

// IsMaxRetryExceeded reports whether the retry budget is spent.
func (e SagaEvent) IsMaxRetryExceeded(maxRetries int) bool {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return e.RetryCount >= maxRetries
}

// Validate checks the payload shape before the saga starts spending money.
func (e SagaEvent) Validate() error {
	var problems []string
	if e.OrderID <= 0 {
		problems = append(problems, "orderId")
	}
	if e.EventID == "" {
		problems = append(problems, "eventId")
	}
	if !strings.Contains(e.UserEmail, "@") {
		problems = append(problems, "userEmail")
	}
	r := e.Request
	if strings.TrimSpace(r.ReceiverName) == "" {
		problems = append(problems, "receiverName")
	}
	if strings.TrimSpace(r.ReceiverPhone) == "" {
		problems = append(problems, "receiverPhone")
	}
	if strings.TrimSpace(r.PostalCode) == "" {
		problems = append(problems, "postalCode")
	}
	if strings.TrimSpace(r.Address) == "" {
		problems = append(problems, "address")
	}
	p := r.PaymentRequest
	if p.CardNumber == "" || p.CardPassword == "" || p.BirthDate == "" {
		problems = append(problems, "paymentRequest.card")
	}
	if p.ExpirationDate == "" {
		problems = append(problems, "paymentRequest.expirationDate")
	}
	if !ValidAmount(p.Amount) {
		problems = append(problems, "paymentRequest.amount")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domainErrors.ErrValidationFailed, strings.Join(problems, ", "))
	}
	return nil
}
