package models

import "time"

type WarehouseStatus string

const (
	WarehouseInStorage           WarehouseStatus = "IN_STORAGE"
	WarehouseAssociatedWithOrder WarehouseStatus = "ASSOCIATED_WITH_ORDER"
	WarehouseRemoved             WarehouseStatus = "REMOVED"
	WarehouseOnAuction           WarehouseStatus = "ON_AUCTION"
	WarehouseSold                WarehouseStatus = "SOLD"
)

// Shipment is the receiver address registered against an order.
type Shipment struct {
	ID            string    `json:"id"`
	OrderID       int64     `json:"order_id"`
	ReceiverName  string    `json:"receiver_name"`
	ReceiverPhone string    `json:"receiver_phone"`
	PostalCode    string    `json:"postal_code"`
	Address       string    `json:"address"`
	CreatedAt     time.Time `json:"created_at"`
}

// WarehouseItem records that the ordered item stays in warehouse storage.
type WarehouseItem struct {
	ID        string          `json:"id"`
	OrderID   int64           `json:"order_id"`
	Status    WarehouseStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type StepOutcome string

const (
	OutcomeAdvanced StepOutcome = "ADVANCED"
	OutcomeSkipped  StepOutcome = "SKIPPED" // эффект уже есть
	OutcomeRetried  StepOutcome = "RETRIED"
	OutcomeFailed   StepOutcome = "FAILED"
	OutcomeFinished StepOutcome = "FINISHED"
)

// SagaStepRecord is one journal line of an executed step.
type SagaStepRecord struct {
	EventID    string         `json:"event_id"`
	OrderID    int64          `json:"order_id"`
	Step       ProcessingStep `json:"step"`
	RetryCount int            `json:"retry_count"`
	Outcome    StepOutcome    `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
