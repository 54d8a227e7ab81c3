package storage

import (
	"context"
	"time"

	"marketplace/internal/models"
)

// Storage persists orders and the effects of saga steps.
//
// Methods called with a context returned by WithTx run inside that
// transaction. CreatePaymentAttempt is the exception: it always commits on
// its own so the attempt survives a crash of the enclosing step.
type Storage interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateOrder(ctx context.Context, order models.Order) error
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	// LockOrder reads the order and holds a row lock until the transaction ends.
	LockOrder(ctx context.Context, id int64) (models.Order, error)
	// UpdateOrderStatus moves the order from -> to, failing with
	// ErrInvalidTransition when the stored status is not from.
	UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) error

	HasSuccessfulPayment(ctx context.Context, orderID int64) (bool, error)
	CreatePaymentAttempt(ctx context.Context, payment models.Payment) error
	// UpdatePayment returns ErrPaymentAlreadyExists when another attempt of
	// the same order already succeeded.
	UpdatePayment(ctx context.Context, payment models.Payment) error
	ListPayments(ctx context.Context, orderID int64) ([]models.Payment, error)
	ListStalePayments(ctx context.Context, before time.Time) ([]models.Payment, error)

	GetShipmentByOrderID(ctx context.Context, orderID int64) (*models.Shipment, error)
	CreateShipment(ctx context.Context, shipment models.Shipment) error
	GetWarehouseItemByOrderID(ctx context.Context, orderID int64) (*models.WarehouseItem, error)
	CreateWarehouseItem(ctx context.Context, item models.WarehouseItem) error

	AppendSagaStep(ctx context.Context, record models.SagaStepRecord) error
	ListSagaSteps(ctx context.Context, orderID int64) ([]models.SagaStepRecord, error)
}
