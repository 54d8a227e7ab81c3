package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
	"marketplace/internal/storage"

	"github.com/google/uuid"
)

// ShipmentRegistrar stores the receiver address of an order once.
type ShipmentRegistrar struct {
	storage storage.Storage
	now     func() time.Time
}

func NewShipmentRegistrar(storage storage.Storage, now func() time.Time) *ShipmentRegistrar {
	return &ShipmentRegistrar{storage: storage, now: now}
}

// Register returns false when the shipment already existed.
func (r *ShipmentRegistrar) Register(ctx context.Context, ev models.SagaEvent) (bool, error) {
	existing, err := r.storage.GetShipmentByOrderID(ctx, ev.OrderID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	req := ev.Request
	if strings.TrimSpace(req.ReceiverName) == "" || strings.TrimSpace(req.Address) == "" || strings.TrimSpace(req.PostalCode) == "" {
		return false, fmt.Errorf("%w: incomplete receiver address", domainErrors.ErrShipmentRegistration)
	}

	shipment := models.Shipment{
		ID:            uuid.NewString(),
		OrderID:       ev.OrderID,
		ReceiverName:  req.ReceiverName,
		ReceiverPhone: req.ReceiverPhone,
		PostalCode:    req.PostalCode,
		Address:       req.Address,
		CreatedAt:     r.now(),
	}
	if err := r.storage.CreateShipment(ctx, shipment); err != nil {
		return false, err
	}
	return true, nil
}

// WarehouseRegistrar creates the storage record for orders that asked to
// keep the item in the warehouse.
type WarehouseRegistrar struct {
	storage storage.Storage
	now     func() time.Time
}

func NewWarehouseRegistrar(storage storage.Storage, now func() time.Time) *WarehouseRegistrar {
	return &WarehouseRegistrar{storage: storage, now: now}
}

// Register returns false when nothing was created: either storage was not
// requested or the record already exists.
func (r *WarehouseRegistrar) Register(ctx context.Context, ev models.SagaEvent) (bool, error) {
	if !ev.Request.WarehouseStorage {
		return false, nil
	}
	existing, err := r.storage.GetWarehouseItemByOrderID(ctx, ev.OrderID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	item := models.WarehouseItem{
		ID:        uuid.NewString(),
		OrderID:   ev.OrderID,
		Status:    models.WarehouseInStorage,
		CreatedAt: r.now(),
	}
	if err := r.storage.CreateWarehouseItem(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}
