package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
)

type memTxKey struct{}

// memTx collects undo actions for the keys a transaction wrote. They run
// under mu in reverse order on rollback, so writes made outside the
// transaction are kept.
type memTx struct {
	undo []func()
}

func memTxFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (tx *memTx) onRollback(fn func()) {
	if tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

// MemoryStorage keeps everything in maps. Transactions are serialised with
// each other and undone key by key. Used by tests and by the server when no
// DSN is configured.
type MemoryStorage struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	orders     map[int64]models.Order
	payments   map[string]models.Payment
	paymentSeq []string
	shipments  map[int64]models.Shipment
	warehouse  map[int64]models.WarehouseItem
	steps      []models.SagaStepRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		orders:    make(map[int64]models.Order),
		payments:  make(map[string]models.Payment),
		shipments: make(map[int64]models.Shipment),
		warehouse: make(map[int64]models.WarehouseItem),
	}
}

func (ms *MemoryStorage) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if memTxFrom(ctx) != nil {
		return fn(ctx)
	}

	ms.txMu.Lock()
	defer ms.txMu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		ms.rollback(tx)
		return err
	}
	return nil
}

func (ms *MemoryStorage) rollback(tx *memTx) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func (ms *MemoryStorage) CreateOrder(ctx context.Context, order models.Order) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.orders[order.ID]; ok {
		return domainErrors.ErrDuplicateOrder
	}
	ms.orders[order.ID] = order
	memTxFrom(ctx).onRollback(func() { delete(ms.orders, order.ID) })
	return nil
}

func (ms *MemoryStorage) GetOrder(_ context.Context, id int64) (models.Order, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	order, ok := ms.orders[id]
	if !ok {
		return models.Order{}, domainErrors.ErrOrderNotFound
	}
	return order, nil
}

// LockOrder relies on WithTx serialisation; there is no per-row lock.
func (ms *MemoryStorage) LockOrder(ctx context.Context, id int64) (models.Order, error) {
	return ms.GetOrder(ctx, id)
}

func (ms *MemoryStorage) UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	order, ok := ms.orders[id]
	if !ok {
		return domainErrors.ErrOrderNotFound
	}
	if order.Status != from {
		return fmt.Errorf("%w: stored %s, expected %s", domainErrors.ErrInvalidTransition, order.Status, from)
	}
	prev := order
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	ms.orders[id] = order
	memTxFrom(ctx).onRollback(func() { ms.orders[id] = prev })
	return nil
}

func (ms *MemoryStorage) HasSuccessfulPayment(_ context.Context, orderID int64) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, p := range ms.payments {
		if p.OrderID == orderID && p.Success {
			return true, nil
		}
	}
	return false, nil
}

// CreatePaymentAttempt commits on its own even inside WithTx.
func (ms *MemoryStorage) CreatePaymentAttempt(_ context.Context, p models.Payment) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.orders[p.OrderID]; !ok {
		return domainErrors.ErrOrderNotFound
	}
	if _, ok := ms.payments[p.ID]; ok {
		return fmt.Errorf("payment %s: %w", p.ID, domainErrors.ErrPaymentAlreadyExists)
	}
	if p.Success && ms.hasSuccessLocked(p.OrderID, p.ID) {
		return domainErrors.ErrPaymentAlreadyExists
	}
	ms.payments[p.ID] = p
	ms.paymentSeq = append(ms.paymentSeq, p.ID)
	return nil
}

func (ms *MemoryStorage) UpdatePayment(ctx context.Context, p models.Payment) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	prev, ok := ms.payments[p.ID]
	if !ok {
		return domainErrors.ErrPaymentNotFound
	}
	if p.Success && ms.hasSuccessLocked(p.OrderID, p.ID) {
		return domainErrors.ErrPaymentAlreadyExists
	}
	ms.payments[p.ID] = p
	memTxFrom(ctx).onRollback(func() { ms.payments[p.ID] = prev })
	return nil
}

func (ms *MemoryStorage) hasSuccessLocked(orderID int64, exceptID string) bool {
	for id, p := range ms.payments {
		if id != exceptID && p.OrderID == orderID && p.Success {
			return true
		}
	}
	return false
}

func (ms *MemoryStorage) ListPayments(_ context.Context, orderID int64) ([]models.Payment, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var res []models.Payment
	for _, id := range ms.paymentSeq {
		if p, ok := ms.payments[id]; ok && p.OrderID == orderID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (ms *MemoryStorage) ListStalePayments(_ context.Context, before time.Time) ([]models.Payment, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var res []models.Payment
	for _, id := range ms.paymentSeq {
		p, ok := ms.payments[id]
		if ok && p.Status == models.PaymentProcessing && p.CreatedAt.Before(before) {
			res = append(res, p)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (ms *MemoryStorage) GetShipmentByOrderID(_ context.Context, orderID int64) (*models.Shipment, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.shipments[orderID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (ms *MemoryStorage) CreateShipment(ctx context.Context, s models.Shipment) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.orders[s.OrderID]; !ok {
		return domainErrors.ErrOrderNotFound
	}
	if _, ok := ms.shipments[s.OrderID]; ok {
		return domainErrors.ErrShipmentExists
	}
	ms.shipments[s.OrderID] = s
	memTxFrom(ctx).onRollback(func() { delete(ms.shipments, s.OrderID) })
	return nil
}

func (ms *MemoryStorage) GetWarehouseItemByOrderID(_ context.Context, orderID int64) (*models.WarehouseItem, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	w, ok := ms.warehouse[orderID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (ms *MemoryStorage) CreateWarehouseItem(ctx context.Context, w models.WarehouseItem) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.orders[w.OrderID]; !ok {
		return domainErrors.ErrOrderNotFound
	}
	if _, ok := ms.warehouse[w.OrderID]; ok {
		return domainErrors.ErrWarehouseItemExists
	}
	ms.warehouse[w.OrderID] = w
	memTxFrom(ctx).onRollback(func() { delete(ms.warehouse, w.OrderID) })
	return nil
}

func (ms *MemoryStorage) AppendSagaStep(ctx context.Context, r models.SagaStepRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	idx := len(ms.steps)
	ms.steps = append(ms.steps, r)
	// снаружи транзакции записи только дописываются, индекс не сдвигается
	memTxFrom(ctx).onRollback(func() { ms.steps = slices.Delete(ms.steps, idx, idx+1) })
	return nil
}

func (ms *MemoryStorage) ListSagaSteps(_ context.Context, orderID int64) ([]models.SagaStepRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var res []models.SagaStepRecord
	for _, r := range ms.steps {
		if r.OrderID == orderID {
			res = append(res, r)
		}
	}
	return res, nil
}
