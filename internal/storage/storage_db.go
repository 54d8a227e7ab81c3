package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PgStorage struct {
	pool *pgxpool.Pool
}

func NewPgStorage(pool *pgxpool.Pool) *PgStorage {
	return &PgStorage{pool: pool}
}

func (ps *PgStorage) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, ps.pool, fn)
}

const orderColumns = `id, buyer_id, seller_id, buyer_email, amount::text, status, created_at, updated_at`

func (ps *PgStorage) CreateOrder(ctx context.Context, order models.Order) error {
	const query = `
		INSERT INTO orders (id, buyer_id, seller_id, buyer_email, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
	`
	_, err := ps.exec(ctx, query,
		order.ID,
		order.BuyerID,
		order.SellerID,
		order.BuyerEmail,
		order.Amount.String(),
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrDuplicateOrder
		}
		return wrapConnError("create order", err)
	}
	return nil
}

func (ps *PgStorage) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return ps.scanOrder(ps.queryRow(ctx, query, id))
}

func (ps *PgStorage) LockOrder(ctx context.Context, id int64) (models.Order, error) {
	// NO KEY UPDATE не блокирует вставку строк со ссылкой на заказ
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR NO KEY UPDATE`
	return ps.scanOrder(ps.queryRow(ctx, query, id))
}

func (ps *PgStorage) UpdateOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	const query = `UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`

	tag, err := ps.exec(ctx, query, id, from, to)
	if err != nil {
		return wrapConnError("update order status", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := ps.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: stored %s, expected %s", domainErrors.ErrInvalidTransition, current.Status, from)
}

func (ps *PgStorage) HasSuccessfulPayment(ctx context.Context, orderID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND success)`

	var exists bool
	if err := ps.queryRow(ctx, query, orderID).Scan(&exists); err != nil {
		return false, wrapConnError("check payment", err)
	}
	return exists, nil
}

func (ps *PgStorage) CreatePaymentAttempt(ctx context.Context, p models.Payment) error {
	const query = `
		INSERT INTO payments (id, order_id, amount, success, status, transaction_ref, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`
	_, err := ps.exec(withoutTx(ctx), query,
		p.ID, p.OrderID, p.Amount.String(), p.Success, p.Status, p.TransactionRef, p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrPaymentAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return domainErrors.ErrOrderNotFound
		}
		return wrapConnError("create payment attempt", err)
	}
	return nil
}

func (ps *PgStorage) UpdatePayment(ctx context.Context, p models.Payment) error {
	const query = `
		UPDATE payments
		SET success = $2, status = $3, transaction_ref = NULLIF($4, ''), failure_reason = NULLIF($5, ''), updated_at = $6
		WHERE id = $1
	`
	tag, err := ps.exec(ctx, query, p.ID, p.Success, p.Status, p.TransactionRef, p.FailureReason, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrPaymentAlreadyExists
		}
		return wrapConnError("update payment", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPaymentNotFound
	}
	return nil
}

const paymentColumns = `id::text, order_id, amount::text, success, status, COALESCE(transaction_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at`

func (ps *PgStorage) ListPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at, id`
	return ps.queryPayments(ctx, query, orderID)
}

func (ps *PgStorage) ListStalePayments(ctx context.Context, before time.Time) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE status = 'PROCESSING' AND created_at < $1 ORDER BY created_at`
	return ps.queryPayments(ctx, query, before)
}

func (ps *PgStorage) GetShipmentByOrderID(ctx context.Context, orderID int64) (*models.Shipment, error) {
	const query = `
		SELECT id::text, order_id, receiver_name, receiver_phone, postal_code, address, created_at
		FROM shipments WHERE order_id = $1
	`
	var s models.Shipment
	err := ps.queryRow(ctx, query, orderID).Scan(
		&s.ID, &s.OrderID, &s.ReceiverName, &s.ReceiverPhone, &s.PostalCode, &s.Address, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapConnError("get shipment", err)
	}
	return &s, nil
}

func (ps *PgStorage) CreateShipment(ctx context.Context, s models.Shipment) error {
	const query = `
		INSERT INTO shipments (id, order_id, receiver_name, receiver_phone, postal_code, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := ps.exec(ctx, query, s.ID, s.OrderID, s.ReceiverName, s.ReceiverPhone, s.PostalCode, s.Address, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrShipmentExists
		}
		return wrapConnError("create shipment", err)
	}
	return nil
}

func (ps *PgStorage) GetWarehouseItemByOrderID(ctx context.Context, orderID int64) (*models.WarehouseItem, error) {
	const query = `SELECT id::text, order_id, status, created_at FROM warehouse_items WHERE order_id = $1`

	var w models.WarehouseItem
	err := ps.queryRow(ctx, query, orderID).Scan(&w.ID, &w.OrderID, &w.Status, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapConnError("get warehouse item", err)
	}
	return &w, nil
}

func (ps *PgStorage) CreateWarehouseItem(ctx context.Context, w models.WarehouseItem) error {
	const query = `INSERT INTO warehouse_items (id, order_id, status, created_at) VALUES ($1, $2, $3, $4)`

	_, err := ps.exec(ctx, query, w.ID, w.OrderID, w.Status, w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrWarehouseItemExists
		}
		return wrapConnError("create warehouse item", err)
	}
	return nil
}

func (ps *PgStorage) AppendSagaStep(ctx context.Context, r models.SagaStepRecord) error {
	const query = `
		INSERT INTO saga_steps (event_id, order_id, step, retry_count, outcome, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`
	_, err := ps.exec(ctx, query, r.EventID, r.OrderID, r.Step, r.RetryCount, r.Outcome, r.Error, r.CreatedAt)
	if err != nil {
		return wrapConnError("append saga step", err)
	}
	return nil
}

func (ps *PgStorage) ListSagaSteps(ctx context.Context, orderID int64) ([]models.SagaStepRecord, error) {
	const query = `
		SELECT event_id, order_id, step, retry_count, outcome, COALESCE(error, ''), created_at
		FROM saga_steps WHERE order_id = $1 ORDER BY id
	`
	rows, err := ps.query(ctx, query, orderID)
	if err != nil {
		return nil, wrapConnError("list saga steps", err)
	}
	defer rows.Close()

	var records []models.SagaStepRecord
	for rows.Next() {
		var r models.SagaStepRecord
		if err := rows.Scan(&r.EventID, &r.OrderID, &r.Step, &r.RetryCount, &r.Outcome, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (ps *PgStorage) scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o      models.Order
		amount string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.BuyerEmail, &amount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, domainErrors.ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, wrapConnError("get order", err)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Order{}, fmt.Errorf("parse amount: %w", err)
	}
	return o, nil
}

func (ps *PgStorage) queryPayments(ctx context.Context, query string, args ...any) ([]models.Payment, error) {
	rows, err := ps.query(ctx, query, args...)
	if err != nil {
		return nil, wrapConnError("list payments", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var (
			p      models.Payment
			amount string
		)
		err := rows.Scan(&p.ID, &p.OrderID, &amount, &p.Success, &p.Status, &p.TransactionRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (ps *PgStorage) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return ps.pool.Exec(ctx, sql, args...)
}

func (ps *PgStorage) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return ps.pool.QueryRow(ctx, sql, args...)
}

func (ps *PgStorage) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return ps.pool.Query(ctx, sql, args...)
}
