package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
	"marketplace/internal/order_cache"
	"marketplace/internal/storage"
	"marketplace/internal/tools/logger"

	"github.com/shopspring/decimal"
)

type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// PlaceOrderInput is a matched order together with plaintext card data.
type PlaceOrderInput struct {
	OrderID          int64
	BuyerID          int64
	SellerID         int64
	BuyerEmail       string
	Amount           decimal.Decimal
	Payment          models.PaymentRequest
	ReceiverName     string
	ReceiverPhone    string
	PostalCode       string
	Address          string
	WarehouseStorage bool
}

// OrderService accepts matched orders into the saga and serves order views
// to their buyer and seller.
type OrderService struct {
	storage   storage.Storage
	publisher Publisher
	codec     Encrypter
	cache     order_cache.Cache
	now       func() time.Time
}

func NewOrderService(storage storage.Storage, publisher Publisher, codec Encrypter, cache order_cache.Cache) *OrderService {
	if cache == nil {
		cache = order_cache.Noop{}
	}
	return &OrderService{
		storage:   storage,
		publisher: publisher,
		codec:     codec,
		cache:     cache,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder stores the order in CREATED and publishes its STARTED envelope.
// Placing an order that is still CREATED again republishes the same
// envelope, so a lost publish can be recovered by the caller.
func (s *OrderService) PlaceOrder(ctx context.Context, caller models.Caller, in PlaceOrderInput) (models.Order, error) {
	if caller.UserID == 0 {
		return models.Order{}, domainErrors.ErrUnauthenticated
	}
	if caller.UserID != in.BuyerID {
		return models.Order{}, fmt.Errorf("%w: only the buyer can place an order", domainErrors.ErrForbidden)
	}
	if in.BuyerEmail == "" {
		in.BuyerEmail = caller.Email
	}

	now := s.now().Truncate(time.Microsecond)
	order := models.Order{
		ID:         in.OrderID,
		BuyerID:    in.BuyerID,
		SellerID:   in.SellerID,
		BuyerEmail: in.BuyerEmail,
		Amount:     in.Amount,
		Status:     models.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := order.Validate(); err != nil {
		return models.Order{}, err
	}

	req, err := s.sealRequest(in)
	if err != nil {
		return models.Order{}, err
	}
	ev := models.NewSagaEvent(order.ID, order.BuyerEmail, req, order.CreatedAt)
	if err := ev.Validate(); err != nil {
		return models.Order{}, err
	}

	err = s.storage.CreateOrder(ctx, order)
	if errors.Is(err, domainErrors.ErrDuplicateOrder) {
		existing, getErr := s.storage.GetOrder(ctx, order.ID)
		if getErr != nil {
			return models.Order{}, getErr
		}
		if existing.Status != models.StatusCreated || existing.BuyerID != order.BuyerID || !existing.Amount.Equal(order.Amount) {
			return models.Order{}, err
		}
		order = existing
		ev = models.NewSagaEvent(existing.ID, existing.BuyerEmail, req, existing.CreatedAt)
		logger.Logger.InfoContext(ctx, "order already placed, republishing envelope", "order_id", order.ID, "event_id", ev.EventID)
	} else if err != nil {
		return models.Order{}, err
	} else {
		metrics.OrdersPlaced.Inc()
	}

	if err := s.publisher.Publish(ctx, ev); err != nil {
		return models.Order{}, err
	}
	logger.Logger.InfoContext(ctx, "order placed", "order_id", order.ID, "event_id", ev.EventID)
	return order, nil
}

// sealRequest builds the saga payload with the sensitive card fields encrypted.
func (s *OrderService) sealRequest(in PlaceOrderInput) (models.SagaRequest, error) {
	p := in.Payment
	sealed := models.PaymentRequest{
		ExpirationDate: p.ExpirationDate,
		Amount:         in.Amount,
	}

	var err error
	if sealed.CardNumber, err = s.encrypt(p.CardNumber); err != nil {
		return models.SagaRequest{}, err
	}
	if sealed.CardPassword, err = s.encrypt(p.CardPassword); err != nil {
		return models.SagaRequest{}, err
	}
	if sealed.BirthDate, err = s.encrypt(p.BirthDate); err != nil {
		return models.SagaRequest{}, err
	}

	return models.SagaRequest{
		PaymentRequest:   sealed,
		ReceiverName:     in.ReceiverName,
		ReceiverPhone:    in.ReceiverPhone,
		PostalCode:       in.PostalCode,
		Address:          in.Address,
		WarehouseStorage: in.WarehouseStorage,
	}, nil
}

// encrypt leaves empty values empty so validation reports them as missing.
func (s *OrderService) encrypt(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.codec.Encrypt(v)
}

func (s *OrderService) GetOrder(ctx context.Context, caller models.Caller, id int64) (models.Order, error) {
	if caller.UserID == 0 {
		return models.Order{}, domainErrors.ErrUnauthenticated
	}

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if !order.IsParty(caller) {
		return models.Order{}, domainErrors.ErrForbidden
	}
	return order, nil
}

func (s *OrderService) ListPayments(ctx context.Context, caller models.Caller, orderID int64) ([]models.Payment, error) {
	if _, err := s.GetOrder(ctx, caller, orderID); err != nil {
		return nil, err
	}
	return s.storage.ListPayments(ctx, orderID)
}

func (s *OrderService) ListSagaSteps(ctx context.Context, caller models.Caller, orderID int64) ([]models.SagaStepRecord, error) {
	if _, err := s.GetOrder(ctx, caller, orderID); err != nil {
		return nil, err
	}
	return s.storage.ListSagaSteps(ctx, orderID)
}

// loadOrder reads through the cache. Only terminal orders are cached: they
// never change again, so a read racing an executor commit cannot leave a
// stale view behind.
func (s *OrderService) loadOrder(ctx context.Context, id int64) (models.Order, error) {
	key := order_cache.OrderKey(id)

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var order models.Order
		if err := json.Unmarshal([]byte(cached), &order); err == nil {
			return order, nil
		}
	} else if !errors.Is(err, order_cache.ErrMiss) {
		logger.Logger.WarnContext(ctx, "order cache read failed", "order_id", id, "error", err)
	}

	order, err := s.storage.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if !order.Status.IsTerminal() {
		return order, nil
	}

	if data, err := json.Marshal(order); err == nil {
		if err := s.cache.Set(ctx, key, string(data)); err != nil {
			logger.Logger.WarnContext(ctx, "order cache write failed", "order_id", id, "error", err)
		}
	}
	return order, nil
}
