package order

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
	"marketplace/internal/mw"
	"marketplace/internal/service"
	"marketplace/internal/tools/logger"

	"github.com/go-chi/chi/v5"
)

// OrderService is what the HTTP layer needs from service.OrderService.
type OrderService interface {
	PlaceOrder(ctx context.Context, caller models.Caller, in service.PlaceOrderInput) (models.Order, error)
	GetOrder(ctx context.Context, caller models.Caller, id int64) (models.Order, error)
	ListPayments(ctx context.Context, caller models.Caller, orderID int64) ([]models.Payment, error)
	ListSagaSteps(ctx context.Context, caller models.Caller, orderID int64) ([]models.SagaStepRecord, error)
}

type Implementation struct {
	orderService OrderService
}

func New(orderService OrderService) *Implementation {
	return &Implementation{orderService: orderService}
}

// Mount registers the order routes on r. They expect mw.Authenticate in front.
func (i *Implementation) Mount(r chi.Router) {
	r.Post("/orders", i.PlaceOrder)
	r.Get("/orders/{id}", i.GetOrder)
	r.Get("/orders/{id}/payments", i.ListPayments)
	r.Get("/orders/{id}/steps", i.ListSagaSteps)
}

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domainErrors.ErrInvalidInput
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.WarnContext(r.Context(), "failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if mw.HTTPStatus(err) >= http.StatusInternalServerError {
		logger.LogErrorWithCode(r.Context(), err, "request failed", "path", r.URL.Path)
	}
	mw.WriteError(w, err)
}
