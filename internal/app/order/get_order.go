package order

import (
	"net/http"

	"marketplace/internal/models"
	"marketplace/internal/mw"
)

func (i *Implementation) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	order, err := i.orderService.GetOrder(r.Context(), mw.CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, order)
}

type paymentsResponse struct {
	Payments []models.Payment `json:"payments"`
}

func (i *Implementation) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payments, err := i.orderService.ListPayments(r.Context(), mw.CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	writeJSON(w, r, http.StatusOK, paymentsResponse{Payments: payments})
}

type stepsResponse struct {
	Steps []models.SagaStepRecord `json:"steps"`
}

func (i *Implementation) ListSagaSteps(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	steps, err := i.orderService.ListSagaSteps(r.Context(), mw.CallerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if steps == nil {
		steps = []models.SagaStepRecord{}
	}
	writeJSON(w, r, http.StatusOK, stepsResponse{Steps: steps})
}
