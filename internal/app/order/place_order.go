package order

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"
	"marketplace/internal/mw"
	"marketplace/internal/service"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
)

const maxBodyBytes = 64 << 10

const placeOrderSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["order_id", "buyer_id", "seller_id", "amount", "payment", "receiver_name", "receiver_phone", "postal_code", "address"],
  "properties": {
    "order_id": { "type": "integer", "minimum": 1 },
    "buyer_id": { "type": "integer", "minimum": 1 },
    "seller_id": { "type": "integer", "minimum": 1 },
    "buyer_email": { "type": "string", "pattern": "^[^@\\s]+@[^@\\s]+$" },
    "amount": {
      "oneOf": [
        { "type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,2})?$" },
        { "type": "number", "exclusiveMinimum": 0, "multipleOf": 0.01 }
      ]
    },
    "payment": {
      "type": "object",
      "required": ["card_number", "card_password", "expiration_date", "birth_date"],
      "properties": {
        "card_number": { "type": "string", "pattern": "^[0-9 -]{12,23}$" },
        "card_password": { "type": "string", "minLength": 1 },
        "expiration_date": { "type": "string", "minLength": 1 },
        "birth_date": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "receiver_name": { "type": "string", "minLength": 1 },
    "receiver_phone": { "type": "string", "minLength": 1 },
    "postal_code": { "type": "string", "minLength": 1 },
    "address": { "type": "string", "minLength": 1 },
    "warehouse_storage": { "type": "boolean" }
  },
  "additionalProperties": false
}`

var placeOrderLoader = gojsonschema.NewStringLoader(placeOrderSchema)

type placeOrderRequest struct {
	OrderID          int64           `json:"order_id"`
	BuyerID          int64           `json:"buyer_id"`
	SellerID         int64           `json:"seller_id"`
	BuyerEmail       string          `json:"buyer_email"`
	Amount           decimal.Decimal `json:"amount"`
	Payment          paymentRequest  `json:"payment"`
	ReceiverName     string          `json:"receiver_name"`
	ReceiverPhone    string          `json:"receiver_phone"`
	PostalCode       string          `json:"postal_code"`
	Address          string          `json:"address"`
	WarehouseStorage bool            `json:"warehouse_storage"`
}

type paymentRequest struct {
	CardNumber     string `json:"card_number"`
	CardPassword   string `json:"card_password"`
	ExpirationDate string `json:"expiration_date"`
	BirthDate      string `json:"birth_date"`
}

func validateSchema(body []byte) error {
	result, err := gojsonschema.Validate(placeOrderLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrInvalidInput, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", domainErrors.ErrValidationFailed, strings.Join(problems, "; "))
	}
	return nil
}

func (i *Implementation) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: read body", domainErrors.ErrInvalidInput))
		return
	}
	if err := validateSchema(body); err != nil {
		writeError(w, r, err)
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domainErrors.ErrInvalidInput, err))
		return
	}

	order, err := i.orderService.PlaceOrder(r.Context(), mw.CallerFromContext(r.Context()), service.PlaceOrderInput{
		OrderID:    req.OrderID,
		BuyerID:    req.BuyerID,
		SellerID:   req.SellerID,
		BuyerEmail: req.BuyerEmail,
		Amount:     req.Amount,
		Payment: models.PaymentRequest{
			CardNumber:     req.Payment.CardNumber,
			CardPassword:   req.Payment.CardPassword,
			ExpirationDate: req.Payment.ExpirationDate,
			BirthDate:      req.Payment.BirthDate,
		},
		ReceiverName:     req.ReceiverName,
		ReceiverPhone:    req.ReceiverPhone,
		PostalCode:       req.PostalCode,
		Address:          req.Address,
		WarehouseStorage: req.WarehouseStorage,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, order)
}
