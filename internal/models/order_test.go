package models

import (
	"encoding/json"
	"testing"
	"time"

	"marketplace/internal/models/domainErrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_TransitionTo(t *testing.T) {
	tests := []struct {
		name      string
		from      OrderStatus
		to        OrderStatus
		wantError error
	}{
		{"CreatedToProcessing", StatusCreated, StatusProcessing, nil},
		{"CreatedToFailed", StatusCreated, StatusFailed, nil},
		{"ProcessingToCompleted", StatusProcessing, StatusCompleted, nil},
		{"ProcessingToFailed", StatusProcessing, StatusFailed, nil},
		{"CreatedToCompleted", StatusCreated, StatusCompleted, domainErrors.ErrInvalidTransition},
		{"ProcessingToCreated", StatusProcessing, StatusCreated, domainErrors.ErrInvalidTransition},
		{"CompletedToFailed", StatusCompleted, StatusFailed, domainErrors.ErrOrderTerminal},
		{"FailedToProcessing", StatusFailed, StatusProcessing, domainErrors.ErrOrderTerminal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.from.TransitionTo(tt.to)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				assert.Equal(t, tt.from, got)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestPayment_SucceedAndFail(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := Payment{ID: "p-1", OrderID: 7, Status: PaymentProcessing}

	ok, err := p.Succeed("tx-1", now)
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, PaymentSuccess, ok.Status)
	assert.Equal(t, "tx-1", ok.TransactionRef)
	assert.Equal(t, PaymentProcessing, p.Status, "receiver must stay untouched")

	_, err = ok.Fail("late", now)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidTransition)

	failed, err := p.Fail("card declined", now)
	require.NoError(t, err)
	assert.False(t, failed.Success)
	assert.Equal(t, "card declined", failed.FailureReason)
}

func TestOrder_IsParty(t *testing.T) {
	o := Order{ID: 1, BuyerID: 10, SellerID: 20}
	assert.True(t, o.IsParty(Caller{UserID: 10}))
	assert.True(t, o.IsParty(Caller{UserID: 20}))
	assert.False(t, o.IsParty(Caller{UserID: 30}))
	assert.False(t, o.IsParty(Caller{}))
}

func TestOrder_Validate(t *testing.T) {
	valid := Order{ID: 1, BuyerID: 10, SellerID: 20, Amount: decimal.NewFromInt(100)}
	assert.NoError(t, valid.Validate())

	sameParty := valid
	sameParty.SellerID = valid.BuyerID
	assert.ErrorIs(t, sameParty.Validate(), domainErrors.ErrValidationFailed)

	zeroAmount := valid
	zeroAmount.Amount = decimal.Zero
	assert.ErrorIs(t, zeroAmount.Validate(), domainErrors.ErrValidationFailed)

	subCent := valid
	subCent.Amount = decimal.RequireFromString("10.005")
	assert.ErrorIs(t, subCent.Validate(), domainErrors.ErrValidationFailed)

	trailingZeros := valid
	trailingZeros.Amount = decimal.RequireFromString("10.500")
	assert.NoError(t, trailingZeros.Validate())
}

func TestSagaEvent_Progression(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	ev := NewSagaEvent(500, "buyer@example.com", SagaRequest{}, created)

	assert.Equal(t, StepStarted, ev.ProcessingStep)
	assert.Equal(t, 0, ev.RetryCount)
	assert.Equal(t, EventIDFor(500, created), ev.EventID)

	payment, err := ev.Advance()
	require.NoError(t, err)
	assert.Equal(t, StepPayment, payment.ProcessingStep)
	assert.Equal(t, ev.EventID, payment.EventID)
	assert.Equal(t, StepStarted, ev.ProcessingStep, "envelopes are values")

	retried := payment.Retry().Retry()
	assert.Equal(t, 2, retried.RetryCount)
	assert.Equal(t, StepPayment, retried.ProcessingStep)
	assert.False(t, retried.IsMaxRetryExceeded(3))
	assert.True(t, retried.Retry().IsMaxRetryExceeded(3))

	shipment, err := retried.Advance()
	require.NoError(t, err)
	assert.Equal(t, 0, shipment.RetryCount)

	warehouse, _ := shipment.Advance()
	complete, err := warehouse.Advance()
	require.NoError(t, err)
	assert.Equal(t, StepComplete, complete.ProcessingStep)

	_, err = complete.Advance()
	assert.ErrorIs(t, err, domainErrors.ErrUnknownStep)
	assert.Equal(t, StepFailed, shipment.Fail().ProcessingStep)
}

func TestEventIDFor_Stable(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, EventIDFor(1, created), EventIDFor(1, created.In(time.FixedZone("KST", 9*3600))))
	assert.NotEqual(t, EventIDFor(1, created), EventIDFor(2, created))
	assert.NotEqual(t, EventIDFor(1, created), EventIDFor(1, created.Add(time.Microsecond)))
}

func TestSagaEvent_JSONSchema(t *testing.T) {
	ev := NewSagaEvent(42, "a@b.c", SagaRequest{WarehouseStorage: true}, time.Unix(0, 0).UTC())
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"orderId", "userEmail", "requestDto", "eventCreatedAt", "retryCount", "eventId", "processingStep"} {
		assert.Contains(t, fields, key)
	}
	dto := fields["requestDto"].(map[string]any)
	assert.Equal(t, true, dto["warehouseStorage"])
}

func TestSagaEvent_Validate(t *testing.T) {
	ev := NewSagaEvent(1, "buyer@example.com", SagaRequest{
		PaymentRequest: PaymentRequest{
			CardNumber:     "enc",
			CardPassword:   "enc",
			ExpirationDate: "12/29",
			BirthDate:      "enc",
			Amount:         decimal.NewFromInt(10),
		},
		ReceiverName:  "Kim",
		ReceiverPhone: "010-0000-0000",
		PostalCode:    "04524",
		Address:       "Seoul",
	}, time.Now())
	assert.NoError(t, ev.Validate())

	broken := ev
	broken.Request.Address = " "
	broken.UserEmail = "nobody"
	err := broken.Validate()
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
	assert.Contains(t, err.Error(), "address")
	assert.Contains(t, err.Error(), "userEmail")
}

func TestParseProcessingStep(t *testing.T) {
	tests := []struct {
		input    string
		expected ProcessingStep
		wantErr  bool
	}{
		{"payment", StepPayment, false},
		{" SHIPMENT ", StepShipment, false},
		{"refund", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseProcessingStep(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, domainErrors.ErrUnknownStep)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
