package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketplace/internal/codec"
	"marketplace/internal/models"
	"marketplace/internal/mw"
	"marketplace/internal/sagalog"
	"marketplace/internal/service"
	"marketplace/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("handler-secret")

type testServer struct {
	handler http.Handler
	log     *sagalog.MemoryLog
	store   *storage.MemoryStorage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c, err := codec.New("handler-pass", "handler-salt", "abcdefghijklmnop")
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	log := sagalog.NewMemoryLog(1, time.Millisecond)
	orders := service.NewOrderService(store, log, c, nil)

	return &testServer{
		handler: NewRouter(New(orders), RouterOptions{JWTSecret: secret}),
		log:     log,
		store:   store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != 0 {
		token, err := mw.IssueToken(secret, userID, "user@example.com", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

const validOrder = `{
  "order_id": 77,
  "buyer_id": 1,
  "seller_id": 2,
  "amount": "1500.25",
  "payment": {"card_number": "4111 1111 1111 1111", "card_password": "12", "expiration_date": "10/28", "birth_date": "880101"},
  "receiver_name": "Ann",
  "receiver_phone": "+7900",
  "postal_code": "101000",
  "address": "Main st 1",
  "warehouse_storage": true
}`

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/orders", 1, validOrder)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, int64(77), order.ID)
	assert.Equal(t, models.StatusCreated, order.Status)
	assert.Equal(t, "user@example.com", order.BuyerEmail)
	assert.Equal(t, "1500.25", order.Amount.String())
	assert.Equal(t, 1, s.log.Pending())

	assert.NotContains(t, rec.Body.String(), "4111")
}

func TestPlaceOrder_NumericAmount(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/orders", 1, strings.Replace(validOrder, `"1500.25"`, `1500.5`, 1))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	stored, err := s.store.GetOrder(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, "1500.5", stored.Amount.String())
}

func TestPlaceOrder_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		userID     int64
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no token",
			body:       validOrder,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHENTICATED",
		},
		{
			name:       "caller is not the buyer",
			userID:     2,
			body:       validOrder,
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "not json",
			userID:     1,
			body:       "order please",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "missing address",
			userID:     1,
			body:       strings.Replace(validOrder, `"address": "Main st 1",`, "", 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "unknown field",
			userID:     1,
			body:       strings.Replace(validOrder, `"order_id": 77,`, `"order_id": 77, "discount": 5,`, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "amount with three decimals",
			userID:     1,
			body:       strings.Replace(validOrder, `"1500.25"`, `"1500.255"`, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "numeric amount below a cent",
			userID:     1,
			body:       strings.Replace(validOrder, `"1500.25"`, `10.005`, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "buyer equals seller",
			userID:     1,
			body:       strings.Replace(validOrder, `"seller_id": 2`, `"seller_id": 1`, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/orders", tt.userID, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
			assert.Zero(t, s.log.Pending())
		})
	}
}

func TestPlaceOrder_DuplicateID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/orders", 1, validOrder).Code)
	// тот же заказ ещё раз: конверт переотправляется
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/orders", 1, validOrder).Code)

	other := strings.Replace(validOrder, `"1500.25"`, `"99"`, 1)
	rec := s.do(t, http.MethodPost, "/orders", 1, other)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_ORDER", errorCode(t, rec))
}

func TestOrderViews(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/orders", 1, validOrder).Code)

	rec := s.do(t, http.MethodGet, "/orders/77", 2, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/77", 3, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/78", 1, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ORDER_NOT_FOUND", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/orders/abc", 1, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/77/payments", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"payments":[]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/orders/77/steps", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"steps":[]}`, rec.Body.String())
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", 0, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/openapi.yaml", 0, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/orders/{id}/payments")

	rec = s.do(t, http.MethodGet, "/metrics", 0, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewRouter(New(nil), RouterOptions{
		JWTSecret: secret,
		Ready:     func(context.Context) error { return errors.New("postgres down") },
	})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
