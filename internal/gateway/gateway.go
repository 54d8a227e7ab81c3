// Package gateway adapts the external payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketplace/internal/models/domainErrors"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultTimeout = 5 * time.Second

// errOutcomeUnknown marks failures after which the provider may still have
// processed the request.
var errOutcomeUnknown = errors.New("request outcome unknown")

// OutcomeUnknown reports whether err leaves it open if the charge happened.
// Such attempts must be retried with the same idempotency key.
func OutcomeUnknown(err error) bool {
	return errors.Is(err, domainErrors.ErrGatewayTimeout) || errors.Is(err, errOutcomeUnknown)
}

// ChargeRequest holds decrypted card data. It must never be logged.
type ChargeRequest struct {
	// IdempotencyKey lets the provider drop a repeated request.
	IdempotencyKey string
	OrderID        int64
	CardNumber     string
	CardPassword   string
	ExpirationDate string
	BirthDate      string
	Amount         decimal.Decimal
}

// Gateway charges and cancels payments. Implementations classify failures
// with domainErrors: timeouts and outages are transient, declines and
// validation responses are permanent.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (string, error)
	Cancel(ctx context.Context, transactionRef string) error
}

type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
}

// HTTPGateway talks to the provider's REST API.
type HTTPGateway struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
}

func NewHTTP(cfg Config) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &HTTPGateway{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		client:   &http.Client{},
		limiter:  rate.NewLimiter(limit, 1),
	}
}

type chargeBody struct {
	IdempotencyKey string          `json:"-"`
	OrderID        int64           `json:"orderId"`
	CardNumber     string          `json:"cardNumber"`
	CardPassword   string          `json:"cardPassword"`
	ExpirationDate string          `json:"expirationDate"`
	BirthDate      string          `json:"birthDate"`
	Amount         decimal.Decimal `json:"amount"`
}

type chargeResponse struct {
	TransactionRef string `json:"transactionRef"`
	Message        string `json:"message"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payload, err := json.Marshal(chargeBody(req))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainErrors.ErrInvalidPaymentData, err)
	}

	var out chargeResponse
	status, err := g.do(ctx, http.MethodPost, g.endpoint+"/payments", req.IdempotencyKey, payload, &out)
	if err != nil {
		return "", err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		if out.TransactionRef == "" {
			return "", fmt.Errorf("%w: empty transaction reference", domainErrors.ErrGatewayUnavailable)
		}
		return out.TransactionRef, nil
	case status == http.StatusPaymentRequired:
		return "", fmt.Errorf("%w: %s", domainErrors.ErrCardDeclined, out.Message)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %s", domainErrors.ErrInvalidPaymentData, out.Message)
	default:
		return "", classifyStatus(status)
	}
}

func (g *HTTPGateway) Cancel(ctx context.Context, transactionRef string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	status, err := g.do(ctx, http.MethodPost, g.endpoint+"/payments/"+url.PathEscape(transactionRef)+"/cancel", "", nil, nil)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domainErrors.ErrPaymentNotFound, transactionRef)
	default:
		return classifyStatus(status)
	}
}

func (g *HTTPGateway) do(ctx context.Context, method, target, idempotencyKey string, body []byte, out any) (int, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domainErrors.ErrGatewayTimeout, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domainErrors.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if out != nil {
		// тело ошибки может быть пустым
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

func classifyStatus(status int) error {
	if status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout {
		return fmt.Errorf("%w: status %d", domainErrors.ErrGatewayTimeout, status)
	}
	return fmt.Errorf("%w: status %d", domainErrors.ErrGatewayUnavailable, status)
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domainErrors.ErrGatewayTimeout, err)
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if (errors.As(err, &opErr) && opErr.Op == "dial") || errors.As(err, &dnsErr) {
		// запрос не ушёл
		return fmt.Errorf("%w: %v", domainErrors.ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%w: %w: %v", domainErrors.ErrGatewayUnavailable, errOutcomeUnknown, err)
}
