package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"marketplace/internal/models/domainErrors"

	"github.com/google/uuid"
)

// Card number suffixes with a scripted sandbox outcome.
const (
	SandboxDeclinedSuffix = "0002"
	SandboxTimeoutSuffix  = "0119"
)

// Sandbox is an in-process gateway for local runs when no provider
// endpoint is configured.
// A repeated idempotency key returns the first charge's reference.
type Sandbox struct {
	mu        sync.Mutex
	charges   map[string]ChargeRequest
	byKey     map[string]string
	cancelled map[string]bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		charges:   make(map[string]ChargeRequest),
		byKey:     make(map[string]string),
		cancelled: make(map[string]bool),
	}
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domainErrors.ErrGatewayTimeout, err)
	}
	digits := strings.ReplaceAll(req.CardNumber, "-", "")
	switch {
	case len(digits) < 12:
		return "", fmt.Errorf("%w: card number", domainErrors.ErrInvalidPaymentData)
	case !req.Amount.IsPositive():
		return "", fmt.Errorf("%w: amount", domainErrors.ErrInvalidPaymentData)
	case strings.HasSuffix(digits, SandboxDeclinedSuffix):
		return "", fmt.Errorf("%w: sandbox decline", domainErrors.ErrCardDeclined)
	case strings.HasSuffix(digits, SandboxTimeoutSuffix):
		return "", fmt.Errorf("%w: sandbox timeout", domainErrors.ErrGatewayTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return ref, nil
	}
	ref := "sbx_" + uuid.NewString()
	s.charges[ref] = req
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = ref
	}
	return ref, nil
}

func (s *Sandbox) Cancel(_ context.Context, transactionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.charges[transactionRef]; !ok {
		return fmt.Errorf("%w: %s", domainErrors.ErrPaymentNotFound, transactionRef)
	}
	s.cancelled[transactionRef] = true
	return nil
}

// Charged returns the number of charges that were not cancelled.
func (s *Sandbox) Charged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.charges) - len(s.cancelled)
}
