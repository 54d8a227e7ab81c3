package service

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"marketplace/internal/alert"
	"marketplace/internal/codec"
	"marketplace/internal/gateway"
	"marketplace/internal/models"
	"marketplace/internal/order_cache"
	"marketplace/internal/tools/logger"
)

func TestMain(m *testing.M) {
	logger.Logger = logger.New(io.Discard, "error")
	os.Exit(m.Run())
}

type fakeGateway struct {
	mu       sync.Mutex
	charges  []gateway.ChargeRequest
	cancels  []string
	chargeFn func(n int) (string, error)
}

func (g *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (string, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	n := len(g.charges)
	fn := g.chargeFn
	g.mu.Unlock()

	if fn == nil {
		return "tx-ok", nil
	}
	return fn(n)
}

func (g *fakeGateway) Cancel(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, ref)
	return nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.SagaEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev models.SagaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) pop() (models.SagaEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return models.SagaEvent{}, false
	}
	ev := p.events[0]
	p.events = p.events[1:]
	return ev, true
}

func (p *fakePublisher) pending() []models.SagaEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SagaEvent(nil), p.events...)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (a *fakeAlerter) Alert(_ context.Context, al alert.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func (a *fakeAlerter) kinds() []alert.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var res []alert.Kind
	for _, al := range a.alerts {
		res = append(res, al.Kind)
	}
	return res
}

type mapCache struct {
	mu      sync.Mutex
	data    map[string]string
	deletes int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]string)}
}

func (c *mapCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", order_cache.ErrMiss
	}
	return v, nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.data, key)
	return nil
}

func testCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New("test-passphrase", "test-salt", "0123456789abcdef")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return c
}
