package greenapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/wa-dispatch/internal/config"
	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/pkg/httpretry"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// Factory builds per-tenant clients that share one HTTP transport.
type Factory struct {
	baseURL string
	doer    httpretry.HTTPDoer

	mu      sync.Mutex
	clients map[string]*Client
}

// NewFactory creates a factory from gateway config.
func NewFactory(cfg config.GreenAPIConfig) *Factory {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewFactoryWithDoer(cfg.BaseURL, httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3))
}

// NewFactoryWithDoer creates a factory over a caller-supplied doer.
func NewFactoryWithDoer(baseURL string, doer httpretry.HTTPDoer) *Factory {
	return &Factory{baseURL: baseURL, doer: doer, clients: make(map[string]*Client)}
}

// Client returns the cached client of a tenant's instance.
func (f *Factory) Client(tenant *domain.Tenant) (*Client, error) {
	if tenant.GatewayInstanceID == "" || tenant.GatewayToken == "" {
		return nil, fmt.Errorf("%w: tenant %s has no gateway instance configured", ErrPermanent, tenant.ID)
	}
	key := tenant.GatewayInstanceID + ":" + tenant.GatewayToken

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	c := NewClient(f.baseURL, tenant.GatewayInstanceID, tenant.GatewayToken, f.doer, 0)
	f.clients[key] = c
	return c, nil
}

// GatewayFor implements sending.GatewayFactory.
func (f *Factory) GatewayFor(_ context.Context, tenant *domain.Tenant) (sending.Gateway, error) {
	return f.Client(tenant)
}

var _ sending.GatewayFactory = (*Factory)(nil)
