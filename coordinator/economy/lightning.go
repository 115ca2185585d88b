package economy

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LightningProvider abstracts the settlement rail behind payment intents.
// The coordinator never holds keys; implementations wrap an external
// wallet service.
type LightningProvider interface {
	// CreateInvoice returns an invoice reference for the net amount.
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (invoiceRef string, err error)
	// IsSettled reports whether the invoice has been paid.
	IsSettled(ctx context.Context, invoiceRef string) (bool, error)
}

// MockLightning settles invoices on demand. Used in tests and wallet-less
// deployments.
type MockLightning struct {
	mu       sync.Mutex
	invoices map[string]bool
}

// NewMockLightning creates an empty mock provider.
func NewMockLightning() *MockLightning {
	return &MockLightning{invoices: make(map[string]bool)}
}

// CreateInvoice fabricates an invoice reference.
func (m *MockLightning) CreateInvoice(_ context.Context, _ int64, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "lnmock-" + uuid.NewString()
	m.invoices[ref] = false
	return ref, nil
}

// IsSettled reports the settlement flag.
func (m *MockLightning) IsSettled(_ context.Context, invoiceRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settled, ok := m.invoices[invoiceRef]
	if !ok {
		return false, errors.Errorf("unknown invoice %q", invoiceRef)
	}
	return settled, nil
}

// Settle marks an invoice paid.
func (m *MockLightning) Settle(invoiceRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[invoiceRef] = true
}
