package testutil

import (
	"context"
	"sync"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/ln"
)

// MockNodeClient is a configurable ln.NodeClient for tests. Behavior is set
// through the function fields; unset fields return not-found style errors.
// Every call is counted so tests can assert what did or did not hit the
// node.
type MockNodeClient struct {
	mu sync.Mutex

	CreateInvoiceFunc   func(opts ln.CreateInvoiceOpts) (ln.Invoice, error)
	PayInvoiceFunc      func(paymentRequest string, opts ln.PayInvoiceOpts) (ln.PaymentResult, error)
	LookupInvoiceFunc   func(paymentHash string) (ln.Invoice, error)
	LookupPaymentFunc   func(paymentHash string) (ln.PaymentResult, error)
	OffchainBalanceFunc func() (lightmoney.Amount, error)

	CreateInvoiceCalls int
	PayInvoiceCalls    int
	LookupCalls        int
}

var _ ln.NodeClient = &MockNodeClient{}

func (m *MockNodeClient) CreateInvoice(_ context.Context, opts ln.CreateInvoiceOpts) (ln.Invoice, error) {
	m.mu.Lock()
	m.CreateInvoiceCalls++
	fn := m.CreateInvoiceFunc
	m.mu.Unlock()

	if fn == nil {
		return ln.Invoice{}, ln.ErrInvoiceNotFound
	}
	return fn(opts)
}

func (m *MockNodeClient) PayInvoice(_ context.Context, paymentRequest string,
	opts ln.PayInvoiceOpts) (ln.PaymentResult, error) {

	m.mu.Lock()
	m.PayInvoiceCalls++
	fn := m.PayInvoiceFunc
	m.mu.Unlock()

	if fn == nil {
		return ln.PaymentResult{}, ln.ErrPaymentFailed
	}
	return fn(paymentRequest, opts)
}

func (m *MockNodeClient) LookupInvoice(_ context.Context, paymentHash string) (ln.Invoice, error) {
	m.mu.Lock()
	m.LookupCalls++
	fn := m.LookupInvoiceFunc
	m.mu.Unlock()

	if fn == nil {
		return ln.Invoice{}, ln.ErrInvoiceNotFound
	}
	return fn(paymentHash)
}

func (m *MockNodeClient) LookupPayment(_ context.Context, paymentHash string) (ln.PaymentResult, error) {
	m.mu.Lock()
	m.LookupCalls++
	fn := m.LookupPaymentFunc
	m.mu.Unlock()

	if fn == nil {
		return ln.PaymentResult{}, ln.ErrPaymentNotFound
	}
	return fn(paymentHash)
}

func (m *MockNodeClient) OffchainBalance(_ context.Context) (lightmoney.Amount, error) {
	m.mu.Lock()
	fn := m.OffchainBalanceFunc
	m.mu.Unlock()

	if fn == nil {
		return 0, nil
	}
	return fn()
}
