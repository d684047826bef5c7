// Package testutil runs the backend of record in-process for terminal tests.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/httpclient"
	"github.com/georgemunganga/printa-checkout/internal/modules/coupon"
	"github.com/georgemunganga/printa-checkout/internal/modules/ledger"
	"github.com/georgemunganga/printa-checkout/internal/modules/order"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Backend is the backend API served from memory. Paths can be switched
// down, which makes them answer 503 so clients see a transport failure, or
// made to fail with any other status.
type Backend struct {
	Server   *httptest.Server
	Ledger   ledger.Service
	Orders   order.Service
	Coupons  coupon.Service
	Methods  payment.Service
	Programs program.Service

	mu     sync.Mutex
	faulty map[string]int
	calls  map[string]int
}

// NewBackend starts a backend and closes it when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		Ledger:   ledger.NewService(ledger.NewMemoryRepository()),
		Coupons:  coupon.NewService(coupon.NewMemoryRepository()),
		Methods:  payment.NewService(payment.NewMemoryRepository()),
		Programs: program.NewService(program.NewMemoryRepository()),
		faulty:   make(map[string]int),
		calls:    make(map[string]int),
	}
	b.Orders = order.NewService(order.NewMemoryRepository(), b.Ledger)

	r := chi.NewRouter()
	r.Use(b.faults)
	ledger.NewHandler(b.Ledger).RegisterRoutes(r)
	order.NewHandler(b.Orders).RegisterRoutes(r)
	coupon.NewHandler(b.Coupons).RegisterRoutes(r)
	payment.NewHandler(b.Methods).RegisterRoutes(r)
	program.NewHandler(b.Programs).RegisterRoutes(r)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

func (b *Backend) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.Method+" "+r.URL.Path]++
		status := 0
		for prefix, code := range b.faulty {
			if strings.HasPrefix(r.URL.Path, prefix) {
				status = code
			}
		}
		b.mu.Unlock()
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetDown makes every path under prefix unavailable, or recover.
func (b *Backend) SetDown(prefix string, down bool) {
	if down {
		b.SetStatus(prefix, http.StatusServiceUnavailable)
		return
	}
	b.SetStatus(prefix, 0)
}

// SetStatus makes every path under prefix answer status. Zero clears it.
func (b *Backend) SetStatus(prefix string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.faulty, prefix)
		return
	}
	b.faulty[prefix] = status
}

// Calls returns how many requests hit method and path.
func (b *Backend) Calls(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method+" "+path]
}

// URL is the backend base URL.
func (b *Backend) URL() string { return b.Server.URL }

// Client returns an HTTP client without retries or logging.
func (b *Backend) Client() httpclient.Client {
	return httpclient.NewDefaultClient(httpclient.ClientConfig{Timeout: 2 * time.Second}, nil)
}

// IssueResource creates a ledger resource with balance.
func (b *Backend) IssueResource(t *testing.T, id string, programType ledger.ProgramType, balance int64) {
	t.Helper()
	_, err := b.Ledger.IssueResource(context.Background(), ledger.IssueResourceRequest{
		ID:          id,
		ProgramID:   "program-" + string(programType),
		ProgramType: programType,
		Balance:     decimal.NewFromInt(balance),
		SingleUse:   programType == ledger.ProgramCoupon,
	})
	require.NoError(t, err)
}

// Balance reads a resource's balance straight from the ledger service.
func (b *Backend) Balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	bal, err := b.Ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return bal.Balance
}

// CountEntries counts the ledger entries of kind for a resource.
func (b *Backend) CountEntries(t *testing.T, id string, kind ledger.EntryKind) int {
	t.Helper()
	entries, err := b.Ledger.ListEntries(context.Background(), id)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
