package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// --- Mock implementations ---

type mockProductRepo struct {
	mu     sync.Mutex
	byID   map[string]*product.Product
	getErr error
	calls  map[string]int
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID, calls: make(map[string]int)}
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[id]++
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

type mockCouponValidator struct {
	rules map[string]*coupon.Rule
	err   error
	calls int
}

func (m *mockCouponValidator) Validate(_ context.Context, code, _ string) (*coupon.Rule, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rules[code]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return r, nil
}

type mockUserRepo struct {
	byID map[string]*user.User
	err  error
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

// --- Helpers ---

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func qty(v float64) *float64 {
	return &v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}

func observedContext(level zapcore.Level) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zctx.Base(context.Background(), zap.New(core)), logs
}

func testUsers() *mockUserRepo {
	return &mockUserRepo{byID: map[string]*user.User{
		"new": {ID: "new", CreatedAt: testNow.Add(-10 * 24 * time.Hour)},
		"old": {ID: "old", CreatedAt: testNow.AddDate(-1, 0, 0)},
	}}
}

func testCoupons() *mockCouponValidator {
	return &mockCouponValidator{rules: map[string]*coupon.Rule{
		"SAVE90": {ID: "c90", Code: "SAVE90", Percentage: decimal.NewFromInt(90), Description: "90% off"},
		"SAVE10": {ID: "c10", Code: "SAVE10", Percentage: decimal.NewFromInt(10), Description: "10% off"},
		"ONCE":   {ID: "c1", Code: "ONCE", Percentage: decimal.NewFromInt(15), OncePerUser: true},
	}}
}
