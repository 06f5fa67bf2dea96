package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID map[string]*product.Product
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

type mockCouponValidator struct {
	rule *coupon.Rule
	err  error
}

func (m *mockCouponValidator) Validate(_ context.Context, _, _ string) (*coupon.Rule, error) {
	return m.rule, m.err
}

type mockUserRepo struct {
	byID map[string]*user.User
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

type mockOrderRepo struct {
	byID           map[string]*Order
	lastOrder      *Order
	lastRedemption *coupon.Redemption
	createErr      error
	updateErr      error
	archivedAt     map[string]time.Time
}

func newOrderRepo(orders ...*Order) *mockOrderRepo {
	m := &mockOrderRepo{byID: make(map[string]*Order), archivedAt: make(map[string]time.Time)}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order, r *coupon.Redemption) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.lastOrder = o
	m.lastRedemption = r
	m.byID[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	var out []Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) List(_ context.Context, archived bool) ([]Order, error) {
	var out []Order
	for _, o := range m.byID {
		if o.Archived == archived {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *Order, prev Status) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.byID[o.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != prev {
		return ErrConcurrentUpdate
	}
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) Archive(_ context.Context, id string, at time.Time) error {
	o, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	o.Archived = true
	o.ArchivedAt = &at
	m.archivedAt[id] = at
	return nil
}

// --- Helpers ---

func qty(v float64) *float64 {
	return &v
}

func newTestService(cv *mockCouponValidator, orders *mockOrderRepo) *Service {
	products := &mockProductRepo{byID: map[string]*product.Product{
		"p1": {ID: "p1", Name: "Widget", Price: decimal.NewFromInt(10), Weight: decimal.NewFromInt(1)},
		"p2": {ID: "p2", Name: "Gadget", Price: decimal.NewFromInt(12), Weight: decimal.NewFromInt(2)},
	}}
	users := &mockUserRepo{byID: map[string]*user.User{
		"fresh":   {ID: "fresh", CreatedAt: time.Now().Add(-24 * time.Hour)},
		"veteran": {ID: "veteran", CreatedAt: time.Now().AddDate(-2, 0, 0)},
	}}
	if cv == nil {
		cv = &mockCouponValidator{err: coupon.ErrInvalidCoupon}
	}
	engine := pricing.NewEngine(pricing.DefaultConfig(), products, cv, users, nil)
	return NewService(engine, orders)
}

// --- Tests ---

func TestCreate_PersistsServerAmounts(t *testing.T) {
	orders := newOrderRepo()
	svc := newTestService(nil, orders)

	o, err := svc.Create(context.Background(), CreateRequest{
		UserID: "veteran",
		Items: []pricing.CartItem{
			{ProductID: "p1", Quantity: qty(2), ClientPrice: decimal.NewNullDecimal(decimal.NewFromInt(1))},
			{ProductID: "p2"},
		},
		ClientTotal:   decimal.NewNullDecimal(decimal.RequireFromString("61.36")),
		DeliveryType:  pricing.DeliveryCourier,
		DeliveryZone:  "near",
		PaymentMethod: "card",
		Phone:         " 555-0100 ",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusNew, o.Status)
	assert.NotEmpty(t, o.ID)
	assert.True(t, decimal.NewFromInt(10).Equal(o.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(32).Equal(o.SubtotalBeforeDiscount))
	assert.True(t, decimal.NewFromInt(20).Equal(o.DeliveryCost))
	assert.True(t, decimal.RequireFromString("9.36").Equal(o.Tax))
	assert.True(t, decimal.RequireFromString("61.36").Equal(o.Total))
	assert.True(t, decimal.NewFromInt(4).Equal(o.Metadata.TotalWeight))
	assert.Equal(t, "card", o.Metadata.PaymentMethod)
	assert.Equal(t, "555-0100", o.Phone)
	assert.Nil(t, o.Discount)
	assert.Nil(t, orders.lastRedemption)
	assert.Same(t, o, orders.lastOrder)
}

func TestCreate_CouponIsRedeemedWithOrder(t *testing.T) {
	orders := newOrderRepo()
	cv := &mockCouponValidator{rule: &coupon.Rule{
		ID: "c1", Code: "ONCE", Percentage: decimal.NewFromInt(90), OncePerUser: true,
	}}
	svc := newTestService(cv, orders)

	o, err := svc.Create(context.Background(), CreateRequest{
		UserID:       "fresh",
		CouponCode:   "ONCE",
		Items:        []pricing.CartItem{{ProductID: "p1"}, {ProductID: "p2"}},
		DeliveryType: pricing.DeliveryPickup,
	})
	require.NoError(t, err)

	require.NotNil(t, o.Discount)
	assert.Equal(t, pricing.DiscountCoupon, o.Discount.Type)
	assert.Equal(t, "ONCE", o.CouponCode)
	assert.True(t, decimal.RequireFromString("2.6").Equal(o.Total))

	require.NotNil(t, orders.lastRedemption)
	assert.Equal(t, coupon.Redemption{CouponID: "c1", UserID: "fresh", OrderID: o.ID, OncePerUser: true}, *orders.lastRedemption)
}

func TestCreate_NewUserDiscountIsNotRedeemed(t *testing.T) {
	orders := newOrderRepo()
	svc := newTestService(nil, orders)

	o, err := svc.Create(context.Background(), CreateRequest{
		UserID:       "fresh",
		Items:        []pricing.CartItem{{ProductID: "p1"}, {ProductID: "p2"}},
		DeliveryType: pricing.DeliveryPickup,
	})
	require.NoError(t, err)

	require.NotNil(t, o.Discount)
	assert.Equal(t, pricing.DiscountNewUser, o.Discount.Type)
	assert.Empty(t, o.CouponCode)
	assert.True(t, decimal.RequireFromString("24.66").Equal(o.Total))
	assert.Nil(t, orders.lastRedemption)
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name      string
		cv        *mockCouponValidator
		createErr error
		req       CreateRequest
		wantErr   error
		wantMsg   string
	}{
		{
			name:    "missing zone",
			req:     CreateRequest{Items: []pricing.CartItem{{ProductID: "p1"}}, DeliveryType: pricing.DeliveryCourier},
			wantErr: pricing.ErrMissingDeliveryZone,
		},
		{
			name:    "zero quantity",
			req:     CreateRequest{Items: []pricing.CartItem{{ProductID: "p1", Quantity: qty(0)}}, DeliveryType: pricing.DeliveryPickup},
			wantErr: pricing.ErrInvalidQuantity,
		},
		{
			name:    "invalid coupon",
			req:     CreateRequest{CouponCode: "NOPE", Items: []pricing.CartItem{{ProductID: "p1"}}, DeliveryType: pricing.DeliveryPickup},
			wantErr: coupon.ErrInvalidCoupon,
		},
		{
			name:      "coupon exhausted at redemption",
			cv:        &mockCouponValidator{rule: &coupon.Rule{ID: "c1", Code: "LAST", Percentage: decimal.NewFromInt(10)}},
			createErr: coupon.ErrCouponUsageLimitReached,
			req:       CreateRequest{CouponCode: "LAST", Items: []pricing.CartItem{{ProductID: "p1"}}, DeliveryType: pricing.DeliveryPickup},
			wantErr:   coupon.ErrCouponUsageLimitReached,
		},
		{
			name:      "store failure",
			createErr: errors.New("db write failed"),
			req:       CreateRequest{Items: []pricing.CartItem{{ProductID: "p1"}}, DeliveryType: pricing.DeliveryPickup},
			wantMsg:   "create order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newOrderRepo()
			orders.createErr = tt.createErr
			svc := newTestService(tt.cv, orders)

			_, err := svc.Create(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusInProgress, true},
		{StatusNew, StatusCancelled, true},
		{StatusNew, StatusDelivered, false},
		{StatusInProgress, StatusDelivered, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusNew, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusNew, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusNew.Terminal())
}

func TestPatch(t *testing.T) {
	status := func(s Status) *Status { return &s }
	str := func(s string) *string { return &s }

	tests := []struct {
		name       string
		current    Status
		req        PatchRequest
		wantStatus Status
		wantErr    error
	}{
		{name: "advance", current: StatusNew, req: PatchRequest{Status: status(StatusInProgress)}, wantStatus: StatusInProgress},
		{name: "deliver", current: StatusInProgress, req: PatchRequest{Status: status(StatusDelivered)}, wantStatus: StatusDelivered},
		{name: "cancel", current: StatusInProgress, req: PatchRequest{Status: status(StatusCancelled)}, wantStatus: StatusCancelled},
		{name: "skip a step", current: StatusNew, req: PatchRequest{Status: status(StatusDelivered)}, wantErr: ErrInvalidTransition},
		{name: "leave terminal", current: StatusCancelled, req: PatchRequest{Status: status(StatusInProgress)}, wantErr: ErrInvalidTransition},
		{name: "unknown status", current: StatusNew, req: PatchRequest{Status: status("shipped")}, wantErr: ErrInvalidTransition},
		{name: "same status is a no-op", current: StatusDelivered, req: PatchRequest{Status: status(StatusDelivered)}, wantStatus: StatusDelivered},
		{name: "details only", current: StatusDelivered, req: PatchRequest{Notes: str("left at door")}, wantStatus: StatusDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newOrderRepo(&Order{ID: "o1", Status: tt.current})
			svc := newTestService(nil, orders)

			got, err := svc.Patch(context.Background(), "o1", tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.current, orders.byID["o1"].Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantStatus, orders.byID["o1"].Status)
		})
	}
}

func TestPatch_Errors(t *testing.T) {
	svc := newTestService(nil, newOrderRepo())
	_, err := svc.Patch(context.Background(), "missing", PatchRequest{})
	require.ErrorIs(t, err, ErrNotFound)

	orders := newOrderRepo(&Order{ID: "o1", Status: StatusNew})
	orders.updateErr = ErrConcurrentUpdate
	svc = newTestService(nil, orders)
	s := StatusInProgress
	_, err = svc.Patch(context.Background(), "o1", PatchRequest{Status: &s})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestArchive(t *testing.T) {
	orders := newOrderRepo(&Order{ID: "o1", Status: StatusDelivered})
	svc := newTestService(nil, orders)

	require.NoError(t, svc.Archive(context.Background(), "o1"))
	assert.True(t, orders.byID["o1"].Archived)

	archived, err := svc.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, archived, 1)

	active, err := svc.List(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.ErrorIs(t, svc.Archive(context.Background(), "missing"), ErrNotFound)
}

func TestListMine(t *testing.T) {
	orders := newOrderRepo(
		&Order{ID: "o1", UserID: "u1"},
		&Order{ID: "o2", UserID: "u2"},
	)
	svc := newTestService(nil, orders)

	got, err := svc.ListMine(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].ID)
}
