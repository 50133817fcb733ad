package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/product"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type mockProductRepo struct {
	products map[string]product.Product
	err      error
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// stubEvaluator runs the real engine over a fixed rule set. With staleUsage it
// ignores the ledger, as a preview taken before a concurrent commit would.
type stubEvaluator struct {
	rules      []discount.Rule
	ledger     *usage.MemoryLedger
	staleUsage bool
	err        error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, o *discount.Order) (*discount.Evaluation, error) {
	if s.err != nil {
		return nil, s.err
	}
	snap := discount.Snapshot{Now: fixedNow, Usage: make(map[string]usage.Counts)}
	var candidates []discount.Rule
	for _, r := range s.rules {
		if r.Kind == discount.KindCode && !o.HasCode(&r) {
			continue
		}
		candidates = append(candidates, r)
		if !s.staleUsage {
			c, err := s.ledger.Counts(ctx, r.ID, o.Customer.ID, o.IP)
			if err != nil {
				return nil, err
			}
			snap.Usage[r.ID] = c
		}
	}
	ev := discount.NewEngine().Evaluate(candidates, o, snap)
	return &ev, nil
}

type mockOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]*Order
	createErr error
	cancelErr error
	countErr  error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]*Order)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) MarkCancelled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = StatusCancelled
	o.CancelledAt = &at
	return nil
}

func (m *mockOrderRepo) CountPlaced(_ context.Context, customerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, o := range m.orders {
		if o.CustomerID == customerID && o.Status == StatusPlaced {
			n++
		}
	}
	return n, nil
}

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// --- Helpers ---

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func intPtr(v int) *int { return &v }

func catalog() *mockProductRepo {
	return &mockProductRepo{products: map[string]product.Product{
		"shoe": {ID: "shoe", Name: "Runner", Price: d("80.00"), CategoryID: "shoes"},
		"sock": {ID: "sock", Name: "Sock", Price: d("5.00"), CategoryID: "apparel"},
	}}
}

func productRule() discount.Rule {
	return discount.Rule{
		ID:            "shoes-10",
		Kind:          discount.KindProduct,
		Type:          discount.TypePercentage,
		Name:          "Shoes 10%",
		Value:         d("10"),
		Applicability: discount.Applicability{IncludeCategories: []string{"shoes"}},
		Stackable:     true,
		IsActive:      true,
	}
}

func onceCode() discount.Rule {
	return discount.Rule{
		ID:                "welcome",
		Kind:              discount.KindCode,
		Type:              discount.TypeFixedAmount,
		Name:              "Welcome",
		Code:              "WELCOME5",
		Value:             d("5"),
		UsageLimitPerUser: intPtr(1),
		Applicability:     discount.Applicability{All: true},
		Stackable:         true,
		IsActive:          true,
	}
}

type fixture struct {
	svc    *Service
	eval   *stubEvaluator
	ledger *usage.MemoryLedger
	orders *mockOrderRepo
}

func newFixture(t *testing.T, rules ...discount.Rule) *fixture {
	t.Helper()
	ledger := usage.NewMemoryLedger()
	eval := &stubEvaluator{rules: rules, ledger: ledger}
	orders := newMockOrderRepo()
	svc, err := NewService(catalog(), eval, ledger, orders, noop.NewMeterProvider())
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, eval: eval, ledger: ledger, orders: orders}
}

func firstOrderCode() discount.Rule {
	r := onceCode()
	r.ID = "first"
	r.Code = "FIRST10"
	r.Value = d("10")
	r.UsageLimitPerUser = nil
	r.Restriction.FirstTimeOnly = true
	return r
}

var byCustomer = Canceller{CustomerID: "cust-1"}

func cart(codes ...string) Request {
	return Request{
		Items: []Item{
			{ProductID: "shoe", Quantity: 1},
			{ProductID: "sock", Quantity: 2},
		},
		Codes:    codes,
		Customer: discount.Customer{ID: "cust-1", Email: "buyer@example.com"},
		IP:       "10.0.0.1",
	}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "expected amount %s, got %s", want, got)
}

// --- Tests ---

func TestService_Preview(t *testing.T) {
	f := newFixture(t, productRule(), onceCode())

	q, err := f.svc.Preview(context.Background(), cart("welcome5", "NOPE"))
	require.NoError(t, err)

	assertAmount(t, "90", q.Subtotal)
	// 10% off the shoe, then 5 off what is left.
	assertAmount(t, "13", q.Discount)
	assertAmount(t, "77", q.Total)
	require.Len(t, q.Lines, 2)
	assert.Equal(t, "Runner", q.Lines[0].Name)
	require.Len(t, q.Applied, 2)
	assert.Equal(t, "shoes-10", q.Applied[0].RuleID)
	assert.Equal(t, "WELCOME5", q.Applied[1].Code)
	assert.Equal(t, []string{"NOPE"}, q.UnknownCodes)
	assert.Empty(t, q.Rejected)

	lineSum := decimal.Zero
	for _, l := range q.Lines {
		lineSum = lineSum.Add(l.Discount)
	}
	assertAmount(t, "13", lineSum)
}

func TestService_PreviewReportsRejectedCode(t *testing.T) {
	code := onceCode()
	code.MinimumOrderAmount = func() *decimal.Decimal { v := d("500"); return &v }()
	f := newFixture(t, code)

	q, err := f.svc.Preview(context.Background(), cart("WELCOME5"))
	require.NoError(t, err)

	assert.Empty(t, q.Applied)
	require.Len(t, q.Rejected, 1)
	assert.Equal(t, []discount.Reason{discount.ReasonMinimumNotMet}, q.Rejected[0].Reasons)
	assert.Empty(t, q.UnknownCodes)
}

func TestService_PreviewWithShipping(t *testing.T) {
	ship := discount.Rule{
		ID:            "ship",
		Kind:          discount.KindProduct,
		Type:          discount.TypeFreeShipping,
		Name:          "Free shipping",
		Applicability: discount.Applicability{All: true},
		IsActive:      true,
	}
	f := newFixture(t, ship)
	req := cart()
	req.ShippingCost = func() *decimal.Decimal { v := d("7.50"); return &v }()

	q, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, q.FreeShipping)
	assertAmount(t, "7.50", q.ShippingDiscount)
	assertAmount(t, "90", q.Total)
	require.Len(t, q.Applied, 1)
	assertAmount(t, "7.50", q.Applied[0].Amount)
}

func TestService_PreviewValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		check   func(t *testing.T, err error)
		repoErr error
	}{
		{
			name: "empty cart",
			req:  Request{},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrEmptyItems)
			},
		},
		{
			name: "zero quantity",
			req:  Request{Items: []Item{{ProductID: "shoe", Quantity: 0}}},
			check: func(t *testing.T, err error) {
				var qErr *InvalidQuantityError
				require.True(t, errors.As(err, &qErr))
				assert.Equal(t, "shoe", qErr.ProductID)
			},
		},
		{
			name: "unknown product",
			req:  Request{Items: []Item{{ProductID: "hat", Quantity: 1}}},
			check: func(t *testing.T, err error) {
				var pErr *ProductNotFoundError
				require.True(t, errors.As(err, &pErr))
				assert.Equal(t, "hat", pErr.ProductID)
			},
		},
		{
			name:    "catalog failure",
			req:     cart(),
			repoErr: errors.New("db down"),
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "db down")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.products = &mockProductRepo{products: catalog().products, err: tt.repoErr}

			_, err := f.svc.Preview(context.Background(), tt.req)
			tt.check(t, err)
		})
	}
}

func TestService_PreviewMergesRepeatedProducts(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Preview(context.Background(), Request{Items: []Item{
		{ProductID: "sock", Quantity: 1},
		{ProductID: "sock", Quantity: 2},
	}})
	require.NoError(t, err)

	require.Len(t, q.Lines, 1)
	assert.Equal(t, 3, q.Lines[0].Quantity)
	assertAmount(t, "15", q.Total)
}

func TestService_CommitRecordsUsage(t *testing.T) {
	f := newFixture(t, productRule(), onceCode())
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, cart("WELCOME5"))
	require.NoError(t, err)

	o := res.Order
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPlaced, o.Status)
	assert.Equal(t, fixedNow, o.CreatedAt)
	assertAmount(t, "77", o.Total)
	assert.Equal(t, 1, f.orders.count())

	counts, err := f.ledger.Counts(ctx, "welcome", "cust-1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, usage.Counts{Total: 1, Customer: 1, IP: 1}, counts)

	// The next commit re-evaluates and no longer gets the single-use code.
	res, err = f.svc.Commit(ctx, cart("WELCOME5"))
	require.NoError(t, err)
	assertAmount(t, "82", res.Order.Total)
	require.Len(t, res.Quote.Rejected, 1)
	assert.Equal(t, []discount.Reason{discount.ReasonCustomerLimit}, res.Quote.Rejected[0].Reasons)
}

func TestService_CommitRejectsCapReachedAfterPreview(t *testing.T) {
	f := newFixture(t, onceCode())
	f.eval.staleUsage = true
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, cart("WELCOME5"))
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, cart("WELCOME5"))
	require.ErrorIs(t, err, usage.ErrCapExceeded)
	var capErr *usage.CapExceededError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, usage.ScopeCustomer, capErr.Scope)
	assert.Equal(t, 1, f.orders.count())
}

func TestService_CommitConcurrentSingleUse(t *testing.T) {
	f := newFixture(t, onceCode())
	f.eval.staleUsage = true

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Commit(context.Background(), cart("WELCOME5"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, usage.ErrCapExceeded):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, 1, f.orders.count())
}

func TestService_CommitPriceChanged(t *testing.T) {
	f := newFixture(t, onceCode())
	req := cart("WELCOME5")
	req.ExpectedTotal = func() *decimal.Decimal { v := d("90"); return &v }()

	_, err := f.svc.Commit(context.Background(), req)
	require.ErrorIs(t, err, ErrPriceChanged)

	counts, err := f.ledger.Counts(context.Background(), "welcome", "cust-1", "")
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestService_CommitReversesUsageWhenWriteFails(t *testing.T) {
	f := newFixture(t, onceCode())
	f.orders.createErr = errors.New("disk full")
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, cart("WELCOME5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	counts, err := f.ledger.Counts(ctx, "welcome", "cust-1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, usage.Counts{}, counts)
}

func TestService_CommitEvaluationFailure(t *testing.T) {
	f := newFixture(t)
	f.eval.err = errors.New("rules unavailable")

	_, err := f.svc.Commit(context.Background(), cart())
	require.Error(t, err)
	assert.Zero(t, f.orders.count())
}

func TestService_Cancel(t *testing.T) {
	f := newFixture(t, onceCode())
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, cart("WELCOME5"))
	require.NoError(t, err)

	got, err := f.svc.Cancel(ctx, res.Order.ID, byCustomer)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	counts, err := f.ledger.Counts(ctx, "welcome", "cust-1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, usage.Counts{}, counts)

	again, err := f.svc.Cancel(ctx, res.Order.ID, Canceller{Seller: true})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, again.Status)

	// The code is usable again once its order is cancelled.
	res, err = f.svc.Commit(ctx, cart("WELCOME5"))
	require.NoError(t, err)
	require.Len(t, res.Order.Applied, 1)
}

func TestService_CancelErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, "missing", byCustomer)
	require.ErrorIs(t, err, ErrNotFound)

	res, err := f.svc.Commit(ctx, cart())
	require.NoError(t, err)
	f.orders.cancelErr = errors.New("db down")

	_, err = f.svc.Cancel(ctx, res.Order.ID, byCustomer)
	require.Error(t, err)
}

func TestService_CancelRequiresOwnerOrSeller(t *testing.T) {
	ctx := context.Background()
	anonymous := cart()
	anonymous.Customer = discount.Customer{}

	tests := []struct {
		name    string
		req     Request
		by      Canceller
		allowed bool
	}{
		{name: "owner", req: cart(), by: byCustomer, allowed: true},
		{name: "seller", req: cart(), by: Canceller{Seller: true}, allowed: true},
		{name: "other customer", req: cart(), by: Canceller{CustomerID: "cust-2"}},
		{name: "nobody", req: cart(), by: Canceller{}},
		{name: "anonymous order without seller", req: anonymous, by: Canceller{}},
		{name: "anonymous order by seller", req: anonymous, by: Canceller{Seller: true}, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, productRule())
			res, err := f.svc.Commit(ctx, tt.req)
			require.NoError(t, err)

			got, err := f.svc.Cancel(ctx, res.Order.ID, tt.by)
			if !tt.allowed {
				require.ErrorIs(t, err, ErrForbidden)
				stored, err := f.orders.Get(ctx, res.Order.ID)
				require.NoError(t, err)
				assert.Equal(t, StatusPlaced, stored.Status)
				counts, err := f.ledger.Counts(ctx, "shoes-10", tt.req.Customer.ID, "")
				require.NoError(t, err)
				assert.Equal(t, 1, counts.Total, "usage stays recorded")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, got.Status)
		})
	}
}

func TestService_FirstOrderFromHistory(t *testing.T) {
	f := newFixture(t, firstOrderCode())
	ctx := context.Background()

	// The client claims every order is its first; only the first one is.
	req := cart("FIRST10")
	req.Customer.FirstTime = true
	for i, wantApplied := range []bool{true, false, false} {
		res, err := f.svc.Commit(ctx, req)
		require.NoError(t, err)
		if wantApplied {
			require.Len(t, res.Order.Applied, 1, "order %d", i)
			assertAmount(t, "80", res.Order.Total)
			continue
		}
		assert.Empty(t, res.Order.Applied, "order %d", i)
		require.Len(t, res.Quote.Rejected, 1)
		assert.Equal(t, []discount.Reason{discount.ReasonFirstOrderOnly}, res.Quote.Rejected[0].Reasons)
		assertAmount(t, "90", res.Order.Total)
	}
	assert.Equal(t, 3, f.orders.count())
}

func TestService_FirstOrderIgnoresClientFlag(t *testing.T) {
	ctx := context.Background()

	t.Run("new customer without flag", func(t *testing.T) {
		f := newFixture(t, firstOrderCode())
		q, err := f.svc.Preview(ctx, cart("FIRST10"))
		require.NoError(t, err)
		require.Len(t, q.Applied, 1)
	})
	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t, firstOrderCode())
		req := cart("FIRST10")
		req.Customer = discount.Customer{FirstTime: true}
		q, err := f.svc.Preview(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, q.Applied)
	})
	t.Run("history failure", func(t *testing.T) {
		f := newFixture(t, firstOrderCode())
		f.orders.countErr = errors.New("db down")
		_, err := f.svc.Preview(ctx, cart("FIRST10"))
		require.ErrorContains(t, err, "db down")
	})
}

func TestService_CancelRestoresFirstOrder(t *testing.T) {
	f := newFixture(t, firstOrderCode())
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, cart("FIRST10"))
	require.NoError(t, err)
	require.Len(t, res.Order.Applied, 1)

	_, err = f.svc.Cancel(ctx, res.Order.ID, byCustomer)
	require.NoError(t, err)

	res, err = f.svc.Commit(ctx, cart("FIRST10"))
	require.NoError(t, err)
	require.Len(t, res.Order.Applied, 1)
}

func TestService_CommitConcurrentFirstOrders(t *testing.T) {
	f := newFixture(t, firstOrderCode())

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Commit(context.Background(), cart("FIRST10"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, usage.ErrCapExceeded):
				rejected++
			}
		}()
	}
	wg.Wait()

	// Orders evaluated after the first one landed commit without the code.
	discounted := 0
	f.orders.mu.Lock()
	for _, o := range f.orders.orders {
		if len(o.Applied) > 0 {
			discounted++
		}
	}
	f.orders.mu.Unlock()
	assert.Equal(t, 1, discounted)
	assert.Equal(t, workers, success+rejected)
	assert.Equal(t, success, f.orders.count())
}
