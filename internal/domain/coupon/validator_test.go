package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type mockRules struct {
	rule     *discount.Rule
	findErr  error
	counts   usage.Counts
	snapErr  error
	lastCode string
}

func (m *mockRules) FindCode(_ context.Context, code string) (*discount.Rule, error) {
	m.lastCode = code
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.rule == nil || !m.rule.MatchesCode(code) {
		return nil, discount.ErrNotFound
	}
	r := *m.rule
	return &r, nil
}

func (m *mockRules) Snapshot(_ context.Context, rules []discount.Rule, _ *discount.Order) (discount.Snapshot, error) {
	if m.snapErr != nil {
		return discount.Snapshot{}, m.snapErr
	}
	s := discount.Snapshot{Now: fixedNow, Usage: make(map[string]usage.Counts)}
	for _, r := range rules {
		s.Usage[r.ID] = m.counts
	}
	return s, nil
}

type mockHistory struct {
	placed map[string]int
	err    error
	calls  int
}

func (m *mockHistory) CountPlaced(_ context.Context, customerID string) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.placed[customerID], nil
}

// --- Helpers ---

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func intPtr(v int) *int { return &v }

func codeRule(typ discount.Type, value string) *discount.Rule {
	return &discount.Rule{
		ID:            "rule-1",
		Kind:          discount.KindCode,
		Type:          typ,
		Name:          "summer",
		Description:   "Summer sale",
		Code:          "SUMMER20",
		Value:         d(value),
		Applicability: discount.Applicability{All: true},
		IsActive:      true,
	}
}

func customer() discount.Customer {
	return discount.Customer{ID: "cust-1", Email: "buyer@example.com"}
}

// --- Tests ---

func TestValidator_Validate(t *testing.T) {
	past := fixedNow.Add(-time.Hour)

	tests := []struct {
		name       string
		rules      *mockRules
		req        Request
		wantValid  bool
		wantAmount string
		wantFinal  string
		wantErrors []discount.Reason
	}{
		{
			name:       "twenty percent rounds half up",
			rules:      &mockRules{rule: codeRule(discount.TypePercentage, "20")},
			req:        Request{Code: "summer20", CartTotal: d("199.99"), Customer: customer()},
			wantValid:  true,
			wantAmount: "40.00",
			wantFinal:  "159.99",
		},
		{
			name:       "unknown code",
			rules:      &mockRules{rule: codeRule(discount.TypePercentage, "20")},
			req:        Request{Code: "NOPE", CartTotal: d("50")},
			wantAmount: "0",
			wantFinal:  "50",
			wantErrors: []discount.Reason{discount.ReasonCodeNotFound},
		},
		{
			name: "expired and below minimum",
			rules: &mockRules{rule: func() *discount.Rule {
				r := codeRule(discount.TypePercentage, "20")
				r.ValidUntil = &past
				m := d("100")
				r.MinimumOrderAmount = &m
				return r
			}()},
			req:        Request{Code: "SUMMER20", CartTotal: d("50"), Customer: customer()},
			wantAmount: "0",
			wantFinal:  "50",
			wantErrors: []discount.Reason{discount.ReasonExpired, discount.ReasonMinimumNotMet},
		},
		{
			name: "already used by customer",
			rules: &mockRules{
				rule: func() *discount.Rule {
					r := codeRule(discount.TypeFixedAmount, "5")
					r.UsageLimitPerUser = intPtr(1)
					return r
				}(),
				counts: usage.Counts{Total: 4, Customer: 1},
			},
			req:        Request{Code: "SUMMER20", CartTotal: d("50"), Customer: customer()},
			wantAmount: "0",
			wantFinal:  "50",
			wantErrors: []discount.Reason{discount.ReasonCustomerLimit},
		},
		{
			name:       "fixed amount never exceeds cart",
			rules:      &mockRules{rule: codeRule(discount.TypeFixedAmount, "30")},
			req:        Request{Code: "SUMMER20", CartTotal: d("20"), Customer: customer()},
			wantValid:  true,
			wantAmount: "20",
			wantFinal:  "0",
		},
		{
			name: "items narrow the applicable subtotal",
			rules: &mockRules{rule: func() *discount.Rule {
				r := codeRule(discount.TypePercentage, "10")
				r.Applicability = discount.Applicability{IncludeCategories: []string{"shoes"}}
				return r
			}()},
			req: Request{
				Code:     "SUMMER20",
				Customer: customer(),
				Items: []discount.Line{
					{ID: "1", ProductID: "p1", CategoryID: "shoes", Quantity: 1, UnitPrice: d("80")},
					{ID: "2", ProductID: "p2", CategoryID: "hats", Quantity: 2, UnitPrice: d("10")},
				},
			},
			wantValid:  true,
			wantAmount: "8",
			wantFinal:  "92",
		},
		{
			name: "restricted scope without items",
			rules: &mockRules{rule: func() *discount.Rule {
				r := codeRule(discount.TypePercentage, "10")
				r.Applicability = discount.Applicability{IncludeProducts: []string{"p1"}}
				return r
			}()},
			req:        Request{Code: "SUMMER20", CartTotal: d("50"), Customer: customer()},
			wantAmount: "0",
			wantFinal:  "50",
			wantErrors: []discount.Reason{discount.ReasonNotApplicable},
		},
		{
			name:       "free shipping is valid with zero amount",
			rules:      &mockRules{rule: codeRule(discount.TypeFreeShipping, "0")},
			req:        Request{Code: "SUMMER20", CartTotal: d("50"), Customer: customer()},
			wantValid:  true,
			wantAmount: "0",
			wantFinal:  "50",
		},
		{
			name:       "free shipping reports the shipping discount",
			rules:      &mockRules{rule: codeRule(discount.TypeFreeShipping, "0")},
			req:        Request{Code: "SUMMER20", CartTotal: d("50"), Customer: customer(), ShippingCost: func() *decimal.Decimal { c := d("7.50"); return &c }()},
			wantValid:  true,
			wantAmount: "7.50",
			wantFinal:  "50",
		},
		{
			name:       "special price above cart yields nothing",
			rules:      &mockRules{rule: codeRule(discount.TypeSpecialPrice, "60")},
			req:        Request{Code: "SUMMER20", CartTotal: d("50"), Customer: customer()},
			wantAmount: "0",
			wantFinal:  "50",
			wantErrors: []discount.Reason{discount.ReasonNoDiscount},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(tt.rules, &mockHistory{})

			got, err := v.Validate(context.Background(), tt.req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, got.Valid)
			assert.True(t, d(tt.wantAmount).Equal(got.DiscountAmount), "discount: expected %s, got %s", tt.wantAmount, got.DiscountAmount)
			assert.True(t, d(tt.wantFinal).Equal(got.FinalAmount), "final: expected %s, got %s", tt.wantFinal, got.FinalAmount)
			assert.Equal(t, tt.wantErrors, got.Errors)
		})
	}
}

func TestValidator_NormalizesCode(t *testing.T) {
	rules := &mockRules{rule: codeRule(discount.TypePercentage, "20")}
	v := NewValidator(rules, &mockHistory{})

	got, err := v.Validate(context.Background(), Request{Code: "  Summer20 ", CartTotal: d("10"), Customer: customer()})
	require.NoError(t, err)
	assert.True(t, got.Valid)
	assert.Equal(t, "SUMMER20", got.Code)
	assert.Equal(t, "SUMMER20", rules.lastCode)
	assert.Equal(t, "rule-1", got.RuleID)
	assert.Equal(t, "Summer sale", got.Description)
}

func TestValidator_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewValidator(&mockRules{}, &mockHistory{}).Validate(ctx, Request{Code: "   ", CartTotal: d("10")})
	require.ErrorIs(t, err, ErrCodeRequired)

	_, err = NewValidator(&mockRules{}, &mockHistory{}).Validate(ctx, Request{Code: "X", CartTotal: d("10.001")})
	var lineErr *discount.InvalidLineError
	require.True(t, errors.As(err, &lineErr))

	boom := errors.New("db down")
	_, err = NewValidator(&mockRules{findErr: boom}, &mockHistory{}).Validate(ctx, Request{Code: "X", CartTotal: d("10")})
	require.ErrorIs(t, err, boom)

	rules := &mockRules{rule: codeRule(discount.TypePercentage, "20"), snapErr: boom}
	_, err = NewValidator(rules, &mockHistory{}).Validate(ctx, Request{Code: "SUMMER20", CartTotal: d("10")})
	require.ErrorIs(t, err, boom)
}

func TestValidator_FirstOrderFromHistory(t *testing.T) {
	firstOnly := func() *discount.Rule {
		r := codeRule(discount.TypePercentage, "10")
		r.Restriction.FirstTimeOnly = true
		return r
	}
	boom := errors.New("db down")

	tests := []struct {
		name       string
		customer   discount.Customer
		history    *mockHistory
		wantValid  bool
		wantErrors []discount.Reason
		wantErr    error
	}{
		{
			name:      "no placed orders",
			customer:  customer(),
			history:   &mockHistory{},
			wantValid: true,
		},
		{
			name: "claimed first order is ignored",
			customer: func() discount.Customer {
				c := customer()
				c.FirstTime = true
				return c
			}(),
			history:    &mockHistory{placed: map[string]int{"cust-1": 2}},
			wantErrors: []discount.Reason{discount.ReasonFirstOrderOnly},
		},
		{
			name:       "anonymous customer",
			customer:   discount.Customer{FirstTime: true},
			history:    &mockHistory{},
			wantErrors: []discount.Reason{discount.ReasonFirstOrderOnly},
		},
		{
			name:     "history failure",
			customer: customer(),
			history:  &mockHistory{err: boom},
			wantErr:  boom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(&mockRules{rule: firstOnly()}, tt.history)

			got, err := v.Validate(context.Background(), Request{Code: "SUMMER20", CartTotal: d("50"), Customer: tt.customer})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantErrors, got.Errors)
		})
	}
}

func TestValidator_HistoryOnlyForFirstOrderRules(t *testing.T) {
	history := &mockHistory{}
	v := NewValidator(&mockRules{rule: codeRule(discount.TypePercentage, "10")}, history)

	got, err := v.Validate(context.Background(), Request{Code: "SUMMER20", CartTotal: d("50"), Customer: customer()})
	require.NoError(t, err)
	assert.True(t, got.Valid)
	assert.Zero(t, history.calls)
}
