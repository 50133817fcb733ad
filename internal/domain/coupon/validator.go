// Package coupon answers "does this code work for my cart" without committing
// anything.
package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/money"
)

// ErrCodeRequired is returned when the request carries no code.
var ErrCodeRequired = errors.New("code required")

// cartLineID names the synthetic line used when the caller sends only a
// cart total.
const cartLineID = "cart"

// Rules loads a code rule and the state its eligibility depends on.
// *discount.Service implements it.
type Rules interface {
	FindCode(ctx context.Context, code string) (*discount.Rule, error)
	Snapshot(ctx context.Context, rules []discount.Rule, o *discount.Order) (discount.Snapshot, error)
}

// History counts a customer's placed orders. *postgres.OrderRepository
// implements it.
type History interface {
	CountPlaced(ctx context.Context, customerID string) (int, error)
}

// Request is a validation query. Items is optional; without it the cart is
// priced as a single line worth CartTotal.
type Request struct {
	Code         string
	CartTotal    decimal.Decimal
	Customer     discount.Customer
	IP           string
	Items        []discount.Line
	ShippingCost *decimal.Decimal
}

// Result is the outcome of a validation. Errors lists every reason the code
// does not apply, empty when Valid. DiscountAmount includes any shipping
// discount, and FinalAmount includes shipping when its cost is known.
type Result struct {
	Valid          bool
	Code           string
	RuleID         string
	Description    string
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	FreeShipping   bool
	Errors         []discount.Reason
}

// Validator checks a single code against a cart.
type Validator struct {
	rules   Rules
	history History
	checker discount.Checker
	calc    discount.Calculator
}

// NewValidator creates a Validator.
func NewValidator(rules Rules, history History) *Validator {
	return &Validator{rules: rules, history: history}
}

// Validate runs eligibility and pricing for the rule behind req.Code. An
// unusable code is a normal Result with Valid false, not an error.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, error) {
	code := discount.NormalizeCode(req.Code)
	if code == "" {
		return nil, ErrCodeRequired
	}

	o := &discount.Order{
		Lines:        req.Items,
		Customer:     req.Customer,
		IP:           req.IP,
		Codes:        []string{code},
		ShippingCost: req.ShippingCost,
	}
	if len(o.Lines) == 0 {
		o.Lines = []discount.Line{{ID: cartLineID, Quantity: 1, UnitPrice: req.CartTotal}}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	subtotal := o.Subtotal()
	shipping := decimal.Zero
	if req.ShippingCost != nil {
		shipping = money.FloorAtZero(*req.ShippingCost)
	}

	res := &Result{
		Code:           code,
		DiscountAmount: decimal.Zero,
		FinalAmount:    subtotal.Add(shipping),
	}

	rule, err := v.rules.FindCode(ctx, code)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			res.Errors = []discount.Reason{discount.ReasonCodeNotFound}
			return res, nil
		}
		return nil, errors.Wrap(err, "find code")
	}
	res.RuleID = rule.ID
	res.Description = rule.Description

	// First-order status comes from order history, never from the caller.
	o.Customer.FirstTime = false
	if rule.Restriction.FirstTimeOnly && o.Customer.ID != "" {
		placed, err := v.history.CountPlaced(ctx, o.Customer.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count placed orders")
		}
		o.Customer.FirstTime = placed == 0
	}

	snap, err := v.rules.Snapshot(ctx, []discount.Rule{*rule}, o)
	if err != nil {
		return nil, errors.Wrap(err, "load rule state")
	}

	elig := v.checker.Check(rule, o, snap)
	if !elig.Eligible {
		res.Errors = elig.Reasons
		v.log(ctx, res)
		return res, nil
	}

	d := v.calc.Compute(rule, o)
	if !d.Amount.IsPositive() && rule.Type != discount.TypeFreeShipping {
		res.Errors = []discount.Reason{discount.ReasonNoDiscount}
		v.log(ctx, res)
		return res, nil
	}

	res.Valid = true
	res.DiscountAmount = d.Amount.Add(d.Shipping)
	res.FinalAmount = money.FloorAtZero(subtotal.Sub(d.Amount)).Add(money.FloorAtZero(shipping.Sub(d.Shipping)))
	res.FreeShipping = rule.Type == discount.TypeFreeShipping
	v.log(ctx, res)
	return res, nil
}

func (v *Validator) log(ctx context.Context, res *Result) {
	reasons := make([]string, len(res.Errors))
	for i, r := range res.Errors {
		reasons[i] = string(r)
	}
	zctx.From(ctx).Debug("Code validated",
		zap.String("rule_id", res.RuleID),
		zap.Bool("valid", res.Valid),
		zap.Strings("reasons", reasons),
		zap.String("discount", res.DiscountAmount.String()),
	)
}
