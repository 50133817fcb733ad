package discount

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/money"
)

// ErrEmptyOrder is returned for orders without lines.
var ErrEmptyOrder = errors.New("order has no lines")

// InvalidLineError indicates a malformed order line.
type InvalidLineError struct {
	LineID string
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("line %s: %s", e.LineID, e.Reason)
}

// Line is one priced item of an order.
type Line struct {
	ID         string
	ProductID  string
	CategoryID string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// Total returns unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return money.LineTotal(l.UnitPrice, l.Quantity)
}

// Customer identifies the buyer. An empty ID means anonymous.
type Customer struct {
	ID        string
	Email     string
	FirstTime bool
}

// Order is the input of an evaluation. ShippingCost is nil when the caller
// does not know it yet.
type Order struct {
	Lines        []Line
	Customer     Customer
	IP           string
	Codes        []string
	ShippingCost *decimal.Decimal
}

// Subtotal sums all line totals.
func (o *Order) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// Validate rejects orders the calculator cannot price.
func (o *Order) Validate() error {
	if len(o.Lines) == 0 {
		return ErrEmptyOrder
	}
	seen := make(map[string]struct{}, len(o.Lines))
	for _, l := range o.Lines {
		switch {
		case l.ID == "":
			return &InvalidLineError{LineID: l.ProductID, Reason: "line id is required"}
		case l.Quantity <= 0:
			return &InvalidLineError{LineID: l.ID, Reason: "quantity must be greater than 0"}
		case l.UnitPrice.IsNegative():
			return &InvalidLineError{LineID: l.ID, Reason: "unit price must not be negative"}
		case !money.IsMinorUnit(l.UnitPrice):
			return &InvalidLineError{LineID: l.ID, Reason: "unit price must have at most 2 decimal places"}
		}
		if _, dup := seen[l.ID]; dup {
			return &InvalidLineError{LineID: l.ID, Reason: "duplicate line id"}
		}
		seen[l.ID] = struct{}{}
	}
	if o.ShippingCost != nil && o.ShippingCost.IsNegative() {
		return errors.New("shipping cost must not be negative")
	}
	return nil
}

// HasCode reports whether the buyer entered code.
func (o *Order) HasCode(r *Rule) bool {
	for _, c := range o.Codes {
		if r.MatchesCode(c) {
			return true
		}
	}
	return false
}
