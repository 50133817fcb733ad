// Package checkout prices carts and turns them into orders, recording
// discount usage at commit time.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
)

// Status of a committed order.
type Status string

const (
	StatusPlaced    Status = "PLACED"
	StatusCancelled Status = "CANCELLED"
)

var (
	// ErrEmptyItems is returned for a cart without items.
	ErrEmptyItems = errors.New("items required")
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrPriceChanged is returned when the committed total differs from the
	// total the buyer accepted.
	ErrPriceChanged = errors.New("order total changed since preview")
	// ErrForbidden is returned when the caller may not act on the order.
	ErrForbidden = errors.New("order belongs to another customer")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a cart item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Item is one cart entry.
type Item struct {
	ProductID string
	Quantity  int
}

// Request is a cart submitted for pricing or commit.
type Request struct {
	Items        []Item
	Codes        []string
	Customer     discount.Customer
	IP           string
	ShippingCost *decimal.Decimal
	// ExpectedTotal, when set on commit, must equal the re-evaluated total.
	ExpectedTotal *decimal.Decimal
}

// Line is a priced cart line.
type Line struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
}

// AppliedDiscount is a rule that contributed to a quote or order.
type AppliedDiscount struct {
	RuleID string
	Kind   discount.Kind
	Type   discount.Type
	Name   string
	Code   string
	Amount decimal.Decimal
}

// Rejection explains why a rule the buyer asked for did not apply.
type Rejection struct {
	RuleID  string
	Code    string
	Reasons []discount.Reason
}

// Quote is the priced cart.
type Quote struct {
	Lines            []Line
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
	FreeShipping     bool
	Total            decimal.Decimal
	Applied          []AppliedDiscount
	Dropped          []discount.Dropped
	Rejected         []Rejection
	// UnknownCodes are entered codes that match no rule.
	UnknownCodes []string
}

// Order is a committed cart.
type Order struct {
	ID               string
	CustomerID       string
	IP               string
	Items            []Item
	Codes            []string
	Applied          []AppliedDiscount
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
	Total            decimal.Decimal
	Status           Status
	CreatedAt        time.Time
	CancelledAt      *time.Time
}

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	MarkCancelled(ctx context.Context, id string, at time.Time) error
	// CountPlaced returns the number of the customer's orders that are not
	// cancelled.
	CountPlaced(ctx context.Context, customerID string) (int, error)
}

// Canceller identifies who asks for a cancellation: a seller, or the
// customer the order was placed for.
type Canceller struct {
	CustomerID string
	Seller     bool
}

// CanCancel reports whether c may cancel o. Anonymous orders are only
// cancelled by sellers.
func (c Canceller) CanCancel(o *Order) bool {
	if c.Seller {
		return true
	}
	return o.CustomerID != "" && c.CustomerID == o.CustomerID
}
