// Package discount evaluates promotion rules against an order: eligibility,
// per-type amount calculation and conflict resolution between rules.
//
// Evaluation is pure. Everything time- or storage-dependent (clock, event
// state, usage counts) is loaded into a Snapshot before Engine.Evaluate runs,
// so the same inputs always produce the same result.
package discount

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

// Kind is where a rule comes from.
type Kind string

const (
	KindCode    Kind = "CODE"
	KindEvent   Kind = "EVENT"
	KindProduct Kind = "PRODUCT"
)

// rank orders kinds for tie-breaking: product beats event beats code.
func (k Kind) rank() int {
	switch k {
	case KindProduct:
		return 3
	case KindEvent:
		return 2
	case KindCode:
		return 1
	default:
		return 0
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k.rank() > 0 }

// Type selects the amount formula.
type Type string

const (
	TypePercentage   Type = "PERCENTAGE"
	TypeFixedAmount  Type = "FIXED_AMOUNT"
	TypeFreeShipping Type = "FREE_SHIPPING"
	TypeSpecialPrice Type = "SPECIAL_PRICE"
	TypeBuyXGetY     Type = "BUY_X_GET_Y"
	TypeTiered       Type = "TIERED"
)

// Valid reports whether t is a known discount type.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeFreeShipping,
		TypeSpecialPrice, TypeBuyXGetY, TypeTiered:
		return true
	default:
		return false
	}
}

// Tier is one step of a TIERED rule. Zero thresholds are not checked.
type Tier struct {
	MinQuantity int
	MinSubtotal decimal.Decimal
	Percent     decimal.Decimal
}

// Applicability scopes a rule to order lines.
type Applicability struct {
	All               bool
	IncludeProducts   []string
	IncludeCategories []string
	ExcludeProducts   []string
}

// Covers reports whether the line falls within the scope. Excluded products
// never qualify, even when All is set.
func (a Applicability) Covers(l Line) bool {
	if slices.Contains(a.ExcludeProducts, l.ProductID) {
		return false
	}
	if a.All {
		return true
	}
	return slices.Contains(a.IncludeProducts, l.ProductID) ||
		(l.CategoryID != "" && slices.Contains(a.IncludeCategories, l.CategoryID))
}

// CustomerRestriction limits who may redeem a rule.
type CustomerRestriction struct {
	FirstTimeOnly bool
	EmailDomains  []string
}

// AllowsEmail reports whether email belongs to one of the allowed domains.
// An empty domain list allows everyone.
func (c CustomerRestriction) AllowsEmail(email string) bool {
	if len(c.EmailDomains) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	for _, d := range c.EmailDomains {
		if strings.EqualFold(strings.TrimPrefix(d, "@"), domain) {
			return true
		}
	}
	return false
}

// Rule is a seller-configured promotion.
//
// Value depends on Type: a percentage for PERCENTAGE, an amount for
// FIXED_AMOUNT, the special unit price for SPECIAL_PRICE and the number of
// free units per group for BUY_X_GET_Y. FREE_SHIPPING and TIERED ignore it.
type Rule struct {
	ID          string
	Kind        Kind
	Type        Type
	Name        string
	Description string
	Code        string
	EventID     string
	Value       decimal.Decimal
	MinQuantity int
	Tiers       []Tier

	MinimumOrderAmount    *decimal.Decimal
	MaximumDiscountAmount *decimal.Decimal

	ValidFrom  *time.Time
	ValidUntil *time.Time

	UsageLimitTotal   *int
	UsageLimitPerUser *int
	UsageLimitPerIP   *int

	Applicability Applicability
	Restriction   CustomerRestriction

	Priority  int
	Stackable bool
	IsActive  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Limits returns the usage caps of the rule.
func (r *Rule) Limits() usage.Limits {
	return usage.Limits{
		Total:      r.UsageLimitTotal,
		Customer:   r.UsageLimitPerUser,
		IP:         r.UsageLimitPerIP,
		FirstOrder: r.Restriction.FirstTimeOnly,
	}
}

// MatchesCode reports whether the rule is redeemed by code, ignoring case.
func (r *Rule) MatchesCode(code string) bool {
	return r.Kind == KindCode && r.Code != "" && strings.EqualFold(r.Code, strings.TrimSpace(code))
}

// NormalizeCode upper-cases and trims a discount code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
