package discount

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/money"
)

// Violation is one invalid field of a rule.
type Violation struct {
	Field   string
	Message string
}

// ValidationError lists every violated field of a rule submitted by a seller.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "invalid discount rule: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

var hundred = decimal.NewFromInt(100)

// Validate checks a rule at write time. It returns nil or a *ValidationError.
func (r *Rule) Validate() error {
	verr := &ValidationError{}

	if !r.Kind.Valid() {
		verr.add("kind", "unknown kind %q", r.Kind)
	}
	if !r.Type.Valid() {
		verr.add("type", "unknown discount type %q", r.Type)
	}
	if strings.TrimSpace(r.Name) == "" {
		verr.add("name", "is required")
	}
	switch r.Kind {
	case KindCode:
		if strings.TrimSpace(r.Code) == "" {
			verr.add("code", "is required for CODE rules")
		}
	case KindEvent:
		if r.EventID == "" {
			verr.add("eventId", "is required for EVENT rules")
		}
	}

	if r.ValidFrom != nil && r.ValidUntil != nil && !r.ValidUntil.After(*r.ValidFrom) {
		verr.add("validUntil", "must be after validFrom")
	}

	r.validateValue(verr)

	if r.MaximumDiscountAmount != nil {
		if r.Type != TypePercentage {
			verr.add("maximumDiscountAmount", "is only allowed for PERCENTAGE rules")
		} else {
			checkAmount(verr, "maximumDiscountAmount", *r.MaximumDiscountAmount)
		}
	}
	if r.MinimumOrderAmount != nil {
		checkAmount(verr, "minimumOrderAmount", *r.MinimumOrderAmount)
	}

	checkLimit(verr, "usageLimitTotal", r.UsageLimitTotal)
	checkLimit(verr, "usageLimitPerUser", r.UsageLimitPerUser)
	checkLimit(verr, "usageLimitPerIp", r.UsageLimitPerIP)

	if !r.Applicability.All && len(r.Applicability.IncludeProducts) == 0 && len(r.Applicability.IncludeCategories) == 0 {
		verr.add("applicability", "must be ALL or include products or categories")
	}

	if len(verr.Violations) > 0 {
		return verr
	}
	return nil
}

func (r *Rule) validateValue(verr *ValidationError) {
	switch r.Type {
	case TypePercentage:
		if r.Value.IsNegative() || r.Value.GreaterThan(hundred) {
			verr.add("value", "percentage must be between 0 and 100")
		}
	case TypeFixedAmount:
		if !r.Value.IsPositive() {
			verr.add("value", "fixed amount must be positive")
		} else {
			checkAmount(verr, "value", r.Value)
		}
	case TypeSpecialPrice:
		checkAmount(verr, "value", r.Value)
	case TypeBuyXGetY:
		if r.MinQuantity < 1 {
			verr.add("minQuantity", "must be at least 1")
		}
		if !r.Value.IsInteger() || r.Value.LessThan(decimal.NewFromInt(1)) {
			verr.add("value", "free units must be a whole number of at least 1")
		}
	case TypeTiered:
		r.validateTiers(verr)
	}
}

func (r *Rule) validateTiers(verr *ValidationError) {
	if len(r.Tiers) == 0 {
		verr.add("tiers", "at least one tier is required")
		return
	}
	for i, t := range r.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.Percent.IsNegative() || t.Percent.GreaterThan(hundred) {
			verr.add(field+".percent", "must be between 0 and 100")
		}
		if t.MinQuantity < 0 {
			verr.add(field+".minQuantity", "must not be negative")
		}
		checkAmount(verr, field+".minSubtotal", t.MinSubtotal)
		if t.MinQuantity == 0 && t.MinSubtotal.IsZero() {
			verr.add(field, "needs a quantity or subtotal threshold")
		}
		if i == 0 {
			continue
		}
		prev := r.Tiers[i-1]
		if t.MinQuantity < prev.MinQuantity || t.MinSubtotal.LessThan(prev.MinSubtotal) ||
			(t.MinQuantity == prev.MinQuantity && t.MinSubtotal.Equal(prev.MinSubtotal)) {
			verr.add(field, "thresholds must be strictly ascending")
		}
	}
}

func checkAmount(verr *ValidationError, field string, d decimal.Decimal) {
	if d.IsNegative() {
		verr.add(field, "must not be negative")
		return
	}
	if !money.IsMinorUnit(d) {
		verr.add(field, "must have at most 2 decimal places")
	}
}

func checkLimit(verr *ValidationError, field string, v *int) {
	if v != nil && *v < 1 {
		verr.add(field, "must be at least 1 when set")
	}
}
