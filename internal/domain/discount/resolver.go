package discount

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/money"
)

// Applied is a rule that contributed to the final price.
type Applied struct {
	Rule     *Rule
	Discount Discount
}

// Dropped is an eligible rule left out by conflict resolution. BlockedBy is
// the rule that won the conflict, when there is one.
type Dropped struct {
	RuleID    string
	Reason    Reason
	BlockedBy string
}

// Resolution is the combined result of all applied rules.
type Resolution struct {
	Applied          []Applied
	Dropped          []Dropped
	Subtotal         decimal.Decimal
	TotalDiscount    decimal.Decimal
	Total            decimal.Decimal
	PerLine          map[string]decimal.Decimal
	ShippingDiscount decimal.Decimal
	// FreeShipping is set when a shipping rule applied, including when the
	// shipping cost was unknown and ShippingDiscount stays zero.
	FreeShipping bool
}

// RuleIDs returns the ids of applied rules in application order.
func (r *Resolution) RuleIDs() []string {
	ids := make([]string, len(r.Applied))
	for i, a := range r.Applied {
		ids[i] = a.Rule.ID
	}
	return ids
}

// Resolver combines eligible rules into one price.
//
// Rules are visited by priority (descending), then kind (product, event,
// code), then id. At most one CODE rule applies. A stackable rule discounts
// the lines no non-stackable rule has claimed; a non-stackable rule applies
// only when none of its lines was touched before and then claims them. Every
// rule is computed on what earlier rules left of each line, so percentages
// compose multiplicatively and no line drops below zero.
type Resolver struct {
	calc Calculator
}

// Resolve applies eligible rules to the order. Rules must already have
// passed the Checker.
func (rs Resolver) Resolve(rules []*Rule, o *Order) Resolution {
	ordered := make([]*Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Kind.rank() != b.Kind.rank() {
			return a.Kind.rank() > b.Kind.rank()
		}
		return a.ID < b.ID
	})

	res := Resolution{
		Subtotal:         o.Subtotal(),
		TotalDiscount:    decimal.Zero,
		PerLine:          make(map[string]decimal.Decimal),
		ShippingDiscount: decimal.Zero,
	}

	remaining := make(map[string]decimal.Decimal, len(o.Lines))
	for _, l := range o.Lines {
		remaining[l.ID] = l.Total()
	}
	var (
		touched      = make(map[string]string) // line id -> first rule applied to it
		claimed      = make(map[string]string) // line id -> non-stackable owner
		codeRule     string
		shippingRule string
	)
	drop := func(r *Rule, reason Reason, by string) {
		res.Dropped = append(res.Dropped, Dropped{RuleID: r.ID, Reason: reason, BlockedBy: by})
	}

	for _, r := range ordered {
		if r.Kind == KindCode && codeRule != "" {
			drop(r, ReasonCodeLimit, codeRule)
			continue
		}

		if r.Type == TypeFreeShipping {
			if shippingRule != "" {
				drop(r, ReasonShippingDiscounted, shippingRule)
				continue
			}
			d := rs.calc.compute(r, o, nil, remaining)
			shippingRule = r.ID
			if r.Kind == KindCode {
				codeRule = r.ID
			}
			res.FreeShipping = true
			res.ShippingDiscount = d.Shipping
			res.Applied = append(res.Applied, Applied{Rule: r, Discount: d})
			continue
		}

		var (
			avail     []Line
			blockedBy string
		)
		for _, l := range o.Lines {
			if !r.Applicability.Covers(l) {
				continue
			}
			if owner, ok := claimed[l.ID]; ok {
				if blockedBy == "" {
					blockedBy = owner
				}
				continue
			}
			if by, ok := touched[l.ID]; ok && !r.Stackable && blockedBy == "" {
				blockedBy = by
			}
			avail = append(avail, l)
		}

		switch {
		case !r.Stackable && blockedBy != "":
			drop(r, ReasonNonStackable, blockedBy)
			continue
		case len(avail) == 0:
			drop(r, ReasonLinesClaimed, blockedBy)
			continue
		}

		d := rs.calc.compute(r, o, avail, remaining)
		if !d.Amount.IsPositive() {
			drop(r, ReasonNoDiscount, "")
			continue
		}

		for _, l := range avail {
			if _, ok := touched[l.ID]; !ok {
				touched[l.ID] = r.ID
			}
			if !r.Stackable {
				claimed[l.ID] = r.ID
			}
		}
		for id, amt := range d.Lines {
			remaining[id] = remaining[id].Sub(amt)
			res.PerLine[id] = res.PerLine[id].Add(amt)
		}
		if r.Kind == KindCode {
			codeRule = r.ID
		}
		res.TotalDiscount = res.TotalDiscount.Add(d.Amount)
		res.Applied = append(res.Applied, Applied{Rule: r, Discount: d})
	}

	res.TotalDiscount = decimal.Min(res.TotalDiscount, res.Subtotal)
	res.Total = money.FloorAtZero(res.Subtotal.Sub(res.TotalDiscount))
	return res
}
