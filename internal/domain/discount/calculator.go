package discount

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/money"
)

// Discount is the amount one rule takes off an order. Lines holds whole-cent
// amounts per line id and Amount is their sum. FREE_SHIPPING rules report
// Shipping instead, or ShippingUnknown when the order carries no shipping
// cost.
type Discount struct {
	RuleID          string
	Type            Type
	Amount          decimal.Decimal
	Lines           map[string]decimal.Decimal
	Shipping        decimal.Decimal
	ShippingUnknown bool
}

// Calculator computes discount amounts. It assumes the rule is eligible.
type Calculator struct{}

// Compute prices the rule against the full order.
func (c Calculator) Compute(r *Rule, o *Order) Discount {
	bases := make(map[string]decimal.Decimal, len(o.Lines))
	var lines []Line
	for _, l := range o.Lines {
		bases[l.ID] = l.Total()
		if r.Applicability.Covers(l) {
			lines = append(lines, l)
		}
	}
	return c.compute(r, o, lines, bases)
}

// compute prices the rule against lines whose remaining totals are bases.
// The exact amount is rounded once and spread over lines in whole cents, so
// no line ever goes below zero.
func (Calculator) compute(r *Rule, o *Order, lines []Line, bases map[string]decimal.Decimal) Discount {
	d := Discount{
		RuleID:   r.ID,
		Type:     r.Type,
		Amount:   decimal.Zero,
		Lines:    make(map[string]decimal.Decimal),
		Shipping: decimal.Zero,
	}
	if r.Type == TypeFreeShipping {
		if o.ShippingCost == nil {
			d.ShippingUnknown = true
		} else {
			d.Shipping = money.Round(money.FloorAtZero(*o.ShippingCost))
		}
		return d
	}

	applicable := decimal.Zero
	for _, l := range lines {
		applicable = applicable.Add(bases[l.ID])
	}

	var (
		weights = make([]decimal.Decimal, len(lines))
		total   decimal.Decimal
	)
	switch r.Type {
	case TypePercentage:
		for i, l := range lines {
			weights[i] = bases[l.ID]
		}
		total = money.Percent(applicable, r.Value)
		if r.MaximumDiscountAmount != nil {
			total = decimal.Min(total, *r.MaximumDiscountAmount)
		}
	case TypeFixedAmount:
		for i, l := range lines {
			weights[i] = bases[l.ID]
		}
		total = r.Value
	case TypeSpecialPrice:
		for i, l := range lines {
			weights[i] = money.FloorAtZero(bases[l.ID].Sub(money.LineTotal(r.Value, l.Quantity)))
		}
		total = money.Sum(weights...)
	case TypeBuyXGetY:
		weights = freeUnitValues(r, lines, bases)
		total = money.Sum(weights...)
	case TypeTiered:
		tier, ok := selectTier(r.Tiers, lines)
		if !ok {
			return d
		}
		for i, l := range lines {
			weights[i] = bases[l.ID]
		}
		total = money.Percent(applicable, tier.Percent)
	default:
		return d
	}

	total = money.Clamp(total, decimal.Zero, applicable)
	shares := money.Allocate(total, weights)
	for i, l := range lines {
		if shares[i].IsPositive() {
			d.Lines[l.ID] = shares[i]
			d.Amount = d.Amount.Add(shares[i])
		}
	}
	return d
}

// freeUnitValues returns, per line, the value of the units given away. Each
// MinQuantity paid units unlock the next Value units; the cheapest
// qualifying units are the free ones.
func freeUnitValues(r *Rule, lines []Line, bases map[string]decimal.Decimal) []decimal.Decimal {
	values := make([]decimal.Decimal, len(lines))
	for i := range values {
		values[i] = decimal.Zero
	}
	if r.MinQuantity < 1 {
		return values
	}

	units := 0
	for _, l := range lines {
		units += l.Quantity
	}
	free := freeUnits(units, r.MinQuantity, int(r.Value.IntPart()))
	if free <= 0 {
		return values
	}

	unitPrice := func(i int) decimal.Decimal {
		return bases[lines[i].ID].Div(decimal.NewFromInt(int64(lines[i].Quantity)))
	}
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return unitPrice(order[a]).LessThan(unitPrice(order[b]))
	})

	for _, i := range order {
		if free == 0 {
			break
		}
		n := min(free, lines[i].Quantity)
		if n == lines[i].Quantity {
			values[i] = bases[lines[i].ID]
		} else {
			values[i] = unitPrice(i).Mul(decimal.NewFromInt(int64(n)))
		}
		free -= n
	}
	return values
}

// freeUnits counts the units given away when every run of paid units is
// followed by up to get free ones. The paid units of a run are never free.
func freeUnits(units, paid, get int) int {
	if paid < 1 || get < 1 {
		return 0
	}
	cycle := paid + get
	free := (units / cycle) * get
	if rest := units % cycle; rest > paid {
		free += rest - paid
	}
	return free
}

// selectTier picks the highest tier whose thresholds the lines meet. Tiers
// are stored in ascending order.
func selectTier(tiers []Tier, lines []Line) (Tier, bool) {
	qty := 0
	subtotal := decimal.Zero
	for _, l := range lines {
		qty += l.Quantity
		subtotal = subtotal.Add(l.Total())
	}

	var (
		best  Tier
		found bool
	)
	for _, t := range tiers {
		if qty >= t.MinQuantity && subtotal.GreaterThanOrEqual(t.MinSubtotal) {
			best, found = t, true
		}
	}
	return best, found
}
