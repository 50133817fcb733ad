// Package money holds the decimal helpers shared by every pricing computation.
//
// All amounts are shopspring decimals in the marketplace currency. Rounding to
// minor units happens once per computation via Round; intermediate values keep
// full precision.
package money

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Places is the number of minor-unit digits of the currency.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)
	cent    = decimal.New(1, -Places)
)

// ErrPrecision is returned by Parse for amounts finer than one minor unit.
var ErrPrecision = errors.New("amount has more than 2 decimal places")

// Round rounds d to minor units, half-up.
//
// decimal.Round rounds half away from zero which is half-up for the
// non-negative amounts used throughout pricing.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse parses a decimal string and rejects negative or sub-cent amounts.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("amount %s is negative", s)
	}
	if !IsMinorUnit(d) {
		return decimal.Zero, ErrPrecision
	}
	return d, nil
}

// IsMinorUnit reports whether d has at most two decimal places.
func IsMinorUnit(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Places))
}

// Percent returns base * pct / 100 without rounding.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// Clamp bounds d to [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// FloorAtZero returns d, or zero when d is negative.
func FloorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds all amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// LineTotal returns unitPrice * quantity.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Allocate splits total into whole-cent shares proportional to weights using
// the largest remainder method. No share exceeds its weight rounded up to a
// cent, and total is rounded and capped at the sum of those ceilings. Shares
// add up to total unless the ceilings leave no room for a leftover cent.
func Allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	caps := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	for i, w := range weights {
		shares[i] = decimal.Zero
		caps[i] = decimal.Zero
		if w.IsPositive() {
			caps[i] = w.RoundCeil(Places)
			sum = sum.Add(w)
		}
	}
	total = decimal.Min(Round(total), Sum(caps...))
	if !total.IsPositive() {
		return shares
	}

	type remainder struct {
		idx  int
		frac decimal.Decimal
	}
	var (
		allocated = decimal.Zero
		rems      = make([]remainder, 0, len(weights))
	)
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		exact := total.Mul(w).Div(sum)
		floor := decimal.Min(exact.Truncate(Places), caps[i])
		shares[i] = floor
		allocated = allocated.Add(floor)
		rems = append(rems, remainder{idx: i, frac: exact.Sub(floor)})
	}

	// Ties go to the earliest weight.
	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac.GreaterThan(rems[b].frac)
	})
	left := total.Sub(allocated)
	for pass := 0; pass < 2 && left.IsPositive(); pass++ {
		for _, r := range rems {
			if !left.IsPositive() {
				break
			}
			next := shares[r.idx].Add(cent)
			if next.GreaterThan(caps[r.idx]) {
				continue
			}
			shares[r.idx] = next
			left = left.Sub(cent)
		}
	}
	return shares
}
