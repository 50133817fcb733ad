package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-promo/internal/domain/event"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

// Snapshot is the external state an evaluation depends on.
type Snapshot struct {
	Now    time.Time
	Events map[string]event.Event
	Usage  map[string]usage.Counts
}

// Eligibility is the outcome of checking one rule. Reasons lists every failed
// check, not only the first.
type Eligibility struct {
	RuleID   string
	Eligible bool
	Reasons  []Reason
}

// Checker decides whether a rule may apply to an order.
type Checker struct{}

// Check runs every eligibility check and collects all failures.
func (Checker) Check(r *Rule, o *Order, s Snapshot) Eligibility {
	var reasons []Reason
	fail := func(reason Reason) { reasons = append(reasons, reason) }

	if !r.IsActive {
		fail(ReasonInactive)
	}
	if r.ValidFrom != nil && s.Now.Before(*r.ValidFrom) {
		fail(ReasonNotStarted)
	}
	if r.ValidUntil != nil && s.Now.After(*r.ValidUntil) {
		fail(ReasonExpired)
	}

	switch r.Kind {
	case KindEvent:
		ev, ok := s.Events[r.EventID]
		switch {
		case !ok:
			fail(ReasonEventNotFound)
		case ev.Status(s.Now) != event.StatusActive:
			fail(ReasonEventNotActive)
		}
	case KindCode:
		if !o.HasCode(r) {
			fail(ReasonCodeNotEntered)
		}
	}

	applicable, covered := applicableSubtotal(r, o)
	if covered == 0 {
		fail(ReasonNotApplicable)
	}
	// Excluded lines never count toward the minimum, even under ALL.
	if r.MinimumOrderAmount != nil && applicable.LessThan(*r.MinimumOrderAmount) {
		fail(ReasonMinimumNotMet)
	}

	if r.Restriction.FirstTimeOnly && !o.Customer.FirstTime {
		fail(ReasonFirstOrderOnly)
	}
	if !r.Restriction.AllowsEmail(o.Customer.Email) {
		fail(ReasonEmailDomain)
	}

	counts := s.Usage[r.ID]
	if r.UsageLimitTotal != nil && counts.Total >= *r.UsageLimitTotal {
		fail(ReasonUsageLimitReached)
	}
	if r.UsageLimitPerUser != nil {
		switch {
		case o.Customer.ID == "":
			fail(ReasonCustomerRequired)
		case counts.Customer >= *r.UsageLimitPerUser:
			fail(ReasonCustomerLimit)
		}
	}
	if r.UsageLimitPerIP != nil && o.IP != "" && counts.IP >= *r.UsageLimitPerIP {
		fail(ReasonIPLimit)
	}

	return Eligibility{
		RuleID:   r.ID,
		Eligible: len(reasons) == 0,
		Reasons:  reasons,
	}
}

// applicableSubtotal sums lines within the rule scope and counts them.
func applicableSubtotal(r *Rule, o *Order) (decimal.Decimal, int) {
	total := decimal.Zero
	n := 0
	for _, l := range o.Lines {
		if r.Applicability.Covers(l) {
			total = total.Add(l.Total())
			n++
		}
	}
	return total, n
}
