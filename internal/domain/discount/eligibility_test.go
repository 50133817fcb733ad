package discount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/marketplace-promo/internal/domain/event"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func activeEvent(id string) event.Event {
	return event.Event{
		ID:           id,
		Name:         id,
		StartingDate: fixedNow.Add(-time.Hour),
		EndingDate:   fixedNow.Add(time.Hour),
		AutoStart:    true,
		AutoEnd:      true,
		IsActive:     true,
	}
}

func TestCheck(t *testing.T) {
	baseSnapshot := func() Snapshot {
		return Snapshot{
			Now:    fixedNow,
			Events: map[string]event.Event{"ev": activeEvent("ev")},
			Usage:  map[string]usage.Counts{},
		}
	}

	tests := []struct {
		name     string
		rule     func() Rule
		order    func() *Order
		snapshot func() Snapshot
		want     []Reason
	}{
		{
			name: "eligible",
			rule: func() Rule { return newRule("r", TypePercentage, "10") },
		},
		{
			name: "inactive",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.IsActive = false
				return r
			},
			want: []Reason{ReasonInactive},
		},
		{
			name: "not started",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.ValidFrom = timePtr(fixedNow.Add(time.Minute))
				return r
			},
			want: []Reason{ReasonNotStarted},
		},
		{
			name: "expired",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.ValidUntil = timePtr(fixedNow.Add(-time.Minute))
				return r
			},
			want: []Reason{ReasonExpired},
		},
		{
			name: "event active",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Kind = KindEvent
				r.EventID = "ev"
				return r
			},
		},
		{
			name: "event paused",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Kind = KindEvent
				r.EventID = "ev"
				return r
			},
			snapshot: func() Snapshot {
				s := baseSnapshot()
				ev := activeEvent("ev")
				ev.IsActive = false
				s.Events["ev"] = ev
				return s
			},
			want: []Reason{ReasonEventNotActive},
		},
		{
			name: "event missing",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Kind = KindEvent
				r.EventID = "gone"
				return r
			},
			want: []Reason{ReasonEventNotFound},
		},
		{
			name: "code entered in another case",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Kind = KindCode
				r.Code = "SUMMER10"
				return r
			},
			order: func() *Order {
				o := newOrder(line("a", "50", 1))
				o.Codes = []string{" summer10 "}
				return o
			},
		},
		{
			name: "code not entered",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Kind = KindCode
				r.Code = "SUMMER10"
				return r
			},
			want: []Reason{ReasonCodeNotEntered},
		},
		{
			name: "minimum on scoped subtotal",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Applicability = Applicability{IncludeProducts: []string{"b"}}
				r.MinimumOrderAmount = dp("20")
				return r
			},
			order: func() *Order { return newOrder(line("a", "100", 1), line("b", "10", 1)) },
			want:  []Reason{ReasonMinimumNotMet},
		},
		{
			name: "minimum ignores excluded lines under all",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Applicability = Applicability{All: true, ExcludeProducts: []string{"a"}}
				r.MinimumOrderAmount = dp("50")
				return r
			},
			order: func() *Order { return newOrder(line("a", "100", 1), line("b", "10", 1)) },
			want:  []Reason{ReasonMinimumNotMet},
		},
		{
			name: "minimum met by whole cart under all",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.MinimumOrderAmount = dp("50")
				return r
			},
			order: func() *Order { return newOrder(line("a", "40", 1), line("b", "10", 1)) },
		},
		{
			name: "nothing in scope",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Applicability = Applicability{IncludeCategories: []string{"shoes"}}
				return r
			},
			want: []Reason{ReasonNotApplicable},
		},
		{
			name: "excluded product",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Applicability = Applicability{All: true, ExcludeProducts: []string{"a"}}
				return r
			},
			want: []Reason{ReasonNotApplicable},
		},
		{
			name: "first order only",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Restriction.FirstTimeOnly = true
				return r
			},
			want: []Reason{ReasonFirstOrderOnly},
		},
		{
			name: "email domain",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.Restriction.EmailDomains = []string{"corp.example"}
				return r
			},
			want: []Reason{ReasonEmailDomain},
		},
		{
			name: "total usage reached",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.UsageLimitTotal = intPtr(3)
				return r
			},
			snapshot: func() Snapshot {
				s := baseSnapshot()
				s.Usage["r"] = usage.Counts{Total: 3}
				return s
			},
			want: []Reason{ReasonUsageLimitReached},
		},
		{
			name: "per user limit needs a customer",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.UsageLimitPerUser = intPtr(1)
				return r
			},
			order: func() *Order {
				o := newOrder(line("a", "50", 1))
				o.Customer = Customer{}
				return o
			},
			want: []Reason{ReasonCustomerRequired},
		},
		{
			name: "per user and per ip reached",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.UsageLimitPerUser = intPtr(1)
				r.UsageLimitPerIP = intPtr(2)
				return r
			},
			snapshot: func() Snapshot {
				s := baseSnapshot()
				s.Usage["r"] = usage.Counts{Total: 5, Customer: 1, IP: 2}
				return s
			},
			want: []Reason{ReasonCustomerLimit, ReasonIPLimit},
		},
		{
			name: "every failure is reported",
			rule: func() Rule {
				r := newRule("r", TypePercentage, "10")
				r.IsActive = false
				r.ValidUntil = timePtr(fixedNow.Add(-time.Hour))
				r.MinimumOrderAmount = dp("1000")
				return r
			},
			want: []Reason{ReasonInactive, ReasonExpired, ReasonMinimumNotMet},
		},
	}

	var checker Checker
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rule()
			o := newOrder(line("a", "50", 1))
			if tt.order != nil {
				o = tt.order()
			}
			s := baseSnapshot()
			if tt.snapshot != nil {
				s = tt.snapshot()
			}

			got := checker.Check(&r, o, s)

			assert.Equal(t, "r", got.RuleID)
			assert.Equal(t, len(tt.want) == 0, got.Eligible)
			assert.Equal(t, tt.want, got.Reasons)

			again := checker.Check(&r, o, s)
			assert.Equal(t, got, again)
		})
	}
}
