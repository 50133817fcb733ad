// Package usage counts how often discount rules were redeemed and enforces
// their caps when an order commits.
package usage

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrCapExceeded is matched by every CapExceededError.
	ErrCapExceeded = errors.New("usage cap exceeded")
	// ErrNotRecorded is returned by Reverse for orders the ledger never committed.
	ErrNotRecorded = errors.New("order not recorded in usage ledger")
)

// Scope names which counter a cap applies to.
type Scope string

const (
	ScopeTotal    Scope = "total"
	ScopeCustomer Scope = "customer"
	ScopeIP       Scope = "ip"

	// ScopeFirstOrder guards first-order-only rules: a customer holds at most
	// one committed order redeeming any of them.
	ScopeFirstOrder Scope = "first_order"
)

// CapExceededError reports the first cap a commit would have violated.
type CapExceededError struct {
	RuleID string
	Scope  Scope
	Limit  int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("rule %s: %s usage limit %d reached", e.RuleID, e.Scope, e.Limit)
}

// Is makes errors.Is(err, ErrCapExceeded) succeed.
func (e *CapExceededError) Is(target error) bool {
	return target == ErrCapExceeded
}

// Counts is a snapshot of redemptions for one rule.
type Counts struct {
	Total    int
	Customer int
	IP       int
}

// Limits are the caps of a rule. Nil means unlimited.
type Limits struct {
	Total    *int
	Customer *int
	IP       *int
	// FirstOrder marks a first-order-only rule.
	FirstOrder bool
}

// Claim asks the ledger to record one redemption of a rule.
type Claim struct {
	RuleID     string
	CustomerID string
	IP         string
	Limits     Limits
}

// Check returns the first cap that one more redemption would exceed.
func (l Limits) Check(ruleID string, c Counts, hasCustomer, hasIP bool) error {
	if l.Total != nil && c.Total >= *l.Total {
		return &CapExceededError{RuleID: ruleID, Scope: ScopeTotal, Limit: *l.Total}
	}
	if l.Customer != nil && hasCustomer && c.Customer >= *l.Customer {
		return &CapExceededError{RuleID: ruleID, Scope: ScopeCustomer, Limit: *l.Customer}
	}
	if l.IP != nil && hasIP && c.IP >= *l.IP {
		return &CapExceededError{RuleID: ruleID, Scope: ScopeIP, Limit: *l.IP}
	}
	return nil
}

// FirstOrderClaim returns the customer whose first-order slot the claims
// take, or "" when none of them is first-order-only.
func FirstOrderClaim(claims []Claim) (customerID, ruleID string) {
	for _, c := range claims {
		if c.Limits.FirstOrder && c.CustomerID != "" {
			return c.CustomerID, c.RuleID
		}
	}
	return "", ""
}

// FirstOrderTaken reports that the customer's first-order slot is held by
// another committed order.
func FirstOrderTaken(ruleID string) error {
	return &CapExceededError{RuleID: ruleID, Scope: ScopeFirstOrder, Limit: 1}
}

// Ledger is the authoritative redemption store.
//
// Commit is an atomic conditional increment: every claim of the order is
// checked against its limits and recorded together, or nothing is recorded
// and a *CapExceededError is returned. Claims on first-order-only rules also
// take the customer's single first-order slot. Committing the same order id twice is
// a no-op. Reverse undoes exactly the increments of one order.
type Ledger interface {
	Counts(ctx context.Context, ruleID, customerID, ip string) (Counts, error)
	Commit(ctx context.Context, orderID string, claims []Claim) error
	Reverse(ctx context.Context, orderID string) error
}
