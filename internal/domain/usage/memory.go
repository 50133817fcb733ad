package usage

import (
	"context"
	"sync"
)

var _ Ledger = (*MemoryLedger)(nil)

type key struct {
	rule  string
	scope Scope
	id    string
}

type record struct {
	claims     []Claim
	firstOrder string
	reversed   bool
}

// MemoryLedger is a Ledger held in process memory. It serializes commits with
// a mutex and is meant for tests and single-instance deployments.
type MemoryLedger struct {
	mu     sync.Mutex
	counts map[key]int
	orders map[string]*record
	// first holds the order owning each customer's first-order slot.
	first map[string]string
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		counts: make(map[key]int),
		orders: make(map[string]*record),
		first:  make(map[string]string),
	}
}

func (m *MemoryLedger) Counts(_ context.Context, ruleID, customerID, ip string) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countsLocked(ruleID, customerID, ip), nil
}

func (m *MemoryLedger) countsLocked(ruleID, customerID, ip string) Counts {
	c := Counts{Total: m.counts[key{rule: ruleID, scope: ScopeTotal}]}
	if customerID != "" {
		c.Customer = m.counts[key{rule: ruleID, scope: ScopeCustomer, id: customerID}]
	}
	if ip != "" {
		c.IP = m.counts[key{rule: ruleID, scope: ScopeIP, id: ip}]
	}
	return c
}

func (m *MemoryLedger) Commit(ctx context.Context, orderID string, claims []Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; ok {
		return nil
	}
	for _, c := range claims {
		counts := m.countsLocked(c.RuleID, c.CustomerID, c.IP)
		if err := c.Limits.Check(c.RuleID, counts, c.CustomerID != "", c.IP != ""); err != nil {
			return err
		}
	}
	customer, ruleID := FirstOrderClaim(claims)
	if customer != "" {
		if _, taken := m.first[customer]; taken {
			return FirstOrderTaken(ruleID)
		}
		m.first[customer] = orderID
	}
	for _, c := range claims {
		m.apply(c, 1)
	}
	m.orders[orderID] = &record{claims: append([]Claim(nil), claims...), firstOrder: customer}
	return nil
}

func (m *MemoryLedger) Reverse(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.orders[orderID]
	if !ok {
		return ErrNotRecorded
	}
	if rec.reversed {
		return nil
	}
	for _, c := range rec.claims {
		m.apply(c, -1)
	}
	if rec.firstOrder != "" {
		delete(m.first, rec.firstOrder)
	}
	rec.reversed = true
	return nil
}

func (m *MemoryLedger) apply(c Claim, delta int) {
	m.counts[key{rule: c.RuleID, scope: ScopeTotal}] += delta
	if c.CustomerID != "" {
		m.counts[key{rule: c.RuleID, scope: ScopeCustomer, id: c.CustomerID}] += delta
	}
	if c.IP != "" {
		m.counts[key{rule: c.RuleID, scope: ScopeIP, id: c.IP}] += delta
	}
}
