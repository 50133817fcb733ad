package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

const (
	insertUsageOrderSQL = `INSERT INTO usage_orders (order_id, claims, committed_at)
		VALUES ($1, $2, $3) ON CONFLICT (order_id) DO NOTHING`

	lockRulesSQL = `SELECT id, usage_limit_total, usage_limit_per_user, usage_limit_per_ip, first_time_only
		FROM discount_rules WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	countUsageSQL = `SELECT scope, count FROM discount_usage
		WHERE rule_id = $1 AND (
			(scope = 'total' AND subject = '') OR
			(scope = 'customer' AND subject = $2) OR
			(scope = 'ip' AND subject = $3))`

	incrementUsageSQL = `INSERT INTO discount_usage (rule_id, scope, subject, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (rule_id, scope, subject) DO UPDATE SET count = discount_usage.count + 1`

	decrementUsageSQL = `UPDATE discount_usage SET count = count - 1
		WHERE rule_id = $1 AND scope = $2 AND subject = $3 AND count > 0`

	getUsageOrderSQL = `SELECT claims, reversed_at IS NOT NULL FROM usage_orders
		WHERE order_id = $1 FOR UPDATE`

	markUsageReversedSQL = `UPDATE usage_orders SET reversed_at = $2 WHERE order_id = $1`

	claimFirstOrderSQL = `INSERT INTO first_order_claims (customer_id, order_id, rule_id, claimed_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (customer_id) DO NOTHING`

	releaseFirstOrderSQL = `DELETE FROM first_order_claims WHERE order_id = $1`
)

var _ usage.Ledger = (*UsageLedger)(nil)

// UsageLedger implements usage.Ledger on PostgreSQL.
//
// A commit locks the claimed rule rows in id order, so concurrent commits
// touching the same rule serialize, and checks the caps stored on those rows
// rather than the ones the caller evaluated with. First-order-only rules also
// claim the customer's row in first_order_claims. Deadlocks and
// serialization failures are retried with exponential backoff; cap
// violations never are.
type UsageLedger struct {
	pool       *pgxpool.Pool
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// NewUsageLedger returns a UsageLedger that uses the given pool.
func NewUsageLedger(pool *pgxpool.Pool) *UsageLedger {
	return &UsageLedger{
		pool: pool,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
		now: time.Now,
	}
}

type usageKey struct {
	scope   usage.Scope
	subject string
}

func claimKeys(c usage.Claim) []usageKey {
	keys := []usageKey{{scope: usage.ScopeTotal}}
	if c.CustomerID != "" {
		keys = append(keys, usageKey{scope: usage.ScopeCustomer, subject: c.CustomerID})
	}
	if c.IP != "" {
		keys = append(keys, usageKey{scope: usage.ScopeIP, subject: c.IP})
	}
	return keys
}

func claimRuleIDs(claims []usage.Claim) []string {
	seen := make(map[string]struct{}, len(claims))
	ids := make([]string, 0, len(claims))
	for _, c := range claims {
		if _, ok := seen[c.RuleID]; ok {
			continue
		}
		seen[c.RuleID] = struct{}{}
		ids = append(ids, c.RuleID)
	}
	sort.Strings(ids)
	return ids
}

func (l *UsageLedger) Counts(ctx context.Context, ruleID, customerID, ip string) (usage.Counts, error) {
	c, err := queryCounts(ctx, l.pool, ruleID, customerID, ip)
	if err != nil {
		return usage.Counts{}, errors.Wrapf(err, "count usage of rule %q", ruleID)
	}
	return c, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryCounts(ctx context.Context, q querier, ruleID, customerID, ip string) (usage.Counts, error) {
	var c usage.Counts
	rows, err := q.Query(ctx, countUsageSQL, ruleID, customerID, ip)
	if err != nil {
		return c, err
	}
	var (
		scope string
		count int
	)
	_, err = pgx.ForEachRow(rows, []any{&scope, &count}, func() error {
		switch usage.Scope(scope) {
		case usage.ScopeTotal:
			c.Total = count
		case usage.ScopeCustomer:
			c.Customer = count
		case usage.ScopeIP:
			c.IP = count
		}
		return nil
	})
	return c, err
}

func (l *UsageLedger) Commit(ctx context.Context, orderID string, claims []usage.Claim) error {
	return l.retry(ctx, "commit", func() error {
		return l.commit(ctx, orderID, claims)
	})
}

func (l *UsageLedger) commit(ctx context.Context, orderID string, claims []usage.Claim) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertUsageOrderSQL, orderID, encodeClaims(claims), l.now().UTC())
		if err != nil {
			return errors.Wrap(err, "record usage order")
		}
		if tag.RowsAffected() == 0 {
			// Already committed by an earlier attempt.
			return nil
		}
		if len(claims) == 0 {
			return nil
		}

		limits, err := lockRules(ctx, tx, claimRuleIDs(claims))
		if err != nil {
			return err
		}
		stored := make([]usage.Claim, 0, len(claims))
		for _, c := range claims {
			lim, ok := limits[c.RuleID]
			if !ok {
				return errors.Errorf("rule %q not found", c.RuleID)
			}
			counts, err := queryCounts(ctx, tx, c.RuleID, c.CustomerID, c.IP)
			if err != nil {
				return errors.Wrapf(err, "count usage of rule %q", c.RuleID)
			}
			if err := lim.Check(c.RuleID, counts, c.CustomerID != "", c.IP != ""); err != nil {
				return err
			}
			// The stored flag wins over the caller's.
			c.Limits.FirstOrder = lim.FirstOrder
			stored = append(stored, c)
		}
		if customer, ruleID := usage.FirstOrderClaim(stored); customer != "" {
			tag, err := tx.Exec(ctx, claimFirstOrderSQL, customer, orderID, ruleID, l.now().UTC())
			if err != nil {
				return errors.Wrap(err, "claim first order")
			}
			if tag.RowsAffected() == 0 {
				return usage.FirstOrderTaken(ruleID)
			}
		}

		batch := &pgx.Batch{}
		for _, c := range claims {
			for _, k := range claimKeys(c) {
				batch.Queue(incrementUsageSQL, c.RuleID, string(k.scope), k.subject)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "increment usage")
		}
		return nil
	})
}

func (l *UsageLedger) Reverse(ctx context.Context, orderID string) error {
	return l.retry(ctx, "reverse", func() error {
		return l.reverse(ctx, orderID)
	})
}

func (l *UsageLedger) reverse(ctx context.Context, orderID string) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var (
			raw      []byte
			reversed bool
		)
		if err := tx.QueryRow(ctx, getUsageOrderSQL, orderID).Scan(&raw, &reversed); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return usage.ErrNotRecorded
			}
			return errors.Wrap(err, "get usage order")
		}
		if reversed {
			return nil
		}
		claims, err := decodeClaims(raw)
		if err != nil {
			return err
		}

		if len(claims) > 0 {
			if _, err := lockRules(ctx, tx, claimRuleIDs(claims)); err != nil {
				return err
			}
			batch := &pgx.Batch{}
			for _, c := range claims {
				for _, k := range claimKeys(c) {
					batch.Queue(decrementUsageSQL, c.RuleID, string(k.scope), k.subject)
				}
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return errors.Wrap(err, "decrement usage")
			}
		}

		if _, err := tx.Exec(ctx, releaseFirstOrderSQL, orderID); err != nil {
			return errors.Wrap(err, "release first order")
		}
		if _, err := tx.Exec(ctx, markUsageReversedSQL, orderID, l.now().UTC()); err != nil {
			return errors.Wrap(err, "mark usage reversed")
		}
		return nil
	})
}

func lockRules(ctx context.Context, tx pgx.Tx, ids []string) (map[string]usage.Limits, error) {
	rows, err := tx.Query(ctx, lockRulesSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock rules")
	}
	limits := make(map[string]usage.Limits, len(ids))
	var (
		id  string
		lim usage.Limits
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &lim.Total, &lim.Customer, &lim.IP, &lim.FirstOrder}, func() error {
		limits[id] = lim
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "lock rules")
	}
	return limits, nil
}

func (l *UsageLedger) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(l.newBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, d time.Duration) {
		zctx.From(ctx).Warn("Retrying usage ledger transaction",
			zap.String("op", op),
			zap.Duration("backoff", d),
			zap.Error(err),
		)
	})
}
