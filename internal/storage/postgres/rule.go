package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
)

const ruleColumns = `id, kind, discount_type, name, description, code, event_id,
	value, min_quantity, tiers, minimum_order_amount, maximum_discount_amount,
	valid_from, valid_until, usage_limit_total, usage_limit_per_user, usage_limit_per_ip,
	applies_to_all, include_products, include_categories, exclude_products,
	first_time_only, email_domains, priority, stackable, is_active, created_at, updated_at`

const (
	insertRuleSQL = `INSERT INTO discount_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`

	updateRuleSQL = `UPDATE discount_rules SET
		kind = $2, discount_type = $3, name = $4, description = $5, code = $6, event_id = $7,
		value = $8, min_quantity = $9, tiers = $10, minimum_order_amount = $11,
		maximum_discount_amount = $12, valid_from = $13, valid_until = $14,
		usage_limit_total = $15, usage_limit_per_user = $16, usage_limit_per_ip = $17,
		applies_to_all = $18, include_products = $19, include_categories = $20,
		exclude_products = $21, first_time_only = $22, email_domains = $23,
		priority = $24, stackable = $25, is_active = $26, created_at = $27, updated_at = $28
		WHERE id = $1`

	getRuleSQL = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = $1`

	findRulesByCodesSQL = `SELECT ` + ruleColumns + ` FROM discount_rules
		WHERE kind = 'CODE' AND UPPER(code) = ANY($1)`

	listAutomaticRulesSQL = `SELECT ` + ruleColumns + ` FROM discount_rules
		WHERE is_active AND kind <> 'CODE'`

	listCodesSQL = `SELECT code FROM discount_rules WHERE code IS NOT NULL`
)

var _ discount.Repository = (*RuleRepository)(nil)

// RuleRepository implements discount.Repository backed by PostgreSQL.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

func ruleArgs(r *discount.Rule) []any {
	var code, eventID *string
	if r.Code != "" {
		code = &r.Code
	}
	if r.EventID != "" {
		eventID = &r.EventID
	}
	return []any{
		r.ID, string(r.Kind), string(r.Type), r.Name, r.Description, code, eventID,
		r.Value, r.MinQuantity, encodeTiers(r.Tiers), r.MinimumOrderAmount, r.MaximumDiscountAmount,
		r.ValidFrom, r.ValidUntil, r.UsageLimitTotal, r.UsageLimitPerUser, r.UsageLimitPerIP,
		r.Applicability.All, nonNil(r.Applicability.IncludeProducts),
		nonNil(r.Applicability.IncludeCategories), nonNil(r.Applicability.ExcludeProducts),
		r.Restriction.FirstTimeOnly, nonNil(r.Restriction.EmailDomains),
		r.Priority, r.Stackable, r.IsActive, r.CreatedAt, r.UpdatedAt,
	}
}

// Create inserts a rule. A code already used by another rule yields
// discount.ErrDuplicateCode.
func (r *RuleRepository) Create(ctx context.Context, rule *discount.Rule) error {
	if _, err := r.pool.Exec(ctx, insertRuleSQL, ruleArgs(rule)...); err != nil {
		if isUniqueViolation(err) {
			return discount.ErrDuplicateCode
		}
		return errors.Wrapf(err, "insert rule %q", rule.ID)
	}
	return nil
}

// CreateBatch inserts many rules in one transaction, skipping none: a single
// duplicate code aborts the whole batch with discount.ErrDuplicateCode.
func (r *RuleRepository) CreateBatch(ctx context.Context, rules []discount.Rule) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range rules {
			batch.Queue(insertRuleSQL, ruleArgs(&rules[i])...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isUniqueViolation(err) {
				return discount.ErrDuplicateCode
			}
			return errors.Wrap(err, "insert rule batch")
		}
		return nil
	})
}

// Update overwrites a rule.
func (r *RuleRepository) Update(ctx context.Context, rule *discount.Rule) error {
	tag, err := r.pool.Exec(ctx, updateRuleSQL, ruleArgs(rule)...)
	if err != nil {
		if isUniqueViolation(err) {
			return discount.ErrDuplicateCode
		}
		return errors.Wrapf(err, "update rule %q", rule.ID)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

// Get returns a rule by id.
func (r *RuleRepository) Get(ctx context.Context, id string) (*discount.Rule, error) {
	rows, err := r.pool.Query(ctx, getRuleSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get rule %q", id)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get rule %q", id)
	}
	return &rule, nil
}

// FindByCodes returns CODE rules matching any of codes, ignoring case.
func (r *RuleRepository) FindByCodes(ctx context.Context, codes []string) ([]discount.Rule, error) {
	upper := make([]string, len(codes))
	for i, c := range codes {
		upper[i] = strings.ToUpper(c)
	}
	rows, err := r.pool.Query(ctx, findRulesByCodesSQL, upper)
	if err != nil {
		return nil, errors.Wrap(err, "find rules by codes")
	}
	return pgx.CollectRows(rows, scanRule)
}

// ListAutomatic returns active EVENT and PRODUCT rules.
func (r *RuleRepository) ListAutomatic(ctx context.Context) ([]discount.Rule, error) {
	rows, err := r.pool.Query(ctx, listAutomaticRulesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list automatic rules")
	}
	return pgx.CollectRows(rows, scanRule)
}

// EachCode calls fn for every code stored, active or not.
func (r *RuleRepository) EachCode(ctx context.Context, fn func(code string) error) error {
	rows, err := r.pool.Query(ctx, listCodesSQL)
	if err != nil {
		return errors.Wrap(err, "list codes")
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		return fn(code)
	})
	return err
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		r             discount.Rule
		kind, typ     string
		code, eventID *string
		tiers         []byte
	)
	err := row.Scan(
		&r.ID, &kind, &typ, &r.Name, &r.Description, &code, &eventID,
		&r.Value, &r.MinQuantity, &tiers, &r.MinimumOrderAmount, &r.MaximumDiscountAmount,
		&r.ValidFrom, &r.ValidUntil, &r.UsageLimitTotal, &r.UsageLimitPerUser, &r.UsageLimitPerIP,
		&r.Applicability.All, &r.Applicability.IncludeProducts,
		&r.Applicability.IncludeCategories, &r.Applicability.ExcludeProducts,
		&r.Restriction.FirstTimeOnly, &r.Restriction.EmailDomains,
		&r.Priority, &r.Stackable, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.Kind = discount.Kind(kind)
	r.Type = discount.Type(typ)
	if code != nil {
		r.Code = *code
	}
	if eventID != nil {
		r.EventID = *eventID
	}
	if r.Tiers, err = decodeTiers(tiers); err != nil {
		return r, err
	}
	return r, nil
}
