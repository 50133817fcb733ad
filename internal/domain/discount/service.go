package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-promo/internal/domain/event"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
)

var (
	// ErrNotFound is returned when a rule does not exist.
	ErrNotFound = errors.New("discount rule not found")
	// ErrDuplicateCode is returned when another rule already uses the code.
	ErrDuplicateCode = errors.New("discount code already exists")
)

// Repository persists rules.
type Repository interface {
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	// FindByCodes returns CODE rules whose code matches any of codes,
	// ignoring case. Inactive rules are included so callers can report why
	// they do not apply.
	FindByCodes(ctx context.Context, codes []string) ([]Rule, error)
	// ListAutomatic returns active EVENT and PRODUCT rules.
	ListAutomatic(ctx context.Context) ([]Rule, error)
}

// Service manages seller rules and evaluates them against orders.
type Service struct {
	rules  Repository
	events event.Repository
	ledger usage.Ledger
	engine *Engine
	now    func() time.Time
}

// NewService creates a discount Service.
func NewService(rules Repository, events event.Repository, ledger usage.Ledger) *Service {
	return &Service{
		rules:  rules,
		events: events,
		ledger: ledger,
		engine: NewEngine(),
		now:    time.Now,
	}
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, r Rule) (*Rule, error) {
	now := s.now().UTC()
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.prepare(ctx, &r); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, &r); err != nil {
		return nil, errors.Wrap(err, "create rule")
	}

	zctx.From(ctx).Info("Discount rule created",
		zap.String("rule_id", r.ID),
		zap.String("kind", string(r.Kind)),
		zap.String("type", string(r.Type)),
	)
	return &r, nil
}

// Update replaces the editable fields of an existing rule.
func (s *Service) Update(ctx context.Context, id string, r Rule) (*Rule, error) {
	cur, err := s.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.ID = cur.ID
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = s.now().UTC()
	if err := s.prepare(ctx, &r); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, &r); err != nil {
		return nil, errors.Wrap(err, "update rule")
	}

	zctx.From(ctx).Info("Discount rule updated", zap.String("rule_id", r.ID))
	return &r, nil
}

// Deactivate retires a rule. Rules are never deleted so that usage history
// keeps pointing at them.
func (s *Service) Deactivate(ctx context.Context, id string) (*Rule, error) {
	r, err := s.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsActive {
		return r, nil
	}
	r.IsActive = false
	r.UpdatedAt = s.now().UTC()
	if err := s.rules.Update(ctx, r); err != nil {
		return nil, errors.Wrap(err, "deactivate rule")
	}

	zctx.From(ctx).Info("Discount rule deactivated", zap.String("rule_id", r.ID))
	return r, nil
}

// Get returns a rule by id.
func (s *Service) Get(ctx context.Context, id string) (*Rule, error) {
	return s.rules.Get(ctx, id)
}

func (s *Service) prepare(ctx context.Context, r *Rule) error {
	if r.Kind == KindCode {
		r.Code = NormalizeCode(r.Code)
	}
	if r.Type == TypeFreeShipping {
		r.Value = decimal.Zero
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Kind == KindEvent {
		if _, err := s.events.Get(ctx, r.EventID); err != nil {
			if errors.Is(err, event.ErrNotFound) {
				return &ValidationError{Violations: []Violation{{Field: "eventId", Message: "event does not exist"}}}
			}
			return errors.Wrap(err, "get event")
		}
	}
	return nil
}

// FindCode returns the CODE rule matching code, ignoring case and
// surrounding space.
func (s *Service) FindCode(ctx context.Context, code string) (*Rule, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	rules, err := s.rules.FindByCodes(ctx, []string{code})
	if err != nil {
		return nil, errors.Wrap(err, "find rule by code")
	}
	for i := range rules {
		if rules[i].MatchesCode(code) {
			return &rules[i], nil
		}
	}
	return nil, ErrNotFound
}

// Candidates loads every rule that could apply to an order carrying codes.
func (s *Service) Candidates(ctx context.Context, codes []string) ([]Rule, error) {
	var automatic, byCode []Rule

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		automatic, err = s.rules.ListAutomatic(gctx)
		return errors.Wrap(err, "list automatic rules")
	})
	if len(codes) > 0 {
		normalized := make([]string, len(codes))
		for i, c := range codes {
			normalized[i] = NormalizeCode(c)
		}
		g.Go(func() error {
			var err error
			byCode, err = s.rules.FindByCodes(gctx, normalized)
			return errors.Wrap(err, "find rules by code")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(automatic, byCode...), nil
}

// Snapshot loads the event states and usage counts the rules depend on.
func (s *Service) Snapshot(ctx context.Context, rules []Rule, o *Order) (Snapshot, error) {
	snap := Snapshot{
		Now:    s.now().UTC(),
		Events: make(map[string]event.Event),
		Usage:  make(map[string]usage.Counts, len(rules)),
	}

	var eventIDs []string
	seen := make(map[string]struct{})
	for _, r := range rules {
		if r.Kind != KindEvent {
			continue
		}
		if _, ok := seen[r.EventID]; ok {
			continue
		}
		seen[r.EventID] = struct{}{}
		eventIDs = append(eventIDs, r.EventID)
	}

	counts := make([]usage.Counts, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	if len(eventIDs) > 0 {
		g.Go(func() error {
			events, err := s.events.GetByIDs(gctx, eventIDs)
			if err != nil {
				return errors.Wrap(err, "get events")
			}
			for _, e := range events {
				snap.Events[e.ID] = e
			}
			return nil
		})
	}
	for i := range rules {
		r := &rules[i]
		if r.UsageLimitTotal == nil && r.UsageLimitPerUser == nil && r.UsageLimitPerIP == nil {
			continue
		}
		g.Go(func() error {
			c, err := s.ledger.Counts(gctx, r.ID, o.Customer.ID, o.IP)
			if err != nil {
				return errors.Wrapf(err, "usage counts for rule %s", r.ID)
			}
			counts[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	for i, r := range rules {
		snap.Usage[r.ID] = counts[i]
	}
	return snap, nil
}

// Evaluate loads candidate rules and external state, then prices the order.
func (s *Service) Evaluate(ctx context.Context, o *Order) (*Evaluation, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	rules, err := s.Candidates(ctx, o.Codes)
	if err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx, rules, o)
	if err != nil {
		return nil, err
	}
	ev := s.engine.Evaluate(rules, o, snap)

	zctx.From(ctx).Debug("Order evaluated",
		zap.Int("candidates", len(rules)),
		zap.Strings("applied", ev.RuleIDs()),
		zap.Int("dropped", len(ev.Dropped)),
		zap.String("discount", ev.TotalDiscount.String()),
	)
	return &ev, nil
}
