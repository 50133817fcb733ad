package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/product"
	"github.com/xenking/marketplace-promo/internal/domain/usage"
	"github.com/xenking/marketplace-promo/internal/money"
)

// Evaluator prices an order with every rule that may apply.
// *discount.Service implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, o *discount.Order) (*discount.Evaluation, error)
}

// CommitResult is a committed order with the quote it was priced at.
type CommitResult struct {
	Order *Order
	Quote *Quote
}

// Service prices carts and commits orders.
type Service struct {
	products product.Repository
	rules    Evaluator
	ledger   usage.Ledger
	orders   Repository
	metrics  *metrics
	now      func() time.Time
}

// NewService creates a checkout Service.
func NewService(
	products product.Repository,
	rules Evaluator,
	ledger usage.Ledger,
	orders Repository,
	mp metric.MeterProvider,
) (*Service, error) {
	m, err := newMetrics(mp)
	if err != nil {
		return nil, errors.Wrap(err, "checkout metrics")
	}
	return &Service{
		products: products,
		rules:    rules,
		ledger:   ledger,
		orders:   orders,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Preview prices a cart. The result is advisory: usage caps and rule state
// are checked again on Commit.
func (s *Service) Preview(ctx context.Context, req Request) (*Quote, error) {
	o, names, err := s.buildOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	ev, err := s.rules.Evaluate(ctx, o)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate discounts")
	}
	s.metrics.quotes.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "preview")))
	return buildQuote(o, names, ev), nil
}

// Commit re-evaluates the cart, records discount usage and persists the
// order. A usage cap reached since the preview rejects the order with an
// error matching usage.ErrCapExceeded.
func (s *Service) Commit(ctx context.Context, req Request) (*CommitResult, error) {
	lg := zctx.From(ctx)

	o, names, err := s.buildOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	ev, err := s.rules.Evaluate(ctx, o)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate discounts")
	}
	s.metrics.quotes.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "commit")))
	quote := buildQuote(o, names, ev)

	if req.ExpectedTotal != nil && !req.ExpectedTotal.Equal(quote.Total) {
		lg.Info("Order total changed since preview",
			zap.String("expected", req.ExpectedTotal.String()),
			zap.String("actual", quote.Total.String()),
		)
		return nil, ErrPriceChanged
	}

	order := &Order{
		ID:               uuid.New().String(),
		CustomerID:       req.Customer.ID,
		IP:               req.IP,
		Items:            mergedItems(o),
		Codes:            o.Codes,
		Applied:          quote.Applied,
		Subtotal:         quote.Subtotal,
		Discount:         quote.Discount,
		ShippingDiscount: quote.ShippingDiscount,
		Total:            quote.Total,
		Status:           StatusPlaced,
		CreatedAt:        s.now().UTC(),
	}

	claims := make([]usage.Claim, len(ev.Applied))
	for i, a := range ev.Applied {
		claims[i] = usage.Claim{
			RuleID:     a.Rule.ID,
			CustomerID: order.CustomerID,
			IP:         order.IP,
			Limits:     a.Rule.Limits(),
		}
	}
	if err := s.ledger.Commit(ctx, order.ID, claims); err != nil {
		var capErr *usage.CapExceededError
		if errors.As(err, &capErr) {
			s.metrics.capHits.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", string(capErr.Scope))))
			s.metrics.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "rejected")))
			lg.Info("Order rejected by usage cap",
				zap.String("rule_id", capErr.RuleID),
				zap.String("scope", string(capErr.Scope)),
				zap.Int("limit", capErr.Limit),
			)
		}
		return nil, errors.Wrap(err, "commit usage")
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if rerr := s.ledger.Reverse(context.WithoutCancel(ctx), order.ID); rerr != nil {
			lg.Error("Reverse usage after failed order write",
				zap.String("order_id", order.ID),
				zap.Error(rerr),
			)
		} else {
			s.metrics.reversals.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", "write_failed")))
		}
		return nil, errors.Wrap(err, "create order")
	}

	for _, a := range ev.Applied {
		s.metrics.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(a.Rule.Kind))))
	}
	s.metrics.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusPlaced))))
	lg.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.Strings("rules", ev.RuleIDs()),
		zap.String("total", order.Total.String()),
	)
	return &CommitResult{Order: order, Quote: quote}, nil
}

// Cancel reverses the usage recorded for an order and marks it cancelled.
// Cancelling twice is a no-op. Callers other than a seller or the order's
// customer get ErrForbidden.
func (s *Service) Cancel(ctx context.Context, id string, by Canceller) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !by.CanCancel(o) {
		zctx.From(ctx).Info("Order cancel refused", zap.String("order_id", o.ID))
		return nil, ErrForbidden
	}
	if o.Status == StatusCancelled {
		return o, nil
	}

	if err := s.ledger.Reverse(ctx, o.ID); err != nil {
		if !errors.Is(err, usage.ErrNotRecorded) {
			return nil, errors.Wrap(err, "reverse usage")
		}
		zctx.From(ctx).Warn("Cancelled order had no usage recorded", zap.String("order_id", o.ID))
	}

	now := s.now().UTC()
	if err := s.orders.MarkCancelled(ctx, o.ID, now); err != nil {
		return nil, errors.Wrap(err, "mark order cancelled")
	}
	o.Status = StatusCancelled
	o.CancelledAt = &now

	s.metrics.reversals.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", "cancelled")))
	s.metrics.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusCancelled))))
	zctx.From(ctx).Info("Order cancelled", zap.String("order_id", o.ID))
	return o, nil
}

// buildOrder validates the cart, loads its products in one batch and turns
// it into an evaluation input. Repeated products are merged into one line.
// An identified customer is first-time while they have no placed orders.
func (s *Service) buildOrder(ctx context.Context, req Request) (*discount.Order, map[string]string, error) {
	if len(req.Items) == 0 {
		return nil, nil, ErrEmptyItems
	}

	var (
		ids []string
		qty = make(map[string]int, len(req.Items))
	)
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		if _, ok := qty[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		qty[item.ProductID] += item.Quantity
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	// First-order status comes from order history, never from the caller.
	customer := req.Customer
	customer.FirstTime = false
	if customer.ID != "" {
		placed, err := s.orders.CountPlaced(ctx, customer.ID)
		if err != nil {
			return nil, nil, errors.Wrap(err, "count placed orders")
		}
		customer.FirstTime = placed == 0
	}

	o := &discount.Order{
		Lines:        make([]discount.Line, 0, len(ids)),
		Customer:     customer,
		IP:           req.IP,
		Codes:        normalizeCodes(req.Codes),
		ShippingCost: req.ShippingCost,
	}
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, nil, &ProductNotFoundError{ProductID: id}
		}
		names[id] = p.Name
		o.Lines = append(o.Lines, discount.Line{
			ID:         p.ID,
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			Quantity:   qty[id],
			UnitPrice:  p.Price,
		})
	}
	return o, names, nil
}

func normalizeCodes(codes []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = discount.NormalizeCode(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func mergedItems(o *discount.Order) []Item {
	items := make([]Item, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = Item{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return items
}

func buildQuote(o *discount.Order, names map[string]string, ev *discount.Evaluation) *Quote {
	q := &Quote{
		Lines:            make([]Line, len(o.Lines)),
		Subtotal:         ev.Subtotal,
		Discount:         ev.TotalDiscount,
		ShippingDiscount: ev.ShippingDiscount,
		FreeShipping:     ev.FreeShipping,
		Total:            ev.Total,
		Dropped:          ev.Dropped,
	}
	if o.ShippingCost != nil {
		q.Total = q.Total.Add(money.FloorAtZero(o.ShippingCost.Sub(ev.ShippingDiscount)))
	}

	for i, l := range o.Lines {
		sub := l.Total()
		disc, ok := ev.PerLine[l.ID]
		if !ok {
			disc = decimal.Zero
		}
		q.Lines[i] = Line{
			ProductID: l.ProductID,
			Name:      names[l.ProductID],
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  sub,
			Discount:  disc,
			Total:     sub.Sub(disc),
		}
	}

	for _, a := range ev.Applied {
		q.Applied = append(q.Applied, AppliedDiscount{
			RuleID: a.Rule.ID,
			Kind:   a.Rule.Kind,
			Type:   a.Rule.Type,
			Name:   a.Rule.Name,
			Code:   a.Rule.Code,
			Amount: a.Discount.Amount.Add(a.Discount.Shipping),
		})
	}

	matched := make(map[string]struct{})
	for i := range ev.Candidates {
		r := &ev.Candidates[i]
		if r.Kind != discount.KindCode {
			continue
		}
		matched[r.Code] = struct{}{}
		if rep, ok := ev.Report(r.ID); ok && !rep.Eligible {
			q.Rejected = append(q.Rejected, Rejection{RuleID: r.ID, Code: r.Code, Reasons: rep.Reasons})
		}
	}
	for _, c := range o.Codes {
		if _, ok := matched[c]; !ok {
			q.UnknownCodes = append(q.UnknownCodes, c)
		}
	}
	return q
}
