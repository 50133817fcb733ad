package checkout

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	quotes    metric.Int64Counter
	applied   metric.Int64Counter
	orders    metric.Int64Counter
	capHits   metric.Int64Counter
	reversals metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter("github.com/xenking/marketplace-promo/internal/domain/checkout")

	var (
		m   metrics
		err error
	)
	if m.quotes, err = meter.Int64Counter("promo.checkout.quotes",
		metric.WithDescription("Carts priced, by stage"),
		metric.WithUnit("{quote}"),
	); err != nil {
		return nil, errors.Wrap(err, "quotes counter")
	}
	if m.applied, err = meter.Int64Counter("promo.discount.applied",
		metric.WithDescription("Discount rules applied to committed orders, by kind"),
		metric.WithUnit("{rule}"),
	); err != nil {
		return nil, errors.Wrap(err, "applied counter")
	}
	if m.orders, err = meter.Int64Counter("promo.checkout.orders",
		metric.WithDescription("Orders by resulting status"),
		metric.WithUnit("{order}"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if m.capHits, err = meter.Int64Counter("promo.usage.cap_exceeded",
		metric.WithDescription("Commits rejected by a usage cap, by scope"),
		metric.WithUnit("{order}"),
	); err != nil {
		return nil, errors.Wrap(err, "cap counter")
	}
	if m.reversals, err = meter.Int64Counter("promo.usage.reversals",
		metric.WithDescription("Ledger reversals, by cause"),
		metric.WithUnit("{order}"),
	); err != nil {
		return nil, errors.Wrap(err, "reversals counter")
	}
	return &m, nil
}
