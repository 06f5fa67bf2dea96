package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts integrity corrections so operators can watch for
// tampering or client bugs.
type Metrics struct {
	priceMismatches metric.Int64Counter
	totalMismatches metric.Int64Counter
}

// NewMetrics registers pricing instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	price, err := meter.Int64Counter("pricing.price_mismatch",
		metric.WithDescription("Cart lines whose client price differed from the catalog price"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "price mismatch counter")
	}
	total, err := meter.Int64Counter("pricing.total_mismatch",
		metric.WithDescription("Orders whose client total differed from the server total"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "total mismatch counter")
	}
	return &Metrics{priceMismatches: price, totalMismatches: total}, nil
}

func (m *Metrics) priceMismatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.priceMismatches.Add(ctx, 1)
}

func (m *Metrics) totalMismatch(ctx context.Context, rejected bool) {
	if m == nil {
		return
	}
	m.totalMismatches.Add(ctx, 1, metric.WithAttributes(attribute.Bool("rejected", rejected)))
}
