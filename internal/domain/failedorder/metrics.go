package failedorder

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts security and availability events of the recorder.
type Metrics struct {
	conflicts       metric.Int64Counter
	rateUnavailable metric.Int64Counter
}

// NewMetrics registers failed order instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	conflicts, err := meter.Int64Counter("failed_orders.conflict",
		metric.WithDescription("Transaction ids reported by more than one user"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "conflict counter")
	}
	unavailable, err := meter.Int64Counter("failed_orders.rate_check_unavailable",
		metric.WithDescription("Rate checks skipped because the count query failed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "rate check counter")
	}
	return &Metrics{conflicts: conflicts, rateUnavailable: unavailable}, nil
}

func (m *Metrics) conflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1)
}

func (m *Metrics) rateCheckUnavailable(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateUnavailable.Add(ctx, 1)
}
