package pricing

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// minRejectDelta keeps small orders from being rejected over a few cents
// when the reject threshold is proportional.
var minRejectDelta = decimal.NewFromInt(1)

// IntegrityGuard compares client-declared totals with the server total.
// The server total is the only value ever persisted or charged.
type IntegrityGuard struct {
	// rejectRatio is the share of the server total above which a mismatch is
	// rejected instead of corrected. Zero disables rejection.
	rejectRatio decimal.Decimal
	metrics     *Metrics
}

// NewIntegrityGuard creates a guard with the given reject ratio.
func NewIntegrityGuard(rejectRatio decimal.Decimal, metrics *Metrics) *IntegrityGuard {
	return &IntegrityGuard{rejectRatio: rejectRatio, metrics: metrics}
}

// Check returns ErrTotalMismatch only when client differs from server by
// more than the reject threshold. Smaller differences are logged and the
// caller keeps using server.
func (g *IntegrityGuard) Check(ctx context.Context, client decimal.NullDecimal, server decimal.Decimal) error {
	if !client.Valid || withinTolerance(client.Decimal, server) {
		return nil
	}

	diff := client.Decimal.Sub(server).Abs()
	rejected := g.shouldReject(diff, server)

	zctx.From(ctx).Warn("Total mismatch",
		zap.Stringer("client_total", client.Decimal),
		zap.Stringer("server_total", server),
		zap.Stringer("difference", diff),
		zap.Bool("rejected", rejected),
	)
	g.metrics.totalMismatch(ctx, rejected)

	if rejected {
		return ErrTotalMismatch
	}
	return nil
}

func (g *IntegrityGuard) shouldReject(diff, server decimal.Decimal) bool {
	if !g.rejectRatio.IsPositive() {
		return false
	}
	threshold := decimal.Max(server.Abs().Mul(g.rejectRatio), minRejectDelta)
	return diff.GreaterThan(threshold)
}
