// Package catalog provides a resilient product lookup in front of the
// product store.
package catalog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-checkout/internal/domain/product"
	rediscache "github.com/xenking/kart-checkout/internal/storage/redis"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("catalog unavailable")

// Cache stores product snapshots. Get returns rediscache.ErrCacheMiss for
// absent entries.
type Cache interface {
	Get(ctx context.Context, id string) (*product.Product, error)
	Set(ctx context.Context, p *product.Product) error
}

var (
	_ Cache              = (*rediscache.ProductCache)(nil)
	_ product.Repository = (*Fetcher)(nil)
)

// Config tunes the fetcher.
type Config struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries       uint64
	RetryInterval time.Duration
	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:         2 * time.Second,
		Retries:         3,
		RetryInterval:   50 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}
}

// Fetcher implements product.Repository with a cache, request collapsing,
// bounded retries and a circuit breaker.
type Fetcher struct {
	repo    product.Repository
	cache   Cache
	cfg     Config
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker[*product.Product]
}

// NewFetcher wraps repo. A nil cache disables caching.
func NewFetcher(repo product.Repository, cache Cache, cfg Config, lg *zap.Logger) *Fetcher {
	f := &Fetcher{repo: repo, cache: cache, cfg: cfg}
	f.breaker = gobreaker.NewCircuitBreaker[*product.Product](gobreaker.Settings{
		Name:    "catalog",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, product.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return f
}

// GetByID returns the product, preferring the cache.
func (f *Fetcher) GetByID(ctx context.Context, id string) (*product.Product, error) {
	if f.cache != nil {
		p, err := f.cache.Get(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, rediscache.ErrCacheMiss) {
			zctx.From(ctx).Debug("Product cache read failed", zap.String("product_id", id), zap.Error(err))
		}
	}

	// The shared call outlives any single caller; each caller still honours
	// its own cancellation.
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(id, func() (any, error) {
		return f.load(shared, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*product.Product), nil
	}
}

func (f *Fetcher) load(ctx context.Context, id string) (*product.Product, error) {
	p, err := f.breaker.Execute(func() (*product.Product, error) {
		return f.fetchWithRetry(ctx, id)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Wrap(ErrUnavailable, err.Error())
		}
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, p); err != nil {
			zctx.From(ctx).Debug("Product cache write failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, id string) (*product.Product, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.RetryInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, f.cfg.Retries), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (*product.Product, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()

		p, err := f.repo.GetByID(actx, id)
		if errors.Is(err, product.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return p, err
	}, b, func(err error, next time.Duration) {
		zctx.From(ctx).Warn("Product fetch failed, retrying",
			zap.String("product_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}
