// Package redis caches product snapshots.
package redis

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

// ErrCacheMiss is returned when a product is not cached.
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "product:"

type productEntry struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	SalePrice decimal.Decimal `json:"salePrice"`
	OnSale    bool            `json:"onSale"`
	Weight    decimal.Decimal `json:"weight"`
}

// ProductCache stores product snapshots with a jittered TTL so entries
// written together do not expire together.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProductCache creates a cache with the given base TTL.
func NewProductCache(client *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{client: client, ttl: ttl}
}

// Get returns the cached product or ErrCacheMiss.
func (c *ProductCache) Get(ctx context.Context, id string) (*product.Product, error) {
	data, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	var e productEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "unmarshal product")
	}
	return &product.Product{
		ID:        e.ID,
		Name:      e.Name,
		Image:     e.Image,
		Price:     e.Price,
		SalePrice: e.SalePrice,
		OnSale:    e.OnSale,
		Weight:    e.Weight,
	}, nil
}

// Set caches p.
func (c *ProductCache) Set(ctx context.Context, p *product.Product) error {
	data, err := json.Marshal(productEntry{
		ID:        p.ID,
		Name:      p.Name,
		Image:     p.Image,
		Price:     p.Price,
		SalePrice: p.SalePrice,
		OnSale:    p.OnSale,
		Weight:    p.Weight,
	})
	if err != nil {
		return errors.Wrap(err, "marshal product")
	}
	if err := c.client.Set(ctx, keyPrefix+p.ID, data, c.jitteredTTL()).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete evicts a product.
func (c *ProductCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func (c *ProductCache) jitteredTTL() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	return c.ttl + rand.N(c.ttl/10+1)
}
