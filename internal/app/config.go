package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/catalog"
	"github.com/xenking/kart-checkout/internal/domain/failedorder"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURL      string `usage:"MongoDB connection URL for failed orders (SHOP_MONGO_URL or MONGO_URL)" flag:"mongo-url"`
	MongoDatabase string `default:"checkout" usage:"MongoDB database name" flag:"mongo-database"`
	RedisAddr     string `default:"" usage:"Redis address for the product cache, empty disables it" flag:"redis-addr"`
	APIKeyPepper  string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Pricing       PricingConfig
	Catalog       CatalogConfig
	FailedOrders  FailedOrdersConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// PricingConfig holds the checkout pricing parameters. Amounts are decimal
// strings so they never pass through float64.
type PricingConfig struct {
	TaxRate             string `default:"0.18" usage:"Tax rate applied to goods plus delivery" flag:"tax-rate"`
	NewUserPercent      string `default:"5" usage:"New user discount percentage" flag:"new-user-percent"`
	NewUserMonths       int    `default:"3" usage:"Account age in months that still counts as new" flag:"new-user-months"`
	MismatchRejectRatio string `default:"0.5" usage:"Client total mismatch share of the server total that is rejected, 0 disables" flag:"mismatch-reject-ratio"`
}

// CatalogConfig tunes product lookups.
type CatalogConfig struct {
	FetchTimeout    time.Duration `default:"2s" usage:"Timeout of a single product fetch" flag:"catalog-fetch-timeout"`
	Retries         uint64        `default:"3" usage:"Retries after a transient product fetch failure" flag:"catalog-retries"`
	BreakerFailures uint32        `default:"5" usage:"Consecutive failures that open the catalog breaker" flag:"catalog-breaker-failures"`
	BreakerTimeout  time.Duration `default:"10s" usage:"How long the catalog breaker stays open" flag:"catalog-breaker-timeout"`
	CacheTTL        time.Duration `default:"5m" usage:"Product cache TTL" flag:"catalog-cache-ttl"`
}

// FailedOrdersConfig bounds failed order reports per user.
type FailedOrdersConfig struct {
	Max    int64         `default:"5" usage:"Max failed order reports per user per window" flag:"failed-orders-max"`
	Window time.Duration `default:"5m" usage:"Failed order rate window" flag:"failed-orders-window"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and decimal formats.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.MongoURL == "" {
		return errors.New("mongo URL is required: set SHOP_MONGO_URL or MONGO_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set SHOP_API_KEY_PEPPER")
	}
	if _, err := c.PricingConfig(); err != nil {
		return err
	}
	return nil
}

// PricingConfig converts the pricing section into engine parameters.
func (c *Config) PricingConfig() (pricing.Config, error) {
	out := pricing.DefaultConfig()
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tax rate", c.Pricing.TaxRate, &out.TaxRate},
		{"new user percent", c.Pricing.NewUserPercent, &out.NewUserPercent},
		{"mismatch reject ratio", c.Pricing.MismatchRejectRatio, &out.MismatchRejectRatio},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return pricing.Config{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if v.IsNegative() {
			return pricing.Config{}, errors.Errorf("%s must not be negative", f.name)
		}
		*f.dst = v
	}
	if c.Pricing.NewUserMonths > 0 {
		out.NewUserMonths = c.Pricing.NewUserMonths
	}
	return out, nil
}

// CatalogConfig converts the catalog section into fetcher settings.
func (c *Config) CatalogConfig() catalog.Config {
	out := catalog.DefaultConfig()
	if c.Catalog.FetchTimeout > 0 {
		out.Timeout = c.Catalog.FetchTimeout
	}
	out.Retries = c.Catalog.Retries
	if c.Catalog.BreakerFailures > 0 {
		out.BreakerFailures = c.Catalog.BreakerFailures
	}
	if c.Catalog.BreakerTimeout > 0 {
		out.BreakerTimeout = c.Catalog.BreakerTimeout
	}
	return out
}

// FailedOrderLimit converts the failed order section into a recorder limit.
func (c *Config) FailedOrderLimit() failedorder.Limit {
	return failedorder.Limit{Max: c.FailedOrders.Max, Window: c.FailedOrders.Window}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	for _, m := range []struct {
		dst *string
		env string
	}{
		{&c.DatabaseURL, "DATABASE_URL"},
		{&c.MongoURL, "MONGO_URL"},
		{&c.RedisAddr, "REDIS_URL"},
	} {
		if *m.dst == "" {
			*m.dst = os.Getenv(m.env)
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
