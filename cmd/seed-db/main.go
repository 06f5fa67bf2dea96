package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
	SalePrice decimal.Decimal `json:"salePrice"`
	OnSale    bool            `json:"onSale"`
	Weight    decimal.Decimal `json:"weight"`
}

type seedAccount struct {
	user user.User
	role auth.Role
	key  string
}

func main() {
	var (
		databaseURL  string
		productsFile string
		customerKey  string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&customerKey, "customer-key", "", "customer API key to seed (or SHOP_SEED_CUSTOMER_KEY env), generated when empty")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env), generated when empty")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	databaseURL = orEnv(databaseURL, "DATABASE_URL")
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	apiKeyPepper = orEnv(apiKeyPepper, "SHOP_API_KEY_PEPPER")
	if apiKeyPepper == "" {
		lg.Fatal("api key pepper is required: set --api-key-pepper or SHOP_API_KEY_PEPPER")
	}

	now := time.Now().UTC()
	accounts := []seedAccount{
		{
			user: user.User{ID: "demo-customer", Email: "customer@example.com", CreatedAt: now},
			role: auth.RoleCustomer,
			key:  orGenerated(orEnv(customerKey, "SHOP_SEED_CUSTOMER_KEY")),
		},
		{
			user: user.User{ID: "demo-admin", Email: "admin@example.com", CreatedAt: now.AddDate(-1, 0, 0)},
			role: auth.RoleAdmin,
			key:  orGenerated(orEnv(adminKey, "SHOP_SEED_ADMIN_KEY")),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, []byte(apiKeyPepper), accounts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string, pepper []byte, accounts []seedAccount) error {
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, lg, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAccounts(ctx, lg,
		postgres.NewUserRepository(pool),
		postgres.NewAPIKeyRepository(pool),
		pepper, accounts,
	); err != nil {
		return errors.Wrap(err, "seed accounts")
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	lg.Info("Upserting products", zap.Int("count", len(products)))
	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:        p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     p.Price,
			SalePrice: p.SalePrice,
			OnSale:    p.OnSale,
			Weight:    p.Weight,
		}); err != nil {
			return err
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, repo *postgres.CouponRepository) error {
	until := time.Now().UTC().AddDate(1, 0, 0)
	rules := []coupon.Rule{
		{
			ID:          "cpn_welcome10",
			Code:        "WELCOME10",
			Percentage:  decimal.NewFromInt(10),
			Description: "Welcome: 10% off, once per customer",
			ValidUntil:  &until,
			OncePerUser: true,
		},
		{
			ID:          "cpn_happyhours",
			Code:        "HAPPYHOURS",
			Percentage:  decimal.NewFromInt(18),
			Description: "Happy Hours: 18% off",
			MaxUses:     1000,
		},
	}
	if err := repo.UpsertBatch(ctx, rules); err != nil {
		return err
	}
	lg.Info("Upserted coupons", zap.Int("count", len(rules)))
	return nil
}

func seedAccounts(
	ctx context.Context,
	lg *zap.Logger,
	users *postgres.UserRepository,
	keys *postgres.APIKeyRepository,
	pepper []byte,
	accounts []seedAccount,
) error {
	for _, a := range accounts {
		if err := users.Upsert(ctx, a.user); err != nil {
			return err
		}
		if err := keys.Upsert(ctx, auth.APIKeyInfo{
			ID:      "key_" + a.user.ID,
			KeyHash: handler.HashAPIKey(pepper, a.key),
			Name:    string(a.role) + " seed key",
			UserID:  a.user.ID,
			Role:    a.role,
		}); err != nil {
			return err
		}
		// The plain key is only known here, so it is printed once.
		lg.Info("Seeded account",
			zap.String("user_id", a.user.ID),
			zap.String("role", string(a.role)),
			zap.String("api_key", a.key),
		)
	}
	return nil
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func orGenerated(key string) string {
	if key != "" {
		return key
	}
	return uuid.NewString()
}
