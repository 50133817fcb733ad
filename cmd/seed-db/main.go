// Command seed-db loads a demo catalog, a campaign with its discounts and a
// seller API key. Running it twice is harmless.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-promo/internal/domain/auth"
	"github.com/xenking/marketplace-promo/internal/domain/discount"
	"github.com/xenking/marketplace-promo/internal/domain/event"
	"github.com/xenking/marketplace-promo/internal/domain/product"
	"github.com/xenking/marketplace-promo/internal/storage/postgres"
)

const summerEventID = "summer-sale"

var defaultCatalog = []product.Product{
	{ID: "runner-pro", Name: "Runner Pro", Price: decimal.RequireFromString("129.99"), CategoryID: "shoes"},
	{ID: "trail-max", Name: "Trail Max", Price: decimal.RequireFromString("149.00"), CategoryID: "shoes"},
	{ID: "wool-socks", Name: "Wool Socks", Price: decimal.RequireFromString("12.50"), CategoryID: "apparel"},
	{ID: "rain-shell", Name: "Rain Shell", Price: decimal.RequireFromString("89.00"), CategoryID: "apparel"},
	{ID: "water-bottle", Name: "Water Bottle", Price: decimal.RequireFromString("19.99"), CategoryID: "gear"},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "JSON catalog to load instead of the built-in one")
	flag.StringVar(&apiKey, "api-key", "", "seller API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}
	if databaseURL == "" || apiKey == "" {
		lg.Fatal("database URL and API key are required: set --database-url and --api-key")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile, apiKey, pepper string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog := defaultCatalog
	if productsFile != "" {
		data, err := os.ReadFile(productsFile)
		if err != nil {
			return errors.Wrap(err, "read products file")
		}
		if catalog, err = parseCatalog(data); err != nil {
			return errors.Wrap(err, "parse products file")
		}
	}
	if err := postgres.NewProductRepository(pool).Upsert(ctx, catalog); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Products upserted", zap.Int("count", len(catalog)))

	now := time.Now().UTC()
	if err := seedEvent(ctx, lg, postgres.NewEventRepository(pool), now); err != nil {
		return errors.Wrap(err, "seed event")
	}
	if err := seedRules(ctx, lg, postgres.NewRuleRepository(pool), now); err != nil {
		return errors.Wrap(err, "seed rules")
	}
	return seedAPIKey(ctx, lg, pool, apiKey, pepper)
}

// parseCatalog reads [{"id","name","price","category"}].
func parseCatalog(data []byte) ([]product.Product, error) {
	var out []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "category":
				p.CategoryID, err = d.Str()
			case "price":
				var n jx.Num
				if n, err = d.Num(); err == nil {
					p.Price, err = decimal.NewFromString(n.String())
				}
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("product without id")
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func seedEvent(ctx context.Context, lg *zap.Logger, events *postgres.EventRepository, now time.Time) error {
	_, err := events.Get(ctx, summerEventID)
	if err == nil {
		lg.Info("Event exists", zap.String("id", summerEventID))
		return nil
	}
	if !errors.Is(err, event.ErrNotFound) {
		return err
	}
	return events.Create(ctx, &event.Event{
		ID:           summerEventID,
		Name:         "Summer sale",
		StartingDate: now,
		EndingDate:   now.Add(14 * 24 * time.Hour),
		AutoStart:    true,
		AutoEnd:      true,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func sampleRules(now time.Time) []discount.Rule {
	intPtr := func(v int) *int { return &v }
	amount := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}
	base := discount.Rule{IsActive: true, CreatedAt: now, UpdatedAt: now}

	welcome := base
	welcome.ID, welcome.Kind, welcome.Type = "welcome10", discount.KindCode, discount.TypePercentage
	welcome.Name, welcome.Code = "Welcome 10%", "WELCOME10"
	welcome.Value = decimal.NewFromInt(10)
	welcome.MaximumDiscountAmount = amount("25.00")
	welcome.UsageLimitPerUser = intPtr(1)
	welcome.Restriction.FirstTimeOnly = true
	welcome.Applicability.All = true

	shipping := base
	shipping.ID, shipping.Kind, shipping.Type = "freeship50", discount.KindCode, discount.TypeFreeShipping
	shipping.Name, shipping.Code = "Free shipping over 50", "FREESHIP"
	shipping.MinimumOrderAmount = amount("50.00")
	shipping.Stackable = true
	shipping.Applicability.All = true

	summer := base
	summer.ID, summer.Kind, summer.Type = "summer-shoes", discount.KindEvent, discount.TypePercentage
	summer.Name, summer.EventID = "Summer shoes 15%", summerEventID
	summer.Value = decimal.NewFromInt(15)
	summer.Applicability.IncludeCategories = []string{"shoes"}

	socks := base
	socks.ID, socks.Kind, socks.Type = "socks-3for2", discount.KindProduct, discount.TypeBuyXGetY
	socks.Name = "Socks 3 for 2"
	socks.MinQuantity, socks.Value = 2, decimal.NewFromInt(1)
	socks.Applicability.IncludeProducts = []string{"wool-socks"}

	return []discount.Rule{welcome, shipping, summer, socks}
}

func seedRules(ctx context.Context, lg *zap.Logger, rules *postgres.RuleRepository, now time.Time) error {
	for _, r := range sampleRules(now) {
		if _, err := rules.Get(ctx, r.ID); err == nil {
			lg.Info("Rule exists", zap.String("id", r.ID))
			continue
		} else if !errors.Is(err, discount.ErrNotFound) {
			return err
		}
		if err := r.Validate(); err != nil {
			return errors.Wrapf(err, "rule %s", r.ID)
		}
		if err := rules.Create(ctx, &r); err != nil {
			return errors.Wrapf(err, "create rule %s", r.ID)
		}
		lg.Info("Rule created", zap.String("id", r.ID), zap.String("code", r.Code))
	}
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, apiKey, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "default-seller",
		KeyHash: auth.HashKey(apiKey, []byte(pepper)),
		Name:    "Default seller key",
		Scopes:  []string{auth.ScopeSeller},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert api key")
	}
	lg.Info("API key upserted", zap.String("id", info.ID))
	return nil
}
