package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-promo/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price, category_id FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, name, price, category_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			category_id = EXCLUDED.category_id`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces catalog entries in one batch.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL, p.ID, p.Name, p.Price, p.CategoryID)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.CategoryID)
	return p, err
}

// CachedProducts is a read-through product.Repository with a bounded,
// expiring cache. Prices may be served stale for up to the TTL.
type CachedProducts struct {
	next  product.Repository
	cache *expirable.LRU[string, product.Product]
}

var _ product.Repository = (*CachedProducts)(nil)

// NewCachedProducts wraps next with an LRU of size entries living ttl.
func NewCachedProducts(next product.Repository, size int, ttl time.Duration) *CachedProducts {
	return &CachedProducts{
		next:  next,
		cache: expirable.NewLRU[string, product.Product](size, nil, ttl),
	}
}

func (c *CachedProducts) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if p, ok := c.cache.Get(id); ok {
			out = append(out, p)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range fetched {
		c.cache.Add(p.ID, p)
	}
	return append(out, fetched...), nil
}
