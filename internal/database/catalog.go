package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/events"
	"github.com/maltedev/catalog-ingest/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, description, original_price::text, resale_price::text,
	source_url, listing_image, brand_id, stock, created_at, updated_at`

// CatalogStore is the Postgres catalog.Store. When an outbox is attached every
// product write records its change event in the same transaction.
type CatalogStore struct {
	db     *DB
	outbox *OutboxRepository
	logger *slog.Logger
}

var _ catalog.Store = (*CatalogStore)(nil)

func NewCatalogStore(db *DB, outbox *OutboxRepository, logger *slog.Logger) *CatalogStore {
	return &CatalogStore{
		db:     db,
		outbox: outbox,
		logger: logger.With("component", "catalog_store"),
	}
}

func (s *CatalogStore) UpsertBrand(ctx context.Context, name string) (*models.Brand, error) {
	b := &models.Brand{}
	err := s.db.pool.QueryRow(ctx, `
		INSERT INTO brands (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name`,
		uuid.New().String(), name,
	).Scan(&b.ID, &b.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert brand: %w", err)
	}
	return b, nil
}

func (s *CatalogStore) UpsertCategory(ctx context.Context, name string) (*models.Category, error) {
	c := &models.Category{}
	err := s.db.pool.QueryRow(ctx, `
		INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name`,
		uuid.New().String(), name,
	).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert category: %w", err)
	}
	return c, nil
}

func (s *CatalogStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanProduct(s.db.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	rows, err := s.db.pool.Query(ctx,
		`SELECT url FROM product_images WHERE product_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product images: %w", err)
	}
	if p.Images, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return nil, fmt.Errorf("failed to scan product images: %w", err)
	}

	rows, err = s.db.pool.Query(ctx,
		`SELECT category_id FROM product_categories WHERE product_id = $1 ORDER BY category_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product categories: %w", err)
	}
	if p.CategoryIDs, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return nil, fmt.Errorf("failed to scan product categories: %w", err)
	}

	return p, nil
}

func (s *CatalogStore) CreateProduct(ctx context.Context, p *models.Product) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO products (
				id, name, description, original_price, resale_price,
				source_url, listing_image, brand_id, stock
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at`,
			p.ID, p.Name, p.Description, money(p.OriginalPrice), money(p.ResalePrice),
			p.SourceURL, p.ListingImage, p.BrandID, p.Stock,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", catalog.ErrDuplicateProduct, p.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}

		if err := replaceImages(ctx, tx, p.ID, p.Images); err != nil {
			return err
		}
		if err := addCategories(ctx, tx, p.ID, p.CategoryIDs); err != nil {
			return err
		}
		return s.record(ctx, tx, events.EventTypeProductCreated, p)
	})
}

func (s *CatalogStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE products SET
				name = $2, description = $3, original_price = $4, resale_price = $5,
				source_url = $6, listing_image = $7, brand_id = $8, stock = $9, updated_at = now()
			WHERE id = $1
			RETURNING created_at, updated_at`,
			p.ID, p.Name, p.Description, money(p.OriginalPrice), money(p.ResalePrice),
			p.SourceURL, p.ListingImage, p.BrandID, p.Stock,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", catalog.ErrProductNotFound, p.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}

		if err := replaceImages(ctx, tx, p.ID, p.Images); err != nil {
			return err
		}
		if err := addCategories(ctx, tx, p.ID, p.CategoryIDs); err != nil {
			return err
		}
		return s.record(ctx, tx, events.EventTypeProductUpdated, p)
	})
}

func (s *CatalogStore) SetStock(ctx context.Context, id string, stock int) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := scanProduct(tx.QueryRow(ctx, `
			UPDATE products SET stock = $2, updated_at = now()
			WHERE id = $1
			RETURNING `+productColumns,
			id, stock))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to set stock: %w", err)
		}
		return s.record(ctx, tx, events.EventTypeProductUpdated, p)
	})
}

func (s *CatalogStore) LatestProductUpdate(ctx context.Context) (time.Time, error) {
	var latest *time.Time
	if err := s.db.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM products`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest product update: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}

func (s *CatalogStore) Stats(ctx context.Context) (*catalog.Stats, error) {
	stats := &catalog.Stats{}
	var last *time.Time
	err := s.db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM products WHERE stock > 0),
			(SELECT COUNT(*) FROM brands),
			(SELECT COUNT(*) FROM categories),
			(SELECT MAX(updated_at) FROM products)`,
	).Scan(&stats.Products, &stats.InStock, &stats.Brands, &stats.Categories, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog stats: %w", err)
	}
	if last != nil {
		stats.LastProductSync = *last
	}
	return stats, nil
}

func (s *CatalogStore) record(ctx context.Context, tx pgx.Tx, t events.EventType, p *models.Product) error {
	if s.outbox == nil {
		return nil
	}

	return s.outbox.Record(ctx, tx, events.NewProductChanged(t, p))
}

func replaceImages(ctx context.Context, tx pgx.Tx, productID string, urls []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM product_images WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("failed to clear product images: %w", err)
	}
	if len(urls) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, u := range urls {
		batch.Queue(`INSERT INTO product_images (id, product_id, url, position) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), productID, u, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert product images: %w", err)
	}
	return nil
}

func addCategories(ctx context.Context, tx pgx.Tx, productID string, categoryIDs []string) error {
	if len(categoryIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, id := range categoryIDs {
		batch.Queue(`INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, productID, id)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to link product categories: %w", err)
	}
	return nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	p := &models.Product{}
	var original, resale string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &original, &resale,
		&p.SourceURL, &p.ListingImage, &p.BrandID, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.OriginalPrice, err = decimal.NewFromString(original); err != nil {
		return nil, fmt.Errorf("invalid original price %q: %w", original, err)
	}
	if p.ResalePrice, err = decimal.NewFromString(resale); err != nil {
		return nil, fmt.Errorf("invalid resale price %q: %w", resale, err)
	}
	return p, nil
}

// money renders a price as the NUMERIC(12,2) literal Postgres stores.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
