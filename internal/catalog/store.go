package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/catalog-ingest/internal/models"
)

var (
	// ErrDuplicateProduct is returned by CreateProduct on a unique-key violation.
	ErrDuplicateProduct = errors.New("product already exists")
	ErrProductNotFound  = errors.New("product not found")
)

// Store is the persisted catalog. Every write is atomic per product row.
type Store interface {
	UpsertBrand(ctx context.Context, name string) (*models.Brand, error)
	UpsertCategory(ctx context.Context, name string) (*models.Category, error)
	// GetProduct returns nil, nil when the product does not exist.
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	// UpdateProduct overwrites mutable fields, replaces the image collection
	// and adds p.CategoryIDs to the existing category set.
	UpdateProduct(ctx context.Context, p *models.Product) error
	SetStock(ctx context.Context, id string, stock int) error
	// LatestProductUpdate is the newest product update time, zero for an empty catalog.
	LatestProductUpdate(ctx context.Context) (time.Time, error)
	Stats(ctx context.Context) (*Stats, error)
}

type Stats struct {
	Products        int       `json:"products"`
	InStock         int       `json:"in_stock"`
	Brands          int       `json:"brands"`
	Categories      int       `json:"categories"`
	LastProductSync time.Time `json:"last_product_sync"`
}
