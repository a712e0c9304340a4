package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id string) *models.Product {
	return &models.Product{
		ID:            id,
		Name:          "Product " + id,
		OriginalPrice: decimal.NewFromInt(100),
		ResalePrice:   decimal.NewFromInt(150),
		SourceURL:     "https://shop.example.com/p/" + id,
		Stock:         3,
		Images:        []string{"a.jpg", "b.jpg"},
		CategoryIDs:   []string{"c1"},
	}
}

func TestUpsertBrandIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	first, err := s.UpsertBrand(ctx, "Acme")
	require.NoError(t, err)
	second, err := s.UpsertBrand(ctx, "Acme")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	_, err = s.UpsertBrand(ctx, "")
	assert.Error(t, err)
}

func TestCreateProductDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.CreateProduct(ctx, product("p1")))
	err := s.CreateProduct(ctx, product("p1"))
	assert.ErrorIs(t, err, catalog.ErrDuplicateProduct)
}

func TestUpdateProductReplacesImagesAndUnionsCategories(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateProduct(ctx, product("p1")))

	update := product("p1")
	update.Images = []string{"c.jpg"}
	update.CategoryIDs = []string{"c2", "c1"}
	require.NoError(t, s.UpdateProduct(ctx, update))

	got, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c.jpg"}, got.Images)
	assert.Equal(t, []string{"c1", "c2"}, got.CategoryIDs)

	err = s.UpdateProduct(ctx, product("missing"))
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestGetProductReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateProduct(ctx, product("p1")))

	got, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	got.Images[0] = "mutated.jpg"

	again, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", again.Images[0])

	missing, err := s.GetProduct(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestProductUpdateAndStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	latest, err := s.LatestProductUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	_, err = s.UpsertBrand(ctx, "Acme")
	require.NoError(t, err)
	require.NoError(t, s.CreateProduct(ctx, product("p1")))
	require.NoError(t, s.CreateProduct(ctx, product("p2")))

	now = now.Add(time.Hour)
	require.NoError(t, s.SetStock(ctx, "p2", 0))

	latest, err = s.LatestProductUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, latest)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Products)
	assert.Equal(t, 1, stats.InStock)
	assert.Equal(t, 1, stats.Brands)
	assert.Equal(t, now, stats.LastProductSync)

	visible := s.InStock()
	require.Len(t, visible, 1)
	assert.Equal(t, "p1", visible[0].ID)
}

func TestFilePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")

	s, err := NewFile(path)
	require.NoError(t, err)
	brand, err := s.UpsertBrand(ctx, "Acme")
	require.NoError(t, err)
	require.NoError(t, s.CreateProduct(ctx, product("p1")))

	reopened, err := NewFile(path)
	require.NoError(t, err)

	got, err := reopened.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ResalePrice.Equal(decimal.NewFromInt(150)))

	again, err := reopened.UpsertBrand(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, brand.ID, again.ID)
}

func TestFileWithMissingSectionsAcceptsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"products": null}`), 0o644))

	cs, err := NewFile(path)
	require.NoError(t, err)

	_, err = cs.UpsertBrand(ctx, "Acme")
	require.NoError(t, err)
	_, err = cs.UpsertCategory(ctx, "Shoes")
	require.NoError(t, err)
	require.NoError(t, cs.CreateProduct(ctx, product("a")))

	reopened, err := NewFile(path)
	require.NoError(t, err)
	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Products)
	assert.Equal(t, 1, stats.Brands)
}

func TestFileRejectsCorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := NewFile(path)
	assert.Error(t, err)
}
