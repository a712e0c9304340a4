package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/models"
)

// CatalogStorage is an in-memory catalog.Store. With a filename it persists
// every write to a JSON file, for local runs without Postgres.
type CatalogStorage struct {
	mu       sync.RWMutex
	data     snapshot
	filename string
	now      func() time.Time
}

var _ catalog.Store = (*CatalogStorage)(nil)

type snapshot struct {
	Brands     map[string]*models.Brand    `json:"brands"`
	Categories map[string]*models.Category `json:"categories"`
	Products   map[string]*models.Product  `json:"products"`
}

func NewMemory() *CatalogStorage {
	return &CatalogStorage{
		data: snapshot{
			Brands:     make(map[string]*models.Brand),
			Categories: make(map[string]*models.Category),
			Products:   make(map[string]*models.Product),
		},
		now: time.Now,
	}
}

func NewFile(filename string) (*CatalogStorage, error) {
	cs := NewMemory()
	cs.filename = filename

	// Load existing data if file exists
	if err := cs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return cs, nil
}

// SetClock overrides the time source used for product timestamps.
func (cs *CatalogStorage) SetClock(now func() time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.now = now
}

func (cs *CatalogStorage) UpsertBrand(ctx context.Context, name string) (*models.Brand, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if name == "" {
		return nil, fmt.Errorf("brand name is required")
	}
	if b, ok := cs.data.Brands[name]; ok {
		out := *b
		return &out, nil
	}

	b := &models.Brand{ID: uuid.New().String(), Name: name}
	cs.data.Brands[name] = b
	out := *b
	return &out, cs.save()
}

func (cs *CatalogStorage) UpsertCategory(ctx context.Context, name string) (*models.Category, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}
	if c, ok := cs.data.Categories[name]; ok {
		out := *c
		return &out, nil
	}

	c := &models.Category{ID: uuid.New().String(), Name: name}
	cs.data.Categories[name] = c
	out := *c
	return &out, cs.save()
}

func (cs *CatalogStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	p, ok := cs.data.Products[id]
	if !ok {
		return nil, nil
	}
	return clone(p), nil
}

func (cs *CatalogStorage) CreateProduct(ctx context.Context, p *models.Product) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.data.Products[p.ID]; exists {
		return fmt.Errorf("%w: %s", catalog.ErrDuplicateProduct, p.ID)
	}

	stored := clone(p)
	stored.CategoryIDs = union(nil, p.CategoryIDs)
	stored.CreatedAt = cs.now()
	stored.UpdatedAt = stored.CreatedAt
	cs.data.Products[p.ID] = stored

	p.CreatedAt, p.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return cs.save()
}

func (cs *CatalogStorage) UpdateProduct(ctx context.Context, p *models.Product) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, ok := cs.data.Products[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrProductNotFound, p.ID)
	}

	stored := clone(p)
	stored.CategoryIDs = union(existing.CategoryIDs, p.CategoryIDs)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = cs.now()
	cs.data.Products[p.ID] = stored

	p.CreatedAt, p.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return cs.save()
}

func (cs *CatalogStorage) SetStock(ctx context.Context, id string, stock int) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, ok := cs.data.Products[id]
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	existing.Stock = stock
	existing.UpdatedAt = cs.now()
	return cs.save()
}

func (cs *CatalogStorage) LatestProductUpdate(ctx context.Context) (time.Time, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var latest time.Time
	for _, p := range cs.data.Products {
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
	}
	return latest, nil
}

func (cs *CatalogStorage) Stats(ctx context.Context) (*catalog.Stats, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	stats := &catalog.Stats{
		Products:   len(cs.data.Products),
		Brands:     len(cs.data.Brands),
		Categories: len(cs.data.Categories),
	}
	for _, p := range cs.data.Products {
		if p.Stock > 0 {
			stats.InStock++
		}
		if p.UpdatedAt.After(stats.LastProductSync) {
			stats.LastProductSync = p.UpdatedAt
		}
	}
	return stats, nil
}

// InStock lists products visible on the storefront, ordered by id.
func (cs *CatalogStorage) InStock() []*models.Product {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var out []*models.Product
	for _, p := range cs.data.Products {
		if p.Stock > 0 {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (cs *CatalogStorage) save() error {
	if cs.filename == "" {
		return nil
	}

	data, err := json.MarshalIndent(cs.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := cs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, cs.filename)
}

func (cs *CatalogStorage) Load() error {
	data, err := os.ReadFile(cs.filename)
	if err != nil {
		return err
	}

	var loaded snapshot
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to decode catalog file %s: %w", cs.filename, err)
	}
	// absent or null sections decode to nil maps
	if loaded.Brands == nil {
		loaded.Brands = make(map[string]*models.Brand)
	}
	if loaded.Categories == nil {
		loaded.Categories = make(map[string]*models.Category)
	}
	if loaded.Products == nil {
		loaded.Products = make(map[string]*models.Product)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.data = loaded
	return nil
}

func clone(p *models.Product) *models.Product {
	out := *p
	out.Images = append([]string(nil), p.Images...)
	out.CategoryIDs = append([]string(nil), p.CategoryIDs...)
	return &out
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, v := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
