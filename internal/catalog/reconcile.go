package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/catalog-ingest/internal/models"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

const (
	ReasonOutOfStock  = "out_of_stock"
	ReasonIDConflict  = "id_conflict"
	ReasonStockZeroed = "stock_zeroed"
)

// ZeroStockPolicy decides what a zero-stock listing row does to the catalog.
type ZeroStockPolicy string

const (
	// ZeroStockSkip leaves persisted state untouched.
	ZeroStockSkip ZeroStockPolicy = "skip"
	// ZeroStockZeroExisting sets stock to 0 on an existing product, never creating one.
	ZeroStockZeroExisting ZeroStockPolicy = "zero-existing"
)

func ParseZeroStockPolicy(s string) (ZeroStockPolicy, error) {
	switch p := ZeroStockPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ZeroStockSkip:
		return ZeroStockSkip, nil
	case ZeroStockZeroExisting:
		return p, nil
	default:
		return "", fmt.Errorf("unknown zero stock policy %q", s)
	}
}

type Result struct {
	ProductID string
	Action    Action
	Reason    string
	Err       error
}

func skipped(id, reason string) Result {
	return Result{ProductID: id, Action: ActionSkipped, Reason: reason}
}

func failed(id string, err error) Result {
	return Result{ProductID: id, Action: ActionFailed, Err: err}
}

// Reconciler decides create, update or skip for each enriched candidate.
// Safe for concurrent use across different product ids.
type Reconciler struct {
	store  Store
	policy ZeroStockPolicy
	logger *slog.Logger
}

func NewReconciler(store Store, policy ZeroStockPolicy, logger *slog.Logger) *Reconciler {
	if policy == "" {
		policy = ZeroStockSkip
	}
	return &Reconciler{
		store:  store,
		policy: policy,
		logger: logger.With("component", "reconciler"),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, ec *models.EnrichedCandidate) Result {
	id := ec.ExternalID

	brand, err := r.store.UpsertBrand(ctx, ec.BrandName)
	if err != nil {
		return failed(id, fmt.Errorf("failed to upsert brand %q: %w", ec.BrandName, err))
	}

	if ec.StockQty <= 0 {
		return r.reconcileZeroStock(ctx, ec)
	}

	product := &models.Product{
		ID:            id,
		Name:          ec.Name,
		Description:   ec.Description,
		OriginalPrice: ec.OriginalPrice,
		ResalePrice:   ec.ResalePrice,
		SourceURL:     ec.DetailURL,
		ListingImage:  ec.ImageURL,
		BrandID:       brand.ID,
		Stock:         ec.StockQty,
		Images:        ec.ImageURLs,
	}

	if ec.CategoryHint != "" {
		category, err := r.store.UpsertCategory(ctx, ec.CategoryHint)
		if err != nil {
			return failed(id, fmt.Errorf("failed to upsert category %q: %w", ec.CategoryHint, err))
		}
		product.CategoryIDs = []string{category.ID}
	}

	if problems := product.Validate(); len(problems) > 0 {
		return failed(id, fmt.Errorf("invalid product: %s", strings.Join(problems, "; ")))
	}

	existing, err := r.store.GetProduct(ctx, id)
	if err != nil {
		return failed(id, fmt.Errorf("failed to load product: %w", err))
	}

	if existing == nil {
		err := r.store.CreateProduct(ctx, product)
		if errors.Is(err, ErrDuplicateProduct) {
			r.logger.Warn("product id collision on create", "product_id", id, "url", ec.DetailURL)
			return skipped(id, ReasonIDConflict)
		}
		if err != nil {
			return failed(id, fmt.Errorf("failed to create product: %w", err))
		}
		return Result{ProductID: id, Action: ActionCreated}
	}

	if existing.SourceURL != product.SourceURL {
		// same derived id, so the same product: tracking params or a new slug
		r.logger.Debug("product source url changed",
			"product_id", id,
			"previous_url", existing.SourceURL,
			"url", product.SourceURL)
	}

	if err := r.store.UpdateProduct(ctx, product); err != nil {
		return failed(id, fmt.Errorf("failed to update product: %w", err))
	}
	return Result{ProductID: id, Action: ActionUpdated}
}

func (r *Reconciler) reconcileZeroStock(ctx context.Context, ec *models.EnrichedCandidate) Result {
	id := ec.ExternalID
	if r.policy != ZeroStockZeroExisting {
		return skipped(id, ReasonOutOfStock)
	}

	existing, err := r.store.GetProduct(ctx, id)
	if err != nil {
		return failed(id, fmt.Errorf("failed to load product: %w", err))
	}
	if existing == nil || existing.Stock == 0 {
		return skipped(id, ReasonOutOfStock)
	}
	if err := r.store.SetStock(ctx, id, 0); err != nil {
		return failed(id, fmt.Errorf("failed to zero stock: %w", err))
	}
	return Result{ProductID: id, Action: ActionUpdated, Reason: ReasonStockZeroed}
}
