package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DescriptionUnavailable is stored when no detail page description could be read.
	DescriptionUnavailable = "Description not available"
	// DefaultPlaceholderImage stands in for a product that has no image at all.
	DefaultPlaceholderImage = "https://placehold.co/600x600?text=No+Image"
)

// Candidate is a raw product row read from the listing page.
type Candidate struct {
	ExternalID    string          `json:"external_id"`
	Name          string          `json:"name"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	ImageURL      string          `json:"image_url"`
	DetailURL     string          `json:"detail_url,omitempty"`
	StockRaw      string          `json:"stock_raw"`
	StockQty      int             `json:"stock_qty"`
	BrandName     string          `json:"brand_name"`
	CategoryHint  string          `json:"category_hint"`
}

// Enrichable reports whether the candidate has a detail page to visit.
func (c *Candidate) Enrichable() bool {
	return c.DetailURL != ""
}

// EnrichedCandidate is a candidate after the detail page visit and pricing.
type EnrichedCandidate struct {
	Candidate
	Description string          `json:"description"`
	ImageURLs   []string        `json:"image_urls"`
	ResalePrice decimal.Decimal `json:"resale_price"`
}

type Brand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product is the persisted catalog entry keyed by the derived external id.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	ResalePrice   decimal.Decimal `json:"resale_price"`
	SourceURL     string          `json:"source_url"`
	// ListingImage is the listing's image when the product was written. Images
	// starts with it; the rest came from the detail page.
	ListingImage  string          `json:"listing_image,omitempty"`
	BrandID       string          `json:"brand_id"`
	Stock         int             `json:"stock"`
	CategoryIDs   []string        `json:"category_ids"`
	Images        []string        `json:"images"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasDescription reports whether a real description was captured before.
func (p *Product) HasDescription() bool {
	return p.Description != "" && p.Description != DescriptionUnavailable
}

// Validate returns a list of problems that make the product unfit to persist.
func (p *Product) Validate() []string {
	var errors []string

	if p.ID == "" {
		errors = append(errors, "ID is required")
	}

	if p.Name == "" {
		errors = append(errors, "Name is required")
	}

	if p.OriginalPrice.IsNegative() {
		errors = append(errors, "Original price must not be negative")
	}

	if p.Stock < 0 {
		errors = append(errors, "Stock must not be negative")
	}

	return errors
}
