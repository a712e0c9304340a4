package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/catalog-ingest/internal/browser"
	"github.com/maltedev/catalog-ingest/internal/models"
	"github.com/maltedev/catalog-ingest/internal/parser"
)

// descriptionReady resolves once any selector has non-empty text.
const descriptionReady = `(selectors) => selectors.some((s) => {
	const el = document.querySelector(s);
	return !!el && !!el.textContent && el.textContent.trim().length > 0;
})`

// ProductLookup finds an already persisted product, nil when absent.
type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

type EnricherConfig struct {
	Timeouts         Timeouts
	PlaceholderImage string
	// ForceRefresh visits detail pages even for products that already have a description.
	ForceRefresh bool
}

// Enricher fills description and images from detail pages. It never fails:
// anything that goes wrong degrades the candidate to defaults.
type Enricher struct {
	session browser.Session
	parser  *parser.HTMLParser
	lookup  ProductLookup
	cfg     EnricherConfig
	logger  *slog.Logger
}

func NewEnricher(session browser.Session, p *parser.HTMLParser, lookup ProductLookup, cfg EnricherConfig, logger *slog.Logger) *Enricher {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.PlaceholderImage == "" {
		cfg.PlaceholderImage = models.DefaultPlaceholderImage
	}
	return &Enricher{
		session: session,
		parser:  p,
		lookup:  lookup,
		cfg:     cfg,
		logger:  logger.With("component", "enricher"),
	}
}

func (e *Enricher) Enrich(ctx context.Context, c *models.Candidate) *models.EnrichedCandidate {
	ec := &models.EnrichedCandidate{
		Candidate:   *c,
		Description: models.DescriptionUnavailable,
	}

	var images []string
	switch {
	case !c.Enrichable():
		e.logger.Debug("no detail page", "product_id", c.ExternalID)
	case e.reuseCached(ctx, ec):
		images = ec.ImageURLs
	case ctx.Err() != nil:
		e.logger.Warn("skipping detail page", "product_id", c.ExternalID, "error", ctx.Err())
	default:
		detail, err := e.visit(c)
		if err != nil {
			e.logger.Warn("enrichment degraded to defaults",
				"product_id", c.ExternalID,
				"url", c.DetailURL,
				"error", err)
			break
		}
		if detail.Description != "" {
			ec.Description = detail.Description
		}
		images = detail.Images
	}

	ec.ImageURLs = e.images(c.ImageURL, images)
	return ec
}

// reuseCached copies a previous description and detail images into ec unless
// a refresh is forced.
func (e *Enricher) reuseCached(ctx context.Context, ec *models.EnrichedCandidate) bool {
	if e.cfg.ForceRefresh || e.lookup == nil {
		return false
	}

	existing, err := e.lookup.GetProduct(ctx, ec.ExternalID)
	if err != nil {
		e.logger.Warn("cache lookup failed", "product_id", ec.ExternalID, "error", err)
		return false
	}
	if existing == nil || !existing.HasDescription() {
		return false
	}

	ec.Description = existing.Description
	ec.ImageURLs = e.detailImages(existing)
	e.logger.Debug("reusing cached enrichment", "product_id", ec.ExternalID)
	return true
}

func (e *Enricher) visit(c *models.Candidate) (detail *parser.Detail, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during detail visit: %v", r)
		}
	}()

	page, err := e.session.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := page.Goto(c.DetailURL, e.cfg.Timeouts.Navigation); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNavigation, err)
	}

	selectors := e.parser.Options().Detail.Description
	if len(selectors) > 0 {
		if err := page.WaitForFunction(descriptionReady, selectors, e.cfg.Timeouts.Description); err != nil {
			e.logger.Debug("description not ready", "product_id", c.ExternalID, "error", err)
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read detail content: %w", err)
	}

	return e.parser.ParseDetail(html, c.DetailURL)
}

// detailImages strips the listing image and placeholder a stored product was
// written with, leaving what its detail page contributed.
func (e *Enricher) detailImages(p *models.Product) []string {
	var out []string
	for _, u := range p.Images {
		if u == p.ListingImage || u == e.cfg.PlaceholderImage {
			continue
		}
		out = append(out, u)
	}
	return out
}

// images puts the listing image first, then detail images, falling back to the placeholder.
func (e *Enricher) images(listing string, detail []string) []string {
	all := parser.Dedupe(append([]string{listing}, detail...))
	if len(all) == 0 {
		return []string{e.cfg.PlaceholderImage}
	}
	return all
}
