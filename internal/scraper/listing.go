package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-ingest/internal/browser"
	"github.com/maltedev/catalog-ingest/internal/models"
	"github.com/maltedev/catalog-ingest/internal/parser"
)

// ListingExtractor reads candidates off a rendered listing page.
type ListingExtractor struct {
	parser  *parser.HTMLParser
	timeout time.Duration
	logger  *slog.Logger
}

func NewListingExtractor(p *parser.HTMLParser, timeout time.Duration, logger *slog.Logger) *ListingExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeouts().Listing
	}
	return &ListingExtractor{
		parser:  p,
		timeout: timeout,
		logger:  logger.With("component", "listing_extractor"),
	}
}

// Extract waits for the item container and parses every item on the page.
func (e *ListingExtractor) Extract(ctx context.Context, page browser.Page) ([]*models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	container := e.parser.Options().Listing.Item
	if err := page.WaitForSelector(container, e.timeout); err != nil {
		return nil, fmt.Errorf("%w: listing container %q: %w", ErrSelectorTimeout, container, err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read listing content: %w", err)
	}

	candidates, err := e.parser.ParseListing(html)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}

	e.logger.Info("extracted listing", "url", page.URL(), "candidates", len(candidates))
	return candidates, nil
}
