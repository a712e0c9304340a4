package parser

import (
	"github.com/maltedev/catalog-ingest/internal/models"
)

// Parser turns rendered page HTML into catalog data.
type Parser interface {
	ParseListing(html string) ([]*models.Candidate, error)
	ParseDetail(html, pageURL string) (*Detail, error)
}
