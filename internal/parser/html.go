package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/catalog-ingest/internal/models"
)

// ListingSelectors are opaque CSS selectors for the listing page. Name, Price,
// Stock, Image and DetailLink are evaluated relative to each Item.
type ListingSelectors struct {
	Item       string
	Name       string
	Price      string
	Stock      string
	Image      string
	DetailLink string
	// IDAttr is the attribute carrying the product id when IDSource is attribute.
	IDAttr string
}

// DetailSelectors are tried against the detail page. The first Description
// selector with non-empty text wins.
type DetailSelectors struct {
	Description []string
	Thumbnails  string
}

type Options struct {
	Listing      ListingSelectors
	Detail       DetailSelectors
	ListingURL   string
	IDSource     IDSource
	IDQueryParam string
	// AssetPattern is the substring every supplementary image URL must contain.
	AssetPattern string
	BrandName    string
	CategoryHint string
}

// Detail is what a detail page contributes to a candidate.
type Detail struct {
	Description string
	Images      []string
}

// HTMLParser parses rendered page content with goquery.
type HTMLParser struct {
	opts Options
}

func NewHTMLParser(opts Options) *HTMLParser {
	if opts.IDSource == "" {
		opts.IDSource = IDFromURL
	}
	return &HTMLParser{opts: opts}
}

func (p *HTMLParser) Options() Options {
	return p.opts
}

// ParseListing extracts one candidate per listing item. Items without a
// resolvable id are dropped: they are headers or filler rows, not products.
func (p *HTMLParser) ParseListing(html string) ([]*models.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	sel := p.opts.Listing
	var candidates []*models.Candidate

	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		c := &models.Candidate{
			Name:         textOf(item, sel.Name),
			ImageURL:     ResolveURL(p.opts.ListingURL, imageOf(item, sel.Image)),
			DetailURL:    ResolveURL(p.opts.ListingURL, p.detailHref(item)),
			BrandName:    p.opts.BrandName,
			CategoryHint: p.opts.CategoryHint,
		}

		c.OriginalPrice = ParsePrice(textOf(item, sel.Price))
		c.StockRaw = textOf(item, sel.Stock)
		c.StockQty = ParseStock(c.StockRaw)
		c.ExternalID = p.externalID(item, c.DetailURL)

		if c.ExternalID == "" {
			return
		}
		candidates = append(candidates, c)
	})

	return candidates, nil
}

func (p *HTMLParser) detailHref(item *goquery.Selection) string {
	link := item
	if p.opts.Listing.DetailLink != "" {
		link = item.Find(p.opts.Listing.DetailLink).First()
	}
	href, _ := link.Attr("href")
	return strings.TrimSpace(href)
}

func (p *HTMLParser) externalID(item *goquery.Selection, detailURL string) string {
	if p.opts.IDSource == IDFromAttribute {
		attr := p.opts.Listing.IDAttr
		if attr == "" {
			return ""
		}
		if v, ok := item.Attr(attr); ok {
			return NormalizeID(v)
		}
		v, _ := item.Find("[" + attr + "]").First().Attr(attr)
		return NormalizeID(v)
	}
	return IDFromDetailURL(detailURL, p.opts.IDQueryParam)
}

// ParseDetail reads the description and supplementary images of a detail page.
// Missing pieces are left empty; callers apply defaults.
func (p *HTMLParser) ParseDetail(html, pageURL string) (*Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	detail := &Detail{}

	for _, selector := range p.opts.Detail.Description {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text != "" {
			detail.Description = text
			break
		}
	}

	if p.opts.Detail.Thumbnails != "" {
		var images []string
		doc.Find(p.opts.Detail.Thumbnails).Each(func(_ int, s *goquery.Selection) {
			imgs := s
			if goquery.NodeName(s) != "img" {
				imgs = s.Find("img")
			}
			imgs.Each(func(_ int, img *goquery.Selection) {
				src := ResolveURL(pageURL, imageSrc(img))
				if src == "" {
					return
				}
				if p.opts.AssetPattern != "" && !strings.Contains(src, p.opts.AssetPattern) {
					return
				}
				images = append(images, src)
			})
		})
		detail.Images = Dedupe(images)
	}

	return detail, nil
}

// Dedupe removes empty and repeated entries, keeping first-seen order.
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func imageOf(item *goquery.Selection, selector string) string {
	img := item
	if selector != "" {
		img = item.Find(selector).First()
	}
	if goquery.NodeName(img) != "img" {
		img = img.Find("img").First()
	}
	return imageSrc(img)
}

func textOf(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(item.Find(selector).First().Text())
}

func imageSrc(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-original"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
