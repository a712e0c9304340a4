package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/catalog-ingest/internal/browser/browsertest"
	"github.com/maltedev/catalog-ingest/internal/models"
	"github.com/maltedev/catalog-ingest/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	loginURL   = "https://shop.example/login"
	listingURL = "https://shop.example/list"
	homeURL    = "https://shop.example/home"
	lampURL    = "https://shop.example/item?name=Desk%20Lamp"
)

const loginHTML = `<form><input id="user"><input id="pass"><button id="go">Sign in</button></form>`

const listingHTML = `<div class="filter">In stock</div>
<div class="product"><a href="/item?name=Desk%20Lamp"><img src="/media/lamp.jpg"></a>
<span class="name">Desk Lamp</span><span class="price">1,800</span><span class="stock">3 left</span></div>`

const lampHTML = `<div class="description">Brass lamp.</div>
<div class="gallery"><img src="/media/lamp-2.jpg"><img src="/media/lamp.jpg"><img src="/ads/x.png"></div>`

func testParser() *parser.HTMLParser {
	return parser.NewHTMLParser(parser.Options{
		Listing: parser.ListingSelectors{
			Item: ".product", Name: ".name", Price: ".price", Stock: ".stock", Image: "a", DetailLink: "a",
		},
		Detail: parser.DetailSelectors{
			Description: []string{".missing", ".description"},
			Thumbnails:  ".gallery img",
		},
		ListingURL:   listingURL,
		IDQueryParam: "name",
		AssetPattern: "/media/",
		BrandName:    "Acme",
	})
}

func testSite() *browsertest.Site {
	site := browsertest.NewSite()
	site.Pages[loginURL] = loginHTML
	site.Pages[homeURL] = `<p>welcome</p>`
	site.Pages[listingURL] = listingHTML
	site.Pages[lampURL] = lampHTML
	site.Redirects["#go"] = homeURL
	return site
}

func navigatorConfig() NavigatorConfig {
	return NavigatorConfig{
		Login: Login{
			URL: loginURL, Username: "buyer", Password: "secret",
			UsernameSelector: "#user", PasswordSelector: "#pass", SubmitSelector: "#go",
		},
		ListingURL: listingURL,
	}
}

func TestNavigatorAuthenticateAndOpenListing(t *testing.T) {
	site := testSite()
	nav := NewNavigator(browsertest.NewSession(site), navigatorConfig(), slog.Default())

	page, err := nav.Authenticate(context.Background())
	require.NoError(t, err)
	defer page.Close()

	assert.Equal(t, homeURL, page.URL())
	assert.Equal(t, "buyer", site.Fills["#user"])
	assert.Equal(t, "secret", site.Fills["#pass"])

	require.NoError(t, nav.OpenListing(context.Background(), page))
	assert.Equal(t, listingURL, page.URL())
}

func TestNavigatorAuthFailures(t *testing.T) {
	t.Run("login page unreachable", func(t *testing.T) {
		site := testSite()
		site.GotoErr[loginURL] = errors.New("connection refused")
		nav := NewNavigator(browsertest.NewSession(site), navigatorConfig(), slog.Default())

		_, err := nav.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrNavigation)

		opened, closed, _ := site.Snapshot()
		assert.Equal(t, opened, closed, "failed login page is closed")
	})

	t.Run("credential field missing", func(t *testing.T) {
		site := testSite()
		site.Pages[loginURL] = `<form><input id="pass"></form>`
		nav := NewNavigator(browsertest.NewSession(site), navigatorConfig(), slog.Default())

		_, err := nav.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrAuth)
	})

	t.Run("submit does not navigate", func(t *testing.T) {
		site := testSite()
		delete(site.Redirects, "#go")
		nav := NewNavigator(browsertest.NewSession(site), navigatorConfig(), slog.Default())

		_, err := nav.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrAuth)
	})
}

func TestNavigatorInStockFilter(t *testing.T) {
	site := testSite()
	site.NetworkIdleErr = errors.New("still busy")
	cfg := navigatorConfig()
	cfg.InStockFilter = ".filter"
	nav := NewNavigator(browsertest.NewSession(site), cfg, slog.Default())

	page, err := nav.Authenticate(context.Background())
	require.NoError(t, err)

	require.NoError(t, nav.OpenListing(context.Background(), page), "idle timeout is tolerated")
	assert.Contains(t, site.Clicks, ".filter")
}

func TestListingExtractor(t *testing.T) {
	site := testSite()
	session := browsertest.NewSession(site)
	page, err := session.NewPage()
	require.NoError(t, err)
	require.NoError(t, page.Goto(listingURL, time.Second))

	candidates, err := NewListingExtractor(testParser(), time.Second, slog.Default()).Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Desk-Lamp", candidates[0].ExternalID)
	assert.Equal(t, 3, candidates[0].StockQty)
}

func TestListingExtractorContainerTimeout(t *testing.T) {
	site := testSite()
	site.Pages[listingURL] = `<p>maintenance</p>`
	page, err := browsertest.NewSession(site).NewPage()
	require.NoError(t, err)
	require.NoError(t, page.Goto(listingURL, time.Second))

	_, err = NewListingExtractor(testParser(), time.Second, slog.Default()).Extract(context.Background(), page)
	assert.ErrorIs(t, err, ErrSelectorTimeout)
}

type lookupFunc func(ctx context.Context, id string) (*models.Product, error)

func (f lookupFunc) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return f(ctx, id)
}

func lampCandidate() *models.Candidate {
	return &models.Candidate{
		ExternalID: "Desk-Lamp",
		Name:       "Desk Lamp",
		ImageURL:   "https://shop.example/media/lamp.jpg",
		DetailURL:  lampURL,
		StockQty:   3,
	}
}

func newEnricher(site *browsertest.Site, lookup ProductLookup, force bool) *Enricher {
	return NewEnricher(browsertest.NewSession(site), testParser(), lookup, EnricherConfig{
		PlaceholderImage: "/images/placeholder.png",
		ForceRefresh:     force,
	}, slog.Default())
}

func TestEnricherVisitsDetailPage(t *testing.T) {
	site := testSite()
	ec := newEnricher(site, nil, false).Enrich(context.Background(), lampCandidate())

	assert.Equal(t, "Brass lamp.", ec.Description)
	assert.Equal(t, []string{
		"https://shop.example/media/lamp.jpg",
		"https://shop.example/media/lamp-2.jpg",
	}, ec.ImageURLs)

	opened, closed, _ := site.Snapshot()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestEnricherDegradesOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*browsertest.Site)
	}{
		{"navigation error", func(s *browsertest.Site) { s.GotoErr[lampURL] = errors.New("502") }},
		{"navigation panic", func(s *browsertest.Site) { s.PanicOn[lampURL] = true }},
		{"description never appears", func(s *browsertest.Site) {
			s.Pages[lampURL] = `<div class="gallery"></div>`
			s.FunctionErr = errors.New("timeout 10000ms exceeded")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := testSite()
			tt.setup(site)

			ec := newEnricher(site, nil, false).Enrich(context.Background(), lampCandidate())
			assert.Equal(t, models.DescriptionUnavailable, ec.Description)
			assert.Equal(t, []string{"https://shop.example/media/lamp.jpg"}, ec.ImageURLs)

			opened, closed, _ := site.Snapshot()
			assert.Equal(t, opened, closed, "page closed on every path")
		})
	}
}

func TestEnricherPlaceholderWithoutDetailURL(t *testing.T) {
	site := testSite()
	c := &models.Candidate{ExternalID: "SKU-9", Name: "Mystery"}

	ec := newEnricher(site, nil, false).Enrich(context.Background(), c)
	assert.Equal(t, models.DescriptionUnavailable, ec.Description)
	assert.Equal(t, []string{"/images/placeholder.png"}, ec.ImageURLs)
	assert.Empty(t, site.VisitedURLs())
}

func TestEnricherDefaultPlaceholder(t *testing.T) {
	e := NewEnricher(browsertest.NewSession(testSite()), testParser(), nil, EnricherConfig{}, slog.Default())

	ec := e.Enrich(context.Background(), &models.Candidate{ExternalID: "SKU-9", Name: "Mystery"})
	assert.Equal(t, []string{models.DefaultPlaceholderImage}, ec.ImageURLs)
}

func TestEnricherCachedImagesFollowListingImage(t *testing.T) {
	const detailImage = "https://shop.example/media/lamp-2.jpg"
	stored := &models.Product{
		ID:           "Desk-Lamp",
		Description:  "Stored copy",
		ListingImage: "https://shop.example/media/lamp-v1.jpg",
		Images:       []string{"https://shop.example/media/lamp-v1.jpg", detailImage},
	}
	lookup := lookupFunc(func(ctx context.Context, id string) (*models.Product, error) {
		return stored, nil
	})
	site := testSite()
	e := newEnricher(site, lookup, false)

	for _, listingImage := range []string{
		"https://shop.example/media/lamp-v2.jpg",
		"https://shop.example/media/lamp-v3.jpg",
	} {
		c := lampCandidate()
		c.ImageURL = listingImage

		ec := e.Enrich(context.Background(), c)
		assert.Equal(t, []string{listingImage, detailImage}, ec.ImageURLs)

		// persist what this run would write
		stored = &models.Product{
			ID:           c.ExternalID,
			Description:  ec.Description,
			ListingImage: c.ImageURL,
			Images:       ec.ImageURLs,
		}
	}
	assert.Empty(t, site.VisitedURLs())

	t.Run("stored placeholder is dropped once a listing image exists", func(t *testing.T) {
		stored = &models.Product{
			ID:          "Desk-Lamp",
			Description: "Stored copy",
			Images:      []string{"/images/placeholder.png"},
		}
		ec := e.Enrich(context.Background(), lampCandidate())
		assert.Equal(t, []string{"https://shop.example/media/lamp.jpg"}, ec.ImageURLs)
	})
}

func TestEnricherReusesCachedDescription(t *testing.T) {
	cached := lookupFunc(func(ctx context.Context, id string) (*models.Product, error) {
		return &models.Product{ID: id, Description: "Stored copy", Images: []string{"https://shop.example/media/old.jpg"}}, nil
	})

	t.Run("cache hit skips visit", func(t *testing.T) {
		site := testSite()
		ec := newEnricher(site, cached, false).Enrich(context.Background(), lampCandidate())

		assert.Equal(t, "Stored copy", ec.Description)
		assert.Equal(t, []string{
			"https://shop.example/media/lamp.jpg",
			"https://shop.example/media/old.jpg",
		}, ec.ImageURLs)
		assert.Empty(t, site.VisitedURLs())
	})

	t.Run("force refresh visits anyway", func(t *testing.T) {
		site := testSite()
		ec := newEnricher(site, cached, true).Enrich(context.Background(), lampCandidate())

		assert.Equal(t, "Brass lamp.", ec.Description)
		assert.Equal(t, []string{lampURL}, site.VisitedURLs())
	})

	t.Run("placeholder description is not cached", func(t *testing.T) {
		site := testSite()
		placeholder := lookupFunc(func(ctx context.Context, id string) (*models.Product, error) {
			return &models.Product{ID: id, Description: models.DescriptionUnavailable}, nil
		})

		ec := newEnricher(site, placeholder, false).Enrich(context.Background(), lampCandidate())
		assert.Equal(t, "Brass lamp.", ec.Description)
	})
}

func TestEnricherConcurrentUse(t *testing.T) {
	site := testSite()
	enricher := newEnricher(site, nil, false)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec := enricher.Enrich(context.Background(), lampCandidate())
			assert.Equal(t, "Brass lamp.", ec.Description)
		}()
	}
	wg.Wait()

	opened, closed, _ := site.Snapshot()
	assert.Equal(t, 5, opened)
	assert.Equal(t, 5, closed)
}
