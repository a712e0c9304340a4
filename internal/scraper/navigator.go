package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/catalog-ingest/internal/browser"
)

// Login holds the source-site credentials and the opaque selectors of its form.
type Login struct {
	URL              string
	Username         string
	Password         string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
}

type NavigatorConfig struct {
	Login      Login
	ListingURL string
	// InStockFilter, when set, is clicked on the listing before extraction.
	InStockFilter string
	Timeouts      Timeouts
}

// Navigator authenticates against the source site and brings a page to the listing.
type Navigator struct {
	session browser.Session
	cfg     NavigatorConfig
	logger  *slog.Logger
}

func NewNavigator(session browser.Session, cfg NavigatorConfig, logger *slog.Logger) *Navigator {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	return &Navigator{
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "navigator"),
	}
}

// Authenticate logs in and returns the authenticated page. The caller owns the page.
func (n *Navigator) Authenticate(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := n.session.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open page: %v", ErrBrowserLaunch, err)
	}

	if err := n.login(page); err != nil {
		page.Close()
		return nil, err
	}

	n.logger.Info("authenticated", "url", page.URL())
	return page, nil
}

func (n *Navigator) login(page browser.Page) error {
	l := n.cfg.Login
	n.logger.Info("navigating to login", "url", l.URL)

	if err := page.Goto(l.URL, n.cfg.Timeouts.Navigation); err != nil {
		return fmt.Errorf("%w: login page %s: %w", ErrNavigation, l.URL, err)
	}

	if err := page.Fill(l.UsernameSelector, l.Username); err != nil {
		return fmt.Errorf("%w: fill username: %w", ErrAuth, err)
	}
	if err := page.Fill(l.PasswordSelector, l.Password); err != nil {
		return fmt.Errorf("%w: fill password: %w", ErrAuth, err)
	}
	if err := page.ClickAndWaitForNavigation(l.SubmitSelector, n.cfg.Timeouts.Navigation); err != nil {
		return fmt.Errorf("%w: submit: %w", ErrAuth, err)
	}

	return nil
}

// OpenListing navigates page to the listing and applies the in-stock filter
// if one is configured. Filter problems are logged, not fatal.
func (n *Navigator) OpenListing(ctx context.Context, page browser.Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.logger.Info("navigating to listing", "url", n.cfg.ListingURL)
	if err := page.Goto(n.cfg.ListingURL, n.cfg.Timeouts.Navigation); err != nil {
		return fmt.Errorf("%w: listing page %s: %w", ErrNavigation, n.cfg.ListingURL, err)
	}

	if n.cfg.InStockFilter == "" {
		return nil
	}

	if err := page.Click(n.cfg.InStockFilter); err != nil {
		n.logger.Warn("in-stock filter not applied", "selector", n.cfg.InStockFilter, "error", err)
		return nil
	}
	if err := page.WaitForNetworkIdle(n.cfg.Timeouts.NetworkIdle); err != nil {
		n.logger.Warn("listing did not settle after filter", "error", err)
	}

	return nil
}
