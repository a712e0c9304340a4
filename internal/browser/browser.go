package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrTimeout is wrapped by every Page method that gave up waiting.
var ErrTimeout = errors.New("browser timeout")

// Page is the DOM capability the scraper depends on. Selectors and scripts
// are opaque strings supplied by configuration.
type Page interface {
	Goto(url string, timeout time.Duration) error
	Fill(selector, value string) error
	// ClickAndWaitForNavigation clicks selector and blocks until the
	// navigation it triggers has loaded.
	ClickAndWaitForNavigation(selector string, timeout time.Duration) error
	Click(selector string) error
	WaitForSelector(selector string, timeout time.Duration) error
	WaitForNetworkIdle(timeout time.Duration) error
	// WaitForFunction polls script (a JS function taking arg) until it returns truthy.
	WaitForFunction(script string, arg interface{}, timeout time.Duration) error
	Content() (string, error)
	URL() string
	Close() error
}

// Session is one launched browser. Close is safe to call more than once;
// only the first call releases the process.
type Session interface {
	NewPage() (Page, error)
	Close() error
}

type Browser struct {
	pw        *playwright.Playwright
	browser   playwright.Browser
	context   playwright.BrowserContext
	opts      *Options
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

type Options struct {
	Headless          bool
	NavigationTimeout time.Duration
	Timeout           time.Duration
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	TimezoneID        string
	Locale            string
	ProxyServer       string
	ExtraHeaders      map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		NavigationTimeout: 60 * time.Second,
		Timeout:           30 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		TimezoneID:        "UTC",
		Locale:            "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
	}
}

// New starts playwright and launches a sandboxed headless chromium.
func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
		ChromiumSandbox: playwright.Bool(true),
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(millis(b.opts.Timeout))
	page.SetDefaultNavigationTimeout(millis(b.opts.NavigationTimeout))

	return &playwrightPage{page: page}, nil
}

func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.close()
		b.logger.Debug("browser closed", "error", b.closeErr)
	})
	return b.closeErr
}

func (b *Browser) close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(millis(timeout)),
	})
	return wrap(err)
}

func (p *playwrightPage) Fill(selector, value string) error {
	return wrap(p.page.Locator(selector).First().Fill(value))
}

func (p *playwrightPage) Click(selector string) error {
	return wrap(p.page.Locator(selector).First().Click())
}

func (p *playwrightPage) ClickAndWaitForNavigation(selector string, timeout time.Duration) error {
	_, err := p.page.ExpectNavigation(func() error {
		return p.page.Locator(selector).First().Click()
	}, playwright.PageExpectNavigationOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(millis(timeout)),
	})
	return wrap(err)
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	return wrap(p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (p *playwrightPage) WaitForNetworkIdle(timeout time.Duration) error {
	return wrap(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (p *playwrightPage) WaitForFunction(script string, arg interface{}, timeout time.Duration) error {
	_, err := p.page.WaitForFunction(script, arg, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(millis(timeout)),
	})
	return wrap(err)
}

func (p *playwrightPage) Content() (string, error) {
	html, err := p.page.Content()
	return html, wrap(err)
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Close() error {
	return wrap(p.page.Close())
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
