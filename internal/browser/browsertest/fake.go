// Package browsertest provides an in-memory browser.Session that serves
// canned HTML, for tests of code driving pages.
package browsertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/catalog-ingest/internal/browser"
)

// Site is the fake web: pages by URL plus failure injection.
type Site struct {
	mu sync.Mutex

	Pages map[string]string
	// GotoErr fails navigation to a URL.
	GotoErr map[string]error
	// PanicOn makes navigation to a URL panic.
	PanicOn map[string]bool
	// Redirects maps a clicked selector to the URL its navigation lands on.
	Redirects map[string]string
	// Replace swaps the page content at URL after a click on selector, keyed "url|selector".
	Replace map[string]string
	// FunctionErr is returned by every WaitForFunction call.
	FunctionErr error
	// NetworkIdleErr is returned by every WaitForNetworkIdle call.
	NetworkIdleErr error
	// Delay is applied to every navigation.
	Delay time.Duration

	Fills    map[string]string
	Clicks   []string
	Visited  []string
	open     int
	MaxOpen  int
	Opened   int
	Closed   int
	Sessions int
}

func NewSite() *Site {
	return &Site{
		Pages:     map[string]string{},
		GotoErr:   map[string]error{},
		PanicOn:   map[string]bool{},
		Redirects: map[string]string{},
		Replace:   map[string]string{},
		Fills:     map[string]string{},
	}
}

// Snapshot returns counters under the site lock.
func (s *Site) Snapshot() (opened, closed, maxOpen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Opened, s.Closed, s.MaxOpen
}

func (s *Site) VisitedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Visited))
	copy(out, s.Visited)
	return out
}

// Session is a fake browser.Session.
type Session struct {
	site       *Site
	mu         sync.Mutex
	CloseCalls int
	NewPageErr error
}

func NewSession(site *Site) *Session {
	site.mu.Lock()
	site.Sessions++
	site.mu.Unlock()
	return &Session{site: site}
}

func (s *Session) NewPage() (browser.Page, error) {
	if s.NewPageErr != nil {
		return nil, s.NewPageErr
	}

	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.site.Opened++
	s.site.open++
	if s.site.open > s.site.MaxOpen {
		s.site.MaxOpen = s.site.open
	}
	return &Page{site: s.site}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Page is a fake browser.Page.
type Page struct {
	site   *Site
	url    string
	closed bool
}

func (p *Page) Goto(url string, timeout time.Duration) error {
	p.site.mu.Lock()
	delay := p.site.Delay
	panics := p.site.PanicOn[url]
	err := p.site.GotoErr[url]
	_, found := p.site.Pages[url]
	p.site.Visited = append(p.site.Visited, url)
	p.site.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if panics {
		panic("navigation exploded: " + url)
	}
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no page at %s", browser.ErrTimeout, url)
	}

	p.url = url
	return nil
}

func (p *Page) Fill(selector, value string) error {
	if err := p.WaitForSelector(selector, 0); err != nil {
		return err
	}
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.Fills[selector] = value
	return nil
}

func (p *Page) Click(selector string) error {
	if err := p.WaitForSelector(selector, 0); err != nil {
		return err
	}

	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.Clicks = append(p.site.Clicks, selector)
	if html, ok := p.site.Replace[p.url+"|"+selector]; ok {
		p.site.Pages[p.url] = html
	}
	return nil
}

func (p *Page) ClickAndWaitForNavigation(selector string, timeout time.Duration) error {
	if err := p.Click(selector); err != nil {
		return err
	}

	p.site.mu.Lock()
	target, ok := p.site.Redirects[selector]
	p.site.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: click on %s did not navigate", browser.ErrTimeout, selector)
	}
	return p.Goto(target, timeout)
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	html, err := p.Content()
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: waiting for %s", browser.ErrTimeout, selector)
	}
	return nil
}

func (p *Page) WaitForNetworkIdle(timeout time.Duration) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.NetworkIdleErr
}

func (p *Page) WaitForFunction(script string, arg interface{}, timeout time.Duration) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.FunctionErr
}

func (p *Page) Content() (string, error) {
	if p.closed {
		return "", errors.New("page closed")
	}
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.Pages[p.url], nil
}

func (p *Page) URL() string {
	return p.url
}

func (p *Page) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.Closed++
	p.site.open--
	return nil
}
