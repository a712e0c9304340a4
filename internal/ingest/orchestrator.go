// Package ingest runs the product ingestion pipeline: staleness gate,
// taxonomy seeding, authenticated listing extraction and chunked
// enrichment plus reconciliation.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/catalog-ingest/internal/browser"
	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/models"
	"github.com/maltedev/catalog-ingest/internal/parser"
	"github.com/maltedev/catalog-ingest/internal/pricing"
	"github.com/maltedev/catalog-ingest/internal/ratelimit"
	"github.com/maltedev/catalog-ingest/internal/scraper"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrencyLimit = 5

// Launcher starts a browser session. The orchestrator closes it.
type Launcher func() (browser.Session, error)

type Config struct {
	Navigator scraper.NavigatorConfig
	Parser    parser.Options
	Timeouts  scraper.Timeouts

	PlaceholderImage string
	// ForceRefresh re-visits detail pages of products that already have a description.
	ForceRefresh bool
	// ConcurrencyLimit is the chunk size, and so the bound on open detail pages.
	ConcurrencyLimit int
	// CacheTTL is how long a catalog stays fresh after its newest product update.
	// Zero makes every check stale.
	CacheTTL time.Duration

	BrandName         string
	DefaultCategories []string
}

type Dependencies struct {
	Store      catalog.Store
	Launch     Launcher
	Pricing    pricing.Engine
	Reconciler *catalog.Reconciler
	// Pacer is waited on between chunks. Optional.
	Pacer ratelimit.RateLimiter
	// Lock serializes runs. Optional, defaults to a process-local lock.
	Lock RunLock
}

type Orchestrator struct {
	cfg        Config
	store      catalog.Store
	launch     Launcher
	pricing    pricing.Engine
	reconciler *catalog.Reconciler
	parser     *parser.HTMLParser
	pacer      ratelimit.RateLimiter
	lock       RunLock
	// inflight counts runs that have not returned, including background ones.
	inflight   sync.WaitGroup
	now        func() time.Time
	logger     *slog.Logger
}

func NewOrchestrator(cfg Config, deps Dependencies, logger *slog.Logger) *Orchestrator {
	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	cfg.Navigator.Timeouts = cfg.Timeouts
	if cfg.Parser.BrandName == "" {
		cfg.Parser.BrandName = cfg.BrandName
	}

	pacer := deps.Pacer
	if pacer == nil {
		pacer = ratelimit.Noop{}
	}
	lock := deps.Lock
	if lock == nil {
		lock = NewLocalLock()
	}

	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		launch:     deps.Launch,
		pricing:    deps.Pricing,
		reconciler: deps.Reconciler,
		parser:     parser.NewHTMLParser(cfg.Parser),
		pacer:      pacer,
		lock:       lock,
		now:        time.Now,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Stale reports whether the catalog needs a fresh scrape.
func (o *Orchestrator) Stale(ctx context.Context) (bool, error) {
	if o.cfg.CacheTTL <= 0 {
		return true, nil
	}

	latest, err := o.store.LatestProductUpdate(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read catalog freshness: %w", err)
	}
	if latest.IsZero() {
		return true, nil
	}

	return o.now().Sub(latest) >= o.cfg.CacheTTL, nil
}

// EnsureFresh runs the pipeline only when the catalog is stale. It reports
// whether a run happened.
func (o *Orchestrator) EnsureFresh(ctx context.Context) (bool, error) {
	release, err := o.lock.TryAcquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	stale, err := o.Stale(ctx)
	if err != nil {
		return false, err
	}
	if !stale {
		o.logger.Debug("catalog is fresh, skipping run", "ttl", o.cfg.CacheTTL)
		return false, nil
	}

	return true, o.run(ctx)
}

// Run executes the pipeline regardless of staleness.
func (o *Orchestrator) Run(ctx context.Context) error {
	release, err := o.lock.TryAcquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return o.run(ctx)
}

// Trigger takes the run lock and, when force is set or the catalog is stale,
// starts a run in the background. done yields the run's result; it is nil
// when no run was started.
func (o *Orchestrator) Trigger(ctx context.Context, force bool) (done <-chan error, err error) {
	release, err := o.lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}

	if !force {
		stale, err := o.Stale(ctx)
		if err != nil || !stale {
			release()
			return nil, err
		}
	}

	runCtx := context.WithoutCancel(ctx)
	result := make(chan error, 1)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		err := o.run(runCtx)
		release()
		if err != nil {
			o.logger.Error("triggered run failed", "error", err)
		}
		result <- err
	}()

	return result, nil
}

// Drain blocks until every in-flight run has returned, so browser sessions are
// closed before the process exits. It gives up when ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingestion run still in progress: %w", ctx.Err())
	}
}

func (o *Orchestrator) run(ctx context.Context) error {
	o.inflight.Add(1)
	defer o.inflight.Done()

	started := o.now()
	o.logger.Info("starting ingestion run")

	if err := o.ensureTaxonomy(ctx); err != nil {
		return err
	}

	session, err := o.launch()
	if err != nil {
		return fmt.Errorf("%w: %w", scraper.ErrBrowserLaunch, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			o.logger.Warn("failed to close browser", "error", err)
		}
	}()

	candidates, err := o.extract(ctx, session)
	if err != nil {
		return fmt.Errorf("ingestion run aborted: %w", err)
	}

	unique, duplicates := dedupe(candidates)
	for _, id := range duplicates {
		o.logger.Warn("duplicate product id in listing", "product_id", id)
	}

	summary := o.process(ctx, session, unique)
	summary.Skipped += len(duplicates)

	o.logger.Info("ingestion run finished",
		"candidates", len(candidates),
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", o.now().Sub(started))

	return nil
}

// ensureTaxonomy seeds the brand and default categories before any scraping,
// so they exist whatever the run's outcome.
func (o *Orchestrator) ensureTaxonomy(ctx context.Context) error {
	if o.cfg.BrandName != "" {
		if _, err := o.store.UpsertBrand(ctx, o.cfg.BrandName); err != nil {
			return fmt.Errorf("failed to ensure brand %q: %w", o.cfg.BrandName, err)
		}
	}
	for _, name := range o.cfg.DefaultCategories {
		if _, err := o.store.UpsertCategory(ctx, name); err != nil {
			return fmt.Errorf("failed to ensure category %q: %w", name, err)
		}
	}
	return nil
}

// extract authenticates, opens the listing and reads it. The listing page is
// closed before returning.
func (o *Orchestrator) extract(ctx context.Context, session browser.Session) ([]*models.Candidate, error) {
	nav := scraper.NewNavigator(session, o.cfg.Navigator, o.logger)

	page, err := nav.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := nav.OpenListing(ctx, page); err != nil {
		return nil, err
	}

	return scraper.NewListingExtractor(o.parser, o.cfg.Timeouts.Listing, o.logger).Extract(ctx, page)
}

type Summary struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

func (s *Summary) add(r catalog.Result) {
	switch r.Action {
	case catalog.ActionCreated:
		s.Created++
	case catalog.ActionUpdated:
		s.Updated++
	case catalog.ActionSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// process runs chunks strictly one after another. Each chunk is an
// all-settled barrier: no item's failure stops its siblings.
func (o *Orchestrator) process(ctx context.Context, session browser.Session, candidates []*models.Candidate) Summary {
	enricher := scraper.NewEnricher(session, o.parser, o.store, scraper.EnricherConfig{
		Timeouts:         o.cfg.Timeouts,
		PlaceholderImage: o.cfg.PlaceholderImage,
		ForceRefresh:     o.cfg.ForceRefresh,
	}, o.logger)

	var summary Summary
	for i, chunk := range chunks(candidates, o.cfg.ConcurrencyLimit) {
		if i > 0 {
			if err := o.pacer.Wait(ctx); err != nil {
				o.logger.Warn("stopping before remaining chunks", "processed_chunks", i, "error", err)
				break
			}
		}

		for _, r := range o.runChunk(ctx, enricher, chunk) {
			summary.add(r)
			o.logResult(r)
		}
	}
	return summary
}

func (o *Orchestrator) runChunk(ctx context.Context, enricher *scraper.Enricher, chunk []*models.Candidate) []catalog.Result {
	results := make([]catalog.Result, len(chunk))

	var g errgroup.Group
	for i, c := range chunk {
		i, c := i, c
		g.Go(func() error {
			results[i] = o.processItem(ctx, enricher, c)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) processItem(ctx context.Context, enricher *scraper.Enricher, c *models.Candidate) (res catalog.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = catalog.Result{
				ProductID: c.ExternalID,
				Action:    catalog.ActionFailed,
				Err:       fmt.Errorf("panic while processing item: %v", r),
			}
		}
	}()

	var ec *models.EnrichedCandidate
	if c.StockQty > 0 {
		ec = enricher.Enrich(ctx, c)
	} else {
		// out-of-stock rows never need a detail visit
		ec = &models.EnrichedCandidate{Candidate: *c, Description: models.DescriptionUnavailable}
	}
	ec.ResalePrice = o.pricing.ResalePrice(ec.OriginalPrice)

	return o.reconciler.Reconcile(ctx, ec)
}

func (o *Orchestrator) logResult(r catalog.Result) {
	switch {
	case r.Action == catalog.ActionFailed:
		o.logger.Error("failed to ingest product", "product_id", r.ProductID, "error", r.Err)
	case r.Reason == catalog.ReasonIDConflict:
		o.logger.Warn("product skipped", "product_id", r.ProductID, "reason", r.Reason)
	default:
		o.logger.Debug("product reconciled", "product_id", r.ProductID, "action", r.Action, "reason", r.Reason)
	}
}

// dedupe keeps the first candidate per id and returns the ids seen again.
func dedupe(candidates []*models.Candidate) (unique []*models.Candidate, duplicates []string) {
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.ExternalID]; ok {
			duplicates = append(duplicates, c.ExternalID)
			continue
		}
		seen[c.ExternalID] = struct{}{}
		unique = append(unique, c)
	}
	return unique, duplicates
}

func chunks[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
