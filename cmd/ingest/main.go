package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/catalog-ingest/internal/api"
	"github.com/maltedev/catalog-ingest/internal/browser"
	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/config"
	"github.com/maltedev/catalog-ingest/internal/database"
	"github.com/maltedev/catalog-ingest/internal/ingest"
	"github.com/maltedev/catalog-ingest/internal/parser"
	"github.com/maltedev/catalog-ingest/internal/pricing"
	"github.com/maltedev/catalog-ingest/internal/ratelimit"
	"github.com/maltedev/catalog-ingest/internal/scraper"
	"github.com/maltedev/catalog-ingest/internal/storage"
	"github.com/redis/go-redis/v9"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion and exit")
	force := flag.Bool("force", false, "with -once, ignore the cache window")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		slog.Error("invalid logging config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateLiveRun(); err != nil {
		logger.Error("source site is not fully configured", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var redisClient *redis.Client
	if cfg.RunLock.Type == config.RunLockRedis || cfg.Outbox.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	var (
		store  catalog.Store
		outbox *database.OutboxRepository
	)
	switch cfg.Store.Type {
	case config.StoreTypeFile:
		fileStore, err := storage.NewFile(cfg.Store.File)
		if err != nil {
			logger.Error("failed to open catalog file", "error", err, "file", cfg.Store.File)
			os.Exit(1)
		}
		store = fileStore
	default:
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: int32(cfg.Database.MaxConns),
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}

		if cfg.Outbox.Enabled {
			outbox = database.NewOutboxRepository(db)
		}
		store = database.NewCatalogStore(db, outbox, logger)
	}

	orchestrator, err := newOrchestrator(cfg, store, redisClient, logger)
	if err != nil {
		logger.Error("failed to build ingestion pipeline", "error", err)
		os.Exit(1)
	}

	if *once {
		if *force {
			err = orchestrator.Run(ctx)
		} else {
			_, err = orchestrator.EnsureFresh(ctx)
		}
		if err != nil {
			logger.Error("ingestion failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if outbox != nil {
		relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			StreamMaxLen: cfg.Outbox.StreamMaxLen,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	if cfg.Ingest.Schedule != "" {
		scheduler, err := ingest.NewScheduler(cfg.Ingest.Schedule, orchestrator, logger)
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped with error", "error", err)
			}
		}()
	}

	// a nil *OutboxRepository must not reach the handlers as a non-nil interface
	var outboxStats api.OutboxStats
	if outbox != nil {
		outboxStats = outbox
	}
	handlers := api.NewHandlers(orchestrator, store, outboxStats, logger)

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(handlers, api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.WriteTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		// background runs hold a browser; let them close it
		if err := orchestrator.Drain(shutdownCtx); err != nil {
			logger.Error("exiting with ingestion still running", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr, "store", cfg.Store.Type, "run_lock", cfg.RunLock.Type)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-stopped
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}

func newOrchestrator(cfg *config.Config, store catalog.Store, redisClient *redis.Client, logger *slog.Logger) (*ingest.Orchestrator, error) {
	tiers, err := pricing.ParseTiers(cfg.Ingest.PricingTiers)
	if err != nil {
		return nil, err
	}
	policy, err := catalog.ParseZeroStockPolicy(cfg.Ingest.ZeroStockPolicy)
	if err != nil {
		return nil, err
	}

	var lock ingest.RunLock
	if cfg.RunLock.Type == config.RunLockRedis {
		lock = ingest.NewRedisLock(redisClient, ingest.DefaultLockKey, cfg.RunLock.TTL, logger)
	}

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.NavigationTimeout = cfg.Ingest.NavigationTimeout
	browserOpts.ViewportWidth = cfg.Browser.ViewportWidth
	browserOpts.ViewportHeight = cfg.Browser.ViewportHeight
	browserOpts.ProxyServer = cfg.Browser.ProxyServer
	browserOpts.ExtraHeaders["Accept-Language"] = cfg.Browser.AcceptLanguage
	if cfg.Browser.UserAgent != "" {
		browserOpts.UserAgent = cfg.Browser.UserAgent
	}
	if cfg.Browser.TimezoneID != "" {
		browserOpts.TimezoneID = cfg.Browser.TimezoneID
	}
	if cfg.Browser.Locale != "" {
		browserOpts.Locale = cfg.Browser.Locale
	}

	launch := func() (browser.Session, error) {
		b, err := browser.New(browserOpts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	ingestCfg := ingest.Config{
		Navigator: scraper.NavigatorConfig{
			Login: scraper.Login{
				URL:              cfg.Source.LoginURL,
				Username:         cfg.Source.Username,
				Password:         cfg.Source.Password,
				UsernameSelector: cfg.Source.UsernameSelector,
				PasswordSelector: cfg.Source.PasswordSelector,
				SubmitSelector:   cfg.Source.SubmitSelector,
			},
			ListingURL:    cfg.Source.ListingURL,
			InStockFilter: cfg.Selectors.InStockFilter,
		},
		Parser: parser.Options{
			Listing: parser.ListingSelectors{
				Item:       cfg.Selectors.ListingItem,
				Name:       cfg.Selectors.Name,
				Price:      cfg.Selectors.Price,
				Stock:      cfg.Selectors.Stock,
				Image:      cfg.Selectors.Image,
				DetailLink: cfg.Selectors.DetailLink,
				IDAttr:     cfg.Selectors.IDAttr,
			},
			Detail: parser.DetailSelectors{
				Description: cfg.Selectors.Description,
				Thumbnails:  cfg.Selectors.Thumbnails,
			},
			ListingURL:   cfg.Source.ListingURL,
			IDSource:     parser.IDSource(cfg.Ingest.IDSource),
			IDQueryParam: cfg.Ingest.IDQueryParam,
			AssetPattern: cfg.Ingest.ImageAssetPattern,
			CategoryHint: cfg.Ingest.ListingCategory,
		},
		Timeouts: scraper.Timeouts{
			Navigation:  cfg.Ingest.NavigationTimeout,
			Listing:     cfg.Ingest.ListingTimeout,
			Description: cfg.Ingest.DescriptionTimeout,
			NetworkIdle: cfg.Ingest.NetworkIdleTimeout,
		},
		PlaceholderImage:  cfg.Ingest.PlaceholderImage,
		ForceRefresh:      cfg.Ingest.ForceFullRescrape,
		ConcurrencyLimit:  cfg.Ingest.ConcurrencyLimit,
		CacheTTL:          cfg.Ingest.CacheDuration,
		BrandName:         cfg.Ingest.BrandName,
		DefaultCategories: cfg.Ingest.DefaultCategories,
	}

	return ingest.NewOrchestrator(ingestCfg, ingest.Dependencies{
		Store:      store,
		Launch:     launch,
		Pricing:    pricing.New(cfg.Ingest.PriceIncreasePercentage, tiers),
		Reconciler: catalog.NewReconciler(store, policy, logger),
		Pacer:      ratelimit.New(cfg.Ingest.ChunkDelayMin, cfg.Ingest.ChunkDelayMax),
		Lock:       lock,
	}, logger), nil
}
