package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/models"
	"github.com/maltedev/catalog-ingest/internal/parser"
	"github.com/maltedev/catalog-ingest/internal/pricing"
)

const (
	StoreTypePostgres = "postgres"
	StoreTypeFile     = "file"

	RunLockLocal = "local"
	RunLockRedis = "redis"
)

type Config struct {
	Server    ServerConfig
	Source    SourceConfig
	Selectors SelectorConfig
	Ingest    IngestConfig
	Browser   BrowserConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RunLock   RunLockConfig
	Outbox    OutboxConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// SourceConfig describes the retailer site and its login form.
type SourceConfig struct {
	LoginURL         string
	ListingURL       string
	Username         string
	Password         string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
}

type SelectorConfig struct {
	ListingItem   string
	Name          string
	Price         string
	Stock         string
	Image         string
	DetailLink    string
	Description   []string
	Thumbnails    string
	InStockFilter string
	IDAttr        string
}

type IngestConfig struct {
	ConcurrencyLimit        int
	PriceIncreasePercentage float64
	PricingTiers            string
	CacheDuration           time.Duration
	ForceFullRescrape       bool
	ZeroStockPolicy         string
	BrandName               string
	DefaultCategories       []string
	ListingCategory         string
	IDSource                string
	IDQueryParam            string
	ImageAssetPattern       string
	PlaceholderImage        string
	ChunkDelayMin           time.Duration
	ChunkDelayMax           time.Duration
	Schedule                string

	NavigationTimeout  time.Duration
	ListingTimeout     time.Duration
	DescriptionTimeout time.Duration
	NetworkIdleTimeout time.Duration
}

type BrowserConfig struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type StoreConfig struct {
	Type string
	File string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RunLockConfig struct {
	Type string
	TTL  time.Duration
}

type OutboxConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	StreamMaxLen int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", nil),
		},
		Source: SourceConfig{
			LoginURL:         os.Getenv("LOGIN_URL"),
			ListingURL:       os.Getenv("LISTING_URL"),
			Username:         os.Getenv("LOGIN_USERNAME"),
			Password:         os.Getenv("LOGIN_PASSWORD"),
			UsernameSelector: os.Getenv("LOGIN_USERNAME_SELECTOR"),
			PasswordSelector: os.Getenv("LOGIN_PASSWORD_SELECTOR"),
			SubmitSelector:   os.Getenv("LOGIN_SUBMIT_SELECTOR"),
		},
		Selectors: SelectorConfig{
			ListingItem:   os.Getenv("SELECTOR_LISTING_ITEM"),
			Name:          os.Getenv("SELECTOR_NAME"),
			Price:         os.Getenv("SELECTOR_PRICE"),
			Stock:         os.Getenv("SELECTOR_STOCK"),
			Image:         os.Getenv("SELECTOR_IMAGE"),
			DetailLink:    os.Getenv("SELECTOR_DETAIL_LINK"),
			Description:   getStringSliceOrDefault("SELECTOR_DESCRIPTION", nil),
			Thumbnails:    os.Getenv("SELECTOR_THUMBNAILS"),
			InStockFilter: os.Getenv("SELECTOR_IN_STOCK_FILTER"),
			IDAttr:        os.Getenv("SELECTOR_ID_ATTR"),
		},
		Ingest: IngestConfig{
			ConcurrencyLimit:        getIntOrDefault("CONCURRENCY_LIMIT", 5),
			PriceIncreasePercentage: getFloatOrDefault("PRICE_INCREASE_PERCENTAGE", 0),
			PricingTiers:            os.Getenv("PRICING_TIERS"),
			CacheDuration:           hours(getFloatOrDefault("CACHE_DURATION_HOURS", 1)),
			ForceFullRescrape:       getBoolOrDefault("FORCE_FULL_RESCRAPE", false),
			ZeroStockPolicy:         getEnvOrDefault("ZERO_STOCK_POLICY", string(catalog.ZeroStockSkip)),
			BrandName:               os.Getenv("BRAND_NAME"),
			DefaultCategories:       getStringSliceOrDefault("DEFAULT_CATEGORIES", []string{"Featured", "New Arrivals"}),
			ListingCategory:         os.Getenv("LISTING_CATEGORY"),
			IDSource:                getEnvOrDefault("ID_SOURCE", string(parser.IDFromURL)),
			IDQueryParam:            os.Getenv("ID_QUERY_PARAM"),
			ImageAssetPattern:       os.Getenv("IMAGE_ASSET_PATTERN"),
			PlaceholderImage:        getEnvOrDefault("PLACEHOLDER_IMAGE_URL", models.DefaultPlaceholderImage),
			ChunkDelayMin:           getDurationOrDefault("CHUNK_DELAY_MIN", 0),
			ChunkDelayMax:           getDurationOrDefault("CHUNK_DELAY_MAX", 0),
			Schedule:                os.Getenv("INGEST_SCHEDULE"),
			NavigationTimeout:       getDurationOrDefault("NAVIGATION_TIMEOUT", 60*time.Second),
			ListingTimeout:          getDurationOrDefault("LISTING_TIMEOUT", 30*time.Second),
			DescriptionTimeout:      getDurationOrDefault("DESCRIPTION_TIMEOUT", 10*time.Second),
			NetworkIdleTimeout:      getDurationOrDefault("NETWORK_IDLE_TIMEOUT", 60*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:      os.Getenv("BROWSER_USER_AGENT"),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     os.Getenv("BROWSER_TIMEZONE"),
			Locale:         os.Getenv("BROWSER_LOCALE"),
			ProxyServer:    os.Getenv("BROWSER_PROXY"),
		},
		Store: StoreConfig{
			Type: getEnvOrDefault("STORE_TYPE", StoreTypePostgres),
			File: getEnvOrDefault("STORE_FILE", "catalog.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "catalog"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: getIntOrDefault("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		RunLock: RunLockConfig{
			Type: getEnvOrDefault("RUN_LOCK", RunLockLocal),
			TTL:  getDurationOrDefault("RUN_LOCK_TTL", 30*time.Minute),
		},
		Outbox: OutboxConfig{
			Enabled:      getBoolOrDefault("OUTBOX_ENABLED", false),
			PollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
			StreamMaxLen: int64(getIntOrDefault("OUTBOX_STREAM_MAXLEN", 0)),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Ingest.ConcurrencyLimit < 1 {
		return fmt.Errorf("CONCURRENCY_LIMIT must be at least 1")
	}

	if c.Ingest.CacheDuration < 0 {
		return fmt.Errorf("CACHE_DURATION_HOURS cannot be negative")
	}

	if c.Ingest.PriceIncreasePercentage < 0 {
		return fmt.Errorf("PRICE_INCREASE_PERCENTAGE cannot be negative")
	}

	if _, err := pricing.ParseTiers(c.Ingest.PricingTiers); err != nil {
		return fmt.Errorf("PRICING_TIERS: %w", err)
	}

	if c.Ingest.ChunkDelayMin > c.Ingest.ChunkDelayMax {
		return fmt.Errorf("CHUNK_DELAY_MIN cannot be greater than CHUNK_DELAY_MAX")
	}

	if _, err := catalog.ParseZeroStockPolicy(c.Ingest.ZeroStockPolicy); err != nil {
		return fmt.Errorf("ZERO_STOCK_POLICY: %w", err)
	}

	switch parser.IDSource(c.Ingest.IDSource) {
	case parser.IDFromURL, parser.IDFromAttribute:
	default:
		return fmt.Errorf("ID_SOURCE must be %q or %q", parser.IDFromURL, parser.IDFromAttribute)
	}

	if len(c.Ingest.DefaultCategories) < 2 {
		return fmt.Errorf("DEFAULT_CATEGORIES must name at least two categories")
	}

	switch c.Store.Type {
	case StoreTypePostgres:
	case StoreTypeFile:
		if c.Store.File == "" {
			return fmt.Errorf("STORE_FILE is required when STORE_TYPE=file")
		}
	default:
		return fmt.Errorf("STORE_TYPE must be %q or %q", StoreTypePostgres, StoreTypeFile)
	}

	if c.Outbox.Enabled && c.Store.Type != StoreTypePostgres {
		return fmt.Errorf("OUTBOX_ENABLED requires STORE_TYPE=postgres")
	}

	if c.RunLock.Type != RunLockLocal && c.RunLock.Type != RunLockRedis {
		return fmt.Errorf("RUN_LOCK must be %q or %q", RunLockLocal, RunLockRedis)
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}

	return nil
}

// ValidateLiveRun checks everything a browser run needs is configured.
func (c *Config) ValidateLiveRun() error {
	required := map[string]string{
		"LOGIN_URL":               c.Source.LoginURL,
		"LISTING_URL":             c.Source.ListingURL,
		"LOGIN_USERNAME":          c.Source.Username,
		"LOGIN_PASSWORD":          c.Source.Password,
		"LOGIN_USERNAME_SELECTOR": c.Source.UsernameSelector,
		"LOGIN_PASSWORD_SELECTOR": c.Source.PasswordSelector,
		"LOGIN_SUBMIT_SELECTOR":   c.Source.SubmitSelector,
		"SELECTOR_LISTING_ITEM":   c.Selectors.ListingItem,
		"SELECTOR_NAME":           c.Selectors.Name,
		"SELECTOR_PRICE":          c.Selectors.Price,
		"SELECTOR_STOCK":          c.Selectors.Stock,
		"SELECTOR_IMAGE":          c.Selectors.Image,
		"SELECTOR_DETAIL_LINK":    c.Selectors.DetailLink,
		"SELECTOR_THUMBNAILS":     c.Selectors.Thumbnails,
		"BRAND_NAME":              c.Ingest.BrandName,
		"PLACEHOLDER_IMAGE_URL":   c.Ingest.PlaceholderImage,
	}
	if parser.IDSource(c.Ingest.IDSource) == parser.IDFromAttribute {
		required["SELECTOR_ID_ATTR"] = c.Selectors.IDAttr
	}

	var errs []error
	for _, key := range sortedKeys(required) {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if len(c.Selectors.Description) == 0 {
		errs = append(errs, fmt.Errorf("SELECTOR_DESCRIPTION is required"))
	}

	return errors.Join(errs...)
}

func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
