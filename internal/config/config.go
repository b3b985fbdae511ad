// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	DataDir  string `yaml:"data_dir"` // Base directory for both databases (always absolute after Load)
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	DevMode  bool   `yaml:"dev_mode"`

	Circuit   CircuitConfig   `yaml:"circuit"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Providers ProviderConfig  `yaml:"providers"`
	Workers   WorkersConfig   `yaml:"workers"`

	// OrderMaxSlippagePct rejects market orders whose live price moved
	// against the reference by more than this percentage.
	OrderMaxSlippagePct float64 `yaml:"order_max_slippage_pct"`
}

// CircuitConfig tunes the per-provider breakers.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// CacheConfig holds per-category TTLs.
type CacheConfig struct {
	RealtimeTTL time.Duration `yaml:"realtime_ttl"`
	KlineTTL    time.Duration `yaml:"kline_ttl"`
	MetadataTTL time.Duration `yaml:"metadata_ttl"`
	ListingTTL  time.Duration `yaml:"listing_ttl"`
	MaxEntries  int           `yaml:"max_entries"`
}

// RateLimitConfig is the random spacing window between calls to one provider.
type RateLimitConfig struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// RetryConfig is the backoff policy for transient upstream failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ProviderConfig overrides upstream endpoints. Empty means the public API.
type ProviderConfig struct {
	BinanceBaseURL    string        `yaml:"binance_base_url"`
	YahooBaseURL      string        `yaml:"yahoo_base_url"`
	PolymarketBaseURL string        `yaml:"polymarket_base_url"`
	Timeout           time.Duration `yaml:"timeout"`
}

// WorkersConfig holds enable flags and pacing of the background workers.
type WorkersConfig struct {
	PendingOrders     bool          `yaml:"pending_orders"`
	PendingOrderEvery time.Duration `yaml:"pending_order_interval"`

	Reflection      bool          `yaml:"reflection"`
	ReflectionEvery time.Duration `yaml:"reflection_interval"`

	PortfolioMonitor      bool          `yaml:"portfolio_monitor"`
	PortfolioMonitorEvery time.Duration `yaml:"portfolio_monitor_interval"`

	Polymarket              bool          `yaml:"polymarket"`
	PolymarketEvery         time.Duration `yaml:"polymarket_interval"`
	PolymarketAnalysisCache time.Duration `yaml:"polymarket_analysis_cache"`

	ErrorCooldown time.Duration `yaml:"error_cooldown"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		DataDir:  "./data",
		Port:     8080,
		LogLevel: "info",
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
		},
		Cache: CacheConfig{
			RealtimeTTL: 10 * time.Second,
			KlineTTL:    5 * time.Minute,
			MetadataTTL: 24 * time.Hour,
			ListingTTL:  5 * time.Minute,
			MaxEntries:  2048,
		},
		RateLimit: RateLimitConfig{
			MinDelay: 200 * time.Millisecond,
			MaxDelay: 800 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		Providers: ProviderConfig{
			Timeout: 10 * time.Second,
		},
		Workers: WorkersConfig{
			PendingOrders:           true,
			PendingOrderEvery:       5 * time.Second,
			Reflection:              false,
			ReflectionEvery:         24 * time.Hour,
			PortfolioMonitor:        true,
			PortfolioMonitorEvery:   15 * time.Minute,
			Polymarket:              true,
			PolymarketEvery:         30 * time.Minute,
			PolymarketAnalysisCache: 30 * time.Minute,
			ErrorCooldown:           60 * time.Second,
			StopTimeout:             5 * time.Second,
		},
		OrderMaxSlippagePct: 2,
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by MARKETCORE_CONFIG, then environment variables (including .env).
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("MARKETCORE_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("MARKETCORE_DATA_DIR", c.DataDir)
	c.Port = getEnvAsInt("MARKETCORE_PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.DevMode = getEnvAsBool("DEV_MODE", c.DevMode)

	c.Circuit.FailureThreshold = getEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", c.Circuit.FailureThreshold)
	c.Circuit.Cooldown = getEnvAsDuration("CIRCUIT_COOLDOWN", c.Circuit.Cooldown)

	c.Cache.RealtimeTTL = getEnvAsDuration("CACHE_TTL_REALTIME", c.Cache.RealtimeTTL)
	c.Cache.KlineTTL = getEnvAsDuration("CACHE_TTL_KLINE", c.Cache.KlineTTL)
	c.Cache.MetadataTTL = getEnvAsDuration("CACHE_TTL_METADATA", c.Cache.MetadataTTL)
	c.Cache.ListingTTL = getEnvAsDuration("CACHE_TTL_LISTING", c.Cache.ListingTTL)
	c.Cache.MaxEntries = getEnvAsInt("CACHE_MAX_ENTRIES", c.Cache.MaxEntries)

	c.RateLimit.MinDelay = getEnvAsDuration("RATE_LIMIT_MIN_DELAY", c.RateLimit.MinDelay)
	c.RateLimit.MaxDelay = getEnvAsDuration("RATE_LIMIT_MAX_DELAY", c.RateLimit.MaxDelay)

	c.Retry.MaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay)

	c.Providers.BinanceBaseURL = getEnv("BINANCE_BASE_URL", c.Providers.BinanceBaseURL)
	c.Providers.YahooBaseURL = getEnv("YAHOO_BASE_URL", c.Providers.YahooBaseURL)
	c.Providers.PolymarketBaseURL = getEnv("POLYMARKET_BASE_URL", c.Providers.PolymarketBaseURL)

	w := &c.Workers
	w.PendingOrders = getEnvAsBool("ENABLE_PENDING_ORDER_WORKER", w.PendingOrders)
	w.PendingOrderEvery = getEnvAsDuration("PENDING_ORDER_INTERVAL", w.PendingOrderEvery)
	w.Reflection = getEnvAsBool("ENABLE_REFLECTION_WORKER", w.Reflection)
	w.ReflectionEvery = getEnvAsMinutes("REFLECTION_INTERVAL_MIN", w.ReflectionEvery)
	w.PortfolioMonitor = getEnvAsBool("ENABLE_PORTFOLIO_MONITOR", w.PortfolioMonitor)
	w.PortfolioMonitorEvery = getEnvAsMinutes("PORTFOLIO_MONITOR_INTERVAL_MIN", w.PortfolioMonitorEvery)
	w.Polymarket = getEnvAsBool("ENABLE_POLYMARKET_WORKER", w.Polymarket)
	w.PolymarketEvery = getEnvAsMinutes("POLYMARKET_UPDATE_INTERVAL_MIN", w.PolymarketEvery)
	w.PolymarketAnalysisCache = getEnvAsMinutes("POLYMARKET_ANALYSIS_CACHE_MIN", w.PolymarketAnalysisCache)
	w.ErrorCooldown = getEnvAsDuration("WORKER_ERROR_COOLDOWN", w.ErrorCooldown)
	w.StopTimeout = getEnvAsDuration("WORKER_STOP_TIMEOUT", w.StopTimeout)

	c.OrderMaxSlippagePct = getEnvAsFloat("ORDER_MAX_SLIPPAGE_PCT", c.OrderMaxSlippagePct)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("circuit failure threshold must be at least 1, got %d", c.Circuit.FailureThreshold)
	}
	if c.Circuit.Cooldown <= 0 {
		return fmt.Errorf("circuit cooldown must be positive")
	}
	if c.Cache.RealtimeTTL <= 0 || c.Cache.KlineTTL <= 0 || c.Cache.MetadataTTL <= 0 || c.Cache.ListingTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max entries cannot be negative")
	}
	if c.RateLimit.MinDelay < 0 || c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		return fmt.Errorf("rate limit window [%s, %s] is invalid", c.RateLimit.MinDelay, c.RateLimit.MaxDelay)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays [%s, %s] are invalid", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	w := c.Workers
	for name, d := range map[string]time.Duration{
		"pending order interval":     w.PendingOrderEvery,
		"reflection interval":        w.ReflectionEvery,
		"portfolio monitor interval": w.PortfolioMonitorEvery,
		"polymarket interval":        w.PolymarketEvery,
		"worker error cooldown":      w.ErrorCooldown,
		"worker stop timeout":        w.StopTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if w.PolymarketAnalysisCache < 0 {
		return fmt.Errorf("polymarket analysis cache cannot be negative")
	}
	if c.OrderMaxSlippagePct <= 0 {
		return fmt.Errorf("order max slippage must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsMinutes reads a whole number of minutes.
func getEnvAsMinutes(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Minute
		}
	}
	return defaultValue
}
