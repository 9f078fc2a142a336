package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/logging"
	"github.com/pario-ai/costgate/pkg/models"
)

const appName = "costgate"

// Environment overrides applied after the file is read.
const (
	EnvCacheDB     = "COSTGATE_CACHE_DB"
	EnvLedgerDB    = "COSTGATE_LEDGER_DB"
	EnvPricingFile = "COSTGATE_PRICING_FILE"
	EnvLogLevel    = "LOG_LEVEL"
)

// Config holds all costgate configuration.
type Config struct {
	Cache   CacheConfig    `yaml:"cache"`
	Ledger  LedgerConfig   `yaml:"ledger"`
	Pricing PricingConfig  `yaml:"pricing"`
	Budget  BudgetConfig   `yaml:"budget"`
	Log     logging.Config `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	DBPath string        `yaml:"db_path"`
	TTL    time.Duration `yaml:"ttl"` // 0 never expires
	// MaxEntries caps the cache during maintenance; 0 disables the cap.
	MaxEntries          int    `yaml:"max_entries"`
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
}

// LedgerConfig locates the spend ledger.
type LedgerConfig struct {
	DBPath string `yaml:"db_path"`
}

// PricingConfig points at an optional rates file merged over the built-in rates.
type PricingConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// BudgetConfig controls the budget gate.
type BudgetConfig struct {
	DefaultAlertThreshold float64               `yaml:"default_alert_threshold"`
	OutputEstimate        budget.EstimatePolicy `yaml:"output_estimate"`
	// Limits are applied by "costgate budget apply" and at maintain startup.
	Limits []LimitConfig `yaml:"limits"`
}

// LimitConfig is one configured monthly budget. A nil AlertThreshold falls
// back to BudgetConfig.DefaultAlertThreshold; an explicit 0 alerts on any spend.
type LimitConfig struct {
	OrgSlug         string   `yaml:"org"`
	ProjectSlug     string   `yaml:"project"`
	MonthlyLimitUSD float64  `yaml:"monthly_limit_usd"`
	AlertThreshold  *float64 `yaml:"alert_threshold"`
}

// MetricsConfig controls the Prometheus endpoint served by maintain.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			DBPath:              DefaultCachePath(),
			TTL:                 24 * time.Hour,
			MaxEntries:          10000,
			MaintenanceSchedule: "@every 1h",
		},
		Ledger: LedgerConfig{
			DBPath: DefaultLedgerPath(),
		},
		Budget: BudgetConfig{
			DefaultAlertThreshold: models.DefaultAlertThreshold,
			OutputEstimate:        budget.EstimatePolicy{Mode: budget.EstimateInputOnly},
		},
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
	}
}

// Load reads a YAML config file and expands environment variables. An empty
// path yields the defaults. A .env file, if found, is loaded first and
// environment overrides are applied last.
func Load(path string) (*Config, error) {
	loadDotEnv()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %v", c.Cache.TTL)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}
	if t := c.Budget.DefaultAlertThreshold; t < 0 || t > 1 {
		return fmt.Errorf("budget.default_alert_threshold: %w", budget.ErrInvalidThreshold)
	}
	mode, err := budget.ParseEstimateMode(string(c.Budget.OutputEstimate.Mode))
	if err != nil {
		return fmt.Errorf("budget.output_estimate: %w", err)
	}
	c.Budget.OutputEstimate.Mode = mode
	if mode == budget.EstimateFixed && c.Budget.OutputEstimate.OutputTokens <= 0 {
		return fmt.Errorf("budget.output_estimate.output_tokens must be positive for mode %q", mode)
	}
	for i, l := range c.Budget.Limits {
		if l.OrgSlug == "" || l.ProjectSlug == "" {
			return fmt.Errorf("budget.limits[%d]: org and project are required", i)
		}
		if t := l.AlertThreshold; t != nil && (*t < 0 || *t > 1) {
			return fmt.Errorf("budget.limits[%d]: %w", i, budget.ErrInvalidThreshold)
		}
	}
	return nil
}

// AlertThresholdFor returns l's threshold, or the configured default when unset.
func (c *Config) AlertThresholdFor(l LimitConfig) float64 {
	if l.AlertThreshold == nil {
		return c.Budget.DefaultAlertThreshold
	}
	return *l.AlertThreshold
}

func (c *Config) applyEnv() {
	c.Cache.DBPath = envString(EnvCacheDB, c.Cache.DBPath)
	c.Ledger.DBPath = envString(EnvLedgerDB, c.Ledger.DBPath)
	c.Pricing.Path = envString(EnvPricingFile, c.Pricing.Path)
	c.Log.Level = envString(EnvLogLevel, c.Log.Level)
}

// DefaultCachePath is the per-user cache location of the response cache.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return appName + "-cache.db"
	}
	return filepath.Join(dir, appName, "cache.db")
}

// DefaultLedgerPath is the per-user data location of the spend ledger.
func DefaultLedgerPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, "ledger.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appName + "-ledger.db"
	}
	return filepath.Join(home, ".local", "share", appName, "ledger.db")
}

// loadDotEnv loads the first .env found. Variables already set win.
func loadDotEnv() {
	for _, path := range envPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func envPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appName, ".env"))
	}
	return paths
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
