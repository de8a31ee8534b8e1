package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendChrome = "chrome"
	BackendStatic = "static"

	PolicySequential = "sequential"
	PolicyParallel   = "parallel"

	CleanupDeactivate = "deactivate"
	CleanupDelete     = "delete"
)

type Config struct {
	DBPath string `yaml:"db_path"`

	// Site
	BaseURL   string `yaml:"base_url"`
	Locale    string `yaml:"locale"`
	UserAgent string `yaml:"user_agent"`

	// Browser
	Backend        string `yaml:"backend"`
	Headless       bool   `yaml:"headless"`
	Stealth        bool   `yaml:"stealth"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	ViewportJitter int    `yaml:"viewport_jitter"`
	ViewportSeed   int64  `yaml:"viewport_seed"`
	ScreenshotDir  string `yaml:"screenshot_dir"`

	// Crawl pacing
	Concurrency        string        `yaml:"concurrency"`
	MaxConcurrentPages int           `yaml:"max_concurrent_pages"`
	ScrapeDelay        time.Duration `yaml:"scrape_delay"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	PostLoadDelay      time.Duration `yaml:"post_load_delay"`
	MaxClicks          int           `yaml:"max_clicks"`

	// Quick mode
	Quick            bool `yaml:"quick"`
	QuickCategories  int  `yaml:"quick_categories"`
	QuickMaxClicks   int  `yaml:"quick_max_clicks"`
	QuickPerCategory int  `yaml:"quick_per_category"`

	// Maintenance
	CleanupDays int    `yaml:"cleanup_days"`
	CleanupMode string `yaml:"cleanup_mode"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	ServeAddr string `yaml:"serve_addr"`
}

// Limits bounds one run; zero means unlimited.
type Limits struct {
	Categories          int
	MaxClicks           int
	ProductsPerCategory int
}

func Defaults() *Config {
	return &Config{
		DBPath:             "./products.db",
		BaseURL:            "https://www.carrefour.be/nl",
		Locale:             "nl-BE",
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Backend:            BackendChrome,
		ViewportWidth:      1920,
		ViewportHeight:     1080,
		ViewportJitter:     24,
		Concurrency:        PolicySequential,
		MaxConcurrentPages: 3,
		ScrapeDelay:        2 * time.Second,
		NavigationTimeout:  60 * time.Second,
		SettleDelay:        3 * time.Second,
		PostLoadDelay:      2 * time.Second,
		MaxClicks:          20,
		QuickCategories:    1,
		QuickMaxClicks:     2,
		QuickPerCategory:   150,
		CleanupDays:        60,
		CleanupMode:        CleanupDeactivate,
		LogLevel:           "info",
		LogFormat:          "text",
		ServeAddr:          ":9090",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// SCRAPER_CONFIG, and finally the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("SCRAPER_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DBPath = getEnv("SCRAPER_DB_PATH", c.DBPath)
	c.BaseURL = getEnv("SCRAPER_BASE_URL", c.BaseURL)
	c.Locale = getEnv("SCRAPER_LOCALE", c.Locale)
	c.UserAgent = getEnv("SCRAPER_USER_AGENT", c.UserAgent)

	c.Backend = strings.ToLower(getEnv("SCRAPER_BACKEND", c.Backend))
	c.Headless = getBoolEnv("HEADLESS", c.Headless)
	c.Stealth = getBoolEnv("SCRAPER_STEALTH", c.Stealth)
	c.ViewportJitter = getIntEnv("SCRAPER_VIEWPORT_JITTER", c.ViewportJitter)
	c.ViewportSeed = int64(getIntEnv("SCRAPER_VIEWPORT_SEED", int(c.ViewportSeed)))
	c.ScreenshotDir = getEnv("SCRAPER_SCREENSHOT_DIR", c.ScreenshotDir)

	c.Concurrency = strings.ToLower(getEnv("SCRAPER_CONCURRENCY", c.Concurrency))
	c.MaxConcurrentPages = getIntEnv("MAX_CONCURRENT_PAGES", c.MaxConcurrentPages)
	c.ScrapeDelay = getMillis("SCRAPE_DELAY_MS", c.ScrapeDelay)
	c.NavigationTimeout = getDuration("SCRAPER_NAV_TIMEOUT", c.NavigationTimeout)
	c.SettleDelay = getDuration("SCRAPER_SETTLE_DELAY", c.SettleDelay)
	c.PostLoadDelay = getDuration("SCRAPER_POST_LOAD_DELAY", c.PostLoadDelay)
	c.MaxClicks = getIntEnv("SCRAPER_MAX_CLICKS", c.MaxClicks)

	c.Quick = getBoolEnv("QUICK_SCRAPE", c.Quick)
	c.QuickCategories = getIntEnv("QUICK_CATEGORIES", c.QuickCategories)
	c.QuickMaxClicks = getIntEnv("QUICK_MAX_CLICKS", c.QuickMaxClicks)
	c.QuickPerCategory = getIntEnv("QUICK_PER_CATEGORY", c.QuickPerCategory)

	c.CleanupDays = getIntEnv("CLEANUP_DAYS", c.CleanupDays)
	if strings.EqualFold(os.Getenv("CLEANUP_MODE"), CleanupDelete) {
		c.CleanupMode = CleanupDelete
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.ServeAddr = getEnv("SERVE_ADDR", c.ServeAddr)
}

func (c *Config) Validate() error {
	if c.Backend != BackendChrome && c.Backend != BackendStatic {
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendChrome, BackendStatic)
	}
	if c.Concurrency != PolicySequential && c.Concurrency != PolicyParallel {
		return fmt.Errorf("unknown concurrency policy %q (want %s or %s)", c.Concurrency, PolicySequential, PolicyParallel)
	}
	if c.MaxConcurrentPages < 1 {
		return fmt.Errorf("max concurrent pages must be at least 1, got %d", c.MaxConcurrentPages)
	}
	if c.MaxClicks < 0 || c.QuickMaxClicks < 0 || c.QuickCategories < 0 || c.QuickPerCategory < 0 {
		return fmt.Errorf("crawl limits must not be negative")
	}
	if c.CleanupDays < 0 {
		return fmt.Errorf("cleanup days must not be negative, got %d", c.CleanupDays)
	}
	if _, err := c.Origin(); err != nil {
		return err
	}
	return nil
}

// Limits resolves the crawl bounds for the current mode.
func (c *Config) Limits() Limits {
	if c.Quick {
		return Limits{
			Categories:          c.QuickCategories,
			MaxClicks:           c.QuickMaxClicks,
			ProductsPerCategory: c.QuickPerCategory,
		}
	}
	return Limits{MaxClicks: c.MaxClicks}
}

// Origin is the scheme://host part of BaseURL, used to absolutize links.
func (c *Config) Origin() (*url.URL, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", c.BaseURL)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
