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

type Config struct {
	Store       StoreConfig
	Export      ExportConfig
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	Proxy       ProxyConfig
	DBPath      string
	LogPath     string
	LogLevel    string
	RunInfoPath string
	SitesDir    string
	Sites       map[string]*SiteConfig
}

// StoreConfig selects where the listing history lives between runs.
type StoreConfig struct {
	Backend string // csv, sqlite, postgres
	Path    string
	DBURL   string
}

// ExportConfig describes the object storage bucket receiving per-run snapshot exports.
type ExportConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Dir             string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	PageDelay      time.Duration
	MaxConcurrency int
	BlockSize      int
	BlockPause     time.Duration
}

type ProxyConfig struct {
	URL string
}

type SiteConfig struct {
	ID             string    `yaml:"id"`
	Name           string    `yaml:"name"`
	Fetcher        string    `yaml:"fetcher"`
	BaseURL        string    `yaml:"base_url"`
	StartURL       string    `yaml:"start_url"`
	MaxPages       int       `yaml:"max_pages"`
	MaxListings    int       `yaml:"max_listings"`
	PageDelayMS    int       `yaml:"page_delay_ms"`
	MaxConcurrency int       `yaml:"max_concurrency"`
	Selectors      Selectors `yaml:"selectors"`
}

type Selectors struct {
	ListingLink string `yaml:"listing_link"`
	NextPage    string `yaml:"next_page"`
	Title       string `yaml:"title"`
	Price       string `yaml:"price"`
	Address     string `yaml:"address"`
	Tags        string `yaml:"tags"`
	DetailRow   string `yaml:"detail_row"`
	DetailLabel string `yaml:"detail_label"`
	DetailValue string `yaml:"detail_value"`
	Labels      Labels `yaml:"labels"`
}

// Labels are the detail-row captions carrying each structured field.
type Labels struct {
	ID          string `yaml:"id"`
	Surface     string `yaml:"surface"`
	Rooms       string `yaml:"rooms"`
	Bathrooms   string `yaml:"bathrooms"`
	EnergyClass string `yaml:"energy_class"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "csv"),
			Path:    getEnv("STORE_PATH", "listings.csv"),
			DBURL:   os.Getenv("DATABASE_URL"),
		},
		Export: ExportConfig{
			Bucket:          os.Getenv("EXPORT_BUCKET"),
			Region:          getEnv("EXPORT_REGION", "us-east-1"),
			Endpoint:        os.Getenv("EXPORT_ENDPOINT"),
			AccessKeyID:     os.Getenv("EXPORT_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("EXPORT_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("EXPORT_PREFIX", "scraping-data"),
			Dir:             getEnv("EXPORT_DIR", "."),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			UserAgent:      getEnv("USER_AGENT", DefaultUserAgent),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			PageDelay:      getEnvDuration("PAGE_DELAY", 2500*time.Millisecond),
			MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
			BlockSize:      getEnvInt("FETCH_BLOCK_SIZE", 20),
			BlockPause:     getEnvDuration("FETCH_BLOCK_PAUSE", time.Second),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		DBPath:      getEnv("DB_PATH", "tracker.db"),
		LogPath:     getEnv("LOG_PATH", "tracker.log"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		RunInfoPath: getEnv("RUN_INFO_PATH", "run_info.txt"),
		SitesDir:    getEnv("SITES_DIR", "config/sites"),
		Sites:       make(map[string]*SiteConfig),
	}

	cfg.Scheduler.Interval = getEnvDuration("SCRAPE_INTERVAL", 0)

	if err := cfg.loadSiteConfigs(cfg.SitesDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultUserAgent is sent on every request unless USER_AGENT overrides it.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func (c *Config) loadSiteConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if site.ID == "" {
			site.ID = entry.Name()[:len(entry.Name())-len(".yaml")]
		}
		if err := site.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

// Site returns the named site, or the only configured site when id is empty.
func (c *Config) Site(id string) (*SiteConfig, error) {
	if id != "" {
		site, ok := c.Sites[id]
		if !ok {
			return nil, fmt.Errorf("unknown site: %s", id)
		}
		return site, nil
	}
	if len(c.Sites) != 1 {
		return nil, fmt.Errorf("%d sites configured, pick one with -site", len(c.Sites))
	}
	for _, site := range c.Sites {
		return site, nil
	}
	return nil, nil
}

func (s *SiteConfig) Validate() error {
	if s.StartURL == "" {
		return fmt.Errorf("site %s: start_url is required", s.ID)
	}
	if s.Selectors.ListingLink == "" {
		return fmt.Errorf("site %s: selectors.listing_link is required", s.ID)
	}
	switch s.Fetcher {
	case "", "http", "browser":
	default:
		return fmt.Errorf("site %s: unknown fetcher %q", s.ID, s.Fetcher)
	}
	return nil
}

// PageDelay returns the site's politeness delay, falling back to the global one.
func (s *SiteConfig) PageDelay(fallback time.Duration) time.Duration {
	if s.PageDelayMS > 0 {
		return time.Duration(s.PageDelayMS) * time.Millisecond
	}
	return fallback
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
