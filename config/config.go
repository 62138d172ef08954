package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Supabase     SupabaseConfig
	Proxy        ProxyConfig
	Scheduler    SchedulerConfig
	Scraper      ScraperConfig
	Liveness     LivenessConfig
	Import       ImportConfig
	S3           S3Config
	DBPath       string
	LogPath      string
	LogLevel     string
	ProvidersDir string
	Providers    map[string]*ProviderConfig
}

type SupabaseConfig struct {
	URL        string
	DBURL      string
	AnonKey    string
	ServiceKey string
}

// ReadKey prefers the anon key for read-only access
func (c SupabaseConfig) ReadKey() string {
	if c.AnonKey != "" {
		return c.AnonKey
	}
	return c.ServiceKey
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	ImportCron     string
	ImportInterval time.Duration
	CleanupCron    string
	CleanupPolicy  string
	RebuildDataset string
}

type ScraperConfig struct {
	FetchDelay  time.Duration
	PageTimeout time.Duration
	Headless    bool
	UserAgent   string
}

type LivenessConfig struct {
	Timeout        time.Duration
	BatchSize      int
	BatchDelay     time.Duration
	Concurrency    int
	ImagesToProbe  int
	RequestsPerSec float64
}

type ImportConfig struct {
	BatchSize       int
	DeleteChunkSize int
}

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for R2, MinIO, etc.
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// ProviderConfig describes one listing site: where to look, how to read it
// and how its media host lays out image paths.
type ProviderConfig struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	BaseURL        string          `yaml:"base_url"`
	Fetcher        string          `yaml:"fetcher"`
	RateLimitMS    int             `yaml:"rate_limit_ms"`
	MediaTemplates []string        `yaml:"media_templates"`
	StartURLs      []string        `yaml:"start_urls"`
	Discovery      DiscoveryConfig `yaml:"discovery"`
	Selectors      SelectorConfig  `yaml:"selectors"`
}

type DiscoveryConfig struct {
	Sitemaps       []string `yaml:"sitemaps"`
	IndexPages     []string `yaml:"index_pages"`
	LinkSelector   string   `yaml:"link_selector"`
	ListingPattern string   `yaml:"listing_pattern"`
	MaxURLs        int      `yaml:"max_urls"`
}

type SelectorConfig struct {
	Card        string `yaml:"card"`
	Title       string `yaml:"title"`
	Price       string `yaml:"price"`
	Address     string `yaml:"address"`
	Bedrooms    string `yaml:"bedrooms"`
	Bathrooms   string `yaml:"bathrooms"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Features    string `yaml:"features"`
	Landlord    string `yaml:"landlord"`
	Image       string `yaml:"image"`
	Link        string `yaml:"link"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Supabase: SupabaseConfig{
			URL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
			DBURL:      os.Getenv("SUPABASE_DB_URL"),
			AnonKey:    os.Getenv("SUPABASE_ANON_KEY"),
			ServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			ImportCron:     os.Getenv("IMPORT_CRON"),
			ImportInterval: getEnvDuration("IMPORT_INTERVAL", 0),
			CleanupCron:    os.Getenv("CLEANUP_CRON"),
			CleanupPolicy:  getEnv("CLEANUP_POLICY", "delete-imageless"),
			RebuildDataset: os.Getenv("REBUILD_DATASET"),
		},
		Scraper: ScraperConfig{
			FetchDelay:  time.Duration(getEnvInt("FETCH_DELAY_MS", 1500)) * time.Millisecond,
			PageTimeout: getEnvDuration("PAGE_TIMEOUT", 30*time.Second),
			Headless:    getEnv("BROWSER_HEADLESS", "true") == "true",
			UserAgent:   getEnv("USER_AGENT", DefaultUserAgent),
		},
		Liveness: LivenessConfig{
			Timeout:        getEnvDuration("PROBE_TIMEOUT", 4*time.Second),
			BatchSize:      getEnvInt("PROBE_BATCH_SIZE", 25),
			BatchDelay:     time.Duration(getEnvInt("PROBE_BATCH_DELAY_MS", 500)) * time.Millisecond,
			Concurrency:    getEnvInt("PROBE_CONCURRENCY", 10),
			ImagesToProbe:  getEnvInt("PROBE_IMAGES_PER_LISTING", 3),
			RequestsPerSec: getEnvFloat("PROBE_RPS", 20),
		},
		Import: ImportConfig{
			BatchSize:       getEnvInt("IMPORT_BATCH_SIZE", 50),
			DeleteChunkSize: getEnvInt("DELETE_CHUNK_SIZE", 50),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "eu-west-2"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		DBPath:       getEnv("DB_PATH", "ingest.db"),
		LogPath:      getEnv("LOG_PATH", "ingest.log"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		ProvidersDir: getEnv("PROVIDERS_DIR", "config/providers"),
		Providers:    make(map[string]*ProviderConfig),
	}

	if err := cfg.loadProviderConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultUserAgent is a current desktop Chrome string; some media hosts
// refuse requests without one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RequireAdmin checks the settings every writing job needs
func (c *Config) RequireAdmin() error {
	var missing []string
	if c.Supabase.DBURL == "" {
		missing = append(missing, "SUPABASE_DB_URL")
	}
	if c.Supabase.ServiceKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireReader checks the settings the read-only diagnostic run needs.
// Either the REST endpoint with a key or a direct DB URL is enough.
func (c *Config) RequireReader() error {
	if c.Supabase.URL != "" && c.Supabase.ReadKey() != "" {
		return nil
	}
	if c.Supabase.DBURL != "" {
		return nil
	}
	return errors.New("missing required configuration: SUPABASE_URL with SUPABASE_ANON_KEY or SUPABASE_SERVICE_KEY, or SUPABASE_DB_URL")
}

func (c *Config) Provider(id string) (*ProviderConfig, error) {
	p, ok := c.Providers[id]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", id)
	}
	return p, nil
}

func (c *Config) loadProviderConfigs() error {
	entries, err := os.ReadDir(c.ProvidersDir)
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

		provider, err := LoadProvider(filepath.Join(c.ProvidersDir, entry.Name()))
		if err != nil {
			return err
		}
		c.Providers[provider.ID] = provider
	}

	return nil
}

func LoadProvider(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p ProviderConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%s: provider id is required", path)
	}
	if p.Fetcher == "" {
		p.Fetcher = "http"
	}
	return &p, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
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
