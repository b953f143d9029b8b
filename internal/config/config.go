package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"auction-tracker/internal/classify"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration. It is read once at
// startup; the operator allow-list is the only runtime-mutable part and is
// persisted back to the same file.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Sources  SourcesConfig  `yaml:"sources"`
	Filter   FilterConfig   `yaml:"filter"`
	Telegram TelegramConfig `yaml:"telegram"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Admin    AdminConfig    `yaml:"admin"`

	path string
	mu   sync.Mutex
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"` // mysql or postgres
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SourcesConfig holds per-source endpoint settings.
type SourcesConfig struct {
	Feed      FeedConfig      `yaml:"feed"`
	WebForms  WebFormsConfig  `yaml:"webforms"`
	SearchAPI SearchAPIConfig `yaml:"search_api"`
}

// FeedConfig configures the syndication-feed source and its companion
// closed-lots feed.
type FeedConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	ClosedURL string `yaml:"closed_url"`
	MaxPages  int    `yaml:"max_pages"`
}

// WebFormsConfig configures the session-stateful partial-postback source.
type WebFormsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	UpdatePanel string `yaml:"update_panel"`
	EventTarget string `yaml:"event_target"`
}

// SearchAPIConfig configures the JSON search API source.
type SearchAPIConfig struct {
	Enabled    bool     `yaml:"enabled"`
	PrimingURL string   `yaml:"priming_url"`
	SearchURL  string   `yaml:"search_url"`
	Query      string   `yaml:"query"`
	RegionIDs  []string `yaml:"region_ids"`
	Categories []string `yaml:"categories"`
	PageSize   int      `yaml:"page_size"`
}

// FilterConfig holds the keyword policy and the target-region signature.
type FilterConfig struct {
	IncludeKeywords []string                 `yaml:"include_keywords"`
	ExcludeKeywords []string                 `yaml:"exclude_keywords"`
	Region          classify.RegionSignature `yaml:"region"`
}

// TelegramConfig contains delivery settings. The bot token comes from the
// environment, never from the file.
type TelegramConfig struct {
	TargetChatID int64   `yaml:"target_chat_id"`
	AdminChatID  int64   `yaml:"admin_chat_id"`
	Operators    []int64 `yaml:"operators"`
}

// ScraperConfig contains scraper pacing and timeout settings. Timeouts are
// tiered: detail pages are expected to answer within tens of seconds while
// the webforms table endpoint is known to take minutes.
type ScraperConfig struct {
	DetailTimeoutSeconds   int    `yaml:"detail_timeout_seconds"`
	WebFormsTimeoutSeconds int    `yaml:"webforms_timeout_seconds"`
	RequestDelaySeconds    int    `yaml:"request_delay_seconds"`
	MaxRetries             int    `yaml:"max_retries"`
	RetryDelaySeconds      int    `yaml:"retry_delay_seconds"`
	MaxLotsPerRun          int    `yaml:"max_lots_per_run"`
	DetailPagesPerHour     int    `yaml:"detail_pages_per_hour"`
	HeadlessFallback       bool   `yaml:"headless_fallback"`
	ChromePath             string `yaml:"chrome_path"`
	DailyRunEnabled        bool   `yaml:"daily_run_enabled"`
	DailyRunTime           string `yaml:"daily_run_time"`
}

// AdminConfig contains the admin HTTP API settings.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "mysql",
			MySQL: MySQLConfig{
				Host: "127.0.0.1",
				Port: 3306,
			},
			Postgres: PostgresConfig{
				Host:    "127.0.0.1",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Sources: SourcesConfig{
			Feed:      FeedConfig{Enabled: true, MaxPages: 10},
			WebForms:  WebFormsConfig{Enabled: true, UpdatePanel: "upLots"},
			SearchAPI: SearchAPIConfig{Enabled: true, PageSize: 50},
		},
		Filter: FilterConfig{
			Region: classify.RegionSignature{
				NumberPrefixes:    []string{"91:"},
				CadastralPrefixes: []string{"91:"},
				AddressKeywords:   []string{"севастополь"},
			},
		},
		Scraper: ScraperConfig{
			DetailTimeoutSeconds:   30,
			WebFormsTimeoutSeconds: 180,
			RequestDelaySeconds:    2,
			MaxRetries:             3,
			RetryDelaySeconds:      2,
			MaxLotsPerRun:          20,
			DetailPagesPerHour:     60,
			DailyRunEnabled:        false,
			DailyRunTime:           "09:00",
		},
		Admin: AdminConfig{
			Enabled: false,
			Listen:  ":8090",
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults.
func LoadConfig(filepath string) (*Config, error) {
	config := DefaultConfig()
	config.path = filepath

	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SetOperators replaces the operator allow-list and persists the change
// back to the configuration file.
func (c *Config) SetOperators(operators []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Telegram.Operators = operators
	if c.path == "" {
		return nil
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(c.path, data, 0o644)
}

// Operators returns a copy of the operator allow-list.
func (c *Config) Operators() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.Telegram.Operators))
	copy(out, c.Telegram.Operators)
	return out
}

// GetDetailTimeout returns the detail-fetch timeout as a duration
func (c *ScraperConfig) GetDetailTimeout() time.Duration {
	return time.Duration(c.DetailTimeoutSeconds) * time.Second
}

// GetWebFormsTimeout returns the table-fetch timeout as a duration
func (c *ScraperConfig) GetWebFormsTimeout() time.Duration {
	return time.Duration(c.WebFormsTimeoutSeconds) * time.Second
}

// GetRequestDelay returns the pacing delay as a duration
func (c *ScraperConfig) GetRequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySeconds) * time.Second
}

// GetRetryDelay returns the retry delay as a duration
func (c *ScraperConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}
