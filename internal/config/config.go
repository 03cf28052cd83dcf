package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

// DefaultBlueskyService is the PDS used when a mapping does not name one.
const DefaultBlueskyService = "https://bsky.social"

// Ledger drivers.
const (
	LedgerDriverJSON   = "json"
	LedgerDriverSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Twitter  TwitterConfig  `yaml:"twitter"`
	Mappings []Mapping      `yaml:"crosspostMappings" ignored:"true"`
	Options  OptionsConfig  `yaml:"options"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Media    MediaConfig    `yaml:"media"`
	Download DownloadConfig `yaml:"download"`
	Watch    WatchConfig    `yaml:"watch"`
}

// TwitterConfig holds the X session used to read source accounts.
type TwitterConfig struct {
	AuthToken string `yaml:"authToken" envconfig:"TWITTER_AUTH_TOKEN"`
	CT0       string `yaml:"ct0" envconfig:"TWITTER_CT0"`
	// QueryIDs overrides GraphQL operation query ids, which X rotates.
	QueryIDs map[string]string `yaml:"queryIds" ignored:"true"`
}

// Mapping pairs one X account with the Bluesky account it is mirrored to.
type Mapping struct {
	TwitterUsername    string `yaml:"twitterUsername"`
	BlueskyHandle      string `yaml:"blueskyHandle"`
	BlueskyAppPassword string `yaml:"blueskyAppPassword"`
	BlueskyService     string `yaml:"blueskyService,omitempty"`
}

// OptionsConfig holds pipeline behaviour switches.
type OptionsConfig struct {
	DryRun             bool          `yaml:"dryRun" envconfig:"DRY_RUN"`
	MaxTweetsPerCheck  int           `yaml:"maxTweetsPerCheck" envconfig:"MAX_TWEETS_PER_CHECK"`
	IncludeReplies     bool          `yaml:"includeReplies" envconfig:"INCLUDE_REPLIES"`
	IncludeRetweets    bool          `yaml:"includeRetweets" envconfig:"INCLUDE_RETWEETS"`
	IncludeQuoteTweets bool          `yaml:"includeQuoteTweets" envconfig:"INCLUDE_QUOTE_TWEETS"`
	PublishDelay       time.Duration `yaml:"publishDelay" envconfig:"PUBLISH_DELAY"`
	MaxPostLength      int           `yaml:"maxPostLength" envconfig:"MAX_POST_LENGTH"`
}

// LedgerConfig selects where crosspost history is kept.
type LedgerConfig struct {
	Driver string `yaml:"driver" envconfig:"LEDGER_DRIVER"`
	Path   string `yaml:"path" envconfig:"LEDGER_PATH"`
}

// MediaConfig holds destination media limits. MaxThumbBytes defaults to
// MaxImageBytes.
type MediaConfig struct {
	MaxImageBytes    int64         `yaml:"maxImageBytes" envconfig:"MEDIA_MAX_IMAGE_BYTES"`
	MaxVideoBytes    int64         `yaml:"maxVideoBytes" envconfig:"MEDIA_MAX_VIDEO_BYTES"`
	MaxVideoDuration time.Duration `yaml:"maxVideoDuration" envconfig:"MEDIA_MAX_VIDEO_DURATION"`
	MaxThumbBytes    int64         `yaml:"maxThumbBytes" envconfig:"MEDIA_MAX_THUMB_BYTES"`
}

// DownloadConfig holds media and page download configuration.
type DownloadConfig struct {
	Timeout       time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	RetryDelay    time.Duration `yaml:"retryDelay" envconfig:"DOWNLOAD_RETRY_DELAY"`
	MaxRetryDelay time.Duration `yaml:"maxRetryDelay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY"`
	MaxAttempts   int           `yaml:"maxAttempts" envconfig:"DOWNLOAD_MAX_ATTEMPTS"`
	UserAgent     string        `yaml:"userAgent" envconfig:"DOWNLOAD_USER_AGENT"`
}

// WatchConfig holds the repeat schedule used by "xcrosspost watch".
type WatchConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"WATCH_INTERVAL"`
	// StateFile persists a pending rate limit reset across restarts.
	StateFile string `yaml:"stateFile" envconfig:"WATCH_STATE_FILE"`
}

// Default returns a configuration with every default applied and one
// placeholder mapping, suitable for writing a starter file.
func Default() *Config {
	cfg := &Config{
		Twitter: TwitterConfig{AuthToken: "YOUR_AUTH_TOKEN_HERE"},
		Mappings: []Mapping{{
			TwitterUsername:    "twitter_username",
			BlueskyHandle:      "handle.bsky.social",
			BlueskyAppPassword: "xxxx-xxxx-xxxx-xxxx",
			BlueskyService:     DefaultBlueskyService,
		}},
		Options: OptionsConfig{DryRun: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	// Load from YAML file if provided. JSON config files parse too.
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML. The file holds credentials, so it
// is created owner-readable only.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// applyDefaults fills zero values. Defaults are applied after the file and
// environment so they never replace an explicit setting.
func (c *Config) applyDefaults() {
	if c.Options.MaxTweetsPerCheck <= 0 {
		c.Options.MaxTweetsPerCheck = 20
	}
	if c.Options.PublishDelay <= 0 {
		c.Options.PublishDelay = 2 * time.Second
	}
	if c.Options.MaxPostLength <= 0 {
		c.Options.MaxPostLength = 300
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = LedgerDriverJSON
	}
	if c.Ledger.Path == "" {
		if c.Ledger.Driver == LedgerDriverSQLite {
			c.Ledger.Path = "crosspost-log.db"
		} else {
			c.Ledger.Path = "crosspost-log.json"
		}
	}
	if c.Media.MaxImageBytes <= 0 {
		c.Media.MaxImageBytes = 2_000_000
	}
	if c.Media.MaxVideoBytes <= 0 {
		c.Media.MaxVideoBytes = 100 * 1024 * 1024
	}
	if c.Media.MaxVideoDuration <= 0 {
		c.Media.MaxVideoDuration = 180 * time.Second
	}
	if c.Media.MaxThumbBytes <= 0 {
		c.Media.MaxThumbBytes = c.Media.MaxImageBytes
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = 60 * time.Second
	}
	if c.Download.RetryDelay <= 0 {
		c.Download.RetryDelay = 2 * time.Second
	}
	if c.Download.MaxRetryDelay <= 0 {
		c.Download.MaxRetryDelay = 30 * time.Second
	}
	if c.Download.MaxAttempts <= 0 {
		c.Download.MaxAttempts = 3
	}
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 15 * time.Minute
	}
	if c.Watch.StateFile == "" {
		c.Watch.StateFile = ".xcrosspost-ratelimit.json"
	}
	for i := range c.Mappings {
		if c.Mappings[i].BlueskyService == "" {
			c.Mappings[i].BlueskyService = DefaultBlueskyService
		}
	}
}

// Validate checks that required configuration values are set.
// An empty mapping list is valid; there is simply nothing to do.
func (c *Config) Validate() error {
	if c.Twitter.AuthToken == "" {
		return domain.ErrMissingSourceCredential
	}
	for i, m := range c.Mappings {
		if m.TwitterUsername == "" {
			return fmt.Errorf("crosspostMappings[%d]: twitterUsername is required", i)
		}
		if m.BlueskyHandle == "" {
			return fmt.Errorf("crosspostMappings[%d]: blueskyHandle is required", i)
		}
		if m.BlueskyAppPassword == "" {
			return fmt.Errorf("crosspostMappings[%d]: blueskyAppPassword is required", i)
		}
	}
	switch c.Ledger.Driver {
	case LedgerDriverJSON, LedgerDriverSQLite:
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Watch.Interval != 0 && c.Watch.Interval < time.Minute {
		return fmt.Errorf("watch interval must be at least 1m, got %s", c.Watch.Interval)
	}
	if c.Options.MaxTweetsPerCheck > 100 {
		return fmt.Errorf("maxTweetsPerCheck must be at most 100, got %d", c.Options.MaxTweetsPerCheck)
	}
	return nil
}
