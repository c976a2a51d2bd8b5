// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Source kinds.
const (
	SourceWordPress = "wordpress"
	SourceRSS       = "rss"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	SourceKind       string  `envconfig:"SOURCE_KIND" default:"wordpress"`
	SourceURL        string  `envconfig:"SOURCE_URL" required:"true"`
	DatabasePath     string  `envconfig:"DATABASE_PATH" default:"./data/bot.db"`
	LogLevel         string  `envconfig:"LOG_LEVEL" default:"info"`
	AllowedUsers     []int64 `envconfig:"ALLOWED_USERS"`
	HTTPAddr         string  `envconfig:"HTTP_ADDR" default:":8080"`

	CheckInterval    time.Duration `envconfig:"CHECK_INTERVAL" default:"5m"`
	ItemDelay        time.Duration `envconfig:"ITEM_DELAY" default:"1s"`
	FetchLimit       int           `envconfig:"FETCH_LIMIT" default:"20"`
	SendRate         float64       `envconfig:"SEND_RATE" default:"20"`
	SnapshotSchedule string        `envconfig:"SNAPSHOT_SCHEDULE" default:"@every 5m"`
	ShutdownGrace    time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
	MaxRejections    int           `envconfig:"MAX_REJECTIONS" default:"3"`
	SessionTTL       time.Duration `envconfig:"SESSION_TTL" default:"10m"`

	DefaultCategories []int64 `envconfig:"DEFAULT_CATEGORIES"`
	DefaultTags       []int64 `envconfig:"DEFAULT_TAGS"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.SourceURL == "" {
		return errors.New("SOURCE_URL is required")
	}
	if c.SourceKind != SourceWordPress && c.SourceKind != SourceRSS {
		return fmt.Errorf("invalid SOURCE_KIND %q, use: %s, %s", c.SourceKind, SourceWordPress, SourceRSS)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL must be positive, got %s", c.CheckInterval)
	}
	if c.ItemDelay < 0 {
		return fmt.Errorf("ITEM_DELAY must not be negative, got %s", c.ItemDelay)
	}
	if c.FetchLimit < 1 || c.FetchLimit > 100 {
		return fmt.Errorf("FETCH_LIMIT must be between 1 and 100, got %d", c.FetchLimit)
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}
