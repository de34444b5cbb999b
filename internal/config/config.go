// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,notEmpty"`
	DefaultChatID    int64  `env:"TELEGRAM_CHAT_ID"`
	DefaultChannel   string `env:"YOUTUBE_CHANNEL_NAME" envDefault:"weathernews"`
	RSSBaseURL       string `env:"RSS_BASE_URL"         envDefault:"https://rss.dreaife.tokyo/youtube/live/"`
	CheckIntervalMS  int    `env:"CHECK_INTERVAL_MS"    envDefault:"60000"`
	CheckCron        string `env:"CHECK_CRON"`

	DatabasePath  string `env:"DATABASE_PATH"  envDefault:"./data/bot.db"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	LogLevel      string `env:"LOG_LEVEL"      envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`

	WebhookListenAddr string `env:"WEBHOOK_LISTEN_ADDR"`
	WebhookPath       string `env:"WEBHOOK_PATH"   envDefault:"/webhook"`
	WebhookURL        string `env:"WEBHOOK_URL"`
	WebhookSecret     string `env:"WEBHOOK_SECRET"`

	SendRatePerSec int `env:"SEND_RATE_PER_SEC" envDefault:"20"`

	AllowedUsersRaw string `env:"ALLOWED_USERS"`
	AllowedUsers    []int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.CheckIntervalMS <= 0 {
		return nil, fmt.Errorf("CHECK_INTERVAL_MS must be positive, got %d", cfg.CheckIntervalMS)
	}
	if cfg.SendRatePerSec <= 0 {
		return nil, fmt.Errorf("SEND_RATE_PER_SEC must be positive, got %d", cfg.SendRatePerSec)
	}

	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	switch cfg.StorageDriver {
	case DriverSQLite, DriverBolt:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q, use: sqlite, bolt", cfg.StorageDriver)
	}

	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		cfg.WebhookPath = "/" + cfg.WebhookPath
	}

	if raw := cfg.AllowedUsersRaw; raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	return &cfg, nil
}

// CheckInterval returns the feed polling interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMS) * time.Millisecond
}

// FeedURL builds the feed URL for a channel name.
func (c *Config) FeedURL(channel string) string {
	return c.RSSBaseURL + channel
}

// UseWebhook reports whether updates arrive through the HTTP webhook
// rather than long polling.
func (c *Config) UseWebhook() bool {
	return c.WebhookListenAddr != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
