package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read once at process start and passed down explicitly.
type Config struct {
	DatabaseURL    string   `env:"DATABASE_URL,required,notEmpty"`
	GatewayToken   string   `env:"GATEWAY_SERVICE_TOKEN,required,notEmpty"`
	Port           string   `env:"PORT" envDefault:"5300"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Day boundaries for daily EXP caps are evaluated in this zone.
	ProgressionTimezone     string `env:"PROGRESSION_TIMEZONE" envDefault:"UTC"`
	DailyGrantRetentionDays int    `env:"DAILY_GRANT_RETENTION_DAYS" envDefault:"7"`

	RedisURL string `env:"REDIS_URL"`

	R2 R2Config
}

type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Enabled reports whether badge icon uploads can be served.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if cfg.DailyGrantRetentionDays < 2 {
		return nil, fmt.Errorf("DAILY_GRANT_RETENTION_DAYS must be at least 2, got %d", cfg.DailyGrantRetentionDays)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves ProgressionTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ProgressionTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid PROGRESSION_TIMEZONE %q: %w", c.ProgressionTimezone, err)
	}
	return loc, nil
}
