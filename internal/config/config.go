package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	SMTPAddr     string `mapstructure:"SMTP_ADDR"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`

	RenderURL        string `mapstructure:"RENDER_URL"`
	RenderTimeoutSec int    `mapstructure:"RENDER_TIMEOUT_SEC"`

	BlobBaseURL string `mapstructure:"BLOB_BASE_URL"`
	BlobSignKey string `mapstructure:"BLOB_SIGN_KEY"`

	IssuanceRatePerMinute float64 `mapstructure:"ISSUANCE_RATE_PER_MINUTE"`
	IssuanceRateBurst     int     `mapstructure:"ISSUANCE_RATE_BURST"`

	SweepIntervalSec int `mapstructure:"SWEEP_INTERVAL_SEC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SMTP_ADDR", "localhost:1025")
	v.SetDefault("SMTP_FROM", "certificates@medcert.local")
	v.SetDefault("RENDER_TIMEOUT_SEC", 15)
	v.SetDefault("BLOB_BASE_URL", "http://localhost:8000/files")
	v.SetDefault("ISSUANCE_RATE_PER_MINUTE", 30)
	v.SetDefault("ISSUANCE_RATE_BURST", 10)
	v.SetDefault("SWEEP_INTERVAL_SEC", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"SMTP_ADDR", "SMTP_FROM", "SMTP_USERNAME", "SMTP_PASSWORD",
		"RENDER_URL", "RENDER_TIMEOUT_SEC",
		"BLOB_BASE_URL", "BLOB_SIGN_KEY",
		"ISSUANCE_RATE_PER_MINUTE", "ISSUANCE_RATE_BURST",
		"SWEEP_INTERVAL_SEC",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RenderTimeout returns the renderer request timeout as a duration.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutSec) * time.Second
}

// SweepInterval returns how often the background sweeper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key must be set so that bearer tokens are actually verified, and
// the renderer endpoint must be configured since certificates cannot be
// produced without it.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q; refusing to start without token verification", c.Env)
		}
		if c.RenderURL == "" {
			return fmt.Errorf("RENDER_URL is required when ENV=%q", c.Env)
		}
		if c.BlobSignKey == "" {
			return fmt.Errorf("BLOB_SIGN_KEY is required when ENV=%q", c.Env)
		}
	}
	if c.SMTPFrom != "" && !strings.Contains(c.SMTPFrom, "@") {
		return fmt.Errorf("SMTP_FROM must be an email address, got %q", c.SMTPFrom)
	}
	if c.IssuanceRatePerMinute <= 0 {
		return fmt.Errorf("ISSUANCE_RATE_PER_MINUTE must be positive, got %v", c.IssuanceRatePerMinute)
	}
	if c.IssuanceRateBurst <= 0 {
		return fmt.Errorf("ISSUANCE_RATE_BURST must be positive, got %d", c.IssuanceRateBurst)
	}
	return nil
}
