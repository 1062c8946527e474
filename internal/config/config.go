package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=10"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=5"`

	RefersionPublicKey string `env:"REFERSION_PUBLIC_KEY"`
	RefersionSecretKey string `env:"REFERSION_API_KEY,required=true"`
	RefersionBaseURL   string `env:"REFERSION_BASE_URL,default=https://api.refersion.com"`

	SegmentWriteKey string `env:"SEGMENT_WRITE_KEY"`
	SegmentBaseURL  string `env:"SEGMENT_BASE_URL,default=https://api.segment.io"`

	HubSpotAccessToken  string `env:"HUBSPOT_ACCESS_TOKEN"`
	HubSpotPortalID     string `env:"HUBSPOT_PORTAL_ID"`
	HubSpotBaseURL      string `env:"HUBSPOT_BASE_URL,default=https://api.hubapi.com"`
	HubSpotFormsBaseURL string `env:"HUBSPOT_FORMS_BASE_URL,default=https://api.hsforms.com"`

	DebugKey             string `env:"DEBUG_KEY"`
	RetentionDays        int    `env:"RETENTION_DAYS,default=30"`
	VendorTimeoutSeconds int    `env:"VENDOR_TIMEOUT_SECONDS,default=10"`
	RateLimitPerSec      int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	AttemptBufferSize    int    `env:"ATTEMPT_BUFFER_SIZE,default=100"`
	PersistAttempts      bool   `env:"PERSIST_ATTEMPTS,default=false"`
	CookieDomain         string `env:"COOKIE_DOMAIN"`
	RedirectAllowedHosts string `env:"REDIRECT_ALLOWED_HOSTS"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogFile  string `env:"LOG_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive")
	}
	if c.VendorTimeoutSeconds <= 0 {
		return fmt.Errorf("VENDOR_TIMEOUT_SECONDS must be positive")
	}
	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be positive")
	}
	if c.AttemptBufferSize <= 0 {
		return fmt.Errorf("ATTEMPT_BUFFER_SIZE must be positive")
	}
	return nil
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *Config) VendorTimeout() time.Duration {
	return time.Duration(c.VendorTimeoutSeconds) * time.Second
}

// AllowedRedirectHosts splits REDIRECT_ALLOWED_HOSTS. Empty means any host.
func (c *Config) AllowedRedirectHosts() []string {
	var hosts []string
	for _, host := range strings.Split(c.RedirectAllowedHosts, ",") {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func (c *Config) SegmentEnabled() bool {
	return strings.TrimSpace(c.SegmentWriteKey) != ""
}

func (c *Config) HubSpotLookupEnabled() bool {
	return strings.TrimSpace(c.HubSpotAccessToken) != ""
}

func (c *Config) HubSpotFormsEnabled() bool {
	return strings.TrimSpace(c.HubSpotPortalID) != ""
}
