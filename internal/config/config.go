// Package config loads rosterwatch settings from the environment.
package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const minAdminPasswordLength = 8

// Config holds all runtime configuration for the dashboard service.
type Config struct {
	DataDir            string        `env:"RW_DATA_DIR" envDefault:"./data"`
	BindAddress        string        `env:"RW_BIND_ADDRESS" envDefault:"0.0.0.0"`
	Port               int           `env:"RW_PORT" envDefault:"5000"`
	BaseURL            string        `env:"RW_BASE_URL"`
	DefaultRedirectURL string        `env:"RW_DEFAULT_REDIRECT_URL"`
	Timezone           string        `env:"RW_TIMEZONE" envDefault:"Europe/Paris"`
	AdminPassword      string        `env:"RW_ADMIN_PASSWORD"`
	LogLevel           string        `env:"RW_LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"RW_LOG_FORMAT" envDefault:"auto"`
	LogFile            string        `env:"RW_LOG_FILE"`
	CacheTTL           time.Duration `env:"RW_CACHE_TTL" envDefault:"5m"`
	PublicMetrics      bool          `env:"RW_PUBLIC_METRICS" envDefault:"false"`
	RedirectRateLimit  int           `env:"RW_REDIRECT_RATE_LIMIT" envDefault:"120"`
	TrustedProxies     []string      `env:"RW_TRUSTED_PROXIES" envSeparator:","`

	Redis struct {
		Addr     string `env:"RW_REDIS_ADDR"`
		Password string `env:"RW_REDIS_PASSWORD"`
		DB       int    `env:"RW_REDIS_DB" envDefault:"0"`
	}

	location      *time.Location
	proxyPrefixes []netip.Prefix
}

// DatabasePath returns the SQLite database location inside the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "rosterwatch.db")
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Location returns the time zone used for batch tokens and timestamps.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// ProxyPrefixes returns the parsed RW_TRUSTED_PROXIES. X-Forwarded-For is
// honoured only for requests arriving from one of these networks.
func (c *Config) ProxyPrefixes() []netip.Prefix {
	return c.proxyPrefixes
}

// Load reads configuration from the environment. A .env file is loaded if
// present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.DefaultRedirectURL = strings.TrimSpace(c.DefaultRedirectURL)
	c.Timezone = strings.TrimSpace(c.Timezone)
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.DefaultRedirectURL == "" {
		missing = append(missing, "RW_DEFAULT_REDIRECT_URL")
	}
	if c.AdminPassword == "" {
		missing = append(missing, "RW_ADMIN_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("RW_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if len(c.AdminPassword) < minAdminPasswordLength {
		return fmt.Errorf("RW_ADMIN_PASSWORD must be at least %d characters", minAdminPasswordLength)
	}
	if c.DataDir == "" {
		return fmt.Errorf("RW_DATA_DIR must not be empty")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("RW_CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.RedirectRateLimit < 0 {
		return fmt.Errorf("RW_REDIRECT_RATE_LIMIT must not be negative, got %d", c.RedirectRateLimit)
	}

	for key, raw := range map[string]string{
		"RW_BASE_URL":             c.BaseURL,
		"RW_DEFAULT_REDIRECT_URL": c.DefaultRedirectURL,
	} {
		if err := validateHTTPURL(key, raw); err != nil {
			return err
		}
	}

	prefixes, err := ParseProxyPrefixes(c.TrustedProxies)
	if err != nil {
		return fmt.Errorf("RW_TRUSTED_PROXIES: %w", err)
	}
	c.proxyPrefixes = prefixes

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("RW_TIMEZONE must be a valid IANA zone: %w", err)
	}
	c.location = loc
	return nil
}

// ParseProxyPrefixes parses IP addresses and CIDR ranges. A bare address
// becomes a single-host prefix.
func ParseProxyPrefixes(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", raw, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func validateHTTPURL(key, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}
