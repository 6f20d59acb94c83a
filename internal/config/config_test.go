package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	// Run from an empty dir so a developer .env never leaks into the test.
	t.Chdir(t.TempDir())
	t.Setenv("RW_DEFAULT_REDIRECT_URL", "https://community.example.com")
	t.Setenv("RW_ADMIN_PASSWORD", "correct-horse")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddr())
	assert.Equal(t, "http://localhost:5000", cfg.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 120, cfg.RedirectRateLimit)
	assert.Equal(t, "Europe/Paris", cfg.Location().String())
	assert.Equal(t, filepath.Join("data", "rosterwatch.db"), filepath.Clean(cfg.DatabasePath()))
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.ProxyPrefixes())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RW_PORT", "8080")
	t.Setenv("RW_BASE_URL", "https://stats.example.com/")
	t.Setenv("RW_TIMEZONE", "UTC")
	t.Setenv("RW_CACHE_TTL", "30s")
	t.Setenv("RW_REDIS_ADDR", "localhost:6379")
	t.Setenv("RW_REDIS_DB", "2")
	t.Setenv("RW_PUBLIC_METRICS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://stats.example.com", cfg.BaseURL)
	assert.Equal(t, time.UTC.String(), cfg.Location().String())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.PublicMetrics)
}

func TestLoadZeroCacheTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("RW_CACHE_TTL", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.CacheTTL)
}

func TestLoadTrustedProxies(t *testing.T) {
	setRequired(t)
	t.Setenv("RW_TRUSTED_PROXIES", " 10.0.0.0/8 , 127.0.0.1,::1")

	cfg, err := Load()
	require.NoError(t, err)

	prefixes := cfg.ProxyPrefixes()
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "127.0.0.1/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())
}

func TestLoadReportsMissingRequired(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RW_DEFAULT_REDIRECT_URL", "")
	t.Setenv("RW_ADMIN_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RW_DEFAULT_REDIRECT_URL")
	assert.Contains(t, err.Error(), "RW_ADMIN_PASSWORD")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"short password", "RW_ADMIN_PASSWORD", "short", "at least 8"},
		{"bad port", "RW_PORT", "70000", "RW_PORT"},
		{"bad scheme", "RW_DEFAULT_REDIRECT_URL", "ftp://example.com", "http or https"},
		{"bad zone", "RW_TIMEZONE", "Mars/Olympus", "RW_TIMEZONE"},
		{"negative ttl", "RW_CACHE_TTL", "-1m", "RW_CACHE_TTL"},
		{"bad proxy", "RW_TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip", "RW_TRUSTED_PROXIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("RW_DEFAULT_REDIRECT_URL", "")
	t.Setenv("RW_ADMIN_PASSWORD", "")
	os.Unsetenv("RW_DEFAULT_REDIRECT_URL")
	os.Unsetenv("RW_ADMIN_PASSWORD")

	content := "RW_DEFAULT_REDIRECT_URL=https://from-dotenv.example.com\nRW_ADMIN_PASSWORD=dotenv-secret\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://from-dotenv.example.com", cfg.DefaultRedirectURL)
}
