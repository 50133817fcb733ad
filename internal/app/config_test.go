package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		DatabaseURL:  "postgres://localhost/promo",
		APIKeyPepper: "pepper",
		RateLimit:    RateLimitConfig{Max: 30, Window: time.Minute},
		ProductCache: ProductCacheConfig{Size: 100, TTL: time.Second},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "no pepper", mutate: func(c *Config) { c.APIKeyPepper = "" }, wantErr: "pepper is required"},
		{name: "zero rate window", mutate: func(c *Config) { c.RateLimit.Window = 0 }, wantErr: "rate limit"},
		{name: "zero cache", mutate: func(c *Config) { c.ProductCache.Size = 0 }, wantErr: "cache size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/promo")
	t.Setenv("PORT", "9090")

	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/promo", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	cfg = validConfig()
	cfg.Addr = "127.0.0.1:7000"
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://localhost/promo", cfg.DatabaseURL, "explicit settings win")
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}
