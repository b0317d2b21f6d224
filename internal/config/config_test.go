package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                "production",
		JWTSecret:          "secure-secret-at-least-32-chars-long",
		Port:               "8080",
		DBDriver:           "postgres",
		DBPassword:         "secure-password",
		DBSSLMode:          "require",
		SearchDebounceMS:   250,
		SearchLimit:        40,
		TracingSampleRatio: 1,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid production", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"default secret in production", func(c *Config) { c.JWTSecret = defaultJWTSecret }, true},
		{"short secret in production", func(c *Config) { c.JWTSecret = "short" }, true},
		{"short secret in development", func(c *Config) { c.Env = "development"; c.JWTSecret = "short" }, false},
		{"ssl disabled in production", func(c *Config) { c.DBSSLMode = "disable" }, true},
		{"ssl disabled in test", func(c *Config) { c.Env = "test"; c.DBSSLMode = "disable" }, false},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"sqlite in production", func(c *Config) { c.DBDriver = "sqlite"; c.DBPath = "x.db" }, true},
		{"sqlite without path", func(c *Config) { c.Env = "test"; c.DBDriver = "sqlite" }, true},
		{"sqlite in test", func(c *Config) { c.Env = "test"; c.DBDriver = "sqlite"; c.DBPath = ":memory:" }, false},
		{"negative search limit", func(c *Config) { c.SearchLimit = -1 }, true},
		{"sample ratio out of range", func(c *Config) { c.TracingSampleRatio = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_DefaultsAndNormalization(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_DRIVER", "  SQLite ")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("SEARCH_LIMIT", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 25, cfg.SearchLimit)
	assert.Equal(t, 250, cfg.SearchDebounceMS)
	assert.Equal(t, "8375", cfg.Port)
	assert.Contains(t, cfg.FeatureFlags, "friend_invite_notifications")
}

func TestLoadConfig_MissingProfileFile(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "staging-that-does-not-exist")

	_, err := LoadConfig()
	assert.Error(t, err)
}
