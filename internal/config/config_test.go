package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  jwt_secret: s3cret
feature_flags:
  overrides:
    ENABLE_ANALYTICS: true
    dark_mode: false
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "authToken", cfg.Session.CookieName)
	assert.Equal(t, 8*time.Hour, cfg.Session.TokenTTL)
	assert.Equal(t, "remote", cfg.Identity.Driver)
	assert.Equal(t, 10*time.Second, cfg.Identity.Timeout)
	assert.Equal(t, "literal", cfg.Access.LenientPolicy)
	assert.Equal(t, "/login", cfg.Access.LoginPath)
	assert.Equal(t, 100*time.Millisecond, cfg.Instrumentation.FlushInterval)
	assert.Equal(t, map[string]bool{"ENABLE_ANALYTICS": true, "DARK_MODE": false}, cfg.FeatureFlags.Overrides)
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("SESSION_JWT_SECRET", "from-env")
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("ACCESS_LENIENT_POLICY", "any")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Session.JWTSecret)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "any", cfg.Access.LenientPolicy)
}

func TestLoadFile_Invalid(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "server:\n  port: 9000\n"))
	assert.ErrorContains(t, err, "jwt_secret")

	_, err = LoadFile(writeConfig(t, "session: [\n"))
	assert.ErrorContains(t, err, "read config")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.Session.JWTSecret = "s"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing cookie name", func(c *Config) { c.Session.CookieName = "" }, "cookie_name"},
		{"unknown policy", func(c *Config) { c.Access.LenientPolicy = "all" }, "lenient_policy"},
		{"unknown driver", func(c *Config) { c.Identity.Driver = "ldap" }, "identity.driver"},
		{"remote without url", func(c *Config) { c.Identity.BaseURL = "" }, "base_url"},
		{"local without users", func(c *Config) { c.Identity.Driver = "local" }, "identity.users"},
		{"sampling above one", func(c *Config) { c.Instrumentation.SamplingRate = 1.5 }, "sampling_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestDatabaseConfig_ConnString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "portal", Password: "pw", Name: "events"}
	assert.Equal(t, "postgres://portal:pw@db:5433/events?sslmode=disable", d.ConnString())
}
