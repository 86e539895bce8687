package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

type SessionConfig struct {
	CookieName   string        `mapstructure:"cookie_name"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	// SnapshotMaxAge bounds how old a client-persisted snapshot may be when
	// it is restored.
	SnapshotMaxAge time.Duration `mapstructure:"snapshot_max_age"`
}

type IdentityConfig struct {
	Driver  string        `mapstructure:"driver"` // remote | local
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Users   string        `mapstructure:"users"` // JSON file for the local driver
}

type ProfileCacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type AccessConfig struct {
	LenientPolicy    string `mapstructure:"lenient_policy"`
	LoginPath        string `mapstructure:"login_path"`
	UnauthorizedPath string `mapstructure:"unauthorized_path"`
	SelectModulePath string `mapstructure:"select_module_path"`
	DefaultPath      string `mapstructure:"default_path"`
}

type FeatureFlagsConfig struct {
	Overrides map[string]bool `mapstructure:"overrides"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ConnString returns the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type InstrumentationConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	SamplingRate    float64       `mapstructure:"sampling_rate"`
	BufferSize      int           `mapstructure:"buffer_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Session         SessionConfig         `mapstructure:"session"`
	Identity        IdentityConfig        `mapstructure:"identity"`
	ProfileCache    ProfileCacheConfig    `mapstructure:"profile_cache"`
	Access          AccessConfig          `mapstructure:"access"`
	FeatureFlags    FeatureFlagsConfig    `mapstructure:"feature_flags"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	Log             LogConfig             `mapstructure:"log"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "./web")

	v.SetDefault("session.cookie_name", "authToken")
	v.SetDefault("session.secure_cookie", false)
	v.SetDefault("session.token_ttl", "8h")
	v.SetDefault("session.snapshot_max_age", "24h")

	v.SetDefault("identity.driver", "remote")
	v.SetDefault("identity.base_url", "http://localhost:3001")
	v.SetDefault("identity.timeout", "10s")

	v.SetDefault("profile_cache.size", 1024)
	v.SetDefault("profile_cache.ttl", "30s")

	v.SetDefault("access.lenient_policy", "literal")
	v.SetDefault("access.login_path", "/login")
	v.SetDefault("access.unauthorized_path", "/unauthorized")
	v.SetDefault("access.select_module_path", "/select-module")
	v.SetDefault("access.default_path", "/dashboard")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.retention", "168h")
	v.SetDefault("instrumentation.cleanup_interval", "1h")
	v.SetDefault("instrumentation.sampling_rate", 1.0)
	v.SetDefault("instrumentation.buffer_size", 500)
	v.SetDefault("instrumentation.flush_interval", "100ms")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads app.yaml from . or ../.. and applies environment overrides
// (server.port is read from SERVER_PORT). A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")
	return load(v)
}

// LoadFile reads the configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range []string{"session.jwt_secret", "identity.users", "database.user", "database.password", "database.name"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.FeatureFlags.Overrides = upperKeys(cfg.FeatureFlags.Overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Session.JWTSecret == "" {
		return errors.New("config: session.jwt_secret is required")
	}
	if c.Session.CookieName == "" {
		return errors.New("config: session.cookie_name is required")
	}
	switch c.Access.LenientPolicy {
	case "", "literal", "any":
	default:
		return fmt.Errorf("config: unknown access.lenient_policy %q", c.Access.LenientPolicy)
	}
	switch c.Identity.Driver {
	case "remote":
		if c.Identity.BaseURL == "" {
			return errors.New("config: identity.base_url is required for the remote driver")
		}
	case "local":
		if c.Identity.Users == "" {
			return errors.New("config: identity.users is required for the local driver")
		}
	default:
		return fmt.Errorf("config: unknown identity.driver %q", c.Identity.Driver)
	}
	if c.Instrumentation.SamplingRate < 0 || c.Instrumentation.SamplingRate > 1 {
		return fmt.Errorf("config: instrumentation.sampling_rate %v out of [0,1]", c.Instrumentation.SamplingRate)
	}
	return nil
}

// upperKeys restores the case of flag keys, which viper folds to lower case.
func upperKeys(in map[string]bool) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}
