// Package config loads tripdesk settings from defaults, an optional YAML
// file and TRIPDESK_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	API     APIConfig     `koanf:"api"`
	Auth    AuthConfig    `koanf:"auth"`
	Storage StorageConfig `koanf:"storage"`
	Log     LogConfig     `koanf:"log"`
	Mock    MockConfig    `koanf:"mock"`
}

type APIConfig struct {
	// Origin is the console origin the API lives on, e.g. "https://admin.example".
	Origin  string        `koanf:"origin"`
	Prefix  string        `koanf:"prefix"`
	Timeout time.Duration `koanf:"timeout"`
}

type AuthConfig struct {
	RefreshPath    string        `koanf:"refresh_path"`
	LogoutPath     string        `koanf:"logout_path"`
	LoginRedirect  string        `koanf:"login_redirect"`
	LoginFallback  string        `koanf:"login_fallback"`
	LogoutRedirect string        `koanf:"logout_redirect"`
	Skew           time.Duration `koanf:"skew"`
	InstanceID     string        `koanf:"instance_id"`
	// RefreshCookie seeds the cookie jar so a CLI can reuse a browser session.
	RefreshCookie string `koanf:"refresh_cookie"`
}

type StorageConfig struct {
	// Backend is one of memory, redis or postgres.
	Backend  string         `koanf:"backend"`
	Redis    RedisConfig    `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
	Channel  string `koanf:"channel"`
}

type PostgresConfig struct {
	DSN     string `koanf:"dsn"`
	Table   string `koanf:"table"`
	Channel string `koanf:"channel"`
}

type LogConfig struct {
	// Mode is release, development or nop.
	Mode string `koanf:"mode"`
}

type MockConfig struct {
	Address    string            `koanf:"address"`
	Secret     string            `koanf:"secret"`
	TokenTTL   time.Duration     `koanf:"token_ttl"`
	SessionTTL time.Duration     `koanf:"session_ttl"`
	// Users maps user names to passwords or bcrypt hashes.
	Users        map[string]string `koanf:"users"`
	PasswordCost int               `koanf:"password_cost"`
	// AllowOrigins enables credentialed CORS for these page origins.
	AllowOrigins []string `koanf:"allow_origins"`
	AccessLog    bool     `koanf:"access_log"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

func defaults() map[string]any {
	return map[string]any{
		"api.origin":               "http://localhost:8080",
		"api.prefix":               "/api/",
		"api.timeout":              "30s",
		"auth.refresh_path":        "/api/Auth/GetToken",
		"auth.logout_path":         "/api/Auth/LogOut",
		"auth.login_redirect":      "",
		"auth.login_fallback":      "/login.html",
		"auth.logout_redirect":     "",
		"auth.skew":                "60s",
		"auth.instance_id":         "",
		"auth.refresh_cookie":      "",
		"storage.backend":          BackendMemory,
		"storage.redis.addr":       "127.0.0.1:6379",
		"storage.redis.password":   "",
		"storage.redis.db":         0,
		"storage.redis.prefix":     "tripdesk",
		"storage.redis.channel":    "",
		"storage.postgres.dsn":     "",
		"storage.postgres.table":   "tripdesk_kv",
		"storage.postgres.channel": "tripdesk_storage",
		"log.mode":                 "release",
		"mock.address":             ":8080",
		"mock.secret":              "",
		"mock.token_ttl":           "15m",
		"mock.session_ttl":         "168h",
		"mock.users":               map[string]any{"admin": "admin"},
		"mock.password_cost":       10,
		"mock.allow_origins":       []string{},
		"mock.access_log":          false,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	cfg, err := NewLoader(WithEnvPrefix("")).Load()
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if u, err := url.Parse(c.API.Origin); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		bad("api.origin %q must be an absolute http(s) URL", c.API.Origin)
	}
	if !strings.HasPrefix(c.API.Prefix, "/") {
		bad("api.prefix %q must start with /", c.API.Prefix)
	}
	if c.API.Timeout < 0 {
		bad("api.timeout must not be negative")
	}
	if !strings.HasPrefix(c.Auth.RefreshPath, "/") {
		bad("auth.refresh_path %q must start with /", c.Auth.RefreshPath)
	}
	if !strings.HasPrefix(c.Auth.LogoutPath, "/") {
		bad("auth.logout_path %q must start with /", c.Auth.LogoutPath)
	}
	if c.Auth.LoginFallback == "" {
		bad("auth.login_fallback is required")
	}
	if c.Auth.Skew < 0 {
		bad("auth.skew must not be negative")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			bad("storage.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			bad("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		bad("storage.backend %q is not one of memory, redis, postgres", c.Storage.Backend)
	}

	switch c.Log.Mode {
	case "release", "development", "nop":
	default:
		bad("log.mode %q is not one of release, development, nop", c.Log.Mode)
	}
	return errors.Join(errs...)
}

// ValidateMock checks the settings only the mock server needs.
func (c Config) ValidateMock() error {
	if c.Mock.Secret == "" {
		return fmt.Errorf("%w: mock.secret is required", ErrInvalidConfig)
	}
	if c.Mock.TokenTTL <= 0 || c.Mock.SessionTTL <= 0 {
		return fmt.Errorf("%w: mock token and session TTLs must be positive", ErrInvalidConfig)
	}
	return nil
}
