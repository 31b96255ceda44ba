package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const DefaultEnvPrefix = "TRIPDESK_"

// Loader merges configuration sources. Later sources win:
// defaults, file, environment, overrides.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
}

type Option func(*Loader)

// WithEnvPrefix sets the environment prefix. An empty prefix disables
// environment loading.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverrides applies dotted keys last, e.g. {"storage.backend": "redis"}.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Load returns the merged configuration. It does not validate.
func (l *Loader) Load() (Config, error) {
	if err := l.k.Load(flatProvider(defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	if err := l.loadEnv(); err != nil {
		return Config{}, err
	}
	if len(l.overrides) > 0 {
		if err := l.k.Load(flatProvider(l.overrides), nil); err != nil {
			return Config{}, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// loadEnv maps TRIPDESK_AUTH_REFRESH_PATH to auth.refresh_path. Known keys
// are matched first so underscores inside key names survive; anything else
// has every underscore turned into a dot.
func (l *Loader) loadEnv() error {
	if l.envPrefix == "" {
		return nil
	}
	known := make(map[string]string)
	for key := range defaults() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}

	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		if key, ok := known[s]; ok {
			return key
		}
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// Keys lists every loaded key.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

// Load reads path (optional) and the environment, then validates.
func Load(path string) (Config, error) {
	cfg, err := NewLoader(WithConfigFile(path)).Load()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
