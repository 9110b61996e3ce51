package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/boorufind/internal/fetch"
	"github.com/ppiankov/boorufind/internal/filter"
	"github.com/ppiankov/boorufind/internal/finder"
	"github.com/ppiankov/boorufind/internal/source"
	"github.com/ppiankov/boorufind/internal/transport"
)

const (
	DefaultConfigFile          = "config.yaml"
	DefaultEnvFile             = ".env"
	DefaultStoragePath         = ".boorufind/boorufind.db"
	DefaultDownloadDir         = "downloads"
	DefaultDownloadConcurrency = fetch.DefaultConcurrency
	DefaultDownloadMode        = "parallel"
	DefaultLimit               = 20
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	// Defaults lists built-in kinds registered with their stock settings.
	// Left empty with no adapters, the whole default set is used.
	Defaults []string                     `yaml:"defaults"`
	Adapters []AdapterConfig              `yaml:"adapters"`
	Aliases  map[string]map[string]string `yaml:"aliases"`
	Search   SearchConfig                 `yaml:"search"`
	Download DownloadConfig               `yaml:"download"`
	Storage  StorageConfig                `yaml:"storage"`
	Filter   FilterConfig                 `yaml:"filter"`
	Metrics  MetricsConfig                `yaml:"metrics"`
}

// AdapterConfig declares one adapter. An entry named like a default kind
// replaces that default's settings.
type AdapterConfig struct {
	Kind          string            `yaml:"kind"`
	Name          string            `yaml:"name"`
	BaseURL       string            `yaml:"base_url"`
	APIKeyEnv     string            `yaml:"api_key_env"`
	UserEnv       string            `yaml:"user_env"`
	Timeout       Duration          `yaml:"timeout"`
	RatePerSecond float64           `yaml:"rate_per_second"`
	Burst         int               `yaml:"burst"`
	Headers       map[string]string `yaml:"headers"`
	Cookies       map[string]string `yaml:"cookies"`
	Referer       string            `yaml:"referer"`
	UserAgent     string            `yaml:"user_agent"`

	// Resolved from env vars at load time.
	APIKey string `yaml:"-"`
	User   string `yaml:"-"`
}

type SearchConfig struct {
	Limit int `yaml:"limit"`
}

type DownloadConfig struct {
	Dir         string `yaml:"dir"`
	Concurrency int    `yaml:"concurrency"`
	Mode        string `yaml:"mode"`
	KeepPartial bool   `yaml:"keep_partial"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type FilterConfig struct {
	Blacklist []string `yaml:"blacklist"`
	MinRating string   `yaml:"min_rating"`
	MaxRating string   `yaml:"max_rating"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
// A .env file next to it is loaded first; variables already set win.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	if err := loadEnvFile(filepath.Join(dir, DefaultEnvFile)); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Defaults) == 0 && len(cfg.Adapters) == 0 {
		for _, c := range finder.DefaultSet(nil) {
			cfg.Defaults = append(cfg.Defaults, c.Name)
		}
	}
	for i := range cfg.Adapters {
		a := &cfg.Adapters[i]
		if a.Name == "" {
			a.Name = a.Kind
		}
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = DefaultLimit
	}
	if cfg.Download.Dir == "" {
		cfg.Download.Dir = DefaultDownloadDir
	}
	if cfg.Download.Concurrency == 0 {
		cfg.Download.Concurrency = DefaultDownloadConcurrency
	}
	if cfg.Download.Mode == "" {
		cfg.Download.Mode = DefaultDownloadMode
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
}

func resolveEnv(cfg *Config) {
	for i := range cfg.Adapters {
		a := &cfg.Adapters[i]
		if a.APIKeyEnv != "" {
			a.APIKey = os.Getenv(a.APIKeyEnv)
		}
		if a.UserEnv != "" {
			a.User = os.Getenv(a.UserEnv)
		}
	}
}

func validate(cfg *Config) error {
	names := make(map[string]bool)
	for _, kind := range cfg.Defaults {
		if !finder.IsDefault(kind) {
			return fmt.Errorf("defaults: %q is not a default adapter", kind)
		}
		names[kind] = true
	}

	seen := make(map[string]bool)
	for i, a := range cfg.Adapters {
		if !finder.IsKind(a.Kind) {
			return fmt.Errorf("adapters[%d]: unknown kind %q (known: %s)", i, a.Kind, strings.Join(finder.Kinds(), ", "))
		}
		if seen[a.Name] {
			return fmt.Errorf("adapters[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		names[a.Name] = true
		if a.Kind == "feed" && !strings.Contains(a.BaseURL, "{tags}") {
			return fmt.Errorf("adapters[%d]: feed base_url must contain {tags}", i)
		}
		if a.RatePerSecond < 0 || a.Burst < 0 {
			return fmt.Errorf("adapters[%d]: rate_per_second and burst must not be negative", i)
		}
	}

	for name := range cfg.Aliases {
		if !names[name] {
			return fmt.Errorf("aliases: no adapter named %q", name)
		}
	}

	if cfg.Download.Concurrency < 0 {
		return errors.New("download.concurrency: must not be negative")
	}
	if _, err := fetch.ParseMode(cfg.Download.Mode); err != nil {
		return fmt.Errorf("download.mode: %w", err)
	}

	if _, err := cfg.Filter.Rules(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	return nil
}

// SourceConfig converts the entry into adapter settings.
func (a AdapterConfig) SourceConfig() source.Config {
	return source.Config{
		Name:    a.Name,
		BaseURL: a.BaseURL,
		APIKey:  a.APIKey,
		User:    a.User,
		Timeout: a.Timeout.Duration,
		Policy: transport.Policy{
			Headers:       a.Headers,
			Cookies:       a.Cookies,
			Referer:       a.Referer,
			UserAgent:     a.UserAgent,
			RatePerSecond: a.RatePerSecond,
			Burst:         a.Burst,
		},
	}
}

// Constructors returns the adapters to register, defaults first in default
// order, then the remaining configured adapters in file order.
func (c *Config) Constructors() ([]finder.Constructor, error) {
	byName := make(map[string]AdapterConfig, len(c.Adapters))
	for _, a := range c.Adapters {
		byName[a.Name] = a
	}

	var out []finder.Constructor
	used := make(map[string]bool)
	for _, kind := range c.Defaults {
		cfg := source.Config{Name: kind}
		if a, ok := byName[kind]; ok && a.Kind == kind {
			cfg = a.SourceConfig()
			used[kind] = true
		}
		ctor, err := finder.Builtin(kind, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, ctor)
	}
	for _, a := range c.Adapters {
		if used[a.Name] {
			continue
		}
		ctor, err := finder.Builtin(a.Kind, a.SourceConfig())
		if err != nil {
			return nil, err
		}
		out = append(out, ctor)
	}
	return out, nil
}

// Rules compiles the filter section.
func (f FilterConfig) Rules() (filter.Rules, error) {
	patterns, err := filter.Compile(f.Blacklist)
	if err != nil {
		return filter.Rules{}, err
	}
	rules := filter.Rules{Blacklist: patterns}
	if f.MinRating != "" {
		if rules.MinRating = source.ParseRating(f.MinRating); rules.MinRating == source.RatingUnknown {
			return filter.Rules{}, fmt.Errorf("min_rating: unknown rating %q", f.MinRating)
		}
	}
	if f.MaxRating != "" {
		if rules.MaxRating = source.ParseRating(f.MaxRating); rules.MaxRating == source.RatingUnknown {
			return filter.Rules{}, fmt.Errorf("max_rating: unknown rating %q", f.MaxRating)
		}
	}
	if rules.MinRating != source.RatingUnknown && rules.MaxRating != source.RatingUnknown && rules.MinRating > rules.MaxRating {
		return filter.Rules{}, errors.New("min_rating is above max_rating")
	}
	return rules, nil
}
