// Package config loads dex-scroll configuration from an optional YAML file,
// DEX_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DEX_PAGINATION_PAGE_SIZE.
const EnvPrefix = "DEX"

// Config holds all configuration for the application.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Scroll     ScrollConfig     `mapstructure:"scroll"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Assembler  AssemblerConfig  `mapstructure:"assembler"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// CatalogConfig locates the catalog and its image assets. AssetDir, when
// set, takes precedence over AssetURLTemplate.
type CatalogConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	ListPath         string `mapstructure:"list_path"`
	AssetURLTemplate string `mapstructure:"asset_url_template"`
	AssetDir         string `mapstructure:"asset_dir"`
}

// PaginationConfig holds page size and the exhaustion ceiling.
type PaginationConfig struct {
	PageSize int `mapstructure:"page_size"`
	MaxItems int `mapstructure:"max_items"`
}

// ScrollConfig sizes the viewport, in items.
type ScrollConfig struct {
	ViewportHeight int `mapstructure:"viewport_height"`
	Lookahead      int `mapstructure:"lookahead"`
}

// HTTPConfig holds fetch primitive settings.
type HTTPConfig struct {
	UserAgent  string        `mapstructure:"user_agent"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
}

// AssemblerConfig holds fan-out settings.
type AssemblerConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// RedisConfig enables the shared upstream budget when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig holds the /health and /metrics listener address; empty
// disables the listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration. path may be empty, in which case config.yaml is
// looked up in the working directory and is optional. flags, when non-nil,
// override file and environment values for the flags that were set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
	"page-size":    "pagination.page_size",
	"max-items":    "pagination.max_items",
	"base-url":     "catalog.base_url",
	"asset-dir":    "catalog.asset_dir",
	"redis-addr":   "redis.addr",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("catalog.base_url", "https://pokeapi.co")
	v.SetDefault("catalog.list_path", "/api/v2/pokemon")
	v.SetDefault("catalog.asset_url_template",
		"https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon/{id}.png")
	v.SetDefault("catalog.asset_dir", "")

	v.SetDefault("pagination.page_size", 15)
	v.SetDefault("pagination.max_items", 150)

	v.SetDefault("scroll.viewport_height", 5)
	v.SetDefault("scroll.lookahead", 3)

	v.SetDefault("http.user_agent", "dex-scroll/0.1.0")
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.rate_limit", 50.0)
	v.SetDefault("http.burst", 30)

	v.SetDefault("assembler.max_concurrency", 30)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("metrics.addr", "")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Catalog.BaseURL == "" {
		errs = append(errs, errors.New("catalog.base_url is required"))
	}
	if c.Catalog.ListPath == "" {
		errs = append(errs, errors.New("catalog.list_path is required"))
	}
	if c.Catalog.AssetDir == "" && !strings.Contains(c.Catalog.AssetURLTemplate, "{id}") {
		errs = append(errs, errors.New("catalog.asset_url_template must contain {id} when catalog.asset_dir is empty"))
	}
	if c.Pagination.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("pagination.page_size must be > 0 (got %d)", c.Pagination.PageSize))
	}
	if c.Pagination.MaxItems <= 0 {
		errs = append(errs, fmt.Errorf("pagination.max_items must be > 0 (got %d)", c.Pagination.MaxItems))
	}
	if c.Scroll.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("scroll.viewport_height must be > 0 (got %d)", c.Scroll.ViewportHeight))
	}
	if c.Scroll.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("scroll.lookahead must be >= 0 (got %d)", c.Scroll.Lookahead))
	}
	if c.HTTP.UserAgent == "" {
		errs = append(errs, errors.New("http.user_agent is required"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be > 0 (got %s)", c.HTTP.Timeout))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("http.max_retries must be >= 0 (got %d)", c.HTTP.MaxRetries))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("http.rate_limit must be >= 0 (got %g)", c.HTTP.RateLimit))
	}
	return errors.Join(errs...)
}
