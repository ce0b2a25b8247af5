// Package config loads the engine configuration: a TOML file laid over the
// built-in defaults, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/atmx/balance-engine/internal/balance"
	"github.com/atmx/balance-engine/internal/economy"
	"github.com/atmx/balance-engine/internal/market"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Duration is a time.Duration written as "10m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig   `toml:"server"`
	Log     LogConfig      `toml:"log"`
	Catalog CatalogConfig  `toml:"catalog"`
	Balance balance.Config `toml:"balance"`
	Market  market.Config  `toml:"market"`
	Economy economy.Config `toml:"economy"`
	Passes  PassesConfig   `toml:"passes"`
	Storage StorageConfig  `toml:"storage"`
	Notify  NotifyConfig   `toml:"notify"`
	Tracing TracingConfig  `toml:"tracing"`
}

type ServerConfig struct {
	Port            string   `toml:"port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"` // "json" or "text"
	AddSource bool       `toml:"add_source"`
}

type CatalogConfig struct {
	Path string `toml:"path"` // empty uses the embedded default catalog
}

// PassConfig controls one periodic pass.
type PassConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

type PassesConfig struct {
	Power   PassConfig `toml:"power"`
	Market  PassConfig `toml:"market"`
	Economy PassConfig `toml:"economy"`
	Persist PassConfig `toml:"persist"`
}

type StorageConfig struct {
	Driver   string   `toml:"driver"` // memory, sqlite or postgres
	DSN      string   `toml:"dsn"`
	RedisURL string   `toml:"redis_url"`
	CacheTTL Duration `toml:"cache_ttl"`
	Compress bool     `toml:"compress"`
}

type NotifyConfig struct {
	WebhookURL    string  `toml:"webhook_url"`
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

type TracingConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Log:     LogConfig{Level: slog.LevelInfo, Format: "json"},
		Balance: balance.DefaultConfig(),
		Market:  market.DefaultConfig(),
		Economy: economy.DefaultConfig(),
		Passes: PassesConfig{
			Power:   PassConfig{Enabled: true, Interval: Duration{10 * time.Minute}},
			Market:  PassConfig{Enabled: true, Interval: Duration{15 * time.Minute}},
			Economy: PassConfig{Enabled: true, Interval: Duration{30 * time.Minute}},
			Persist: PassConfig{Enabled: true, Interval: Duration{5 * time.Minute}},
		},
		Storage: StorageConfig{Driver: "memory", CacheTTL: Duration{30 * time.Second}},
		Notify:  NotifyConfig{RatePerSecond: 5, Burst: 20},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()

		dec := toml.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = GetEnvOrDefault("PORT", c.Server.Port)
	c.Log.Format = strings.ToLower(GetEnvOrDefault("LOG_FORMAT", c.Log.Format))
	if v, ok := GetEnv("LOG_LEVEL"); ok {
		var lvl slog.Level
		if lvl.UnmarshalText([]byte(v)) == nil {
			c.Log.Level = lvl
		}
	}
	c.Catalog.Path = GetEnvOrDefault("CATALOG_PATH", c.Catalog.Path)

	c.Storage.Driver = strings.ToLower(GetEnvOrDefault("STORAGE_DRIVER", c.Storage.Driver))
	c.Storage.DSN = GetEnvOrDefault("STORAGE_DSN", c.Storage.DSN)
	if dbURL, ok := GetEnv("DATABASE_URL"); ok && dbURL != "" {
		c.Storage.Driver = "postgres"
		c.Storage.DSN = dbURL
	}
	c.Storage.RedisURL = GetEnvOrDefault("REDIS_URL", c.Storage.RedisURL)
	c.Storage.CacheTTL.Duration = GetEnvAsDuration("CACHE_TTL", c.Storage.CacheTTL.Duration)
	c.Storage.Compress = GetEnvAsBool("STORAGE_COMPRESS", c.Storage.Compress)

	c.Notify.WebhookURL = GetEnvOrDefault("WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.RatePerSecond = GetEnvAsFloat("NOTIFY_RATE_PER_SECOND", c.Notify.RatePerSecond)
	c.Notify.Burst = GetEnvAsInt("NOTIFY_BURST", c.Notify.Burst)

	c.Tracing.OTLPEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.OTLPEndpoint)

	c.Economy.ExpectedValuePerScore = GetEnvAsFloat("EXPECTED_VALUE_PER_SCORE", c.Economy.ExpectedValuePerScore)

	for name, p := range map[string]*PassConfig{
		"POWER":   &c.Passes.Power,
		"MARKET":  &c.Passes.Market,
		"ECONOMY": &c.Passes.Economy,
		"PERSIST": &c.Passes.Persist,
	} {
		p.Enabled = GetEnvAsBool(name+"_PASS_ENABLED", p.Enabled)
		p.Interval.Duration = GetEnvAsDuration(name+"_PASS_INTERVAL", p.Interval.Duration)
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	for name, p := range map[string]PassConfig{
		"power": c.Passes.Power, "market": c.Passes.Market,
		"economy": c.Passes.Economy, "persist": c.Passes.Persist,
	} {
		if p.Enabled && p.Interval.Duration <= 0 {
			errs = append(errs, fmt.Errorf("passes.%s.interval must be positive", name))
		}
	}
	if c.Economy.Floor <= 0 || c.Economy.Floor > c.Economy.Ceiling {
		errs = append(errs, fmt.Errorf("economy.floor %.2f must be in (0, ceiling %.2f]", c.Economy.Floor, c.Economy.Ceiling))
	}
	if c.Economy.ExpectedValuePerScore <= 0 {
		errs = append(errs, errors.New("economy.expected_value_per_score must be positive"))
	}
	if c.Market.CorrectionRate < 0 || c.Market.CorrectionRate > 1 {
		errs = append(errs, errors.New("market.correction_rate must be in [0, 1]"))
	}
	if c.Notify.WebhookURL != "" && (c.Notify.RatePerSecond <= 0 || c.Notify.Burst <= 0) {
		errs = append(errs, errors.New("notify.rate_per_second and notify.burst must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
