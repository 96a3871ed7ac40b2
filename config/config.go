// Package config loads graph-rpc configuration from a single YAML file.
//
// The file is named by the GRAPHRPC_CONFIG environment variable or by the
// --config flag of the graphrpc command. Keys missing from the file keep the
// values of Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"graph-rpc/codec"
	"graph-rpc/loadbalance"
	"graph-rpc/schema"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "GRAPHRPC_CONFIG"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	Registry RegistryConfig `yaml:"registry"`
	JSON     JSONConfig     `yaml:"json"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	// Listen is the TCP address to bind.
	Listen string `yaml:"listen"`

	// Advertise is the address published in the registry.
	// Default: the bound address.
	Advertise string `yaml:"advertise"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds each call on the server; zero disables it.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RateLimit is requests per second across all connections; zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// CompressThreshold compresses response bodies of at least this many bytes.
	CompressThreshold int `yaml:"compress_threshold"`

	Weight  int    `yaml:"weight"`
	Version string `yaml:"version"`
}

type ClientConfig struct {
	Codec             codec.CodecType `yaml:"codec"`
	PoolSize          int             `yaml:"pool_size"`
	Balancer          string          `yaml:"balancer"`
	CompressThreshold int             `yaml:"compress_threshold"`
	Timeout           time.Duration   `yaml:"timeout"`
	Retries           int             `yaml:"retries"`
	RetryDelay        time.Duration   `yaml:"retry_delay"`
}

type RegistryConfig struct {
	// Type is "etcd" or "memory". The memory registry only serves a single process.
	Type        string        `yaml:"type"`
	Endpoints   []string      `yaml:"endpoints"`
	TTL         time.Duration `yaml:"ttl"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// JSONConfig mirrors codec.JSONConfig with a named time zone.
type JSONConfig struct {
	IgnoreNull           bool             `yaml:"ignore_null"`
	IgnoreUndefinedField bool             `yaml:"ignore_undefined_field"`
	QuoteKeys            bool             `yaml:"quote_keys"`
	EnumAsObject         bool             `yaml:"enum_as_object"`
	TypeHint             bool             `yaml:"type_hint"`
	KeyFormat            schema.KeyFormat `yaml:"key_format"`
	DateTimeFormat       string           `yaml:"datetime_format"`
	DateFormat           string           `yaml:"date_format"`
	TimeFormat           string           `yaml:"time_format"`
	Location             string           `yaml:"location"`
	Indent               string           `yaml:"indent"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	j := codec.DefaultJSONConfig()
	return &Config{
		Server: ServerConfig{
			Listen:          ":9090",
			ShutdownTimeout: 5 * time.Second,
			RateBurst:       100,
			Weight:          10,
			Version:         "1.0",
		},
		Client: ClientConfig{
			Codec:      codec.CodecTypeBinary,
			PoolSize:   4,
			Balancer:   loadbalance.NameRoundRobin,
			Timeout:    5 * time.Second,
			Retries:    2,
			RetryDelay: 50 * time.Millisecond,
		},
		Registry: RegistryConfig{
			Type:        "etcd",
			Endpoints:   []string{"127.0.0.1:2379"},
			TTL:         10 * time.Second,
			DialTimeout: 5 * time.Second,
		},
		JSON: JSONConfig{
			IgnoreNull:           j.IgnoreNull,
			IgnoreUndefinedField: j.IgnoreUndefinedField,
			QuoteKeys:            j.QuoteKeys,
			EnumAsObject:         j.EnumAsObject,
			TypeHint:             j.TypeHint,
			KeyFormat:            j.KeyFormat,
			DateTimeFormat:       j.DateTimeFormat,
			DateFormat:           j.DateFormat,
			TimeFormat:           j.TimeFormat,
			Location:             "UTC",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file named by GRAPHRPC_CONFIG, or returns Default when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates the file at path. Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be at least 1 when rate_limit is set"))
	}

	if c.Client.PoolSize < 1 {
		errs = append(errs, errors.New("client.pool_size must be at least 1"))
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		errs = append(errs, fmt.Errorf("client.balancer: %w", err))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}

	switch c.Registry.Type {
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = append(errs, errors.New("registry.endpoints is required for etcd"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("registry.type: unknown registry %q", c.Registry.Type))
	}
	if c.Registry.TTL < time.Second {
		errs = append(errs, errors.New("registry.ttl must be at least 1s"))
	}

	if _, err := c.JSON.Codec(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Codec converts the section to the codec's configuration.
func (j JSONConfig) Codec() (codec.JSONConfig, error) {
	loc, err := time.LoadLocation(j.Location)
	if err != nil {
		return codec.JSONConfig{}, fmt.Errorf("json.location: %w", err)
	}
	return codec.JSONConfig{
		IgnoreNull:           j.IgnoreNull,
		IgnoreUndefinedField: j.IgnoreUndefinedField,
		QuoteKeys:            j.QuoteKeys,
		EnumAsObject:         j.EnumAsObject,
		TypeHint:             j.TypeHint,
		KeyFormat:            j.KeyFormat,
		DateTimeFormat:       j.DateTimeFormat,
		DateFormat:           j.DateFormat,
		TimeFormat:           j.TimeFormat,
		Location:             loc,
		Indent:               j.Indent,
	}, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
