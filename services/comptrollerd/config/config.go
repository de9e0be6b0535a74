package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen           = ":8087"
	defaultDataDir          = "data/comptroller"
	defaultStablecoinSymbol = "VAI"
	defaultBlockInterval    = 5 * time.Second
	defaultOracleMaxAge     = 600
	defaultHealthInterval   = 2 * time.Second
)

// Config captures the runtime settings for the comptroller daemon.
type Config struct {
	ListenAddress string `yaml:"listen"`
	// GRPCListenAddress serves grpc.health.v1; empty disables it.
	GRPCListenAddress string          `yaml:"grpc_listen"`
	HealthInterval    time.Duration   `yaml:"health_interval"`
	DataDir           string          `yaml:"data_dir"`
	IndexerDSN        string          `yaml:"indexer_dsn"`
	RiskConfigPath    string          `yaml:"risk_config"`
	EngineAddress     string          `yaml:"engine_address"`
	StablecoinSymbol  string          `yaml:"stablecoin_symbol"`
	OracleMaxAge      uint64          `yaml:"oracle_max_age_blocks"`
	BlockInterval     time.Duration   `yaml:"block_interval"`
	TLS               TLSConfig       `yaml:"tls"`
	Auth              AuthConfig      `yaml:"auth"`
	RateLimits        RateLimitConfig `yaml:"rate_limits"`
	Logging           LoggingConfig   `yaml:"logging"`
	Telemetry         TelemetryConfig `yaml:"telemetry"`
}

// TLSConfig describes the certificate pair for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig enables HMAC-signed bearer tokens on mutating routes.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

type RateLimitConfig struct {
	Write RateLimit `yaml:"write"`
	Admin RateLimit `yaml:"admin"`
}

// RateLimit is a token bucket. A zero rate disables the limit.
type RateLimit struct {
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	Tokens        map[string]int `yaml:"tokens"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Metrics     bool              `yaml:"metrics"`
	Traces      bool              `yaml:"traces"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// Default returns the settings used when a field is left empty.
func Default() Config {
	return Config{
		ListenAddress:    defaultListen,
		DataDir:          defaultDataDir,
		StablecoinSymbol: defaultStablecoinSymbol,
		OracleMaxAge:     defaultOracleMaxAge,
		BlockInterval:    defaultBlockInterval,
		HealthInterval:   defaultHealthInterval,
		Logging:          LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML configuration from disk, applies COMPTROLLERD_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"COMPTROLLERD_LISTEN", &cfg.ListenAddress},
		{"COMPTROLLERD_GRPC_LISTEN", &cfg.GRPCListenAddress},
		{"COMPTROLLERD_DATA_DIR", &cfg.DataDir},
		{"COMPTROLLERD_INDEXER_DSN", &cfg.IndexerDSN},
		{"COMPTROLLERD_RISK_CONFIG", &cfg.RiskConfigPath},
		{"COMPTROLLERD_HMAC_SECRET", &cfg.Auth.HMACSecret},
		{"COMPTROLLERD_LOG_LEVEL", &cfg.Logging.Level},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint},
	}
	for _, item := range strs {
		if value, ok := lookup(item.key); ok && strings.TrimSpace(value) != "" {
			*item.dst = value
		}
	}
	if value, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Telemetry.Insecure = parsed
	}
	return nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.GRPCListenAddress = strings.TrimSpace(cfg.GRPCListenAddress)
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.IndexerDSN = strings.TrimSpace(cfg.IndexerDSN)
	cfg.RiskConfigPath = strings.TrimSpace(cfg.RiskConfigPath)
	cfg.EngineAddress = strings.TrimSpace(cfg.EngineAddress)
	cfg.StablecoinSymbol = strings.ToUpper(strings.TrimSpace(cfg.StablecoinSymbol))
	if cfg.StablecoinSymbol == "" {
		cfg.StablecoinSymbol = defaultStablecoinSymbol
	}
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = defaultBlockInterval
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.EngineAddress == "" {
		return fmt.Errorf("engine_address required")
	}
	if !common.IsHexAddress(cfg.EngineAddress) {
		return fmt.Errorf("engine_address: invalid address %q", cfg.EngineAddress)
	}
	if cfg.GRPCListenAddress != "" && cfg.GRPCListenAddress == cfg.ListenAddress {
		return fmt.Errorf("grpc_listen must differ from listen")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required when auth is enabled")
	}
	for name, limit := range map[string]RateLimit{"write": cfg.RateLimits.Write, "admin": cfg.RateLimits.Admin} {
		if limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: values must not be negative", name)
		}
		if limit.RatePerSecond > 0 && limit.Burst == 0 {
			return fmt.Errorf("rate_limits.%s: burst required when rate is set", name)
		}
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether TLS material is configured.
func (cfg TLSConfig) Enabled() bool { return cfg.CertPath != "" }

// Engine returns the parsed engine account address.
func (cfg Config) Engine() common.Address { return common.HexToAddress(cfg.EngineAddress) }
