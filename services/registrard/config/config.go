package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"caregistrar/crypto"
	"caregistrar/native/names"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "REGISTRARD_"

// DefaultOracleTimeout bounds each upstream quote request. Quotes are fetched
// while the registrar write lock is held, so this also caps how long one slow
// source can stall other writers.
const DefaultOracleTimeout = 2 * time.Second

// Duration wraps time.Duration to support YAML, TOML and environment values.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText is used by the TOML decoder and by environment overrides.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for registrard.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen" env:"LISTEN"`
	Environment   string          `yaml:"environment" toml:"environment" env:"ENV"`
	DNS           DNSConfig       `yaml:"dns" toml:"dns" envPrefix:"DNS_"`
	Store         StoreConfig     `yaml:"store" toml:"store" envPrefix:"STORE_"`
	Journal       JournalConfig   `yaml:"journal" toml:"journal" envPrefix:"JOURNAL_"`
	Oracle        OracleConfig    `yaml:"oracle" toml:"oracle" envPrefix:"ORACLE_"`
	Pricing       PricingConfig   `yaml:"pricing" toml:"pricing" envPrefix:"PRICING_"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Bootstrap     BootstrapConfig `yaml:"bootstrap" toml:"bootstrap" envPrefix:"BOOTSTRAP_"`
	Custody       CustodyConfig   `yaml:"custody" toml:"custody" envPrefix:"CUSTODY_"`
	Telemetry     TelemetryConfig `yaml:"telemetry" toml:"telemetry" envPrefix:"TELEMETRY_"`
	Log           LogConfig       `yaml:"log" toml:"log" envPrefix:"LOG_"`
}

// DNSConfig enables the TXT resolver. An empty listen address disables it.
type DNSConfig struct {
	Listen string   `yaml:"listen" toml:"listen" env:"LISTEN"`
	Zone   string   `yaml:"zone" toml:"zone" env:"ZONE"`
	TTL    Duration `yaml:"ttl" toml:"ttl" env:"TTL"`
}

// StoreConfig selects the key-value backend holding registry state.
type StoreConfig struct {
	Backend string `yaml:"backend" toml:"backend" env:"BACKEND"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

// JournalConfig selects the SQL database receiving committed events.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" toml:"dsn" env:"DSN"`
}

// OracleConfig describes where quotes come from and how fresh they must be.
type OracleConfig struct {
	FeedID  string   `yaml:"feed_id" toml:"feed_id" env:"FEED_ID"`
	MaxAge  Duration `yaml:"max_age" toml:"max_age" env:"MAX_AGE"`
	Timeout Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	Sources []Source `yaml:"sources" toml:"sources"`
}

// Source describes an upstream price feed. Sources are consulted in order.
type Source struct {
	Name     string `yaml:"name" toml:"name"`
	Type     string `yaml:"type" toml:"type"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Price    int64  `yaml:"price" toml:"price"`
	Exponent int32  `yaml:"exponent" toml:"exponent"`
}

// PricingConfig tunes fee conversion.
type PricingConfig struct {
	NativeBaseUnits uint64 `yaml:"native_base_units" toml:"native_base_units" env:"NATIVE_BASE_UNITS"`
}

// AuthConfig controls bearer token verification on mutating routes.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret" toml:"hmac_secret" env:"SECRET"`
	Issuer     string   `yaml:"issuer" toml:"issuer" env:"ISSUER"`
	Audience   string   `yaml:"audience" toml:"audience" env:"AUDIENCE"`
	ClockSkew  Duration `yaml:"clock_skew" toml:"clock_skew" env:"CLOCK_SKEW"`
}

// RateLimitConfig bounds per-client request rates on mutating routes.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute" env:"RPM"`
	Burst             int `yaml:"burst" toml:"burst" env:"BURST"`
}

// BootstrapConfig initialises the registry on first start.
type BootstrapConfig struct {
	Authority         string   `yaml:"authority" toml:"authority" env:"AUTHORITY"`
	BasePriceUSDCents uint64   `yaml:"base_price_usd_cents" toml:"base_price_usd_cents" env:"BASE_PRICE_USD_CENTS"`
	GracePeriod       Duration `yaml:"grace_period" toml:"grace_period" env:"GRACE_PERIOD"`
}

// CustodyConfig names the account collecting registration fees.
type CustodyConfig struct {
	Vault string `yaml:"vault" toml:"vault" env:"VAULT"`
}

// TelemetryConfig mirrors the OTLP exporter settings.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure" toml:"insecure" env:"INSECURE"`
	Traces      bool    `yaml:"traces" toml:"traces" env:"TRACES"`
	Metrics     bool    `yaml:"metrics" toml:"metrics" env:"METRICS"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level" env:"LEVEL"`
	File       string `yaml:"file" toml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups" env:"MAX_BACKUPS"`
}

// Load reads configuration from the supplied path, applies REGISTRARD_*
// environment overrides and fills defaults. Files ending in .toml are decoded
// as TOML, everything else as YAML. An empty path yields a config built from
// defaults and the environment alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// IsDevEnvironment reports whether env names a development deployment. Static
// price sources stamp quotes with the current time and never go stale, so
// they are confined to these.
func IsDevEnvironment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.DNS.Zone == "" {
		cfg.DNS.Zone = "ca."
	}
	if !strings.HasSuffix(cfg.DNS.Zone, ".") {
		cfg.DNS.Zone += "."
	}
	if cfg.DNS.TTL.Duration == 0 {
		cfg.DNS.TTL.Duration = time.Minute
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" {
		cfg.Journal.DSN = "file::memory:?cache=shared"
	}
	if cfg.Oracle.FeedID == "" {
		cfg.Oracle.FeedID = names.DefaultFeedID
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = names.DefaultMaxQuoteAge
	}
	if cfg.Oracle.Timeout.Duration == 0 {
		cfg.Oracle.Timeout.Duration = DefaultOracleTimeout
	}
	for i := range cfg.Oracle.Sources {
		src := &cfg.Oracle.Sources[i]
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		if src.Name == "" {
			src.Name = src.Type
		}
	}
	if cfg.Pricing.NativeBaseUnits == 0 {
		cfg.Pricing.NativeBaseUnits = names.DefaultNativeBaseUnits
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
}

func validate(cfg Config) error {
	switch cfg.Store.Backend {
	case "memory":
	case "leveldb", "bolt":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return fmt.Errorf("store.path is required for backend %q", cfg.Store.Backend)
		}
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Journal.DSN) == "" {
			return fmt.Errorf("journal.dsn is required for driver %q", cfg.Journal.Driver)
		}
	default:
		return fmt.Errorf("unsupported journal driver %q", cfg.Journal.Driver)
	}
	if len(cfg.Oracle.Sources) == 0 {
		return fmt.Errorf("at least one oracle source must be configured")
	}
	for _, src := range cfg.Oracle.Sources {
		switch src.Type {
		case "hermes", "pyth":
			if strings.TrimSpace(src.Endpoint) == "" {
				return fmt.Errorf("oracle source %s: endpoint required", src.Name)
			}
		case "static":
			if !IsDevEnvironment(cfg.Environment) {
				return fmt.Errorf("oracle source %s: static prices are only allowed in dev environments, not %q", src.Name, cfg.Environment)
			}
			if src.Price <= 0 {
				return fmt.Errorf("oracle source %s: price must be positive", src.Name)
			}
		default:
			return fmt.Errorf("oracle source %s: unsupported type %q", src.Name, src.Type)
		}
	}
	if cfg.Oracle.MaxAge.Duration < 0 {
		return fmt.Errorf("oracle.max_age must not be negative")
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmac_secret is required")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if cfg.Bootstrap.Authority != "" {
		if _, err := crypto.ParseIdentity(cfg.Bootstrap.Authority); err != nil {
			return fmt.Errorf("bootstrap.authority: %w", err)
		}
	}
	if cfg.Bootstrap.GracePeriod.Duration < 0 {
		return fmt.Errorf("bootstrap.grace_period must not be negative")
	}
	if cfg.Custody.Vault != "" {
		if _, err := crypto.ParseIdentity(cfg.Custody.Vault); err != nil {
			return fmt.Errorf("custody.vault: %w", err)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// VaultIdentity returns the configured fee vault. When unset the vault is
// derived deterministically from the module name so that fees never land in
// a user account.
func (c Config) VaultIdentity() [20]byte {
	if c.Custody.Vault != "" {
		if raw, err := crypto.ParseIdentity(c.Custody.Vault); err == nil {
			return raw
		}
	}
	return ModuleVault()
}

// ModuleVault is the default fee vault identity.
func ModuleVault() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("module/"+names.ModuleName+"/vault"))[12:])
	return out
}
