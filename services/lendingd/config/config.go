package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	nativecommon "peerlend/native/common"
	"peerlend/services/lending/engine/rpcclient"
)

const (
	defaultListen         = ":8480"
	defaultRequestTimeout = 15 * time.Second
	defaultGenesisPath    = "genesis.toml"

	StorageMemory  = "memory"
	StorageLevelDB = "leveldb"
	StorageBolt    = "bolt"

	PoolSimulated = "simulated"
	PoolRPC       = "rpc"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress  string             `yaml:"listen"`
	MetricsListen  string             `yaml:"metrics_listen"`
	RequestTimeout time.Duration      `yaml:"request_timeout"`
	Genesis        string             `yaml:"genesis"`
	TLS            TLSConfig          `yaml:"tls"`
	Auth           AuthConfig         `yaml:"auth"`
	Storage        StorageConfig      `yaml:"storage"`
	Pool           PoolConfig         `yaml:"pool"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	Quota          nativecommon.Quota `yaml:"quota"`
	StartPaused    bool               `yaml:"start_paused"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the authenticators accepted by the service. Admin tokens
// unlock the market administration routes.
type AuthConfig struct {
	APITokens   []string       `yaml:"api_tokens"`
	AdminTokens []string       `yaml:"admin_tokens"`
	MTLS        MTLSAuthConfig `yaml:"mtls"`
}

// MTLSAuthConfig enumerates the allowed client certificate identities.
type MTLSAuthConfig struct {
	AllowedCommonNames []string `yaml:"allowed_common_names"`
}

// StorageConfig selects the key-value backend holding engine state.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// PoolConfig selects the underlying pool. The simulated pool is built from
// the genesis [[pool]] entries; the rpc pool talks JSON-RPC to RPC.BaseURL.
type PoolConfig struct {
	Mode string           `yaml:"mode"`
	RPC  rpcclient.Config `yaml:"rpc"`
}

// RateLimitConfig throttles each authenticated client. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
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

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.MetricsListen = strings.TrimSpace(cfg.MetricsListen)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	if cfg.Genesis == "" {
		cfg.Genesis = defaultGenesisPath
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Storage.normalize()
	cfg.Pool.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(cfg.TLS); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := cfg.Pool.validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
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
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.APITokens = trimAll(cfg.APITokens)
	cfg.AdminTokens = trimAll(cfg.AdminTokens)
	cfg.MTLS.AllowedCommonNames = trimAll(cfg.MTLS.AllowedCommonNames)
}

func (cfg AuthConfig) validate(tls TLSConfig) error {
	hasTokens := len(cfg.APITokens) > 0
	hasMTLS := len(cfg.MTLS.AllowedCommonNames) > 0
	if !hasTokens && !hasMTLS {
		return fmt.Errorf("at least one api token or mTLS common name must be configured")
	}
	if hasMTLS && strings.TrimSpace(tls.ClientCAPath) == "" {
		return fmt.Errorf("mtls.allowed_common_names requires tls.client_ca to be configured")
	}
	for _, admin := range cfg.AdminTokens {
		for _, token := range cfg.APITokens {
			if admin == token {
				return fmt.Errorf("admin token must not also be an api token")
			}
		}
	}
	return nil
}

func (cfg *StorageConfig) normalize() {
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = StorageMemory
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
}

func (cfg StorageConfig) validate() error {
	switch cfg.Backend {
	case StorageMemory:
		return nil
	case StorageLevelDB, StorageBolt:
		if cfg.Path == "" {
			return fmt.Errorf("path is required for the %s backend", cfg.Backend)
		}
		return nil
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (cfg *PoolConfig) normalize() {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = PoolSimulated
	}
	cfg.RPC.BaseURL = strings.TrimSpace(cfg.RPC.BaseURL)
}

func (cfg PoolConfig) validate() error {
	switch cfg.Mode {
	case PoolSimulated:
		return nil
	case PoolRPC:
		if cfg.RPC.BaseURL == "" {
			return fmt.Errorf("rpc.base_url is required in rpc mode")
		}
		return nil
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
