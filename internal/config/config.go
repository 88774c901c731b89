// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the user's home
// directory when --config is not given.
const DefaultFileName = ".qrlive.yaml"

// Duration wraps time.Duration so YAML values can be written as "5s",
// "2m30s", etc.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete qrlive configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	QR        QRConfig        `yaml:"qr"`
	Time      TimeConfig      `yaml:"time"`
	Chain     ChainConfig     `yaml:"chain"`
	Identity  IdentityConfig  `yaml:"identity"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	TLS       TLSConfig       `yaml:"tls"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// QRConfig controls emission cadence and QR rendering
type QRConfig struct {
	UpdateInterval  Duration `yaml:"update_interval"`
	ErrorCorrection string   `yaml:"error_correction"` // L, M, Q, H
	Scale           int      `yaml:"scale"`
	Border          int      `yaml:"border"`
}

// TimeConfig controls NTP attestation
type TimeConfig struct {
	Servers      []string `yaml:"servers"`
	QueryTimeout Duration `yaml:"query_timeout"`
	CacheTTL     Duration `yaml:"cache_ttl"`
	MaxDrift     Duration `yaml:"max_drift"`
}

// ChainConfig controls blockchain anchoring
type ChainConfig struct {
	Chains           []string `yaml:"chains"` // bitcoin, ethereum
	BitcoinEndpoints []string `yaml:"bitcoin_endpoints,omitempty"`
	EthereumRPC      string   `yaml:"ethereum_rpc,omitempty"`
	CacheTTL         Duration `yaml:"cache_ttl"`
}

// IdentityConfig controls the broadcaster fingerprint
type IdentityConfig struct {
	File   string            `yaml:"identity_file,omitempty"`
	Custom map[string]string `yaml:"custom,omitempty"`
}

// CryptoConfig controls the per-emission protection layers
type CryptoConfig struct {
	Sign            bool     `yaml:"sign"`
	Encrypt         bool     `yaml:"encrypt"`
	SigningKeyID    string   `yaml:"signing_key_id,omitempty"`
	SensitiveFields []string `yaml:"sensitive_fields,omitempty"`
}

// StorageConfig controls the keystore backend
type StorageConfig struct {
	Backend string `yaml:"backend"` // file, memory
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig controls authentication for the web API
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // none, apikey, jwt

	// API Key authentication
	APIKeys map[string]APIKeyConfig `yaml:"api_keys,omitempty"` // key -> config mapping

	// JWT authentication
	JWT *JWTConfig `yaml:"jwt,omitempty"`
}

// APIKeyConfig represents an API key and its associated identity
type APIKeyConfig struct {
	Subject string   `yaml:"subject"`
	Roles   []string `yaml:"roles,omitempty"`
}

// JWTConfig controls JWT bearer authentication (HS256)
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

// RateLimitConfig controls per-client rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		QR: QRConfig{
			UpdateInterval:  Duration(5 * time.Second),
			ErrorCorrection: "M",
			Scale:           8,
			Border:          4,
		},
		Time: TimeConfig{
			QueryTimeout: Duration(5 * time.Second),
			CacheTTL:     Duration(60 * time.Second),
			MaxDrift:     Duration(5 * time.Minute),
		},
		Chain: ChainConfig{
			Chains:   []string{"bitcoin", "ethereum"},
			CacheTTL: Duration(5 * time.Minute),
		},
		Crypto: CryptoConfig{
			Sign: true,
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    defaultDataDir(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 120,
			Burst:          30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qrlive"
	}
	return filepath.Join(home, ".qrlive")
}

// DefaultPath returns the default config file location (~/.qrlive.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the file at path if it exists, otherwise returns
// the defaults. Environment overrides apply either way. An empty path
// means the default location.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("QRLIVE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portEnv := os.Getenv("QRLIVE_PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			log.Printf("Warning: invalid QRLIVE_PORT value %q, using default %d: %v",
				portEnv, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid QRLIVE_PORT value %q (out of range 1-65535), using default %d",
				portEnv, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if interval := os.Getenv("QRLIVE_UPDATE_INTERVAL"); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil || parsed <= 0 {
			log.Printf("Warning: invalid QRLIVE_UPDATE_INTERVAL value %q, using default %s",
				interval, cfg.QR.UpdateInterval)
		} else {
			cfg.QR.UpdateInterval = Duration(parsed)
		}
	}

	// Logging
	if level := os.Getenv("QRLIVE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("QRLIVE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Storage
	if dataDir := os.Getenv("QRLIVE_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}

	// Attestation sources
	if servers := os.Getenv("QRLIVE_TIME_SERVERS"); servers != "" {
		cfg.Time.Servers = splitList(servers)
	}
	if chains := os.Getenv("QRLIVE_CHAINS"); chains != "" {
		cfg.Chain.Chains = splitList(chains)
	}
	if rpc := os.Getenv("QRLIVE_ETHEREUM_RPC"); rpc != "" {
		cfg.Chain.EthereumRPC = rpc
	}

	// Crypto
	if keyID := os.Getenv("QRLIVE_SIGNING_KEY_ID"); keyID != "" {
		cfg.Crypto.SigningKeyID = keyID
	}

	// Secrets belong in the environment, not on disk.
	if secret := os.Getenv("QRLIVE_JWT_SECRET"); secret != "" {
		if cfg.Auth.JWT == nil {
			cfg.Auth.JWT = &JWTConfig{}
		}
		cfg.Auth.JWT.Secret = secret
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.QR.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive: %s", c.QR.UpdateInterval)
	}
	switch strings.ToUpper(c.QR.ErrorCorrection) {
	case "L", "M", "Q", "H":
	default:
		return fmt.Errorf("invalid error_correction: %s (must be L, M, Q, or H)", c.QR.ErrorCorrection)
	}
	if c.QR.Scale < 1 {
		return fmt.Errorf("qr scale must be at least 1: %d", c.QR.Scale)
	}
	if c.QR.Border < 0 {
		return fmt.Errorf("qr border must not be negative: %d", c.QR.Border)
	}

	for _, chain := range c.Chain.Chains {
		switch chain {
		case "bitcoin", "ethereum":
		default:
			return fmt.Errorf("unsupported chain: %s (must be bitcoin or ethereum)", chain)
		}
	}

	if c.Time.MaxDrift <= 0 {
		return fmt.Errorf("time max_drift must be positive: %s", c.Time.MaxDrift)
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	// Validate TLS settings
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	// Validate storage
	switch c.Storage.Backend {
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the file backend")
		}
	case "memory":
	case "":
		return fmt.Errorf("storage backend must be specified")
	default:
		return fmt.Errorf("unknown storage backend: %s (must be file or memory)", c.Storage.Backend)
	}

	// Validate auth
	if c.Auth.Enabled {
		switch c.Auth.Type {
		case "none", "noop", "":
		case "apikey":
			if len(c.Auth.APIKeys) == 0 {
				return fmt.Errorf("auth type apikey requires at least one api_keys entry")
			}
		case "jwt":
			if c.Auth.JWT == nil || c.Auth.JWT.Secret == "" {
				return fmt.Errorf("auth type jwt requires a secret (config or QRLIVE_JWT_SECRET)")
			}
		default:
			return fmt.Errorf("unknown auth type: %s", c.Auth.Type)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("ratelimit requests_per_min must be at least 1: %d", c.RateLimit.RequestsPerMin)
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics path must be specified when metrics are enabled")
	}

	return nil
}
