// Package config provides configuration loading for rdnsloop using
// Viper. Configuration is loaded from a YAML file with automatic
// environment variable binding.
//
// Environment variables use the RDNSLOOP_ prefix and underscore-separated
// keys:
//   - RDNSLOOP_RESOLVER_DNSSEC -> resolver.dnssec
//   - RDNSLOOP_UPSTREAM_SERVERS -> upstream.servers (comma-separated)
//   - RDNSLOOP_LOGGING_LEVEL -> logging.level
package config

import (
	"os"
	"strings"
)

// ResolverConfig contains engine-level tuning knobs not tied to any
// one upstream.
type ResolverConfig struct {
	DNSSEC         bool   `yaml:"dnssec"            mapstructure:"dnssec"            json:"dnssec"`
	MaxIOCUses     int    `yaml:"max_ioc_uses"      mapstructure:"max_ioc_uses"      json:"max_ioc_uses"`
	RescanInterval string `yaml:"rescan_interval"   mapstructure:"rescan_interval"   json:"rescan_interval"`
}

// UpstreamConfig contains the resolver's upstream DNS server settings.
type UpstreamConfig struct {
	Servers     []string `yaml:"servers"      mapstructure:"servers"      json:"servers"`
	IOCount     int      `yaml:"io_count"      mapstructure:"io_count"      json:"io_count"`
	Timeout     string   `yaml:"timeout"       mapstructure:"timeout"       json:"timeout"`
	MaxRetries  int      `yaml:"max_retries"   mapstructure:"max_retries"   json:"max_retries"`
}

// StoreConfig points at the persistence layer backing the operator's
// configured server list and fake-reply fixtures.
type StoreConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn" json:"dsn"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// DiagConfig contains the read-only diagnostics HTTP surface settings.
//
// Note: APIKey is intentionally treated as a secret and should not be
// returned by any diagnostics endpoint.
type DiagConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"    json:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"    json:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key" json:"-"`
}

// Config is the root configuration structure.
type Config struct {
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Store    StoreConfig    `yaml:"store"    mapstructure:"store"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
	Diag     DiagConfig     `yaml:"diag"     mapstructure:"diag"`
}

// ResolveConfigPath determines the config file path from flag or
// environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("RDNSLOOP_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable
// overrides.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (RDNSLOOP_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
