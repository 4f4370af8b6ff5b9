// Package config provides configuration loading and validation for
// rdnsloop.
//
// Configuration is loaded with the following priority (highest to
// lowest):
//  1. Environment variables (RDNSLOOP_* prefix)
//  2. YAML config file (if specified with --config)
//  3. Hardcoded defaults
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and
// config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// RDNSLOOP_UPSTREAM_SERVERS -> upstream.servers, etc.
	v.SetEnvPrefix("RDNSLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("resolver.dnssec", false)
	v.SetDefault("resolver.max_ioc_uses", 4096)
	v.SetDefault("resolver.rescan_interval", "30s")

	v.SetDefault("upstream.servers", []string{"8.8.8.8", "1.1.1.1"})
	v.SetDefault("upstream.io_count", 4)
	v.SetDefault("upstream.timeout", "3s")
	v.SetDefault("upstream.max_retries", 3)

	v.SetDefault("store.dsn", "file:rdnsloop.db?cache=shared")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	v.SetDefault("diag.enabled", false)
	v.SetDefault("diag.host", "127.0.0.1")
	v.SetDefault("diag.port", 8853)
	v.SetDefault("diag.api_key", "")
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadResolverConfig(v, cfg)
	loadUpstreamConfig(v, cfg)
	loadStoreConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadDiagConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadResolverConfig(v *viper.Viper, cfg *Config) {
	cfg.Resolver.DNSSEC = v.GetBool("resolver.dnssec")
	cfg.Resolver.MaxIOCUses = v.GetInt("resolver.max_ioc_uses")
	cfg.Resolver.RescanInterval = v.GetString("resolver.rescan_interval")
}

func loadUpstreamConfig(v *viper.Viper, cfg *Config) {
	cfg.Upstream.Servers = parseServerList(v.GetStringSlice("upstream.servers"))
	if len(cfg.Upstream.Servers) == 0 {
		// An env override arrives as a single comma-separated string
		// rather than a real slice.
		if s := v.GetString("upstream.servers"); s != "" {
			cfg.Upstream.Servers = parseServerList(strings.Split(s, ","))
		}
	}
	cfg.Upstream.IOCount = v.GetInt("upstream.io_count")
	cfg.Upstream.Timeout = v.GetString("upstream.timeout")
	cfg.Upstream.MaxRetries = v.GetInt("upstream.max_retries")
}

func loadStoreConfig(v *viper.Viper, cfg *Config) {
	cfg.Store.DSN = v.GetString("store.dsn")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadDiagConfig(v *viper.Viper, cfg *Config) {
	cfg.Diag.Enabled = v.GetBool("diag.enabled")
	cfg.Diag.Host = v.GetString("diag.host")
	cfg.Diag.Port = v.GetInt("diag.port")
	cfg.Diag.APIKey = v.GetString("diag.api_key")
}

// parseServerList cleans up a list of upstream server addresses,
// stripping a port suffix since the resolver always dials port 53.
func parseServerList(servers []string) []string {
	result := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if h, _, ok := strings.Cut(s, ":"); ok {
			s = h
		}
		result = append(result, s)
	}
	return result
}

func normalizeConfig(cfg *Config) error {
	if len(cfg.Upstream.Servers) == 0 {
		cfg.Upstream.Servers = []string{"8.8.8.8"}
	}
	if cfg.Upstream.IOCount <= 0 {
		cfg.Upstream.IOCount = 4
	}
	if cfg.Upstream.MaxRetries <= 0 {
		cfg.Upstream.MaxRetries = 1
	}

	if cfg.Resolver.MaxIOCUses <= 0 {
		cfg.Resolver.MaxIOCUses = 4096
	}
	if cfg.Resolver.RescanInterval == "" {
		cfg.Resolver.RescanInterval = "30s"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.Diag.Host == "" {
		cfg.Diag.Host = "127.0.0.1"
	}
	if cfg.Diag.Enabled {
		if cfg.Diag.Port <= 0 || cfg.Diag.Port > 65535 {
			return errors.New("diag.port must be 1..65535")
		}
	}

	return nil
}
