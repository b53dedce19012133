// Package config loads the three recognized configuration shapes for this
// module's binaries (spec.md §6): the NTS-KE server, the NTP server, and the
// client CLI. All three layer configuration the same way viper does it for
// the rest of this corpus: environment variables, then a config file, then
// built-in defaults, unmarshalled through mapstructure with a duration
// decode hook and validated with go-playground/validator struct tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// KeServerConfig configures the NTS-KE listener (spec.md §4.5, §6).
type KeServerConfig struct {
	// Addr is the list of "host:port" endpoints to bind for NTS-KE (TLS).
	Addr []string `mapstructure:"addr" validate:"required,min=1" yaml:"addr"`

	TLSCertFile string `mapstructure:"tls_cert_file" validate:"required" yaml:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file" validate:"required" yaml:"tls_key_file"`

	// CookieKeyFile holds the master secret used to HMAC-wrap cookie
	// encryption keys fetched from the shared store (spec.md §4.3).
	CookieKeyFile string `mapstructure:"cookie_key_file" validate:"required" yaml:"cookie_key_file"`

	// MemcURL is the memcache server list backing the key-value store.
	MemcURL []string `mapstructure:"memc_url" validate:"required,min=1" yaml:"memc_url"`

	// NextPort is advertised to clients as the NTP server's port (RFC 8915
	// §4.1.7).
	NextPort uint16 `mapstructure:"next_port" validate:"required" yaml:"next_port"`

	ConnTimeout time.Duration `mapstructure:"conn_timeout" yaml:"conn_timeout"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// NtpServerConfig configures the NTS-authenticated NTP listener (spec.md
// §4.7, §6).
type NtpServerConfig struct {
	Addr []string `mapstructure:"addr" validate:"required,min=1" yaml:"addr"`

	CookieKeyFile string   `mapstructure:"cookie_key_file" validate:"required" yaml:"cookie_key_file"`
	MemcURL       []string `mapstructure:"memc_url" validate:"required,min=1" yaml:"memc_url"`

	// UpstreamAddr, if set, is a plain-NTP reference server this server
	// disciplines its own advertised state from (spec.md §4.8).
	UpstreamAddr string `mapstructure:"upstream_addr" yaml:"upstream_addr"`
	UpstreamPort int    `mapstructure:"upstream_port" yaml:"upstream_port"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// ClientConfig configures a single NTS query run (spec.md §4.9, §6).
type ClientConfig struct {
	Host string `mapstructure:"host" validate:"required" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// CertFile, if set, is a PEM trust anchor used instead of the system
	// root pool (useful for test servers with a private CA).
	CertFile string `mapstructure:"cert" yaml:"cert"`

	IPv4Only bool `mapstructure:"ipv4" yaml:"ipv4"`
	IPv6Only bool `mapstructure:"ipv6" yaml:"ipv6"`
}

var validate = validator.New()

// LoadKeServerConfig loads and validates an NTS-KE server configuration from
// configPath (or the environment/defaults if empty).
func LoadKeServerConfig(configPath string) (*KeServerConfig, error) {
	cfg := &KeServerConfig{
		NextPort:    123,
		ConnTimeout: 30 * time.Second,
	}
	v := newViper("NTS_KE", configPath)
	if err := readAndUnmarshal(v, configPath, cfg); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid nts-ke-server configuration: %w", err)
	}
	return cfg, nil
}

// LoadNtpServerConfig loads and validates an NTP server configuration.
func LoadNtpServerConfig(configPath string) (*NtpServerConfig, error) {
	cfg := &NtpServerConfig{}
	v := newViper("NTS_NTP", configPath)
	if err := readAndUnmarshal(v, configPath, cfg); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid ntp-server configuration: %w", err)
	}
	return cfg, nil
}

// LoadClientConfig loads and validates a client configuration. Unlike the
// server configs, callers typically build one directly from CLI flags
// instead of calling this; it exists for parity and for config-file-driven
// invocations.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	cfg := &ClientConfig{Port: 4460}
	v := newViper("NTS_CLIENT", configPath)
	if err := readAndUnmarshal(v, configPath, cfg); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid client configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig marshals cfg to YAML, respecting its yaml tags, and writes it to
// path with owner-only permissions. Used by operators to seed a starting
// config file from a loaded (and thus defaulted/validated) struct, mirroring
// dittofs's own SaveConfig helper.
func SaveConfig(cfg interface{}, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// newViper configures a viper instance the way the rest of this corpus does:
// envPrefix_FIELD_NAME overrides, then an explicit config file if given.
func newViper(envPrefix string, configPath string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return v
}

// readAndUnmarshal reads configPath, if non-empty, and unmarshals into cfg.
// A missing config file is not an error: env vars and the struct's
// zero-value defaults still apply.
func readAndUnmarshal(v *viper.Viper, configPath string, cfg interface{}) error {
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return fmt.Errorf("config: read config file: %w", err)
			}
		}
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	return nil
}

// durationDecodeHook parses time.Duration fields from strings like "30s",
// mirroring the numeric-or-string leniency viper users expect from YAML and
// environment variable input alike.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
