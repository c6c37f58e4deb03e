// Package config loads the tacplus-client configuration from an optional TOML
// file and TACPLUS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/vitalvas/tacplus"
)

// EnvPrefix prefixes every environment variable, e.g. TACPLUS_SERVER and
// TACPLUS_MAX_BODY_LENGTH. Unprefixed variables such as USER are ignored.
const EnvPrefix = "TACPLUS"

// Config holds the client settings.
type Config struct {
	// Server is the TACACS+ server as host:port.
	Server string `toml:"server"`
	Secret string `toml:"secret"`

	Timeout       time.Duration `toml:"timeout"`
	SingleConnect bool          `toml:"single_connect" split_words:"true"`
	Unencrypted   bool          `toml:"unencrypted"`
	MaxBodyLength uint32        `toml:"max_body_length" split_words:"true"`

	TLS           bool   `toml:"tls"`
	TLSServerName string `toml:"tls_server_name" split_words:"true"`
	Insecure      bool   `toml:"insecure"`

	// BreakerFailures trips the dial circuit breaker after that many
	// consecutive dial failures. Zero disables the breaker.
	BreakerFailures uint32        `toml:"breaker_failures" split_words:"true"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown" split_words:"true"`

	// DialRate limits new connections per second. Zero means no limit.
	DialRate  float64 `toml:"dial_rate" split_words:"true"`
	DialBurst int     `toml:"dial_burst" split_words:"true"`

	User       string `toml:"user"`
	Port       string `toml:"port"`
	RemoteAddr string `toml:"remote_addr" split_words:"true"`
	PrivLevel  uint8  `toml:"priv_level" split_words:"true"`

	LogLevel  string `toml:"log_level" split_words:"true"`
	LogFormat string `toml:"log_format" split_words:"true"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server:          net.JoinHostPort("localhost", fmt.Sprint(tacplus.DefaultPort)),
		Timeout:         30 * time.Second,
		MaxBodyLength:   tacplus.DefaultMaxBodyLength,
		BreakerCooldown: 30 * time.Second,
		DialBurst:       1,
		Port:            "tty0",
		PrivLevel:       tacplus.PrivLvlUser,
		LogLevel:        "warn",
		LogFormat:       "text",
	}
}

// Load returns the defaults overridden by the TOML file at path, when path is
// not empty, and then by the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings needed to talk to a server.
func (c *Config) Validate() error {
	var errs []error

	if c.Server == "" {
		errs = append(errs, errors.New("server is required"))
	} else if _, _, err := net.SplitHostPort(c.Server); err != nil {
		errs = append(errs, fmt.Errorf("server %q: %w", c.Server, err))
	}

	if c.Secret == "" && !c.Unencrypted {
		errs = append(errs, errors.New("secret is required unless unencrypted is set"))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}

	if c.PrivLevel > tacplus.PrivLvlMax {
		errs = append(errs, fmt.Errorf("priv_level must be 0-%d, got %d", tacplus.PrivLvlMax, c.PrivLevel))
	}

	if c.DialRate < 0 {
		errs = append(errs, fmt.Errorf("dial_rate must not be negative, got %v", c.DialRate))
	}

	if c.DialRate > 0 && c.DialBurst < 1 {
		errs = append(errs, fmt.Errorf("dial_burst must be at least 1, got %d", c.DialBurst))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}
