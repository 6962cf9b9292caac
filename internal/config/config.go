// Package config loads tmachat client configuration from a yaml file
// with environment variable overrides (TMACHAT_*).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"tmachat/pkg/logging"
)

const (
	userConfigDir  = ".config/tmachat"
	configFileName = "config.yaml"
)

// Config is the client configuration.
type Config struct {
	// APIHost is the base URL of the chat backend.
	APIHost string `yaml:"api_host" env:"TMACHAT_API_HOST"`

	// AuthScheme selects how the identity assertion is transmitted on
	// the exchange call: "body" (JSON field) or "header"
	// (Authorization with the platform scheme).
	AuthScheme string `yaml:"auth_scheme" env:"TMACHAT_AUTH_SCHEME"`

	// Timeout bounds auth and business network calls.
	Timeout time.Duration `yaml:"timeout" env:"TMACHAT_TIMEOUT"`

	// RetryOnNetworkError enables the gateway's optional recovery path
	// for transport errors with no response. Defaults to off: the
	// behavior is a hardening layer, not part of the core contract.
	RetryOnNetworkError bool `yaml:"retry_on_network_error" env:"TMACHAT_RETRY_ON_NETWORK_ERROR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AuthScheme: "body",
		Timeout:    30 * time.Second,
	}
}

// DefaultConfigPath returns the default configuration directory.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Load reads config.yaml from configPath (a directory), applies
// environment overrides, and validates the result. A missing file is
// not an error; defaults plus environment apply.
func Load(ctx context.Context, configPath string) (Config, error) {
	cfg := Default()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("Config", "No config.yaml at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Debug("Config", "Loaded configuration from %s", configFilePath)
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("error applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validation errors.
var (
	ErrMissingAPIHost    = errors.New("api_host is required (set it in config.yaml or TMACHAT_API_HOST)")
	ErrInvalidAuthScheme = errors.New(`auth_scheme must be "body" or "header"`)
)

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.APIHost == "" {
		return ErrMissingAPIHost
	}
	if c.AuthScheme != "body" && c.AuthScheme != "header" {
		return ErrInvalidAuthScheme
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
