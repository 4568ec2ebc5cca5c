package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"rentsync/internal/auth"
)

// Config represents the global ~/.rentsync/config.toml.
type Config struct {
	// APIBase is the REST endpoint, e.g. "https://api.example.com".
	APIBase string `toml:"api_base"`
	// WSBase is the realtime endpoint, e.g. "wss://api.example.com".
	WSBase string `toml:"ws_base"`
	// UserID identifies the local account.
	UserID string `toml:"user_id"`
	// Token is the bearer credential. TokenFile points at a file to read
	// it from instead; it takes precedence when both are set.
	Token     string `toml:"token,omitempty"`
	TokenFile string `toml:"token_file,omitempty"`

	DefaultProfile string `toml:"default_profile,omitempty"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("api_base is required")
	}
	if c.WSBase == "" {
		return fmt.Errorf("ws_base is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// TokenProvider returns the credential source the config describes.
func (c *Config) TokenProvider() auth.TokenProvider {
	if c.TokenFile != "" {
		return &auth.FileProvider{Path: c.TokenFile}
	}
	return auth.Static(c.Token)
}
