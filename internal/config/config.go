package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoConfig    = errors.New("config file not found")
	ErrNoBaseURL   = errors.New("base_url not set in config")
	ErrInvalidYAML = errors.New("invalid config YAML")
	ErrInvalidMode = errors.New("mode must be \"manual\", \"auto\", \"all\", or \"single-html\"")
	ErrBadTimeout  = errors.New("request_timeout_seconds must be positive")
)

// Config holds the global mindweave configuration.
type Config struct {
	BaseURL               string   `yaml:"base_url"`
	DefaultModel          string   `yaml:"default_model"`
	ProjectPath           string   `yaml:"project_path"`
	SessionID             string   `yaml:"session_id"`
	Mode                  string   `yaml:"mode"`          // Conversation mode: "manual", "auto", "all", or "single-html"
	ContextFiles          []string `yaml:"context_files"` // Paths attached to every completion request
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
}

// RequestTimeout returns the non-streaming request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load reads the config from ~/.config/mindweave/config.yaml.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(homeDir, ".config", "mindweave", "config.yaml")
	return LoadFrom(configPath)
}

// LoadFrom reads the config from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ErrInvalidYAML
	}

	// Set defaults
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.Mode == "" {
		cfg.Mode = "manual"
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = 30
	}
	if cfg.RequestTimeoutSeconds < 0 {
		return nil, ErrBadTimeout
	}
	switch cfg.Mode {
	case "manual", "auto", "all", "single-html":
		// valid
	default:
		return nil, ErrInvalidMode
	}

	return &cfg, nil
}
