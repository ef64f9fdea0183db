// Package config loads application configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the recitation server.
type Config struct {
	ListenAddr         string        `yaml:"listen_addr"`
	DatabasePath       string        `yaml:"database_path"`
	LibraryDir         string        `yaml:"library_dir"`
	APIBaseURL         string        `yaml:"api_base_url"`
	UnmeteredOnly      bool          `yaml:"unmetered_only"`
	MinStorageHeadroom int64         `yaml:"min_storage_headroom"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		DatabasePath:       "./alfurqan.db",
		LibraryDir:         "./library",
		APIBaseURL:         "https://api.alquran.cloud/v1",
		MinStorageHeadroom: 100 * 1024 * 1024, // 100MB
		FetchTimeout:       30 * time.Second,
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	DatabasePath       string `yaml:"database_path"`
	LibraryDir         string `yaml:"library_dir"`
	APIBaseURL         string `yaml:"api_base_url"`
	UnmeteredOnly      bool   `yaml:"unmetered_only"`
	MinStorageHeadroom int64  `yaml:"min_storage_headroom"`
	FetchTimeout       string `yaml:"fetch_timeout"`
}

// LoadFromFile loads configuration from a YAML file, starting from
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.ListenAddr != "" {
		cfg.ListenAddr = yc.ListenAddr
	}
	if yc.DatabasePath != "" {
		cfg.DatabasePath = yc.DatabasePath
	}
	if yc.LibraryDir != "" {
		cfg.LibraryDir = yc.LibraryDir
	}
	if yc.APIBaseURL != "" {
		cfg.APIBaseURL = yc.APIBaseURL
	}
	cfg.UnmeteredOnly = yc.UnmeteredOnly
	if yc.MinStorageHeadroom != 0 {
		cfg.MinStorageHeadroom = yc.MinStorageHeadroom
	}
	if yc.FetchTimeout != "" {
		d, err := time.ParseDuration(yc.FetchTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse fetch_timeout: %w", err)
		}
		cfg.FetchTimeout = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ALFURQAN_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ALFURQAN_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ALFURQAN_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("ALFURQAN_LIBRARY_DIR"); v != "" {
		c.LibraryDir = v
	}
	if v := os.Getenv("ALFURQAN_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("ALFURQAN_UNMETERED_ONLY"); v != "" {
		c.UnmeteredOnly = v == "true" || v == "1"
	}
	if v := os.Getenv("ALFURQAN_MIN_STORAGE_HEADROOM"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse ALFURQAN_MIN_STORAGE_HEADROOM: %w", err)
		}
		c.MinStorageHeadroom = n
	}
	if v := os.Getenv("ALFURQAN_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ALFURQAN_FETCH_TIMEOUT: %w", err)
		}
		c.FetchTimeout = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if c.DatabasePath == "" {
		return errors.New("config: database_path is required")
	}
	if c.LibraryDir == "" {
		return errors.New("config: library_dir is required")
	}
	if c.MinStorageHeadroom < 0 {
		return errors.New("config: min_storage_headroom must not be negative")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("config: fetch_timeout must be positive")
	}
	return nil
}
