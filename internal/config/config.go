// Package config loads the static server configuration from YAML and
// the runtime provider/export settings from a .env file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static application configuration.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		UploadDir string `yaml:"upload_dir"`
		HistoryDB string `yaml:"history_db"`
	} `yaml:"storage"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`

	Pipeline struct {
		QueueSize           int `yaml:"queue_size"`
		PingIntervalSeconds int `yaml:"ping_interval_seconds"`
		SessionGraceMinutes int `yaml:"session_grace_minutes"`
		SessionMaxAgeHours  int `yaml:"session_max_age_hours"`
	} `yaml:"pipeline"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads the YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied, used when no
// config file exists.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "temp/uploads"
	}
	if c.Storage.HistoryDB == "" {
		c.Storage.HistoryDB = "data/history.db"
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 2048
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 256
	}
	if c.Pipeline.PingIntervalSeconds == 0 {
		c.Pipeline.PingIntervalSeconds = 30
	}
	if c.Pipeline.SessionGraceMinutes == 0 {
		c.Pipeline.SessionGraceMinutes = 10
	}
	if c.Pipeline.SessionMaxAgeHours == 0 {
		c.Pipeline.SessionMaxAgeHours = 12
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 24
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// PingInterval returns the keep-alive interval for progress streams.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Pipeline.PingIntervalSeconds) * time.Second
}

// SessionGrace is how long a finished session without a subscriber is
// kept before reclamation.
func (c *Config) SessionGrace() time.Duration {
	return time.Duration(c.Pipeline.SessionGraceMinutes) * time.Minute
}

// SessionMaxAge bounds the lifetime of any session.
func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.Pipeline.SessionMaxAgeHours) * time.Hour
}

// CleanupInterval is how often stale uploads are swept.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

// CleanupMaxAge is the age beyond which an upload counts as stale.
func (c *Config) CleanupMaxAge() time.Duration {
	return time.Duration(c.Cleanup.MaxAgeHours) * time.Hour
}
