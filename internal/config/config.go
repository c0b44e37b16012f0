package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tracker TrackerConfig `yaml:"tracker"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

type TrackerConfig struct {
	// PollInterval balances responsiveness against OS-query overhead.
	PollInterval time.Duration `yaml:"poll_interval"`
	// IdleThreshold is the system idle duration at or above which a tick
	// classifies running sessions as idle.
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	// ProbeTimeout bounds each OS probe call; a timeout counts as a
	// probe failure.
	ProbeTimeout           time.Duration `yaml:"probe_timeout"`
	SnapshotInterval       time.Duration `yaml:"snapshot_interval"`
	BroadcastThrottle      time.Duration `yaml:"broadcast_throttle"`
	HealthWarningThreshold int           `yaml:"health_warning_threshold"`
}

type HistoryConfig struct {
	// Dir overrides the default XDG state directory for the history file.
	Dir          string        `yaml:"dir"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

type LogConfig struct {
	// File is the rotating log file path. Empty logs to stderr only.
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8972,
			Host: "127.0.0.1",
		},
		Tracker: TrackerConfig{
			PollInterval:           15 * time.Second,
			IdleThreshold:          60 * time.Second,
			ProbeTimeout:           3 * time.Second,
			SnapshotInterval:       30 * time.Second,
			BroadcastThrottle:      100 * time.Millisecond,
			HealthWarningThreshold: 3,
		},
		History: HistoryConfig{
			SaveInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, overlaying it on the defaults.
// A missing file is not an error: the defaults are returned so the daemon
// runs out of the box. Zero or negative durations in the file fall back
// to their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyFloors() {
	def := Default()
	if c.Tracker.PollInterval <= 0 {
		c.Tracker.PollInterval = def.Tracker.PollInterval
	}
	if c.Tracker.IdleThreshold <= 0 {
		c.Tracker.IdleThreshold = def.Tracker.IdleThreshold
	}
	if c.Tracker.ProbeTimeout <= 0 {
		c.Tracker.ProbeTimeout = def.Tracker.ProbeTimeout
	}
	if c.Tracker.SnapshotInterval <= 0 {
		c.Tracker.SnapshotInterval = def.Tracker.SnapshotInterval
	}
	if c.Tracker.BroadcastThrottle <= 0 {
		c.Tracker.BroadcastThrottle = def.Tracker.BroadcastThrottle
	}
	if c.Tracker.HealthWarningThreshold <= 0 {
		c.Tracker.HealthWarningThreshold = def.Tracker.HealthWarningThreshold
	}
	if c.History.SaveInterval <= 0 {
		c.History.SaveInterval = def.History.SaveInterval
	}
}
