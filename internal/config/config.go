// Package config loads the cisessiond daemon configuration from a YAML
// file, the same defaults-then-unmarshal pattern the console-server daemon
// this project grew out of used for its own config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Resources []ResourceEntry `yaml:"resources"`
}

// TransportConfig describes the byte stream the session layer multiplexes
// SPDUs onto.
type TransportConfig struct {
	Network     string        `yaml:"network"`      // "tcp" or "unix"
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SessionsConfig sizes the session table. IovecLimit is checked to lie in
// 1..9 when loading, but nothing passes it on to the session layer:
// session.Layer.SendDataV always accepts up to 9 segments.
type SessionsConfig struct {
	MaxSessions int `yaml:"max_sessions"`
	IovecLimit  int `yaml:"iovec_limit"`
}

// HTTPConfig configures the observability surface.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures where and how verbosely the daemon logs.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// ResourceEntry statically registers a resource the daemon should answer
// OpenSessionReq for, by class:type:version.
type ResourceEntry struct {
	Name    string `yaml:"name"`
	Class   uint16 `yaml:"class"`
	Type    uint16 `yaml:"type"`
	Version uint16 `yaml:"version"`
}

// Load reads and validates a Config from path, applying defaults before
// unmarshalling so a config file only needs to override what it cares
// about.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{
		Transport: TransportConfig{
			Network:     "tcp",
			Address:     ":9221",
			DialTimeout: 10 * time.Second,
		},
		Sessions: SessionsConfig{
			MaxSessions: 16,
			IovecLimit:  9,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Path:  "/data/logs/cisessiond.log",
			Level: "info",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Sessions.MaxSessions <= 0 {
		return nil, fmt.Errorf("config: sessions.max_sessions must be positive, got %d", cfg.Sessions.MaxSessions)
	}
	if cfg.Sessions.IovecLimit <= 0 || cfg.Sessions.IovecLimit > 9 {
		return nil, fmt.Errorf("config: sessions.iovec_limit must be in 1..9, got %d", cfg.Sessions.IovecLimit)
	}

	return cfg, nil
}
