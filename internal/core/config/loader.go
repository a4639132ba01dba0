package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/permaroam/roamer/internal/discovery/queue"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = "https://arweave.net"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 15 * time.Second
	}
	if cfg.Queue.WindowSpan == 0 {
		cfg.Queue = queue.DefaultConfig
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "pebble"
	}
	if cfg.Storage.Pebble.Dir == "" {
		cfg.Storage.Pebble.Dir = "data"
	}

	return &cfg, nil
}
