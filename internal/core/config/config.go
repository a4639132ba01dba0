package config

import (
	"github.com/permaroam/roamer/internal/discovery/queue"
	"github.com/permaroam/roamer/internal/infra/gateway"
	pebblestore "github.com/permaroam/roamer/internal/infra/storage/pebble"
	postgresstore "github.com/permaroam/roamer/internal/infra/storage/postgres"
	redisstore "github.com/permaroam/roamer/internal/infra/storage/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server  ServerConfig   `yaml:"server"`
	Gateway gateway.Config `yaml:"gateway"`
	Queue   queue.Config   `yaml:"queue"`
	Storage StorageConfig  `yaml:"storage"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StorageConfig selects the KV backend for persisted navigation state.
type StorageConfig struct {
	Backend  string               `yaml:"backend"` // memory, pebble, redis, postgres
	Redis    redisstore.Config    `yaml:"redis"`
	Postgres postgresstore.Config `yaml:"postgres"`
	Pebble   pebblestore.Config   `yaml:"pebble"`
}
