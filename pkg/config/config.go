// Package config loads the document access layer configuration with
// precedence ENV > file > defaults.
package config

import "time"

// Bus type constants
const (
	// BusTypeMemory delivers lifecycle events in-process only
	BusTypeMemory = "memory"
	// BusTypeRedis fans lifecycle events out across instances via Redis
	BusTypeRedis = "redis"
)

// Config is the root configuration structure for the document access layer.
type Config struct {
	Service ServiceConfig
	Log     LogConfig
	Mongo   MongoConfig
	Bus     BusConfig
	Store   StoreConfig
}

// ServiceConfig identifies the embedding service.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MongoConfig configures the MongoDB connection.
type MongoConfig struct {
	URL              string        `mapstructure:"url"`
	Database         string        `mapstructure:"database"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// BusConfig selects the lifecycle bus backend.
type BusConfig struct {
	Type             string        `mapstructure:"type"`
	RedisURL         string        `mapstructure:"redis_url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// StoreConfig carries document service defaults.
type StoreConfig struct {
	DefaultPageSize int64  `mapstructure:"default_page_size"`
	CreatedChannel  string `mapstructure:"created_channel"`
	UpdatedChannel  string `mapstructure:"updated_channel"`
	DeletedChannel  string `mapstructure:"deleted_channel"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "doclayer",
			Environment: "development",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Mongo: MongoConfig{
			ConnectTimeout:   5 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Bus: BusConfig{
			Type:             BusTypeMemory,
			Prefix:           "lifecycle:bus",
			OperationTimeout: 3 * time.Second,
		},
		Store: StoreConfig{
			DefaultPageSize: 0,
			CreatedChannel:  "CREATED",
			UpdatedChannel:  "PATCH",
			DeletedChannel:  "DELETED",
		},
	}
}
