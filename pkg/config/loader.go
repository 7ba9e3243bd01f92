package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader.
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "DOCLAYER")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	v.BindEnv("log.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("log.format", l.prefixedEnv("LOG_FORMAT"))

	v.BindEnv("mongo.url", l.prefixedEnv("MONGO_URL"))
	v.BindEnv("mongo.database", l.prefixedEnv("MONGO_DATABASE"))
	v.BindEnv("mongo.connect_timeout", l.prefixedEnv("MONGO_CONNECT_TIMEOUT"))
	v.BindEnv("mongo.operation_timeout", l.prefixedEnv("MONGO_OPERATION_TIMEOUT"))

	v.BindEnv("bus.type", l.prefixedEnv("BUS_TYPE"))
	v.BindEnv("bus.redis_url", l.prefixedEnv("BUS_REDIS_URL"))
	v.BindEnv("bus.prefix", l.prefixedEnv("BUS_PREFIX"))
	v.BindEnv("bus.operation_timeout", l.prefixedEnv("BUS_OPERATION_TIMEOUT"))

	v.BindEnv("store.default_page_size", l.prefixedEnv("STORE_DEFAULT_PAGE_SIZE"))
	v.BindEnv("store.created_channel", l.prefixedEnv("STORE_CREATED_CHANNEL"))
	v.BindEnv("store.updated_channel", l.prefixedEnv("STORE_UPDATED_CHANNEL"))
	v.BindEnv("store.deleted_channel", l.prefixedEnv("STORE_DELETED_CHANNEL"))
}

func (l *ViperLoader) prefixedEnv(name string) string {
	if l.envPrefix == "" {
		return name
	}
	return l.envPrefix + "_" + name
}

// setDefaults seeds viper with the default configuration values.
func (l *ViperLoader) setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.environment", d.Service.Environment)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("mongo.url", d.Mongo.URL)
	v.SetDefault("mongo.database", d.Mongo.Database)
	v.SetDefault("mongo.connect_timeout", d.Mongo.ConnectTimeout)
	v.SetDefault("mongo.operation_timeout", d.Mongo.OperationTimeout)

	v.SetDefault("bus.type", d.Bus.Type)
	v.SetDefault("bus.redis_url", d.Bus.RedisURL)
	v.SetDefault("bus.prefix", d.Bus.Prefix)
	v.SetDefault("bus.operation_timeout", d.Bus.OperationTimeout)

	v.SetDefault("store.default_page_size", d.Store.DefaultPageSize)
	v.SetDefault("store.created_channel", d.Store.CreatedChannel)
	v.SetDefault("store.updated_channel", d.Store.UpdatedChannel)
	v.SetDefault("store.deleted_channel", d.Store.DeletedChannel)
}

// Validate checks the loaded configuration for inconsistencies.
func (l *ViperLoader) Validate(cfg *Config) error {
	switch cfg.Bus.Type {
	case BusTypeMemory:
	case BusTypeRedis:
		if strings.TrimSpace(cfg.Bus.RedisURL) == "" {
			return fmt.Errorf("bus.redis_url is required when bus.type is %q", BusTypeRedis)
		}
	default:
		return fmt.Errorf("unknown bus.type %q", cfg.Bus.Type)
	}

	if cfg.Store.DefaultPageSize < 0 {
		return fmt.Errorf("store.default_page_size must not be negative")
	}

	if cfg.Mongo.URL != "" && cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required when mongo.url is set")
	}

	return nil
}
