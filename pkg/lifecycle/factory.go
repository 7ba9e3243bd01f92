package lifecycle

import (
	"fmt"

	"github.com/doclayer/doclayer/pkg/config"
)

// NewBus selects the bus backend from configuration: in-process delivery for
// the memory type, Redis pub/sub for the redis type.
func NewBus(cfg config.BusConfig) (Bus, error) {
	switch cfg.Type {
	case "", config.BusTypeMemory:
		return NewInMemoryBus(), nil
	case config.BusTypeRedis:
		return NewRedisBus(RedisBusConfig{
			URL:              cfg.RedisURL,
			Prefix:           cfg.Prefix,
			OperationTimeout: cfg.OperationTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported bus.type %q (supported: %s, %s)", cfg.Type, config.BusTypeMemory, config.BusTypeRedis)
	}
}
