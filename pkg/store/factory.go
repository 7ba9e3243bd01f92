package store

import (
	"fmt"
	"strings"

	"github.com/doclayer/doclayer/pkg/config"
	"github.com/doclayer/doclayer/pkg/observability/logger"
	"github.com/doclayer/doclayer/pkg/store/mongodb"
)

// Cosa fa: inizializza l'adapter MongoDB in base alla config.
// Cosa NON fa: non gestisce fallback tra provider diversi.
// Esempio minimo: adp, err := store.NewStorageAdapter(cfg.Mongo, log)
func NewStorageAdapter(cfg config.MongoConfig, log logger.Logger) (*mongodb.Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("mongo.url is required")
	}
	return mongodb.NewAdapter(mongodb.Config{
		URL:              cfg.URL,
		Database:         cfg.Database,
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
}
