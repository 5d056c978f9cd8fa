// File: internal/storage/factory.go
package storage

import (
	"context"
	"strings"

	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// SupportedTypes lists the accepted storage.type values
var SupportedTypes = []string{"file", "sqlite", "postgres", "postgresql", "leveldb"}

// NewStore creates a store instance based on configuration
func NewStore(ctx context.Context, cfg *config.StorageConfig, crawlID string) (Store, error) {
	if cfg == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Storage configuration is required", "")
	}
	if cfg.ConnectionString == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", cfg.Type)
	}

	switch strings.ToLower(cfg.Type) {
	case "", "file":
		return NewFileStore(ctx, cfg.ConnectionString, crawlID, cfg.BatchSize)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg, crawlID)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(ctx, cfg, crawlID)
	case "leveldb":
		return NewLevelDBStore(ctx, cfg.ConnectionString, crawlID, cfg.BatchSize)
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			"Supported types: "+strings.Join(SupportedTypes, ", "))
	}
}
