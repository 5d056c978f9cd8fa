package storage

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// NewPostgreSQLStore connects to PostgreSQL and prepares the crawl tables
func NewPostgreSQLStore(ctx context.Context, cfg *config.StorageConfig, crawlID string) (Store, error) {
	logger := utils.ComponentLogger("postgres")

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err)
	}

	// Configure connection pool
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	if err := runMigrations(ctx, db, GetPostgresMigrations(), logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("PostgreSQL database connected")

	backend := &sqlBackend{
		db:      db,
		driver:  "postgres",
		crawlID: crawlID,
		logger:  logger,
		rebind:  func(query string) string { return query },
		insert:  postgresCopyCalls,
	}
	return newBufferedStore(ctx, backend, crawlID, cfg.BatchSize)
}

// postgresCopyCalls streams the batch with COPY inside the flush transaction
func postgresCopyCalls(ctx context.Context, tx *sql.Tx, crawlID string, calls []*models.ContractFunctionCall) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("function_calls", callColumns...))
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to prepare COPY statement", err)
	}
	defer stmt.Close()

	for _, call := range calls {
		row, err := callRow(crawlID, call)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to add call to COPY", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to execute COPY", err)
	}
	return nil
}
