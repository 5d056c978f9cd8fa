package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string `db:"version"`
	Description string `db:"description"`
	SQL         string `db:"sql"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create crawl_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS crawl_state (
					crawl_id TEXT PRIMARY KEY,
					last_crawled_block INTEGER NOT NULL DEFAULT -1,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create function_calls table",
			SQL: `
				CREATE TABLE IF NOT EXISTS function_calls (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					crawl_id TEXT NOT NULL,
					block_number INTEGER NOT NULL,
					block_timestamp INTEGER NOT NULL,
					transaction_hash TEXT NOT NULL,
					contract_address TEXT NOT NULL,
					caller_address TEXT NOT NULL,
					function_name TEXT NOT NULL,
					function_args TEXT NOT NULL, -- JSON
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_function_calls_crawl ON function_calls(crawl_id, id);
				CREATE INDEX IF NOT EXISTS idx_function_calls_block ON function_calls(crawl_id, block_number);
				CREATE INDEX IF NOT EXISTS idx_function_calls_contract ON function_calls(contract_address);
				CREATE INDEX IF NOT EXISTS idx_function_calls_function ON function_calls(function_name);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create crawl_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS crawl_state (
					crawl_id VARCHAR(128) PRIMARY KEY,
					last_crawled_block BIGINT NOT NULL DEFAULT -1,
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create function_calls table",
			SQL: `
				CREATE TABLE IF NOT EXISTS function_calls (
					id BIGSERIAL PRIMARY KEY,
					crawl_id VARCHAR(128) NOT NULL,
					block_number BIGINT NOT NULL,
					block_timestamp BIGINT NOT NULL,
					transaction_hash VARCHAR(66) NOT NULL,
					contract_address VARCHAR(42) NOT NULL,
					caller_address VARCHAR(42) NOT NULL,
					function_name VARCHAR(255) NOT NULL,
					function_args JSONB NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_function_calls_crawl ON function_calls(crawl_id, id);
				CREATE INDEX IF NOT EXISTS idx_function_calls_block ON function_calls(crawl_id, block_number);
				CREATE INDEX IF NOT EXISTS idx_function_calls_contract ON function_calls(LOWER(contract_address));
				CREATE INDEX IF NOT EXISTS idx_function_calls_function ON function_calls(function_name);
			`,
		},
	}
}

// runMigrations applies every migration in order; all scripts are idempotent
func runMigrations(ctx context.Context, db *sql.DB, migrations []*Migration, logger *logrus.Entry) error {
	for _, migration := range migrations {
		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := db.ExecContext(ctx, migration.SQL); err != nil {
			return utils.WrapError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err)
		}
	}
	return nil
}
