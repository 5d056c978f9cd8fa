// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// NewSQLiteStore opens the SQLite database named by cfg.ConnectionString
func NewSQLiteStore(ctx context.Context, cfg *config.StorageConfig, crawlID string) (Store, error) {
	logger := utils.ComponentLogger("sqlite").WithField("path", cfg.ConnectionString)

	// Ensure directory exists
	dir := filepath.Dir(cfg.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.ConnectionString)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err)
	}

	if err := runMigrations(ctx, db, GetSQLiteMigrations(), logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite database connected")

	backend := &sqlBackend{
		db:      db,
		driver:  "sqlite",
		crawlID: crawlID,
		logger:  logger,
		rebind:  sqliteRebind,
		insert:  sqliteInsertCalls,
	}
	return newBufferedStore(ctx, backend, crawlID, cfg.BatchSize)
}

// sqliteRebind converts numbered parameters to ? for SQLite
func sqliteRebind(query string) string {
	n := strings.Count(query, "$")
	for i := n; i >= 1; i-- {
		query = strings.Replace(query, fmt.Sprintf("$%d", i), "?", 1)
	}
	return query
}

func sqliteInsertCalls(ctx context.Context, tx *sql.Tx, crawlID string, calls []*models.ContractFunctionCall) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(callColumns)), ", ")
	query := fmt.Sprintf("INSERT INTO function_calls (%s) VALUES (%s)",
		strings.Join(callColumns, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to prepare insert statement", err)
	}
	defer stmt.Close()

	for _, call := range calls {
		row, err := callRow(crawlID, call)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			utils.ComponentLogger("sqlite").WithFields(logrus.Fields{
				"tx_hash": call.TransactionHash,
				"block":   call.BlockNumber,
			}).WithError(err).Error("Failed to insert call")
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to save call", err)
		}
	}
	return nil
}
