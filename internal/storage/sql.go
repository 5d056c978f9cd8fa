package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// callInserter writes a batch of calls inside an open transaction
type callInserter func(ctx context.Context, tx *sql.Tx, crawlID string, calls []*models.ContractFunctionCall) error

// sqlBackend is the append-only relational layout shared by SQLite and PostgreSQL
type sqlBackend struct {
	db      *sql.DB
	driver  string
	crawlID string
	logger  *logrus.Entry

	// rebind converts $N placeholders to the driver's syntax
	rebind func(query string) string
	insert callInserter
}

func (b *sqlBackend) name() string { return b.driver }

func (b *sqlBackend) load(ctx context.Context) (persistedState, error) {
	state := persistedState{cursor: models.NoBlock}

	row := b.db.QueryRowContext(ctx,
		b.rebind(`SELECT last_crawled_block FROM crawl_state WHERE crawl_id = $1`), b.crawlID)
	switch err := row.Scan(&state.cursor); {
	case errors.Is(err, sql.ErrNoRows):
		state.cursor = models.NoBlock
	case err != nil:
		return persistedState{}, utils.WrapError(utils.ErrCodeDatabase, "Failed to read crawl cursor", err)
	}

	row = b.db.QueryRowContext(ctx,
		b.rebind(`SELECT COUNT(*) FROM function_calls WHERE crawl_id = $1`), b.crawlID)
	if err := row.Scan(&state.count); err != nil {
		return persistedState{}, utils.WrapError(utils.ErrCodeDatabase, "Failed to count calls", err)
	}

	return state, nil
}

func (b *sqlBackend) persist(ctx context.Context, cursor int64, calls []*models.ContractFunctionCall) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	if len(calls) > 0 {
		if err := b.insert(ctx, tx, b.crawlID, calls); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO crawl_state (crawl_id, last_crawled_block, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (crawl_id) DO UPDATE SET
			last_crawled_block = EXCLUDED.last_crawled_block,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.ExecContext(ctx, b.rebind(query), b.crawlID, cursor); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to save crawl cursor", err)
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to commit transaction", err)
	}

	b.logger.WithField("count", len(calls)).Debug("Saved calls batch")
	return nil
}

func (b *sqlBackend) query(ctx context.Context, filter models.CallFilter, limit int) ([]*models.ContractFunctionCall, error) {
	query := `
		SELECT block_number, block_timestamp, transaction_hash, contract_address,
		       caller_address, function_name, function_args
		FROM function_calls WHERE crawl_id = $1
	`
	args := []interface{}{b.crawlID}
	argIndex := 2

	if filter.ContractAddress != nil {
		query += fmt.Sprintf(" AND LOWER(contract_address) = $%d", argIndex)
		args = append(args, strings.ToLower(*filter.ContractAddress))
		argIndex++
	}

	if filter.FunctionName != nil {
		query += fmt.Sprintf(" AND function_name = $%d", argIndex)
		args = append(args, *filter.FunctionName)
		argIndex++
	}

	if filter.FromBlock != nil {
		query += fmt.Sprintf(" AND block_number >= $%d", argIndex)
		args = append(args, int64(*filter.FromBlock))
		argIndex++
	}

	if filter.ToBlock != nil {
		query += fmt.Sprintf(" AND block_number <= $%d", argIndex)
		args = append(args, int64(*filter.ToBlock))
		argIndex++
	}

	query += " ORDER BY id ASC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query calls", err)
	}
	defer rows.Close()

	var calls []*models.ContractFunctionCall
	for rows.Next() {
		var (
			call        models.ContractFunctionCall
			blockNumber int64
			timestamp   int64
			argsJSON    []byte
		)
		if err := rows.Scan(&blockNumber, &timestamp, &call.TransactionHash, &call.ContractAddress,
			&call.CallerAddress, &call.FunctionName, &argsJSON); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan call", err)
		}
		if err := decodeJSON(argsJSON, &call.FunctionArgs); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to unmarshal call arguments", err)
		}
		call.BlockNumber = uint64(blockNumber)
		call.BlockTimestamp = uint64(timestamp)
		calls = append(calls, &call)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to iterate calls", err)
	}

	return calls, nil
}

func (b *sqlBackend) close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.logger.Info("Database connection closed")
	return err
}

// callRow flattens a call into column order
func callRow(crawlID string, call *models.ContractFunctionCall) ([]interface{}, error) {
	argsJSON, err := json.Marshal(call.FunctionArgs)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to marshal call arguments", err)
	}
	return []interface{}{
		crawlID,
		int64(call.BlockNumber),
		int64(call.BlockTimestamp),
		call.TransactionHash,
		call.ContractAddress,
		call.CallerAddress,
		call.FunctionName,
		string(argsJSON),
	}, nil
}

var callColumns = []string{
	"crawl_id", "block_number", "block_timestamp", "transaction_hash",
	"contract_address", "caller_address", "function_name", "function_args",
}
