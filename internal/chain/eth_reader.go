package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/connection"
	"github.com/smartdevs17/rsk-call-crawler/internal/metrics"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// EthReader implements Reader over a go-ethereum JSON-RPC client
type EthReader struct {
	connectionManager connection.Manager
	limiter           *rate.Limiter
	logger            *logrus.Entry
	metricsManager    *metrics.Manager
}

// NewEthReader creates a reader that obtains its client from the connection manager
func NewEthReader(connectionManager connection.Manager, cfg *config.RPCConfig) *EthReader {
	limit := rate.Inf
	burst := 1
	if cfg != nil && cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if cfg.RateBurst > 0 {
			burst = cfg.RateBurst
		}
	}

	return &EthReader{
		connectionManager: connectionManager,
		limiter:           rate.NewLimiter(limit, burst),
		logger:            utils.ComponentLogger("chain_reader"),
	}
}

// SetMetricsManager attaches a metrics manager
func (r *EthReader) SetMetricsManager(m *metrics.Manager) {
	r.metricsManager = m
}

// LatestBlockHeight returns the node's head block number
func (r *EthReader) LatestBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := r.call(ctx, "eth_blockNumber", func(client *ethclient.Client) error {
		var err error
		height, err = client.BlockNumber(ctx)
		return err
	})
	return height, err
}

// BlockTimestamp returns the header timestamp of a block
func (r *EthReader) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	var header *types.Header
	err := r.call(ctx, "eth_getBlockByNumber", func(client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		return err
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return 0, NewNotFoundError(blockNumber)
		}
		return 0, err
	}
	return header.Time, nil
}

// TransactionsTo fetches the full block and keeps the transactions sent to address
func (r *EthReader) TransactionsTo(ctx context.Context, address common.Address, blockNumber uint64) ([]*models.Transaction, error) {
	var block *types.Block
	err := r.call(ctx, "eth_getBlockByNumber", func(client *ethclient.Client) error {
		var err error
		block, err = client.BlockByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		return err
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, NewNotFoundError(blockNumber)
		}
		return nil, err
	}

	var matches []*models.Transaction
	for _, tx := range block.Transactions() {
		// contract creations have no destination
		if tx.To() == nil || *tx.To() != address {
			continue
		}

		// recovered from the signature, no RPC
		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"block":   blockNumber,
				"tx_hash": tx.Hash().Hex(),
			}).WithError(err).Warn("Failed to recover transaction sender")
			return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to recover transaction sender", err)
		}

		matches = append(matches, &models.Transaction{
			Hash:        tx.Hash(),
			From:        from,
			To:          *tx.To(),
			Data:        tx.Data(),
			BlockNumber: blockNumber,
		})
	}

	r.logger.WithFields(logrus.Fields{
		"block":   blockNumber,
		"address": address.Hex(),
		"total":   len(block.Transactions()),
		"matched": len(matches),
	}).Debug("Filtered block transactions")

	return matches, nil
}

// call paces, times and classifies one node request
func (r *EthReader) call(ctx context.Context, method string, fn func(client *ethclient.Client) error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return NewTransportError(method, err)
	}

	client, err := r.connectionManager.GetClientWithContext(ctx)
	if err != nil {
		return NewTransportError(method, err)
	}

	start := time.Now()
	err = fn(client)

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ethereum.NotFound):
		status = "not_found"
	default:
		status = "error"
	}

	if r.metricsManager != nil {
		prom := r.metricsManager.GetPrometheusMetrics()
		prom.RecordRPCRequest(method, status, time.Since(start))
		if status == "error" {
			prom.RecordConnectionError(r.connectionManager.CurrentURL(), "rpc_call_failed")
		}
	}

	if err != nil && status == "error" {
		r.logger.WithField("method", method).WithError(err).Error("RPC request failed")
		return NewTransportError(method, err)
	}
	return err
}
