// Package crawler walks block ranges and records decoded calls to watched contracts.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-call-crawler/internal/chain"
	"github.com/smartdevs17/rsk-call-crawler/internal/decoder"
	"github.com/smartdevs17/rsk-call-crawler/internal/metrics"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/internal/storage"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// Config is the per-crawl configuration: what to watch and how to read it
type Config struct {
	Addresses []common.Address
	Decoder   decoder.Decoder
}

// CrawlResult summarizes one Crawl or CatchUp invocation
type CrawlResult struct {
	From             uint64        `json:"from_block"`
	To               uint64        `json:"to_block"`
	BlocksScanned    uint64        `json:"blocks_scanned"`
	TransactionsSeen uint64        `json:"transactions_seen"`
	CallsRegistered  uint64        `json:"calls_registered"`
	DecodeFailures   uint64        `json:"decode_failures"`
	Duration         time.Duration `json:"duration"`
}

func (r *CrawlResult) add(other *CrawlResult) {
	if r.BlocksScanned == 0 {
		r.From = other.From
	}
	r.To = other.To
	r.BlocksScanned += other.BlocksScanned
	r.TransactionsSeen += other.TransactionsSeen
	r.CallsRegistered += other.CallsRegistered
	r.DecodeFailures += other.DecodeFailures
}

// Crawler is a stateless orchestrator; all durable state lives in the store
type Crawler struct {
	reader chain.Reader
	store  storage.Store
	config Config
	logger *logrus.Entry

	metricsManager *metrics.Manager
}

// NewCrawler creates a crawler over the given reader and store
func NewCrawler(reader chain.Reader, store storage.Store, cfg Config) (*Crawler, error) {
	if reader == nil || store == nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Reader and store are required", "")
	}
	if cfg.Decoder == nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Decoder is required", "")
	}
	if len(cfg.Addresses) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "At least one address is required", "")
	}

	return &Crawler{
		reader: reader,
		store:  store,
		config: cfg,
		logger: utils.ComponentLogger("crawler"),
	}, nil
}

// SetMetricsManager attaches a metrics manager
func (c *Crawler) SetMetricsManager(m *metrics.Manager) {
	c.metricsManager = m
}

// Store returns the store the crawler writes to
func (c *Crawler) Store() storage.Store {
	return c.store
}

// Crawl scans [from, to] in ascending block order, registering every decodable
// call to a watched address. Decode failures are logged and skipped; reader and
// store errors abort the crawl and discard everything registered since the
// last flush, so the store resumes from its durable cursor.
func (c *Crawler) Crawl(ctx context.Context, from, to uint64, flushOnCompletion bool) (*CrawlResult, error) {
	start := time.Now()
	result := &CrawlResult{From: from, To: to}

	if from > to {
		return result, utils.NewAppError(utils.ErrCodeValidation, "Invalid block range",
			fmt.Sprintf("from block %d is after to block %d", from, to))
	}

	head, err := c.reader.LatestBlockHeight(ctx)
	if err != nil {
		return result, err
	}
	if to > head {
		return result, chain.NewNotFoundError(to)
	}

	logger := c.logger.WithFields(logrus.Fields{"from": from, "to": to})
	logger.Info("Starting crawl")

	for block := from; block <= to; block++ {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("crawl interrupted before block %d: %w", block, err)
		}

		if err := c.crawlBlock(ctx, block, result); err != nil {
			// a half-scanned block must never reach the backend
			c.store.Discard()
			result.Duration = time.Since(start)
			return result, fmt.Errorf("block %d: %w", block, err)
		}

		// guards against overflow when to is the largest block number
		if block == to {
			break
		}
	}

	if flushOnCompletion {
		if err := c.store.Flush(ctx); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
	}

	result.Duration = time.Since(start)
	logger.WithFields(logrus.Fields{
		"blocks":          result.BlocksScanned,
		"transactions":    result.TransactionsSeen,
		"calls":           result.CallsRegistered,
		"decode_failures": result.DecodeFailures,
		"duration":        result.Duration,
	}).Info("Crawl completed")

	return result, nil
}

func (c *Crawler) crawlBlock(ctx context.Context, blockNumber uint64, result *CrawlResult) error {
	blockStart := time.Now()

	for _, address := range c.config.Addresses {
		txs, err := c.reader.TransactionsTo(ctx, address, blockNumber)
		if err != nil {
			return err
		}
		result.TransactionsSeen += uint64(len(txs))

		for _, tx := range txs {
			registered, err := c.processTransaction(ctx, tx)
			if err != nil {
				return err
			}
			if registered {
				result.CallsRegistered++
			} else {
				result.DecodeFailures++
			}
		}

		if c.metricsManager != nil {
			c.metricsManager.GetPrometheusMetrics().RecordTransactionsSeen(len(txs))
		}
	}

	c.store.AdvanceCursor(blockNumber)
	result.BlocksScanned++

	if c.metricsManager != nil {
		prom := c.metricsManager.GetPrometheusMetrics()
		prom.RecordBlockCrawled(time.Since(blockStart))
		prom.UpdateLatestCrawledBlock(c.store.LastCrawledBlock())
	}
	return nil
}

// processTransaction decodes and registers one transaction. It reports false
// when the payload could not be decoded.
func (c *Crawler) processTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	decoded, err := c.config.Decoder.Decode(tx.Data)
	if err != nil {
		var decodeErr *decoder.DecodeError
		if !errors.As(err, &decodeErr) {
			return false, err
		}

		c.logger.WithFields(logrus.Fields{
			"tx_hash":  tx.Hash.Hex(),
			"block":    tx.BlockNumber,
			"contract": tx.To.Hex(),
			"selector": decodeErr.Selector,
			"reason":   decodeErr.Reason,
		}).WithError(err).Warn("Skipping undecodable transaction")

		if c.metricsManager != nil {
			c.metricsManager.GetPrometheusMetrics().RecordDecodeFailure(tx.To.Hex(), decodeErr.Reason)
		}
		return false, nil
	}

	timestamp, err := c.reader.BlockTimestamp(ctx, tx.BlockNumber)
	if err != nil {
		return false, err
	}

	call := &models.ContractFunctionCall{
		BlockNumber:     tx.BlockNumber,
		BlockTimestamp:  timestamp,
		TransactionHash: tx.Hash.Hex(),
		ContractAddress: tx.To.Hex(),
		CallerAddress:   tx.From.Hex(),
		FunctionName:    decoded.FunctionName,
		FunctionArgs:    decoded.Args,
	}
	if err := c.store.RegisterCall(ctx, call); err != nil {
		return false, err
	}

	c.logger.WithFields(logrus.Fields{
		"tx_hash":  call.TransactionHash,
		"block":    call.BlockNumber,
		"function": call.FunctionName,
	}).Debug("Registered call")

	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().RecordCallRegistered(call.ContractAddress, call.FunctionName)
	}
	return true, nil
}
