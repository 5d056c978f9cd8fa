// Package chain exposes the read-only view of the ledger the crawler needs.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// Reader is the read capability over the ledger used by the crawler.
//
// All methods block on the node. Failures are reported as transport errors
// (network, timeout, node error) or not-found errors (block not yet
// available); neither is retried here.
type Reader interface {
	// LatestBlockHeight returns the highest block known to the node.
	LatestBlockHeight(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the timestamp (seconds since epoch) of a block.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)

	// TransactionsTo returns, in block order, the transactions of a block
	// whose destination is address.
	TransactionsTo(ctx context.Context, address common.Address, blockNumber uint64) ([]*models.Transaction, error)
}

// NewNotFoundError reports a block the node does not have yet
func NewNotFoundError(blockNumber uint64) error {
	return utils.WrapError(utils.ErrCodeNotFound, "Block not found",
		fmt.Errorf("block %d: %w", blockNumber, ethereum.NotFound))
}

// NewTransportError reports a failed node request
func NewTransportError(method string, cause error) error {
	return utils.WrapError(utils.ErrCodeConnection, fmt.Sprintf("RPC %s failed", method), cause)
}

// IsNotFound reports whether err means the requested block is not available
func IsNotFound(err error) bool {
	return utils.HasCode(err, utils.ErrCodeNotFound) || errors.Is(err, ethereum.NotFound)
}

// IsTransport reports whether err is a failed node request
func IsTransport(err error) bool {
	return utils.HasCode(err, utils.ErrCodeConnection)
}
