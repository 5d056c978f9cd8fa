package main

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rsk-call-crawler/internal/chain"
	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/crawler"
	"github.com/smartdevs17/rsk-call-crawler/internal/decoder"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/internal/storage"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

const tokenABI = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var (
	tokenA = common.HexToAddress("0xAAAaAAAaaaaaaAAAaAaaaaAaAAAAAaAAAaaAaaAA")
	tokenB = common.HexToAddress("0xCCcCCCCCcCCCcccCCCCCcCCCcCcccCCcCCcCCCCc")
	holder = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// chainStub serves a fixed set of transactions and can fail one address in one block
type chainStub struct {
	head     uint64
	txs      []*models.Transaction
	failTo   common.Address
	failAt   uint64
	failWith error
}

func (c *chainStub) LatestBlockHeight(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *chainStub) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	return 1_700_000_000 + blockNumber, nil
}

func (c *chainStub) TransactionsTo(ctx context.Context, address common.Address, blockNumber uint64) ([]*models.Transaction, error) {
	if c.failWith != nil && address == c.failTo && blockNumber == c.failAt {
		return nil, c.failWith
	}
	var out []*models.Transaction
	for _, tx := range c.txs {
		if tx.To == address && tx.BlockNumber == blockNumber {
			out = append(out, tx)
		}
	}
	return out, nil
}

func transferTx(t *testing.T, d *decoder.ABIDecoder, to common.Address, block uint64) *models.Transaction {
	t.Helper()
	data, err := d.ABI().Pack("transfer", holder, big.NewInt(int64(block)))
	require.NoError(t, err)
	return &models.Transaction{
		Hash:        common.BigToHash(new(big.Int).SetUint64(block*10 + uint64(to[0]))),
		From:        holder,
		To:          to,
		Data:        data,
		BlockNumber: block,
	}
}

// newTestApplication assembles an application over a file store at path
func newTestApplication(t *testing.T, path string, reader chain.Reader, d decoder.Decoder) *Application {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewFileStore(ctx, path, "test", 100)
	require.NoError(t, err)

	c, err := crawler.NewCrawler(reader, store, crawler.Config{
		Addresses: []common.Address{tokenA, tokenB},
		Decoder:   d,
	})
	require.NoError(t, err)

	return &Application{
		config:  &config.Config{},
		logger:  utils.ComponentLogger("app"),
		store:   store,
		crawler: c,
	}
}

func testDecoder(t *testing.T) *decoder.ABIDecoder {
	t.Helper()
	parsed, err := decoder.ParseABI(strings.NewReader(tokenABI))
	require.NoError(t, err)
	return decoder.NewABIDecoder(parsed)
}

func TestAbortedCrawlSurvivesClose(t *testing.T) {
	ctx := context.Background()
	d := testDecoder(t)
	path := filepath.Join(t.TempDir(), "state.json")

	reader := &chainStub{
		head:     10,
		txs:      []*models.Transaction{transferTx(t, d, tokenA, 5), transferTx(t, d, tokenB, 5)},
		failTo:   tokenB,
		failAt:   5,
		failWith: chain.NewTransportError("eth_getBlockByNumber", errors.New("connection reset")),
	}

	app := newTestApplication(t, path, reader, d)
	_, err := app.crawlRange(ctx, 1, 6, true)
	require.Error(t, err)
	app.Close()

	reader.failWith = nil
	app = newTestApplication(t, path, reader, d)
	assert.Equal(t, models.NoBlock, app.store.LastCrawledBlock())
	assert.Equal(t, int64(0), app.store.Stats().PersistedCalls)

	from := uint64(app.store.LastCrawledBlock() + 1)
	_, err = app.crawlRange(ctx, from, 6, true)
	require.NoError(t, err)
	app.Close()

	app = newTestApplication(t, path, reader, d)
	defer app.Close()
	assert.Equal(t, int64(6), app.store.LastCrawledBlock())
	calls, err := app.store.Calls(ctx, models.CallFilter{})
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}

func TestDryRunCrawlLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	d := testDecoder(t)
	path := filepath.Join(t.TempDir(), "state.json")
	reader := &chainStub{
		head: 10,
		txs:  []*models.Transaction{transferTx(t, d, tokenA, 2), transferTx(t, d, tokenA, 8)},
	}

	app := newTestApplication(t, path, reader, d)
	_, err := app.crawlRange(ctx, 1, 4, true)
	require.NoError(t, err)
	app.Close()

	app = newTestApplication(t, path, reader, d)
	result, err := app.crawlRange(ctx, 5, 9, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.CallsRegistered)
	app.Close()

	app = newTestApplication(t, path, reader, d)
	defer app.Close()
	assert.Equal(t, int64(4), app.store.LastCrawledBlock())
	assert.Equal(t, int64(1), app.store.Stats().PersistedCalls)
}
