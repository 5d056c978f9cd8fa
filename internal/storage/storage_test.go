package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/metrics"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

const (
	tokenAddress = "0xAAaaAAAaaaaaaAAAaAaaaaAaAAAAAaAAAaaAaaAA"
	callerAddr   = "0x1111111111111111111111111111111111111111"
)

func newCall(block uint64, fn string) *models.ContractFunctionCall {
	return &models.ContractFunctionCall{
		BlockNumber:     block,
		BlockTimestamp:  1_700_000_000 + block,
		TransactionHash: fmt.Sprintf("0x%064x", block),
		ContractAddress: tokenAddress,
		CallerAddress:   callerAddr,
		FunctionName:    fn,
		FunctionArgs: map[string]interface{}{
			"to":     callerAddr,
			"amount": json.Number("115792089237316195423570985008687907853269984665640564039457584007913129639935"),
			"memo":   []interface{}{"a", true},
		},
	}
}

// opener opens the same persistent location on every call
type opener func(t *testing.T, batchSize int) Store

func backends(t *testing.T) map[string]opener {
	t.Helper()
	ctx := context.Background()

	result := map[string]opener{}

	filePath := filepath.Join(t.TempDir(), "state", "crawl_state.json")
	result["file"] = func(t *testing.T, batchSize int) Store {
		s, err := NewFileStore(ctx, filePath, "test", batchSize)
		require.NoError(t, err)
		return s
	}

	sqlitePath := filepath.Join(t.TempDir(), "crawl.db")
	result["sqlite"] = func(t *testing.T, batchSize int) Store {
		s, err := NewSQLiteStore(ctx, &config.StorageConfig{
			Type:             "sqlite",
			ConnectionString: sqlitePath,
			BatchSize:        batchSize,
		}, "test")
		require.NoError(t, err)
		return s
	}

	levelPath := filepath.Join(t.TempDir(), "leveldb")
	result["leveldb"] = func(t *testing.T, batchSize int) Store {
		s, err := NewLevelDBStore(ctx, levelPath, "test", batchSize)
		require.NoError(t, err)
		return s
	}

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		crawlID := fmt.Sprintf("test-%d", time.Now().UnixNano())
		result["postgres"] = func(t *testing.T, batchSize int) Store {
			s, err := NewPostgreSQLStore(ctx, &config.StorageConfig{
				Type:             "postgres",
				ConnectionString: dsn,
				MaxConnections:   4,
				BatchSize:        batchSize,
			}, crawlID)
			require.NoError(t, err)
			return s
		}
	}

	return result
}

func TestStoreFreshState(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			defer s.Close()

			assert.Equal(t, models.NoBlock, s.LastCrawledBlock())

			calls, err := s.Calls(context.Background(), models.CallFilter{})
			require.NoError(t, err)
			assert.Empty(t, calls)

			stats := s.Stats()
			assert.Equal(t, name, stats.Backend)
			assert.Equal(t, int64(0), stats.TotalCalls)
		})
	}
}

func TestStoreAutoFlushAtBatchSize(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 3)

			require.NoError(t, s.RegisterCall(ctx, newCall(10, "transfer")))
			require.NoError(t, s.RegisterCall(ctx, newCall(11, "transfer")))
			assert.Equal(t, uint64(0), s.Stats().Flushes)
			assert.Equal(t, 2, s.Stats().PendingCalls)

			require.NoError(t, s.RegisterCall(ctx, newCall(12, "mint")))
			stats := s.Stats()
			assert.Equal(t, uint64(1), stats.Flushes)
			assert.Equal(t, 0, stats.PendingCalls)
			assert.Equal(t, int64(3), stats.PersistedCalls)
			assert.NotNil(t, stats.LastFlushAt)

			// a fresh handle sees the auto-flushed batch before Close
			require.NoError(t, s.RegisterCall(ctx, newCall(13, "mint")))
			if name == "file" {
				reopened := open(t, 3)
				assert.Equal(t, int64(12), reopened.LastCrawledBlock())
				assert.Equal(t, int64(3), reopened.Stats().TotalCalls)
			}

			require.NoError(t, s.Close())
		})
	}
}

func TestStoreReloadReproducesState(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)

			registered := []*models.ContractFunctionCall{
				newCall(100, "transfer"),
				newCall(100, "approve"),
				newCall(104, "transfer"),
			}
			for _, call := range registered {
				require.NoError(t, s.RegisterCall(ctx, call))
			}
			require.NoError(t, s.Flush(ctx))
			require.NoError(t, s.Close())

			reopened := open(t, 100)
			defer reopened.Close()

			assert.Equal(t, int64(104), reopened.LastCrawledBlock())

			calls, err := reopened.Calls(ctx, models.CallFilter{})
			require.NoError(t, err)
			assert.Equal(t, registered, calls)
		})
	}
}

func TestStoreCursorNeverRegresses(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			defer s.Close()

			require.NoError(t, s.RegisterCall(ctx, newCall(10, "transfer")))
			require.NoError(t, s.RegisterCall(ctx, newCall(5, "transfer")))
			assert.Equal(t, int64(10), s.LastCrawledBlock())
		})
	}
}

func TestStoreEmptyFlushPersistsCursor(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			require.NoError(t, s.Flush(ctx))
			assert.Equal(t, uint64(1), s.Stats().Flushes)
			require.NoError(t, s.Close())

			reopened := open(t, 100)
			defer reopened.Close()
			assert.Equal(t, models.NoBlock, reopened.LastCrawledBlock())
		})
	}
}

func TestStoreCloseFlushesPending(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			require.NoError(t, s.RegisterCall(ctx, newCall(7, "transfer")))
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			err := s.RegisterCall(ctx, newCall(8, "transfer"))
			assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))

			reopened := open(t, 100)
			defer reopened.Close()
			assert.Equal(t, int64(7), reopened.LastCrawledBlock())
			assert.Equal(t, int64(1), reopened.Stats().PersistedCalls)
		})
	}
}

func TestStoreCallsFilter(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			defer s.Close()

			for block := uint64(1); block <= 4; block++ {
				require.NoError(t, s.RegisterCall(ctx, newCall(block, "transfer")))
			}
			require.NoError(t, s.Flush(ctx))
			require.NoError(t, s.RegisterCall(ctx, newCall(5, "mint")))
			require.NoError(t, s.RegisterCall(ctx, newCall(6, "transfer")))

			fn := "transfer"
			from := uint64(2)
			calls, err := s.Calls(ctx, models.CallFilter{FunctionName: &fn, FromBlock: &from})
			require.NoError(t, err)
			require.Len(t, calls, 4)
			assert.Equal(t, uint64(2), calls[0].BlockNumber)
			assert.Equal(t, uint64(6), calls[3].BlockNumber)

			lower := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
			calls, err = s.Calls(ctx, models.CallFilter{ContractAddress: &lower, Offset: 3, Limit: 2})
			require.NoError(t, err)
			require.Len(t, calls, 2)
			assert.Equal(t, uint64(4), calls[0].BlockNumber)
			assert.Equal(t, "mint", calls[1].FunctionName)

			to := uint64(1)
			calls, err = s.Calls(ctx, models.CallFilter{ToBlock: &to})
			require.NoError(t, err)
			require.Len(t, calls, 1)
		})
	}
}

func TestStoreSeparatesCrawlIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared")

	first, err := NewLevelDBStore(ctx, path, "first", 100)
	require.NoError(t, err)
	require.NoError(t, first.RegisterCall(ctx, newCall(3, "transfer")))
	require.NoError(t, first.Close())

	second, err := NewLevelDBStore(ctx, path, "second", 100)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, models.NoBlock, second.LastCrawledBlock())
	assert.Equal(t, int64(0), second.Stats().TotalCalls)
}

// flakyBackend fails persist while failing is set
type flakyBackend struct {
	failing bool
	stored  []*models.ContractFunctionCall
	cursor  int64
}

func (f *flakyBackend) name() string { return "flaky" }

func (f *flakyBackend) load(ctx context.Context) (persistedState, error) {
	return persistedState{cursor: models.NoBlock}, nil
}

func (f *flakyBackend) persist(ctx context.Context, cursor int64, calls []*models.ContractFunctionCall) error {
	if f.failing {
		return utils.WrapError(utils.ErrCodeDatabase, "disk full", errors.New("ENOSPC"))
	}
	f.stored = append(f.stored, calls...)
	f.cursor = cursor
	return nil
}

func (f *flakyBackend) query(ctx context.Context, filter models.CallFilter, limit int) ([]*models.ContractFunctionCall, error) {
	var out []*models.ContractFunctionCall
	for _, call := range f.stored {
		if filter.Match(call) {
			out = append(out, call)
		}
	}
	return out, nil
}

func (f *flakyBackend) close() error { return nil }

func TestStoreFailedFlushKeepsPending(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{failing: true}
	s, err := newBufferedStore(ctx, backend, "test", 2)
	require.NoError(t, err)

	require.NoError(t, s.RegisterCall(ctx, newCall(1, "transfer")))
	err = s.RegisterCall(ctx, newCall(2, "transfer"))
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))

	stats := s.Stats()
	assert.Equal(t, 2, stats.PendingCalls)
	assert.Equal(t, uint64(0), stats.Flushes)
	assert.Equal(t, int64(2), s.LastCrawledBlock())

	backend.failing = false
	require.NoError(t, s.Flush(ctx))
	assert.Len(t, backend.stored, 2)
	assert.Equal(t, int64(2), backend.cursor)
	assert.Equal(t, 0, s.Stats().PendingCalls)
}

func TestStoreWithMetrics(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{}
	inner, err := newBufferedStore(ctx, backend, "test", 2)
	require.NoError(t, err)

	manager := metrics.NewManager()
	s := NewStoreWithMetrics(inner, manager)
	prom := manager.GetPrometheusMetrics()

	require.NoError(t, s.RegisterCall(ctx, newCall(1, "transfer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.PendingCalls))

	require.NoError(t, s.RegisterCall(ctx, newCall(2, "transfer")))
	assert.Equal(t, 0.0, testutil.ToFloat64(prom.PendingCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.StoreFlushesTotal.WithLabelValues("flaky", "success")))

	backend.failing = true
	require.NoError(t, s.RegisterCall(ctx, newCall(3, "transfer")))
	require.Error(t, s.Flush(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.StoreFlushesTotal.WithLabelValues("flaky", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.PendingCalls))

	s.Discard()
	assert.Equal(t, 0.0, testutil.ToFloat64(prom.PendingCalls))
	assert.Equal(t, int64(2), s.LastCrawledBlock())
}

func TestNewStoreFactory(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, &config.StorageConfig{
		ConnectionString: filepath.Join(t.TempDir(), "state.json"),
	}, "default")
	require.NoError(t, err)
	assert.Equal(t, "file", s.Stats().Backend)
	require.NoError(t, s.Close())

	_, err = NewStore(ctx, &config.StorageConfig{Type: "mongo", ConnectionString: "x"}, "default")
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))

	_, err = NewStore(ctx, &config.StorageConfig{Type: "sqlite"}, "default")
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(context.Background(), path, "test", 10)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))
}

func TestStoreAdvanceCursor(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			require.NoError(t, s.RegisterCall(ctx, newCall(10, "transfer")))
			s.AdvanceCursor(15)
			s.AdvanceCursor(12)
			assert.Equal(t, int64(15), s.LastCrawledBlock())
			require.NoError(t, s.Close())

			reopened := open(t, 100)
			defer reopened.Close()
			assert.Equal(t, int64(15), reopened.LastCrawledBlock())
			assert.Equal(t, int64(1), reopened.Stats().PersistedCalls)
		})
	}
}

func TestStoreDiscardRestoresLastFlush(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			require.NoError(t, s.RegisterCall(ctx, newCall(7, "transfer")))
			require.NoError(t, s.Flush(ctx))

			require.NoError(t, s.RegisterCall(ctx, newCall(9, "approve")))
			s.AdvanceCursor(10)
			s.Discard()

			assert.Equal(t, int64(7), s.LastCrawledBlock())
			assert.Equal(t, 0, s.Stats().PendingCalls)
			require.NoError(t, s.Close())

			reopened := open(t, 100)
			defer reopened.Close()
			assert.Equal(t, int64(7), reopened.LastCrawledBlock())
			assert.Equal(t, int64(1), reopened.Stats().PersistedCalls)
		})
	}
}

func TestStoreDiscardBeforeAnyFlush(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(ctx, filepath.Join(t.TempDir(), "state.json"), "test", 100)
	require.NoError(t, err)
	defer s.Close()

	s.AdvanceCursor(4)
	s.Discard()
	assert.Equal(t, models.NoBlock, s.LastCrawledBlock())
}

func TestStoreReloadSeesOtherWriter(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		if name == "leveldb" {
			// leveldb holds an exclusive lock on its directory
			continue
		}
		t.Run(name, func(t *testing.T) {
			writer := open(t, 100)
			defer writer.Close()
			reader := open(t, 100)
			defer reader.Close()

			require.NoError(t, writer.RegisterCall(ctx, newCall(42, "transfer")))
			require.NoError(t, writer.Flush(ctx))

			assert.Equal(t, models.NoBlock, reader.LastCrawledBlock())
			require.NoError(t, reader.Reload(ctx))
			assert.Equal(t, int64(42), reader.LastCrawledBlock())
			assert.Equal(t, int64(1), reader.Stats().TotalCalls)

			calls, err := reader.Calls(ctx, models.CallFilter{})
			require.NoError(t, err)
			require.Len(t, calls, 1)
			assert.Equal(t, uint64(42), calls[0].BlockNumber)

			require.NoError(t, writer.RegisterCall(ctx, newCall(43, "transfer")))
			err = writer.Reload(ctx)
			assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))
		})
	}
}
