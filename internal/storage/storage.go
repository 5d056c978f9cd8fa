// File: internal/storage/storage.go
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// DefaultBatchSize is the number of pending calls that triggers an automatic flush
const DefaultBatchSize = 100

// Store records decoded calls and the crawl cursor
type Store interface {
	// LastCrawledBlock returns the cursor, or models.NoBlock before anything was registered
	LastCrawledBlock() int64
	RegisterCall(ctx context.Context, call *models.ContractFunctionCall) error
	// AdvanceCursor marks every block up to blockNumber as crawled
	AdvanceCursor(blockNumber uint64)
	Flush(ctx context.Context) error
	// Discard drops everything registered since the last successful flush
	Discard()
	// Reload re-reads the persisted state; it fails while unflushed changes exist
	Reload(ctx context.Context) error
	Calls(ctx context.Context, filter models.CallFilter) ([]*models.ContractFunctionCall, error)
	Stats() StoreStats
	Close() error
}

// StoreStats provides storage statistics
type StoreStats struct {
	Backend          string     `json:"backend"`
	CrawlID          string     `json:"crawl_id"`
	LastCrawledBlock int64      `json:"last_crawled_block"`
	PendingCalls     int        `json:"pending_calls"`
	PersistedCalls   int64      `json:"persisted_calls"`
	TotalCalls       int64      `json:"total_calls"`
	Flushes          uint64     `json:"flushes"`
	LastFlushAt      *time.Time `json:"last_flush_at,omitempty"`
}

// persistedState is what a backend holds after a successful flush
type persistedState struct {
	cursor int64
	count  int64
}

// backend is the durable half of a store
type backend interface {
	name() string
	load(ctx context.Context) (persistedState, error)
	// persist atomically appends calls and records cursor; on error nothing is written
	persist(ctx context.Context, cursor int64, calls []*models.ContractFunctionCall) error
	// query returns persisted calls matching filter predicates in registration order,
	// at most limit of them when limit > 0
	query(ctx context.Context, filter models.CallFilter, limit int) ([]*models.ContractFunctionCall, error)
	close() error
}

// bufferedStore keeps pending calls in memory and hands them to its backend in batches
type bufferedStore struct {
	mu        sync.Mutex
	backend   backend
	crawlID   string
	batchSize int
	logger    *logrus.Entry

	cursor    int64
	pending   []*models.ContractFunctionCall
	persisted int64
	flushes   uint64
	lastFlush *time.Time
	dirty     bool
	closed    bool

	// cursor as of the last successful flush
	flushedCursor int64
}

func newBufferedStore(ctx context.Context, b backend, crawlID string, batchSize int) (*bufferedStore, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	state, err := b.load(ctx)
	if err != nil {
		_ = b.close()
		return nil, err
	}

	s := &bufferedStore{
		backend:   b,
		crawlID:   crawlID,
		batchSize: batchSize,
		cursor:    state.cursor,
		persisted: state.count,
		logger: utils.ComponentLogger("store").WithFields(logrus.Fields{
			"backend":  b.name(),
			"crawl_id": crawlID,
		}),
	}
	s.flushedCursor = s.cursor

	s.logger.WithFields(logrus.Fields{
		"last_crawled_block": s.cursor,
		"persisted_calls":    s.persisted,
	}).Info("Crawl state loaded")

	return s, nil
}

// LastCrawledBlock returns the highest block registered so far
func (s *bufferedStore) LastCrawledBlock() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// RegisterCall buffers a call and flushes once the batch is full
func (s *bufferedStore) RegisterCall(ctx context.Context, call *models.ContractFunctionCall) error {
	if call == nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Call is required", "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return utils.NewAppError(utils.ErrCodeDatabase, "Store is closed", s.backend.name())
	}

	s.pending = append(s.pending, call)
	s.dirty = true
	if block := int64(call.BlockNumber); block > s.cursor {
		s.cursor = block
	}

	if len(s.pending) >= s.batchSize {
		return s.flushLocked(ctx)
	}
	return nil
}

// AdvanceCursor moves the cursor forward; it never moves it back
func (s *bufferedStore) AdvanceCursor(blockNumber uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if block := int64(blockNumber); block > s.cursor {
		s.cursor = block
		s.dirty = true
	}
}

// Flush persists pending calls together with the cursor
func (s *bufferedStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return utils.NewAppError(utils.ErrCodeDatabase, "Store is closed", s.backend.name())
	}
	return s.flushLocked(ctx)
}

func (s *bufferedStore) flushLocked(ctx context.Context) error {
	count := len(s.pending)
	if err := s.backend.persist(ctx, s.cursor, s.pending); err != nil {
		s.logger.WithFields(logrus.Fields{
			"pending": count,
			"cursor":  s.cursor,
		}).WithError(err).Error("Flush failed")
		return err
	}

	now := time.Now()
	s.persisted += int64(count)
	s.flushedCursor = s.cursor
	s.pending = nil
	s.dirty = false
	s.flushes++
	s.lastFlush = &now

	s.logger.WithFields(logrus.Fields{
		"calls":  count,
		"cursor": s.cursor,
	}).Debug("Flushed crawl state")
	return nil
}

// Discard rolls the in-memory state back to the last successful flush, so a
// later Flush or Close does not persist a partially crawled block
func (s *bufferedStore) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"pending":        len(s.pending),
		"cursor":         s.cursor,
		"flushed_cursor": s.flushedCursor,
	}).Warn("Discarding unflushed crawl state")

	s.pending = nil
	s.cursor = s.flushedCursor
	s.dirty = false
}

// Reload replaces the in-memory view with what the backend holds, picking up
// flushes made by another process sharing the same backend
func (s *bufferedStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return utils.NewAppError(utils.ErrCodeDatabase, "Store is closed", s.backend.name())
	}
	if s.dirty {
		return utils.NewAppError(utils.ErrCodeValidation, "Store has unflushed changes", s.backend.name())
	}

	state, err := s.backend.load(ctx)
	if err != nil {
		return err
	}
	s.cursor = state.cursor
	s.flushedCursor = state.cursor
	s.persisted = state.count
	return nil
}

// Calls returns persisted calls followed by pending ones
func (s *bufferedStore) Calls(ctx context.Context, filter models.CallFilter) ([]*models.ContractFunctionCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := 0
	if filter.Limit > 0 {
		limit = filter.Offset + filter.Limit
	}

	calls, err := s.backend.query(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	for _, call := range s.pending {
		if filter.Match(call) {
			calls = append(calls, call)
		}
	}
	return filter.Page(calls), nil
}

// Stats returns a snapshot of the store counters
func (s *bufferedStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StoreStats{
		Backend:          s.backend.name(),
		CrawlID:          s.crawlID,
		LastCrawledBlock: s.cursor,
		PendingCalls:     len(s.pending),
		PersistedCalls:   s.persisted,
		TotalCalls:       s.persisted + int64(len(s.pending)),
		Flushes:          s.flushes,
		LastFlushAt:      s.lastFlush,
	}
}

// Close flushes unsaved state and releases the backend
func (s *bufferedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var flushErr error
	if s.dirty {
		flushErr = s.flushLocked(context.Background())
	}

	s.closed = true
	if err := s.backend.close(); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to close store", err)
	}
	return flushErr
}
