package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// levelBackend stores calls as an append-only log under call/<crawl_id>/<seq>
// with the cursor in a separate cursor/<crawl_id> record
type levelBackend struct {
	db      *leveldb.DB
	crawlID string
	nextSeq uint64
}

// NewLevelDBStore opens the LevelDB directory at path
func NewLevelDBStore(ctx context.Context, path, crawlID string, batchSize int) (Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to open LevelDB", err)
	}

	utils.ComponentLogger("leveldb").WithField("path", path).Info("LevelDB opened")
	return newBufferedStore(ctx, &levelBackend{db: db, crawlID: crawlID}, crawlID, batchSize)
}

func (l *levelBackend) name() string { return "leveldb" }

func (l *levelBackend) cursorKey() []byte {
	return []byte("cursor/" + l.crawlID)
}

func (l *levelBackend) callPrefix() []byte {
	return []byte("call/" + l.crawlID + "/")
}

// callKey zero-pads the sequence so keys sort in registration order
func (l *levelBackend) callKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("call/%s/%020d", l.crawlID, seq))
}

func (l *levelBackend) load(ctx context.Context) (persistedState, error) {
	state := persistedState{cursor: models.NoBlock}

	raw, err := l.db.Get(l.cursorKey(), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return persistedState{}, utils.WrapError(utils.ErrCodeDatabase, "Failed to read crawl cursor", err)
	default:
		cursor, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return persistedState{}, utils.WrapError(utils.ErrCodeDatabase, "Corrupt crawl cursor", err)
		}
		state.cursor = cursor
	}

	iter := l.db.NewIterator(util.BytesPrefix(l.callPrefix()), nil)
	defer iter.Release()
	for iter.Next() {
		state.count++
	}
	if err := iter.Error(); err != nil {
		return persistedState{}, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan calls", err)
	}

	l.nextSeq = uint64(state.count)
	return state, nil
}

func (l *levelBackend) persist(ctx context.Context, cursor int64, calls []*models.ContractFunctionCall) error {
	batch := new(leveldb.Batch)
	seq := l.nextSeq
	for _, call := range calls {
		value, err := json.Marshal(call)
		if err != nil {
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to encode call", err)
		}
		batch.Put(l.callKey(seq), value)
		seq++
	}
	batch.Put(l.cursorKey(), []byte(strconv.FormatInt(cursor, 10)))

	if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to write calls batch", err)
	}

	l.nextSeq = seq
	return nil
}

func (l *levelBackend) query(ctx context.Context, filter models.CallFilter, limit int) ([]*models.ContractFunctionCall, error) {
	iter := l.db.NewIterator(util.BytesPrefix(l.callPrefix()), nil)
	defer iter.Release()

	var calls []*models.ContractFunctionCall
	for iter.Next() {
		if limit > 0 && len(calls) >= limit {
			break
		}
		var call models.ContractFunctionCall
		if err := decodeJSON(iter.Value(), &call); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to decode call", err)
		}
		if filter.Match(&call) {
			calls = append(calls, &call)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan calls", err)
	}
	return calls, nil
}

func (l *levelBackend) close() error {
	return l.db.Close()
}
