package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// fileDocument is the on-disk layout of the file store
type fileDocument struct {
	LastCrawledBlock int64                          `json:"last_crawled_block"`
	Calls            []*models.ContractFunctionCall `json:"calls"`
}

// fileBackend keeps the whole crawl state in one JSON document that is
// rewritten on every flush
type fileBackend struct {
	path  string
	calls []*models.ContractFunctionCall
}

// NewFileStore opens (or starts) the JSON crawl state at path
func NewFileStore(ctx context.Context, path, crawlID string, batchSize int) (Store, error) {
	if path == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "File store path is required", "")
	}
	return newBufferedStore(ctx, &fileBackend{path: path}, crawlID, batchSize)
}

func (f *fileBackend) name() string { return "file" }

func (f *fileBackend) load(ctx context.Context) (persistedState, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return persistedState{cursor: models.NoBlock}, nil
	}
	if err != nil {
		return persistedState{}, utils.WrapError(utils.ErrCodeDatabase, "Failed to read crawl state", err)
	}

	var doc fileDocument
	if err := decodeJSON(raw, &doc); err != nil {
		return persistedState{}, utils.WrapError(utils.ErrCodeDatabase, "Failed to parse crawl state", err)
	}

	f.calls = doc.Calls
	return persistedState{cursor: doc.LastCrawledBlock, count: int64(len(doc.Calls))}, nil
}

func (f *fileBackend) persist(ctx context.Context, cursor int64, calls []*models.ContractFunctionCall) error {
	all := make([]*models.ContractFunctionCall, 0, len(f.calls)+len(calls))
	all = append(all, f.calls...)
	all = append(all, calls...)

	data, err := json.Marshal(fileDocument{LastCrawledBlock: cursor, Calls: all})
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to encode crawl state", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to create state directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to create temp state file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to write crawl state", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to sync crawl state", err)
	}
	if err := tmp.Close(); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to close crawl state", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to replace crawl state", err)
	}

	f.calls = all
	return nil
}

func (f *fileBackend) query(ctx context.Context, filter models.CallFilter, limit int) ([]*models.ContractFunctionCall, error) {
	var out []*models.ContractFunctionCall
	for _, call := range f.calls {
		if limit > 0 && len(out) >= limit {
			break
		}
		if filter.Match(call) {
			out = append(out, call)
		}
	}
	return out, nil
}

func (f *fileBackend) close() error { return nil }
