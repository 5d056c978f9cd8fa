package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
rpc:
  node_url: http://localhost:8545
  backup_nodes:
    - http://localhost:8546
  rate_limit: 25
storage:
  type: sqlite
  connection_string: ./data/calls.db
  batch_size: 50
crawler:
  crawl_id: erc20-mainnet
  abi_path: ./abi/erc20.json
  addresses:
    - "0x495f947276749ce646f68ac8c248420045cb7b5e"
  confirmation_blocks: 12
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.RPC.NodeURL)
	assert.Equal(t, []string{"http://localhost:8546"}, cfg.RPC.BackupNodes)
	assert.Equal(t, 25.0, cfg.RPC.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.RPC.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 50, cfg.Storage.BatchSize)
	assert.Equal(t, "erc20-mainnet", cfg.Crawler.CrawlID)
	assert.Equal(t, uint64(12), cfg.Crawler.ConfirmationBlocks)
	assert.Equal(t, uint64(100), cfg.Crawler.MaxRange)
	assert.Equal(t, "rsk-call-crawler", cfg.App.Name)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RPC_NODE_URL", "http://override:8545")
	t.Setenv("DATABASE_URL", "postgres://crawler@db/calls")
	t.Setenv("CALL_CRAWLER_STORAGE_BATCH_SIZE", "7")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://override:8545", cfg.RPC.NodeURL)
	assert.Equal(t, "postgres://crawler@db/calls", cfg.Storage.ConnectionString)
	assert.Equal(t, 7, cfg.Storage.BatchSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"missing node url":   func(c *Config) { c.RPC.NodeURL = "" },
		"negative rate":      func(c *Config) { c.RPC.RateLimit = -1 },
		"zero batch size":    func(c *Config) { c.Storage.BatchSize = 0 },
		"missing abi":        func(c *Config) { c.Crawler.ABIPath = "" },
		"no addresses":       func(c *Config) { c.Crawler.Addresses = nil },
		"zero max range":     func(c *Config) { c.Crawler.MaxRange = 0 },
		"slash in crawl id":  func(c *Config) { c.Crawler.CrawlID = "a/b" },
		"missing connection": func(c *Config) { c.Storage.ConnectionString = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *cfg
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
