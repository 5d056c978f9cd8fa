// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Storage StorageConfig `mapstructure:"storage"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// RPCConfig contains JSON-RPC node connection configuration
type RPCConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	NetworkID      int           `mapstructure:"network_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst      int           `mapstructure:"rate_burst"`
}

// StorageConfig contains crawl state storage configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // file, sqlite, postgres, leveldb
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// CrawlerConfig describes what is crawled
type CrawlerConfig struct {
	CrawlID            string   `mapstructure:"crawl_id"`
	ABIPath            string   `mapstructure:"abi_path"`
	Addresses          []string `mapstructure:"addresses"`
	StartBlock         uint64   `mapstructure:"start_block"`
	ConfirmationBlocks uint64   `mapstructure:"confirmation_blocks"`
	MaxRange           uint64   `mapstructure:"max_range"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("CALL_CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if nodeURL := os.Getenv("RPC_NODE_URL"); nodeURL != "" {
		config.RPC.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "rsk-call-crawler")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// RPC defaults
	v.SetDefault("rpc.node_url", "https://public-node.testnet.rsk.co")
	v.SetDefault("rpc.network_id", 0)
	v.SetDefault("rpc.request_timeout", "30s")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "5s")
	v.SetDefault("rpc.rate_limit", 0)
	v.SetDefault("rpc.rate_burst", 1)

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.connection_string", "./data/crawl_state.json")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.batch_size", 100)

	// Crawler defaults
	v.SetDefault("crawler.crawl_id", "default")
	v.SetDefault("crawler.start_block", 0)
	v.SetDefault("crawler.confirmation_blocks", 10)
	v.SetDefault("crawler.max_range", 100)

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RPC.NodeURL == "" {
		return fmt.Errorf("RPC node URL is required")
	}
	if c.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc rate limit must not be negative")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage batch size must be positive")
	}
	if c.Crawler.CrawlID == "" || strings.Contains(c.Crawler.CrawlID, "/") {
		return fmt.Errorf("crawler crawl_id must be non-empty and must not contain '/'")
	}
	if c.Crawler.ABIPath == "" {
		return fmt.Errorf("crawler ABI path is required")
	}
	if len(c.Crawler.Addresses) == 0 {
		return fmt.Errorf("at least one crawler address is required")
	}
	if c.Crawler.MaxRange == 0 {
		return fmt.Errorf("crawler max range must be positive")
	}
	return nil
}
