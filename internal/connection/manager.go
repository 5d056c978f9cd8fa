package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/metrics"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// Manager defines the connection manager interface
type Manager interface {
	GetClient() (*ethclient.Client, error)
	GetClientWithContext(ctx context.Context) (*ethclient.Client, error)
	HealthCheck() error
	HealthCheckWithContext(ctx context.Context) error
	GetLatestBlockNumber() (uint64, error)
	CurrentURL() string
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// Dialer opens a client for a node URL
type Dialer func(ctx context.Context, url string) (*ethclient.Client, error)

// ConnectionManager implements the Manager interface
type ConnectionManager struct {
	config          *config.RPCConfig
	primaryURL      string
	backupURLs      []string
	currentIndex    int
	client          *ethclient.Client
	dial            Dialer
	mu              sync.RWMutex
	logger          *logrus.Entry
	stats           ConnectionStats
	lastHealthCheck time.Time
	isHealthy       bool
	metricsManager  *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	NetworkID       uint64    `json:"network_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.RPCConfig) *ConnectionManager {
	return &ConnectionManager{
		config:       cfg,
		primaryURL:   cfg.NodeURL,
		backupURLs:   cfg.BackupNodes,
		currentIndex: 0,
		dial:         ethclient.DialContext,
		logger:       utils.ComponentLogger("connection"),
		stats: ConnectionStats{
			CurrentURL: cfg.NodeURL,
		},
	}
}

// SetMetricsManager attaches a metrics manager used to record connection errors
func (cm *ConnectionManager) SetMetricsManager(m *metrics.Manager) {
	cm.metricsManager = m
}

// SetDialer replaces the function used to open clients
func (cm *ConnectionManager) SetDialer(d Dialer) {
	cm.dial = d
}

// GetClient returns the current client connection
func (cm *ConnectionManager) GetClient() (*ethclient.Client, error) {
	return cm.GetClientWithContext(context.Background())
}

// GetClientWithContext returns the current client with context
func (cm *ConnectionManager) GetClientWithContext(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.RLock()
	client := cm.client
	lastCheck := cm.lastHealthCheck
	cm.mu.RUnlock()

	if client == nil {
		return cm.connect(ctx)
	}

	// Re-probe a connection that has not been checked for a while
	if time.Since(lastCheck) > time.Minute {
		if err := cm.quickHealthCheck(ctx, client); err != nil {
			cm.logger.WithError(err).Warn("Client health check failed, reconnecting")
			return cm.reconnect(ctx)
		}
		cm.mu.Lock()
		cm.lastHealthCheck = time.Now()
		cm.mu.Unlock()
	}

	cm.mu.Lock()
	cm.stats.TotalRequests++
	cm.mu.Unlock()
	return client, nil
}

// connect establishes a new connection
func (cm *ConnectionManager) connect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	urls := cm.getAllURLs()

	attempts := cm.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		for _, url := range urls {
			log := cm.logger.WithFields(logrus.Fields{"url": url, "attempt": attempt + 1})
			log.Debug("Attempting connection")

			client, err := cm.dialWithTimeout(ctx, url)
			if err != nil {
				log.WithError(err).Warn("Connection failed")
				cm.stats.FailedRequests++
				cm.recordConnectionError(url, "dial_failed")
				lastErr = err
				continue
			}

			// Verify the connection works
			if err := cm.quickHealthCheck(ctx, client); err != nil {
				client.Close()
				log.WithError(err).Warn("Health check failed after connection")
				cm.stats.FailedRequests++
				cm.recordConnectionError(url, "health_check_failed")
				lastErr = err
				continue
			}

			cm.client = client
			cm.currentIndex = cm.indexOf(url)
			cm.stats.CurrentURL = url
			cm.stats.LastConnectedAt = time.Now()
			cm.isHealthy = true
			cm.lastHealthCheck = time.Now()

			log.Info("Connected to RPC node")
			return client, nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	return nil, utils.WrapError(utils.ErrCodeConnection, "Failed to connect to any RPC node", lastErr)
}

// reconnect tries to reconnect to RPC nodes
func (cm *ConnectionManager) reconnect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	cm.isHealthy = false
	cm.stats.Reconnects++
	cm.mu.Unlock()

	return cm.connect(ctx)
}

// dialWithTimeout creates a connection with timeout
func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx := ctx
	if cm.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cm.config.RequestTimeout)
		defer cancel()
	}

	return cm.dial(dialCtx, url)
}

// quickHealthCheck performs a quick health check
func (cm *ConnectionManager) quickHealthCheck(ctx context.Context, client *ethclient.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := client.ChainID(checkCtx)
	return err
}

// HealthCheck performs a comprehensive health check
func (cm *ConnectionManager) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return cm.HealthCheckWithContext(ctx)
}

// HealthCheckWithContext performs a comprehensive health check with context
func (cm *ConnectionManager) HealthCheckWithContext(ctx context.Context) error {
	client, err := cm.GetClientWithContext(ctx)
	if err != nil {
		cm.setHealthy(false)
		return err
	}

	networkID, err := client.NetworkID(ctx)
	if err != nil {
		cm.setHealthy(false)
		return utils.WrapError(utils.ErrCodeConnection, "Failed to get network ID", err)
	}

	if cm.config.NetworkID > 0 && networkID.Uint64() != uint64(cm.config.NetworkID) {
		cm.setHealthy(false)
		return utils.NewAppError(utils.ErrCodeConnection,
			"Network ID mismatch",
			fmt.Sprintf("expected %d, got %d", cm.config.NetworkID, networkID.Uint64()))
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		cm.setHealthy(false)
		return utils.WrapError(utils.ErrCodeConnection, "Failed to get latest block", err)
	}

	cm.mu.Lock()
	cm.stats.NetworkID = networkID.Uint64()
	cm.stats.LatestBlock = blockNumber
	cm.stats.LastHealthCheck = time.Now()
	cm.stats.IsHealthy = true
	cm.lastHealthCheck = time.Now()
	cm.isHealthy = true
	url := cm.stats.CurrentURL
	cm.mu.Unlock()

	cm.logger.WithFields(logrus.Fields{
		"network_id":   networkID.Uint64(),
		"latest_block": blockNumber,
		"url":          url,
	}).Info("Health check passed")

	return nil
}

// GetLatestBlockNumber returns the latest block number
func (cm *ConnectionManager) GetLatestBlockNumber() (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cm.GetClientWithContext(ctx)
	if err != nil {
		return 0, err
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	cm.mu.Lock()
	cm.stats.LatestBlock = blockNumber
	cm.mu.Unlock()

	return blockNumber, nil
}

// CurrentURL returns the URL of the node currently in use
func (cm *ConnectionManager) CurrentURL() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats.CurrentURL
}

// IsConnected returns whether the manager is connected
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client != nil && cm.isHealthy
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}

	cm.isHealthy = false
	cm.logger.Info("Connection manager closed")
	return nil
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

func (cm *ConnectionManager) setHealthy(healthy bool) {
	cm.mu.Lock()
	cm.isHealthy = healthy
	cm.stats.IsHealthy = healthy
	cm.mu.Unlock()
}

func (cm *ConnectionManager) recordConnectionError(endpoint, errorType string) {
	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().RecordConnectionError(endpoint, errorType)
	}
}

// getAllURLs returns all available URLs starting from current index
func (cm *ConnectionManager) getAllURLs() []string {
	urls := []string{cm.primaryURL}
	urls = append(urls, cm.backupURLs...)

	// Start from the last working node
	if cm.currentIndex > 0 && cm.currentIndex < len(urls) {
		rotated := make([]string, len(urls))
		copy(rotated, urls[cm.currentIndex:])
		copy(rotated[len(urls)-cm.currentIndex:], urls[:cm.currentIndex])
		return rotated
	}

	return urls
}

func (cm *ConnectionManager) indexOf(url string) int {
	if url == cm.primaryURL {
		return 0
	}
	for i, u := range cm.backupURLs {
		if u == url {
			return i + 1
		}
	}
	return 0
}
