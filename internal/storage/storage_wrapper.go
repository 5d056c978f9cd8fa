package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/rsk-call-crawler/internal/metrics"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
)

// StoreWithMetrics wraps a store implementation with metrics
type StoreWithMetrics struct {
	Store
	metricsManager *metrics.Manager
}

// NewStoreWithMetrics creates a store wrapper with metrics
func NewStoreWithMetrics(store Store, metricsManager *metrics.Manager) *StoreWithMetrics {
	return &StoreWithMetrics{
		Store:          store,
		metricsManager: metricsManager,
	}
}

// RegisterCall registers a call and tracks the pending gauge, which also
// captures automatic flushes
func (s *StoreWithMetrics) RegisterCall(ctx context.Context, call *models.ContractFunctionCall) error {
	before := s.Store.Stats().Flushes
	start := time.Now()

	err := s.Store.RegisterCall(ctx, call)

	if s.metricsManager != nil {
		stats := s.Store.Stats()
		prom := s.metricsManager.GetPrometheusMetrics()
		switch {
		case err != nil && stats.PendingCalls > 0:
			prom.RecordStoreFlush(stats.Backend, "error", time.Since(start))
		case stats.Flushes > before:
			prom.RecordStoreFlush(stats.Backend, "success", time.Since(start))
		}
		prom.UpdatePendingCalls(stats.PendingCalls)
	}

	return err
}

// Flush flushes the store and records metrics
func (s *StoreWithMetrics) Flush(ctx context.Context) error {
	start := time.Now()

	err := s.Store.Flush(ctx)

	if s.metricsManager != nil {
		status := "success"
		if err != nil {
			status = "error"
		}

		stats := s.Store.Stats()
		prom := s.metricsManager.GetPrometheusMetrics()
		prom.RecordStoreFlush(stats.Backend, status, time.Since(start))
		prom.UpdatePendingCalls(stats.PendingCalls)
	}

	return err
}

// Discard drops unflushed state and resets the pending gauge
func (s *StoreWithMetrics) Discard() {
	s.Store.Discard()

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdatePendingCalls(s.Store.Stats().PendingCalls)
	}
}
