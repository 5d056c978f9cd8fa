package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestManagersAreIndependent(t *testing.T) {
	first := NewManager()
	second := NewManager()

	first.GetPrometheusMetrics().RecordCallRegistered("0xabc", "transfer")
	first.GetPrometheusMetrics().RecordCallRegistered("0xabc", "transfer")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.GetPrometheusMetrics().CallsRegisteredTotal.WithLabelValues("0xabc", "transfer")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.GetPrometheusMetrics().CallsRegisteredTotal.WithLabelValues("0xabc", "transfer")))
}

func TestRecorders(t *testing.T) {
	m := NewManager()
	p := m.GetPrometheusMetrics()

	p.RecordBlockCrawled(5 * time.Millisecond)
	p.RecordTransactionsSeen(3)
	p.RecordDecodeFailure("0xabc", "unknown_selector")
	p.RecordStoreFlush("file", "success", time.Millisecond)
	p.UpdateLatestCrawledBlock(42)
	p.UpdatePendingCalls(9)
	m.UpdateSystemMetrics()

	assert.Equal(t, 1.0, testutil.ToFloat64(p.BlocksCrawledTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.TransactionsSeenTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.DecodeFailuresTotal.WithLabelValues("0xabc", "unknown_selector")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.StoreFlushesTotal.WithLabelValues("file", "success")))
	assert.Equal(t, 42.0, testutil.ToFloat64(p.LatestCrawledBlock))
	assert.Equal(t, 9.0, testutil.ToFloat64(p.PendingCalls))
	assert.Greater(t, testutil.ToFloat64(p.GoroutineCount), 0.0)
}
