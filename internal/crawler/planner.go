package crawler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-call-crawler/internal/chain"
	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// PlannerConfig controls how resumption ranges are chosen
type PlannerConfig struct {
	StartBlock         uint64 `json:"start_block"`
	ConfirmationBlocks uint64 `json:"confirmation_blocks"`
	MaxRange           uint64 `json:"max_range"`
}

// PlannerConfigFrom extracts planner settings from the crawler section
func PlannerConfigFrom(cfg *config.CrawlerConfig) PlannerConfig {
	return PlannerConfig{
		StartBlock:         cfg.StartBlock,
		ConfirmationBlocks: cfg.ConfirmationBlocks,
		MaxRange:           cfg.MaxRange,
	}
}

// Range is an inclusive block range to crawl next
type Range struct {
	From      uint64 `json:"from_block"`
	To        uint64 `json:"to_block"`
	Head      uint64 `json:"head"`
	Confirmed uint64 `json:"confirmed"`
}

// Planner picks the next range to crawl from the store cursor and the chain head
type Planner struct {
	reader chain.Reader
	config PlannerConfig
	logger *logrus.Entry
}

// NewPlanner creates a planner
func NewPlanner(reader chain.Reader, cfg PlannerConfig) *Planner {
	if cfg.MaxRange == 0 {
		cfg.MaxRange = 100
	}
	return &Planner{
		reader: reader,
		config: cfg,
		logger: utils.ComponentLogger("planner"),
	}
}

// Next returns the next range after cursor, or nil when the crawl has caught
// up with the confirmed head
func (p *Planner) Next(ctx context.Context, cursor int64) (*Range, error) {
	head, err := p.reader.LatestBlockHeight(ctx)
	if err != nil {
		return nil, err
	}

	// Calculate confirmation blocks
	if head < p.config.ConfirmationBlocks {
		return nil, nil
	}
	confirmed := head - p.config.ConfirmationBlocks

	from := p.config.StartBlock
	if cursor != models.NoBlock && uint64(cursor)+1 > from {
		from = uint64(cursor) + 1
	}
	if from > confirmed {
		return nil, nil
	}

	to := confirmed
	// Limit range size
	if to-from+1 > p.config.MaxRange {
		to = from + p.config.MaxRange - 1
	}

	p.logger.WithFields(logrus.Fields{
		"from":      from,
		"to":        to,
		"head":      head,
		"confirmed": confirmed,
	}).Debug("Planned block range")

	return &Range{From: from, To: to, Head: head, Confirmed: confirmed}, nil
}

// CatchUp crawls planned ranges, flushing after each, until the store cursor
// reaches the confirmed head
func (c *Crawler) CatchUp(ctx context.Context, planner *Planner) (*CrawlResult, error) {
	start := time.Now()
	total := &CrawlResult{}

	for {
		if err := ctx.Err(); err != nil {
			total.Duration = time.Since(start)
			return total, err
		}

		next, err := planner.Next(ctx, c.store.LastCrawledBlock())
		if err != nil {
			total.Duration = time.Since(start)
			return total, err
		}
		if next == nil {
			c.updateBlocksBehind(0)
			break
		}

		result, err := c.Crawl(ctx, next.From, next.To, true)
		total.add(result)
		if err != nil {
			total.Duration = time.Since(start)
			return total, err
		}

		c.updateBlocksBehind(utils.BlocksBehind(next.Confirmed, int64(next.To)))
	}

	total.Duration = time.Since(start)
	c.logger.WithFields(logrus.Fields{
		"blocks":   total.BlocksScanned,
		"calls":    total.CallsRegistered,
		"cursor":   c.store.LastCrawledBlock(),
		"duration": total.Duration,
	}).Info("Caught up with confirmed head")

	return total, nil
}

func (c *Crawler) updateBlocksBehind(behind uint64) {
	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().UpdateBlocksBehind(behind)
	}
}
