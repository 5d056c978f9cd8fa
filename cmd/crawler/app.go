// File: cmd/crawler/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-call-crawler/internal/chain"
	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/connection"
	"github.com/smartdevs17/rsk-call-crawler/internal/crawler"
	"github.com/smartdevs17/rsk-call-crawler/internal/decoder"
	"github.com/smartdevs17/rsk-call-crawler/internal/metrics"
	"github.com/smartdevs17/rsk-call-crawler/internal/server"
	"github.com/smartdevs17/rsk-call-crawler/internal/storage"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// Application wires the crawler components together
type Application struct {
	config     *config.Config
	logger     *logrus.Entry
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	reader     *chain.EthReader
	store      storage.Store
	crawler    *crawler.Crawler
	planner    *crawler.Planner
	server     *server.HTTPServer
}

// appOptions selects which components a command needs
type appOptions struct {
	chain  bool
	server bool
}

// NewApplication creates the components requested by opts
func NewApplication(ctx context.Context, cfg *config.Config, opts appOptions) (*Application, error) {
	app := &Application{
		config:  cfg,
		metrics: metrics.NewManager(),
	}

	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if opts.chain {
		if err := app.initializeCrawler(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to initialize crawler: %w", err)
		}
	}

	if opts.server {
		app.initializeServer()
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.ComponentLogger("app")
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")

	return nil
}

// initializeStorage opens the crawl state store
func (app *Application) initializeStorage(ctx context.Context) error {
	store, err := storage.NewStore(ctx, &app.config.Storage, app.config.Crawler.CrawlID)
	if err != nil {
		return err
	}
	app.store = storage.NewStoreWithMetrics(store, app.metrics)

	app.logger.WithFields(logrus.Fields{
		"type":     app.config.Storage.Type,
		"crawl_id": app.config.Crawler.CrawlID,
		"cursor":   app.store.LastCrawledBlock(),
	}).Info("Storage initialized")
	return nil
}

// initializeCrawler connects to the node and builds the crawler
func (app *Application) initializeCrawler(ctx context.Context) error {
	contractABI, err := decoder.LoadABI(app.config.Crawler.ABIPath)
	if err != nil {
		return err
	}

	addresses, err := utils.ParseAddresses(app.config.Crawler.Addresses)
	if err != nil {
		return err
	}

	app.connection = connection.NewConnectionManager(&app.config.RPC)
	app.connection.SetMetricsManager(app.metrics)
	if err := app.connection.HealthCheckWithContext(ctx); err != nil {
		return err
	}

	app.reader = chain.NewEthReader(app.connection, &app.config.RPC)
	app.reader.SetMetricsManager(app.metrics)

	app.crawler, err = crawler.NewCrawler(app.reader, app.store, crawler.Config{
		Addresses: addresses,
		Decoder:   decoder.NewABIDecoder(contractABI),
	})
	if err != nil {
		return err
	}
	app.crawler.SetMetricsManager(app.metrics)
	app.planner = crawler.NewPlanner(app.reader, crawler.PlannerConfigFrom(&app.config.Crawler))

	app.logger.WithFields(logrus.Fields{
		"node":      app.config.RPC.NodeURL,
		"abi":       app.config.Crawler.ABIPath,
		"addresses": len(addresses),
	}).Info("Crawler initialized")
	return nil
}

// initializeServer builds the status server
func (app *Application) initializeServer() {
	app.server = server.NewHTTPServer(&app.config.Server, app.store, app.metrics, AppVersion)
	if app.reader != nil {
		app.server.SetReader(app.reader)
		app.server.SetConnection(app.connection)
	}
}

// startServer starts the status server when one was requested
func (app *Application) startServer() error {
	if app.server == nil {
		return nil
	}
	if err := app.server.Start(); err != nil {
		return err
	}

	app.logger.WithField("address", fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port)).
		Info("Call crawler serving")
	return nil
}

// crawlRange crawls [from, to]. Without persist the registered calls are
// discarded afterwards, so Close leaves the stored state untouched.
func (app *Application) crawlRange(ctx context.Context, from, to uint64, persist bool) (*crawler.CrawlResult, error) {
	result, err := app.crawler.Crawl(ctx, from, to, persist)
	if !persist {
		app.store.Discard()
		app.logger.WithFields(logrus.Fields{
			"from": from,
			"to":   to,
		}).Info("Dry run, crawl results discarded")
	}
	return result, err
}

// Close releases the store and node connection
func (app *Application) Close() {
	if app.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := app.server.Stop(shutdownCtx); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
		cancel()
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}
}
