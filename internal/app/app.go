// Package app wires the pipeline components together: storage, queue,
// crawl strategies, enrichment worker, and the cron scheduler.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/common"
	"github.com/cherites0610/welfare-pipeline/internal/crawler"
	"github.com/cherites0610/welfare-pipeline/internal/enrich"
	"github.com/cherites0610/welfare-pipeline/internal/extract"
	"github.com/cherites0610/welfare-pipeline/internal/httpclient"
	"github.com/cherites0610/welfare-pipeline/internal/llm"
	"github.com/cherites0610/welfare-pipeline/internal/queue"
	"github.com/cherites0610/welfare-pipeline/internal/ratelimit"
	"github.com/cherites0610/welfare-pipeline/internal/storage"
	badgerstore "github.com/cherites0610/welfare-pipeline/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB             *badgerstore.BadgerDB
	WelfareStorage *badgerstore.WelfareStorage
	QueueManager   *queue.Manager
	WorkerPool     *queue.WorkerPool
	Orchestrator   *crawler.Orchestrator
	EnrichWorker   *enrich.Worker

	scheduler *cron.Cron
	ctx       context.Context
	cancelCtx context.CancelFunc
}

// New creates and wires the application.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initStorage(); err != nil {
		cancel()
		return nil, err
	}
	if err := app.initQueue(); err != nil {
		cancel()
		app.DB.Close()
		return nil, err
	}
	if err := app.initPipeline(ctx); err != nil {
		cancel()
		app.DB.Close()
		return nil, err
	}

	return app, nil
}

func (a *App) initStorage() error {
	db, err := badgerstore.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.DB = db
	a.WelfareStorage = badgerstore.NewWelfareStorage(db, a.Logger)
	return nil
}

func (a *App) initQueue() error {
	manager, err := queue.NewManager(a.DB.Store().Badger(), a.Config.Queue)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.QueueManager = manager
	a.WorkerPool = queue.NewWorkerPool(manager, a.Config.Queue, a.Logger)
	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	crawlClient, err := httpclient.NewCrawlClient(a.Config.Crawler.PageTimeout, a.Config.Crawler.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to create crawl client: %w", err)
	}
	downloadClient := httpclient.NewDefaultHTTPClient(a.Config.Crawler.DownloadTimeout)

	extractor := extract.NewService(downloadClient, int64(a.Config.Crawler.MaxBodySize), a.Logger)
	fetcher := crawler.NewFetcher(crawlClient, a.Config.Crawler, a.Logger)

	generic := crawler.NewGenericStrategy(fetcher, extractor, a.Config.Crawler, a.Logger)
	registry := crawler.NewRegistry(generic)
	registry.Register("臺北市", crawler.NewTaipeiStrategy(fetcher, extractor, a.Config.Crawler, a.Logger))
	registry.Register("高雄市", crawler.NewKaohsiungStrategy(fetcher, extractor, a.QueueManager, a.Config.Crawler, a.Logger))

	snapshot := storage.NewSnapshotWriter(a.Config.Storage.SnapshotsDir, a.Logger)
	a.Orchestrator = crawler.NewOrchestrator(registry, a.WelfareStorage, a.QueueManager, snapshot, a.Logger)

	if err := a.Orchestrator.LoadSites(a.Config.Crawler.SitesFile); err != nil {
		return err
	}

	var provider llm.Provider
	if a.Config.Enrichment.Enabled {
		provider, err = llm.NewProvider(ctx, a.Config, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create LLM provider: %w", err)
		}
	}

	limiter := ratelimit.NewPerMinute(a.Config.Enrichment.CallsPerMinute)
	sideLog := storage.NewSideLog(a.Config.Storage.SideLogPath, a.Logger)
	a.EnrichWorker = enrich.NewWorker(provider, limiter, a.WelfareStorage, sideLog, a.Config.Enrichment, a.Logger)

	a.WorkerPool.RegisterHandler("process", a.EnrichWorker.Handle)
	return nil
}

// Start launches the worker pool and, when configured, the crawl
// scheduler and the startup crawl.
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if a.Config.Crawler.Schedule != "" {
		a.scheduler = cron.New()
		_, err := a.scheduler.AddFunc(a.Config.Crawler.Schedule, func() {
			if err := a.Orchestrator.CrawlAllCities(a.ctx); err != nil {
				a.Logger.Error().Err(err).Msg("Scheduled crawl failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid crawl schedule %q: %w", a.Config.Crawler.Schedule, err)
		}
		a.scheduler.Start()
		a.Logger.Info().Str("schedule", a.Config.Crawler.Schedule).Msg("Crawl scheduler started")
	}

	if a.Config.Crawler.RunOnStart {
		go func() {
			if err := a.Orchestrator.CrawlAllCities(a.ctx); err != nil {
				a.Logger.Error().Err(err).Msg("Startup crawl failed")
			}
		}()
	}

	return nil
}

// CrawlOnce runs a single crawl pass and waits for the queue to drain.
func (a *App) CrawlOnce(ctx context.Context) error {
	if err := a.Orchestrator.CrawlAllCities(ctx); err != nil {
		return err
	}

	// Poll until every enqueued job is processed or the context ends.
	for {
		pending, err := a.QueueManager.PendingCount(ctx)
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// Close shuts the application down in reverse dependency order.
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.scheduler != nil {
		schedCtx := a.scheduler.Stop()
		<-schedCtx.Done()
	}
	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}
	a.cancelCtx()

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close database")
			return err
		}
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
