// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/analyzer"
	"github.com/olam-creations/lefilonao-sub001/internal/api"
	"github.com/olam-creations/lefilonao-sub001/internal/boamp"
	"github.com/olam-creations/lefilonao-sub001/internal/boamp/opendata"
	"github.com/olam-creations/lefilonao-sub001/internal/cache"
	"github.com/olam-creations/lefilonao-sub001/internal/config"
	"github.com/olam-creations/lefilonao-sub001/internal/dispatcher"
	collyfetcher "github.com/olam-creations/lefilonao-sub001/internal/fetcher/colly"
	headlessfetcher "github.com/olam-creations/lefilonao-sub001/internal/fetcher/headless"
	"github.com/olam-creations/lefilonao-sub001/internal/logging"
	"github.com/olam-creations/lefilonao-sub001/internal/metrics"
	"github.com/olam-creations/lefilonao-sub001/internal/policy/ratelimit"
	memorypublisher "github.com/olam-creations/lefilonao-sub001/internal/publisher/memory"
	gcppublisher "github.com/olam-creations/lefilonao-sub001/internal/publisher/pubsub"
	"github.com/olam-creations/lefilonao-sub001/internal/queue"
	queueMemory "github.com/olam-creations/lefilonao-sub001/internal/queue/memory"
	queuePubsub "github.com/olam-creations/lefilonao-sub001/internal/queue/pubsub"
	gcsstorage "github.com/olam-creations/lefilonao-sub001/internal/storage/gcs"
	localstorage "github.com/olam-creations/lefilonao-sub001/internal/storage/local"
	memoryStorage "github.com/olam-creations/lefilonao-sub001/internal/storage/memory"
	pgstore "github.com/olam-creations/lefilonao-sub001/internal/storage/postgres"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
	"github.com/olam-creations/lefilonao-sub001/internal/telemetry"
	"github.com/olam-creations/lefilonao-sub001/internal/unlocker"
	"github.com/olam-creations/lefilonao-sub001/internal/urlguard"
	"github.com/olam-creations/lefilonao-sub001/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	engine         *acquisition.Engine
	processor      *worker.Processor
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	queue          queue.Queue
	memQueue       *queueMemory.Queue
	psQueue        *queuePubsub.Queue
	pubsubClient   *pubsub.Client
	eventPublisher *gcppublisher.Publisher
	storage        *storage.Client
	database       *pgstore.Store
	chromedp       *headlessfetcher.Chromedp
	tracerShutdown telemetry.Shutdown
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Processor returns the acquisition pipeline shared by the API and the CLI.
func (a *App) Processor() *worker.Processor {
	return a.processor
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and the HTTP server and blocks until the context
// is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.psQueue != nil {
		a.psQueue.Start(ctx)
	}
	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Batch.Concurrency))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases every backend. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.psQueue != nil {
		a.psQueue.Stop()
	}
	if a.eventPublisher != nil {
		a.eventPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.database != nil {
		a.database.Close()
	}
	if a.chromedp != nil {
		a.chromedp.Close()
	}
	var err error
	if a.tracerShutdown != nil {
		if terr := a.tracerShutdown(ctx); terr != nil {
			err = fmt.Errorf("tracer shutdown: %w", terr)
		}
	}
	_ = a.logger.Sync()
	return err
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.TracingEnabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := app.build(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.Int("server_port", a.cfg.Server.Port),
		zap.String("headless_mode", a.cfg.Headless.Mode),
		zap.String("storage_backend", a.cfg.Storage.Backend),
		zap.Bool("database", a.cfg.Database.DSN != ""),
	)

	engine, err := a.setupEngine()
	if err != nil {
		return err
	}
	a.engine = engine

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	records, batches, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	a.processor, err = worker.NewProcessor(engine, blobs, records, publisher, acquisition.SystemClock{},
		worker.Config{BlobPrefix: a.cfg.Storage.Prefix}, a.logger)
	if err != nil {
		return fmt.Errorf("processor init failed: %w", err)
	}

	if err := a.setupQueue(ctx); err != nil {
		return err
	}
	workers := make([]*worker.Worker, 0, a.cfg.Batch.Concurrency)
	for i := 0; i < a.cfg.Batch.Concurrency; i++ {
		workers = append(workers, worker.New(a.queue, a.processor, batches, a.logger.With(zap.Int("index", i))))
	}
	a.dispatch = dispatcher.New(a.queue, batches, workers)

	a.apiServer = api.NewServer(api.Deps{
		Processor: a.processor,
		Records:   records,
		Batches:   batches,
		Submitter: a.dispatch,
	}, a.cfg, a.logger)
	return nil
}

func (a *App) setupEngine() (*acquisition.Engine, error) {
	guard := urlguard.NewGuard()
	httpCfg := a.cfg.HTTP

	var limiter collyfetcher.Limiter
	if httpCfg.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: httpCfg.RateLimitRPS, Burst: httpCfg.RateLimitBurst})
		a.logger.Info("per-host rate limiter enabled",
			zap.Float64("rps", httpCfg.RateLimitRPS),
			zap.Int("burst", httpCfg.RateLimitBurst),
		)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    httpCfg.UserAgent,
		Timeout:      config.Seconds(httpCfg.TimeoutSeconds),
		MaxRedirects: httpCfg.MaxRedirects,
		MaxBodyBytes: a.cfg.Acquisition.MaxDocumentBytes,
		Transport:    telemetry.Transport(nil),
	}, guard, limiter, a.logger)

	analyzerClient, err := analyzer.New(analyzer.Config{
		URL:     a.cfg.Analyzer.URL,
		APIKey:  a.cfg.Analyzer.APIKey,
		Timeout: config.Seconds(a.cfg.Analyzer.TimeoutSeconds),
	}, a.httpClient(a.cfg.Analyzer.TimeoutSeconds), a.logger)
	if err != nil {
		return nil, fmt.Errorf("analyzer init failed: %w", err)
	}

	deps := acquisition.Dependencies{
		Fetcher:   fetcher,
		Analyzer:  analyzerClient,
		Validator: guard,
	}
	if a.cfg.BOAMP.Enabled {
		lookup := opendata.New(opendata.Config{
			BaseURL: a.cfg.BOAMP.APIURL,
			Dataset: a.cfg.BOAMP.Dataset,
			Timeout: config.Seconds(a.cfg.BOAMP.TimeoutSeconds),
		}, a.httpClient(a.cfg.BOAMP.TimeoutSeconds), a.logger)
		deps.Resolver = boamp.New(lookup, guard, a.logger)
	}
	if a.cfg.Unlocker.Enabled {
		u := a.cfg.Unlocker
		ttl := config.Seconds(u.CacheTTLSeconds)
		client, err := unlocker.New(unlocker.Config{
			BaseURL:  u.BaseURL,
			APIKey:   u.APIKey,
			Timeout:  config.Seconds(u.TimeoutSeconds),
			MaxLinks: u.MaxLinks,
			MaxBytes: a.cfg.Acquisition.MaxDocumentBytes,
		},
			a.httpClient(u.TimeoutSeconds),
			cache.NewLRU[[]byte](u.CacheSize, ttl),
			cache.NewLRU[[]acquisition.NamedLink](u.CacheSize, ttl),
			a.logger,
		)
		if err != nil {
			return nil, fmt.Errorf("unlocker init failed: %w", err)
		}
		deps.Unlocker = client
	}
	headless, err := a.setupHeadless(guard)
	if err != nil {
		return nil, err
	}
	if headless != nil {
		deps.Headless = headless
	}

	engine, err := acquisition.NewEngine(acquisition.Config{
		MaxDocumentBytes:   a.cfg.Acquisition.MaxDocumentBytes,
		HTMLCandidateLimit: a.cfg.Acquisition.HTMLCandidateLimit,
		DiscoveryBatchSize: a.cfg.Acquisition.DiscoveryBatchSize,
		Budget:             a.cfg.Budget(),
	}, deps, a.logger)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	return engine, nil
}

func (a *App) setupHeadless(guard *urlguard.Guard) (acquisition.HeadlessWorker, error) {
	h := a.cfg.Headless
	switch h.Mode {
	case config.HeadlessRemote:
		remote, err := headlessfetcher.NewRemote(headlessfetcher.RemoteConfig{
			URL:      h.WorkerURL,
			Token:    h.Token,
			Timeout:  config.Seconds(h.TimeoutSeconds),
			MaxBytes: a.cfg.Acquisition.MaxDocumentBytes,
		}, a.httpClient(h.TimeoutSeconds), a.logger)
		if err != nil {
			return nil, fmt.Errorf("headless worker init failed: %w", err)
		}
		a.logger.Info("using remote headless worker", zap.String("url", h.WorkerURL))
		return remote, nil
	case config.HeadlessChromedp:
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       h.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: config.Seconds(h.TimeoutSeconds),
		}, guard, a.logger)
		if err != nil {
			return nil, fmt.Errorf("chromedp init failed: %w", err)
		}
		a.chromedp = browser
		a.logger.Info("using local chromedp worker", zap.Int("max_parallel", h.MaxParallel))
		return browser, nil
	default:
		a.logger.Info("headless worker disabled")
		return nil, nil
	}
}

func (a *App) setupStorage(ctx context.Context) (store.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (store.RecordStore, store.BatchStore, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, keeping records in memory")
		mem := memoryStorage.NewRecordStore()
		return mem, mem, nil
	}
	db, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.Database.DSN,
		Table:    a.cfg.Database.Table,
		MaxConns: a.cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record store init failed: %w", err)
	}
	a.database = db
	if err := db.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("record store migrate failed: %w", err)
	}
	a.logger.Info("record store initialized", zap.String("table", a.cfg.Database.Table))
	return db, db, nil
}

func (a *App) ensurePubSub(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	return client, nil
}

func (a *App) setupPublisher(ctx context.Context) (store.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := a.ensurePubSub(ctx)
	if err != nil {
		return nil, err
	}
	a.eventPublisher, err = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.eventPublisher, nil
}

func (a *App) setupQueue(ctx context.Context) error {
	if a.cfg.Batch.QueueTopic == "" {
		a.memQueue = queueMemory.NewQueue(a.cfg.Batch.QueueDepth)
		a.queue = a.memQueue
		return nil
	}
	client, err := a.ensurePubSub(ctx)
	if err != nil {
		return err
	}
	a.psQueue, err = queuePubsub.New(client, a.cfg.Batch.QueueTopic, a.cfg.Batch.Subscription, a.logger)
	if err != nil {
		return fmt.Errorf("pubsub queue init failed: %w", err)
	}
	a.queue = a.psQueue
	a.logger.Info("using Pub/Sub batch queue",
		zap.String("topic", a.cfg.Batch.QueueTopic),
		zap.String("subscription", a.cfg.Batch.Subscription),
	)
	return nil
}

func (a *App) httpClient(timeoutSeconds int) *http.Client {
	return &http.Client{
		Timeout:   config.Seconds(timeoutSeconds),
		Transport: telemetry.Transport(nil),
	}
}
