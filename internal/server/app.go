// Package server assembles the pipeline services from configuration and runs them.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/api"
	"github.com/JakeFAU/tagops-pipeline/internal/browser"
	"github.com/JakeFAU/tagops-pipeline/internal/clock/system"
	"github.com/JakeFAU/tagops-pipeline/internal/config"
	"github.com/JakeFAU/tagops-pipeline/internal/metrics"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/progress"
	progresssinks "github.com/JakeFAU/tagops-pipeline/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/tagops-pipeline/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/tagops-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/tagops-pipeline/internal/stage"
	gcsstorage "github.com/JakeFAU/tagops-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tagops-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/tagops-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/tagops-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/tagops-pipeline/internal/store"
	"github.com/JakeFAU/tagops-pipeline/internal/telemetry"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// registerer receives the progress collectors. Tests swap in a fresh registry.
var registerer prometheus.Registerer = prometheus.DefaultRegisterer

// App contains the shared dependencies of the API and scraper services.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    pipeline.Clock
	jobs     pipeline.JobStore
	events   store.EventRepository
	blobs    pipeline.BlobStore
	hub      *progress.Hub
	recorder *stage.Recorder
	ready    []api.Checker

	pg             *pgstore.JobStore
	storage        *storage.Client
	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error

	browserMu sync.Mutex
	browser   *browser.Browser
}

// Build creates the shared dependencies: stores, the progress hub and the
// status recorder. Chrome starts lazily on first use.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	metrics.Init()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ProjectID:   cfg.Telemetry.ProjectID,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.logger.Info("building application dependencies")
	if err := app.setupDatabase(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupProgress(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.recorder = stage.NewRecorder(app.jobs, app.hub, app.clock, logger)
	return app, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Jobs returns the job document store.
func (a *App) Jobs() pipeline.JobStore { return a.jobs }

// Recorder returns the status recorder shared by every stage.
func (a *App) Recorder() *stage.Recorder { return a.recorder }

func (a *App) setupDatabase(ctx context.Context) error {
	switch a.cfg.DB.Backend {
	case "postgres":
		a.logger.Info("using postgres job store")
		pg, err := pgstore.NewJobStore(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
		}, a.clock)
		if err != nil {
			return fmt.Errorf("postgres job store init failed: %w", err)
		}
		a.pg = pg
		a.jobs = pg
		a.events = pg.Events()
		a.ready = append(a.ready, pg.Ping)
	default:
		a.logger.Info("using in-memory job store")
		a.jobs = memorystorage.NewJobStore(a.clock)
		a.events = memorystorage.NewEventStore()
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(registerer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.events),
	}

	topic := a.cfg.PubSub.TopicName
	if topic == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		sinkList = append(sinkList, progresssinks.NewPublisherSink(memorypublisher.New(0), topic))
	} else {
		a.pubsub, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, topic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", topic),
		)
		sinkList = append(sinkList, progresssinks.NewPublisherSink(a.pubsub, topic))
	}

	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	return nil
}

// Browser starts Chrome on first call and returns the shared instance.
func (a *App) Browser() (*browser.Browser, error) {
	a.browserMu.Lock()
	defer a.browserMu.Unlock()
	if a.browser != nil {
		return a.browser, nil
	}
	h := a.cfg.Headless
	b, err := browser.New(browser.Config{
		MaxParallel:       h.MaxParallel,
		NavigationTimeout: config.Seconds(h.NavTimeoutSeconds),
		Settle:            time.Duration(h.SettleMillis) * time.Millisecond,
		UserAgent:         h.UserAgent,
		ExecPath:          h.ExecPath,
		DomainQPS:         h.DomainQPS,
		Burst:             h.DomainBurst,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("browser init failed: %w", err)
	}
	a.logger.Info("headless browser started", zap.Int("max_parallel", h.MaxParallel))
	a.browser = b
	return b, nil
}

// Migrate creates the Postgres schema. The in-memory backend needs none.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		a.logger.Info("db.backend is not postgres, nothing to migrate")
		return nil
	}
	if err := a.pg.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("schema migrated")
	return nil
}

// Close flushes progress events and releases every client. It is safe to call
// on a partially built App.
func (a *App) Close(ctx context.Context) {
	a.browserMu.Lock()
	if a.browser != nil {
		a.browser.Close()
		a.browser = nil
	}
	a.browserMu.Unlock()

	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		a.pubsub.Stop()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
