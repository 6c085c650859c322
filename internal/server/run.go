package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/api"
	"github.com/JakeFAU/tagops-pipeline/internal/config"
	"github.com/JakeFAU/tagops-pipeline/internal/discovery"
	"github.com/JakeFAU/tagops-pipeline/internal/dispatcher"
	"github.com/JakeFAU/tagops-pipeline/internal/export"
	"github.com/JakeFAU/tagops-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/tagops-pipeline/internal/id/uuid"
	"github.com/JakeFAU/tagops-pipeline/internal/launcher"
	"github.com/JakeFAU/tagops-pipeline/internal/llm"
	"github.com/JakeFAU/tagops-pipeline/internal/llm/openai"
	"github.com/JakeFAU/tagops-pipeline/internal/mcp"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	queueMemory "github.com/JakeFAU/tagops-pipeline/internal/queue/memory"
	"github.com/JakeFAU/tagops-pipeline/internal/report"
	"github.com/JakeFAU/tagops-pipeline/internal/scrape"
	"github.com/JakeFAU/tagops-pipeline/internal/scrapeclient"
	"github.com/JakeFAU/tagops-pipeline/internal/worker"
)

// APIService is the public API with the launcher whose background forwards
// must drain on shutdown.
type APIService struct {
	Server   *api.Server
	Launcher *launcher.Launcher
}

// ScraperService is the Insight Forge service: its HTTP front and worker pool.
type ScraperService struct {
	Server   *api.ScraperServer
	Dispatch *dispatcher.Dispatcher
	Queue    *queueMemory.Queue
	Stage    *scrape.Stage
}

// NewAPIService wires the launcher, Analytic Core, TagOps Hub and the MCP proxy.
func (a *App) NewAPIService() (*APIService, error) {
	cfg := a.cfg

	forwarder, err := scrapeclient.New(scrapeclient.Config{
		BaseURL: cfg.Scraper.ServiceURL,
		APIKey:  cfg.Auth.APIKey,
		Timeout: config.Seconds(cfg.Scraper.DispatchTimeoutSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("scraper client init failed: %w", err)
	}
	launch := launcher.New(a.recorder, uuid.New(), forwarder, launcher.Config{
		MaxPages:        cfg.Scraper.MaxPages,
		DispatchTimeout: config.Seconds(cfg.Scraper.DispatchTimeoutSeconds),
	}, a.logger)

	model, err := openai.New(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     config.Seconds(cfg.LLM.TimeoutSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}
	prompts, err := llm.LoadPrompts(llm.PromptFiles{
		SEO:     cfg.LLM.SEOPromptFile,
		Tagging: cfg.LLM.TaggingPromptFile,
	})
	if err != nil {
		return nil, fmt.Errorf("prompt init failed: %w", err)
	}
	analyst, err := llm.NewAnalyst(model, prompts, a.logger)
	if err != nil {
		return nil, fmt.Errorf("analyst init failed: %w", err)
	}
	a.logger.Info("llm configured", zap.String("model", cfg.LLM.Model), zap.String("base_url", cfg.LLM.BaseURL))

	chrome, err := a.Browser()
	if err != nil {
		return nil, err
	}

	deps := api.Deps{
		Jobs:     a.jobs,
		Events:   a.events,
		Launcher: launch,
		Report:   report.New(analyst, a.blobs, a.recorder, config.Seconds(cfg.Stages.AnalyticCoreTimeoutSeconds), a.logger),
		Export:   export.New(chrome, a.blobs, a.recorder, config.Seconds(cfg.Stages.TagOpsHubTimeoutSeconds), a.logger),
		Ready:    a.ready,
	}
	if cfg.MCP.Endpoint != "" {
		proxy, err := mcp.New(mcp.Config{
			Endpoint: cfg.MCP.Endpoint,
			Timeout:  config.Seconds(cfg.MCP.TimeoutSeconds),
		}, a.clock, a.logger)
		if err != nil {
			return nil, fmt.Errorf("mcp proxy init failed: %w", err)
		}
		deps.Tools = proxy
		a.logger.Info("mcp proxy configured", zap.String("endpoint", cfg.MCP.Endpoint))
	} else {
		a.logger.Warn("No MCP endpoint configured, tool calls disabled")
	}

	srv := api.NewServer(deps, api.Options{
		RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSeconds),
		StageTimeout:   stageTimeout(cfg),
	}, a.logger)
	return &APIService{Server: srv, Launcher: launch}, nil
}

// stageTimeout leaves the stages room to record a failure before the request deadline.
func stageTimeout(cfg config.Config) time.Duration {
	longest := max(cfg.Stages.AnalyticCoreTimeoutSeconds, cfg.Stages.TagOpsHubTimeoutSeconds, cfg.MCP.TimeoutSeconds)
	return config.Seconds(longest) + 30*time.Second
}

// NewScraperService wires the queue, the scrape workers and the /scrape endpoint.
func (a *App) NewScraperService() (*ScraperService, error) {
	cfg := a.cfg

	chrome, err := a.Browser()
	if err != nil {
		return nil, err
	}
	discover := discovery.New(discovery.Config{
		UserAgent:     cfg.Discovery.UserAgent,
		RespectRobots: cfg.Discovery.RespectRobots,
		Timeout:       config.Seconds(cfg.Discovery.TimeoutSeconds),
	}, a.logger)
	runner := scrape.New(discover, chrome, a.blobs, sha256.New(), a.recorder, scrape.Config{
		MaxPages:       cfg.Scraper.MaxPages,
		CaptureRetries: cfg.Scraper.CaptureRetries,
	}, a.logger)

	q := queueMemory.NewQueue(cfg.Scraper.QueueDepth)
	workerCfg := worker.Config{JobTimeout: config.Seconds(cfg.Scraper.JobTimeoutSeconds)}
	dispatch := dispatcher.NewPool(q, cfg.Scraper.Concurrency, func(i int) *worker.Worker {
		return worker.New(i, q, runner, workerCfg, a.logger)
	})
	a.logger.Info("worker pool configured",
		zap.Int("concurrency", cfg.Scraper.Concurrency),
		zap.Int("queue_depth", cfg.Scraper.QueueDepth),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
	)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	srv := api.NewScraperServer(dispatch, apiKey, a.ready, a.logger)
	return &ScraperService{Server: srv, Dispatch: dispatch, Queue: q, Stage: runner}, nil
}

// RunAPI serves the public API alone until ctx is canceled. The job and blob
// stores must be reachable from the separate scraper process.
func (a *App) RunAPI(ctx context.Context) error {
	if err := a.cfg.ValidateSplit(); err != nil {
		return err
	}
	return a.runAPI(ctx)
}

func (a *App) runAPI(ctx context.Context) error {
	svc, err := a.NewAPIService()
	if err != nil {
		return err
	}
	err = a.serve(ctx, "api", a.cfg.Server.Port, svc.Server.Handler())
	svc.Launcher.Wait()
	return err
}

// RunScraper serves the scraper endpoint alone and drains the queue until ctx
// is canceled. Like RunAPI it needs shared stores.
func (a *App) RunScraper(ctx context.Context) error {
	if err := a.cfg.ValidateSplit(); err != nil {
		return err
	}
	return a.runScraper(ctx)
}

func (a *App) runScraper(ctx context.Context) error {
	svc, err := a.NewScraperService()
	if err != nil {
		return err
	}
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started")
		svc.Dispatch.Run(dispatchCtx)
	}()

	err = a.serve(ctx, "scraper", a.cfg.Server.ScraperPort, svc.Server.Handler())

	// Stop intake, then give in-flight scrapes until the shutdown budget to finish.
	svc.Queue.Close()
	timer := time.NewTimer(config.Seconds(a.cfg.Server.ShutdownTimeoutSeconds))
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		a.logger.Warn("workers still busy at shutdown deadline, canceling")
		cancelDispatch()
		<-done
	}
	cancelDispatch()

	if n := svc.Dispatch.Drain(context.WithoutCancel(ctx), a.abandonTask(svc.Stage)); n > 0 {
		a.logger.Warn("queued scrape tasks abandoned at shutdown", zap.Int("count", n))
	}
	return err
}

// abandonTask fails the job of a task that was queued but never started.
func (a *App) abandonTask(s *scrape.Stage) func(context.Context, pipeline.ScrapeTask) {
	return func(ctx context.Context, task pipeline.ScrapeTask) {
		if err := s.Abandon(ctx, task, "scraper shut down before capture"); err != nil {
			a.logger.Warn("could not fail abandoned scrape task", zap.String("job_id", task.JobID), zap.Error(err))
		}
	}
}

// RunAll runs both services in one process. The first failure stops both.
func (a *App) RunAll(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, run := range []func(context.Context) error{a.runScraper, a.runAPI} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				stop()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (a *App) serve(ctx context.Context, name string, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger := a.logger.With(zap.String("server", name))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Seconds(a.cfg.Server.ShutdownTimeoutSeconds))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return fmt.Errorf("%s server shutdown: %w", name, err)
	}
	return <-errCh
}
