// Package cmd implements the tagops command line: one binary that runs the
// public API, the scraper service, or both.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/config"
	"github.com/JakeFAU/tagops-pipeline/internal/logging"
	"github.com/JakeFAU/tagops-pipeline/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the assembled services. Tests inject
// a fake through newApp.
type App interface {
	RunAPI(ctx context.Context) error
	RunScraper(ctx context.Context) error
	RunAll(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close(ctx context.Context)
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

// closeTimeout bounds the final flush after a subcommand returns.
const closeTimeout = 15 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tagops",
		Short: "Scrape a site, draft an SEO and tagging report with an LLM, export it as PDF.",
		Long: `tagops runs the three-stage analytics pipeline. The scraper service
(Insight Forge) captures pages with headless Chrome, Analytic Core turns the
captures into a Markdown tagging plan, and TagOps Hub renders the plan as a PDF.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config failed: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); TAGOPS_* environment variables override it")

	cmd.AddCommand(
		newServeCmd("api", "Serve the public job API, Analytic Core and TagOps Hub", App.RunAPI),
		newServeCmd("scraper", "Serve the Insight Forge scrape endpoint and its worker pool", App.RunScraper),
		newServeCmd("all", "Run the API and the scraper service in one process", App.RunAll),
		newMigrateCmd(),
	)
	return cmd
}

// withApp runs fn with the App built by the root hook and closes the App
// afterwards, whether or not fn failed.
func withApp(cmd *cobra.Command, fn func(App) error) error {
	appInstance, ok := cmd.Context().Value(appKey).(App)
	if !ok || appInstance == nil {
		return errors.New("application services are not initialized")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		appInstance.Close(ctx)
	}()
	return fn(appInstance)
}

// Execute is the main entry point. SIGINT and SIGTERM start a graceful shutdown.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tagops: %v\n", err)
		stop()
		os.Exit(1)
	}
}
