// Package browser drives headless Chrome for page capture and PDF rendering.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/policy/ratelimit"
)

const defaultNavTimeout = 45 * time.Second

// Config controls the shared Chrome allocator.
type Config struct {
	// MaxParallel bounds concurrently open tabs. Zero means unbounded.
	MaxParallel       int
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready so late scripts can paint.
	Settle    time.Duration
	UserAgent string
	ExecPath  string
	DomainQPS float64
	Burst     int
}

// Browser owns one Chrome process and hands out tabs to callers.
type Browser struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	hosts       *ratelimit.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts an allocator. Chrome itself is launched lazily on the first tab.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		limiter:     limiter,
		hosts:       ratelimit.New(ratelimit.Config{QPS: cfg.DomainQPS, Burst: cfg.Burst}),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.allocCancel()
}

// newTab opens a tab that is canceled when ctx is done or the timeout fires.
func (b *Browser) newTab(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocator,
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Debugf),
	)
	timed, timedCancel := context.WithTimeout(tabCtx, timeout)
	stop := context.AfterFunc(ctx, timedCancel)
	return timed, func() {
		stop()
		timedCancel()
		tabCancel()
	}
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}
