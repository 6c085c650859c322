package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

// Capture is everything recorded for one page visit.
type Capture struct {
	URL        string
	Title      string
	Screenshot []byte
	Crop       []byte
	Coordmap   pipeline.Coordmap
	Duration   time.Duration
}

// Capture visits rawURL with the device profile and records a full-page PNG,
// the above-the-fold crop, and a coordinate map of visible components.
func (b *Browser) Capture(ctx context.Context, rawURL string, device pipeline.Device) (Capture, error) {
	if err := b.hosts.Wait(ctx, rawURL); err != nil {
		return Capture{}, err
	}
	if err := b.acquire(ctx); err != nil {
		return Capture{}, err
	}
	defer b.release()

	tabCtx, cancel := b.newTab(ctx, b.cfg.NavigationTimeout)
	defer cancel()

	profile := ProfileFor(device)
	var (
		out      Capture
		rawComps []rawComponent
	)
	start := time.Now()
	actions := []chromedp.Action{
		profile.emulate(),
		b.userAgentAction(profile),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(scrollThroughJS, nil, awaitPromise),
		chromedp.Sleep(b.cfg.Settle),
		chromedp.Evaluate(`window.scrollTo(0, 0)`, nil),
		chromedp.Location(&out.URL),
		chromedp.Title(&out.Title),
		chromedp.CaptureScreenshot(&out.Crop),
		chromedp.Evaluate(componentsJS, &rawComps),
		chromedp.FullScreenshot(&out.Screenshot, 100),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return Capture{}, fmt.Errorf("capture %s: %w", rawURL, err)
	}
	out.Duration = time.Since(start)
	if out.URL == "" {
		out.URL = rawURL
	}

	components := normalizeComponents(rawComps)
	out.Coordmap = pipeline.Coordmap{
		URL:        out.URL,
		PageType:   classifyPage(out.URL, components),
		Components: components,
	}
	b.logger.Debug("page captured",
		zap.String("url", out.URL),
		zap.String("device", string(device)),
		zap.Int("components", len(components)),
		zap.Duration("took", out.Duration),
	)
	return out, nil
}

func (b *Browser) userAgentAction(p Profile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		ua := b.cfg.UserAgent
		if p.UserAgent != "" {
			ua = p.UserAgent
		}
		if ua == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}
