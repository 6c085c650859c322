// Package discovery picks the same-site pages a scrape job captures.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {},
	".zip": {}, ".mp4": {}, ".mp3": {}, ".css": {}, ".js": {}, ".xml": {}, ".json": {},
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Discoverer fetches a start page and lists the same-host links on it.
type Discoverer struct {
	cfg           Config
	logger        *zap.Logger
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Discoverer.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	transport := newHTTPTransport()
	c := colly.NewCollector(colly.Async(false), colly.MaxDepth(1))
	c.WithTransport(transport)
	return &Discoverer{
		cfg:           cfg,
		logger:        logger.Named("discovery"),
		transport:     transport,
		baseCollector: c,
	}
}

// Discover returns up to limit URLs: startURL first, then unique same-host
// links in document order. A start page that cannot be fetched or is
// disallowed by robots.txt yields just startURL, since the user asked for it.
func (d *Discoverer) Discover(ctx context.Context, startURL string, limit int) ([]string, error) {
	start, err := url.Parse(startURL)
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, fmt.Errorf("discover: invalid start url %q", startURL)
	}
	if limit <= 1 {
		return []string{startURL}, nil
	}

	set := newLinkSet(start, limit)
	set.add(startURL)

	probe := &robotsProbe{}
	collector := d.buildCollector(probe, set)
	err = d.runCollector(ctx, collector, startURL)
	if fellBack, reason := probe.snapshot(); fellBack {
		d.logger.Warn("robots.txt probe fell back to allow-all", zap.String("url", startURL), zap.String("reason", reason))
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		d.logger.Info("robots.txt blocks link discovery", zap.String("url", startURL))
	default:
		d.logger.Warn("start page fetch failed; capturing start url only", zap.String("url", startURL), zap.Error(err))
	}
	return set.list(), nil
}

func (d *Discoverer) buildCollector(probe *robotsProbe, set *linkSet) *colly.Collector {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !d.cfg.RespectRobots
	collector.SetRequestTimeout(d.cfg.Timeout)
	if d.cfg.RespectRobots {
		collector.WithTransport(&robotsAwareTransport{base: d.transport, probe: probe})
	} else {
		collector.WithTransport(d.transport)
	}

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		set.add(e.Request.AbsoluteURL(e.Attr("href")))
	})
	return collector
}

func (d *Discoverer) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	var respErr error
	collector.OnError(func(_ *colly.Response, err error) {
		respErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("discovery canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if respErr != nil {
			return fmt.Errorf("colly response failed: %w", respErr)
		}
		return nil
	}
}

type linkSet struct {
	host  string
	limit int
	seen  map[string]struct{}
	urls  []string
}

func newLinkSet(start *url.URL, limit int) *linkSet {
	return &linkSet{
		host:  canonicalHost(start.Hostname()),
		limit: limit,
		seen:  make(map[string]struct{}, limit),
	}
}

func (s *linkSet) add(raw string) {
	if len(s.urls) >= s.limit || raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return
	}
	if canonicalHost(u.Hostname()) != s.host {
		return
	}
	if _, skip := skippedExtensions[strings.ToLower(path.Ext(u.Path))]; skip {
		return
	}
	u.Fragment = ""
	u.RawFragment = ""
	key := strings.ToLower(u.Host) + strings.TrimSuffix(u.EscapedPath(), "/") + "?" + u.RawQuery
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.urls = append(s.urls, u.String())
}

func (s *linkSet) list() []string {
	return append([]string(nil), s.urls...)
}

func canonicalHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
