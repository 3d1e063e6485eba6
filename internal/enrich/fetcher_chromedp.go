package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/harvestkit/facultydir/internal/harvest"
	"github.com/harvestkit/facultydir/internal/metrics"
)

// Config controls the headless detail page fetcher.
type Config struct {
	UserAgent   string
	NavTimeout  time.Duration
	MaxParallel int
	// MaxLeases recycles the browser session after this many fetches.
	MaxLeases int
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 25 * time.Second
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 1
	}
	if c.MaxLeases <= 0 {
		c.MaxLeases = 40
	}
	return c
}

// ChromeFetcher renders detail pages with headless Chrome and extracts
// the structured fields. The browser is lazily started on first use and
// recycled per the lease policy; Reset between batches forces a fresh
// session.
type ChromeFetcher struct {
	cfg    Config
	logger *zap.Logger
	sem    chan struct{}
	policy *leasePolicy

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ harvest.Enricher = (*ChromeFetcher)(nil)

// NewChromeFetcher builds the fetcher without starting a browser.
func NewChromeFetcher(cfg Config, logger *zap.Logger) *ChromeFetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeFetcher{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxParallel),
		policy: newLeasePolicy(cfg.MaxLeases),
	}
}

// Fetch renders detailURI and extracts its detail record.
func (f *ChromeFetcher) Fetch(ctx context.Context, detailURI string) (harvest.DetailRecord, error) {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return harvest.DetailRecord{}, fmt.Errorf("acquire fetch slot: %w", ctx.Err())
	}
	defer func() { <-f.sem }()

	metrics.LeaseAcquired()
	defer metrics.LeaseReleased()

	if f.policy.noteAcquire() {
		f.logger.Debug("recycling browser session after max leases")
		if err := f.recycle(ctx); err != nil {
			f.policy.noteRelease()
			return harvest.DetailRecord{}, err
		}
	}
	defer f.policy.noteRelease()

	browserCtx, err := f.ensureBrowser(ctx)
	if err != nil {
		return harvest.DetailRecord{}, err
	}

	started := time.Now()
	html, err := f.render(ctx, browserCtx, detailURI)
	metrics.ObserveEnrichDuration(time.Since(started))
	if err != nil {
		return harvest.DetailRecord{}, harvest.TransportError(fmt.Errorf("render %s: %w", detailURI, err))
	}

	return Extract(html)
}

// Reset tears down the browser so the next fetch starts a fresh session.
// Called between batches as part of the anti-throttling design.
func (f *ChromeFetcher) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	f.policy.reset()
	return nil
}

// Close releases the browser and allocator.
func (f *ChromeFetcher) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

func (f *ChromeFetcher) recycle(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	_, err := f.ensureBrowserLocked(ctx)
	return err
}

func (f *ChromeFetcher) ensureBrowser(ctx context.Context) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureBrowserLocked(ctx)
}

func (f *ChromeFetcher) ensureBrowserLocked(_ context.Context) (context.Context, error) {
	if f.browserCtx != nil && f.browserCtx.Err() == nil {
		return f.browserCtx, nil
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	f.allocCancel = allocCancel
	f.browserCtx = browserCtx
	f.browserCancel = browserCancel
	return browserCtx, nil
}

func (f *ChromeFetcher) closeLocked() {
	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCancel = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
	}
	f.browserCtx = nil
}

func (f *ChromeFetcher) render(ctx, browserCtx context.Context, detailURI string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, f.cfg.NavTimeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	var html string
	tasks := chromedp.Tasks{network.Enable()}
	if f.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(detailURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// forwardCancel propagates cancellation of the caller's context into the
// chromedp task context, which hangs off the browser context instead.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
