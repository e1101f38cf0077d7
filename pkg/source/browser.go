package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// hideWebdriver runs before any page script so navigator.webdriver reads
// false in automated tabs.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', { get: () => false });`

// ErrBrowserClosed is returned by Load after Close.
var ErrBrowserClosed = errors.New("browser closed")

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string

	// Headful shows the window, for debugging selectors.
	Headful bool

	WindowWidth  int
	WindowHeight int
}

// BrowserLoader renders pages in a shared headless Chrome. The browser is
// started on first use and reused; every Load gets its own tab.
type BrowserLoader struct {
	cfg    BrowserConfig
	logger zerolog.Logger

	// launch starts Chrome; replaced in tests.
	launch func() (browserCtx context.Context, browserCancel, allocCancel context.CancelFunc, err error)

	mu            sync.Mutex
	closed        bool
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewBrowserLoader returns a loader; no browser is started until Load.
func NewBrowserLoader(cfg BrowserConfig, logger zerolog.Logger) *BrowserLoader {
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = 1920
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = 1080
	}
	b := &BrowserLoader{cfg: cfg, logger: logger}
	b.launch = b.launchChrome
	return b
}

// browser returns the shared browser context, starting Chrome if needed.
func (b *BrowserLoader) browser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrowserClosed
	}
	if b.browserCtx != nil {
		if b.browserCtx.Err() == nil {
			return b.browserCtx, nil
		}
		b.logger.Warn().Err(b.browserCtx.Err()).Msg("Headless browser gone, relaunching")
		b.release()
	}

	browserCtx, browserCancel, allocCancel, err := b.launch()
	if err != nil {
		return nil, err
	}
	b.browserCtx, b.browserCancel, b.allocCancel = browserCtx, browserCancel, allocCancel
	b.logger.Info().Bool("headless", !b.cfg.Headful).Msg("Headless browser started")
	return browserCtx, nil
}

func (b *BrowserLoader) launchChrome() (context.Context, context.CancelFunc, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !b.cfg.Headful),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.DisableGPU,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(b.cfg.WindowWidth, b.cfg.WindowHeight),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, nil, nil, fmt.Errorf("start browser: %w", err)
	}
	return browserCtx, browserCancel, allocCancel, nil
}

// Load implements PageLoader.
func (b *BrowserLoader) Load(ctx context.Context, req LoadRequest) (string, error) {
	bctx, err := b.browser()
	if err != nil {
		return "", err
	}

	tabCtx, closeTab := chromedp.NewContext(bctx)
	defer closeTab()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, req.Timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
			return err
		}),
		chromedp.EmulateViewport(int64(b.cfg.WindowWidth), int64(b.cfg.WindowHeight)),
	}
	if req.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(req.UserAgent))
	}

	var html string
	actions = append(actions,
		chromedp.Navigate(req.URL),
		chromedp.Sleep(req.ThinkTime),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("load %s: %w", req.URL, err)
	}
	return html, nil
}

// Close shuts the browser down. Loads after Close fail with ErrBrowserClosed.
func (b *BrowserLoader) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(b.browserCtx)
	b.release()
	b.logger.Info().Msg("Headless browser closed")
	return err
}

// release cancels the current browser and its allocator. Callers hold mu.
func (b *BrowserLoader) release() {
	b.browserCancel()
	b.allocCancel()
	b.browserCtx, b.browserCancel, b.allocCancel = nil, nil, nil
}
