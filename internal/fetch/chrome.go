package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// hideWebdriverScript runs before any page script so that simple bot checks
// do not see an automated browser.
const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});`

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	// Headless runs Chrome without a window.
	Headless bool

	// Stealth hides common automation fingerprints.
	Stealth bool

	// ProxyURL is passed to Chrome as --proxy-server.
	ProxyURL string

	// ExecPath overrides the Chrome binary location.
	ExecPath string

	// SettleDelay is how long to wait after load for scripts to add links.
	SettleDelay time.Duration
}

// ChromeRenderer renders pages in one shared headless Chrome, one tab per fetch.
type ChromeRenderer struct {
	opts ChromeOptions

	allocCancel   context.CancelFunc
	browserCtx    context.Context //nolint:containedctx // browser lifetime outlives any single call
	browserCancel context.CancelFunc

	startOnce sync.Once
	startErr  error
}

// NewChromeRenderer prepares a browser allocator. Chrome starts on the first Render.
func NewChromeRenderer(opts ChromeOptions) *ChromeRenderer {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 500 * time.Millisecond
	}

	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.Stealth {
		execOpts = append(execOpts, chromedp.Flag("disable-blink-features", "AutomationControlled"))
	}
	if opts.ProxyURL != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(opts.ProxyURL))
	}
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &ChromeRenderer{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
}

// tabSetup returns the actions that prepare a fresh tab before navigation.
func (r *ChromeRenderer) tabSetup(userAgent string) []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}
	if userAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(userAgent))
	}
	if r.opts.Stealth {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}))
	}
	return actions
}

// Render navigates a new tab to rawURL and exports the final DOM.
func (r *ChromeRenderer) Render(ctx context.Context, rawURL, userAgent string) (*RenderedPage, error) {
	r.startOnce.Do(func() {
		r.startErr = chromedp.Run(r.browserCtx)
	})
	if r.startErr != nil {
		return nil, &Error{Kind: KindRender, URL: rawURL, Err: fmt.Errorf("start chrome: %w", r.startErr)}
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var (
		mu          sync.Mutex
		status      int
		contentType string
	)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		// The first document response belongs to the top-level navigation.
		if status == 0 {
			status = int(resp.Response.Status)
			contentType = resp.Response.MimeType
		}
	})

	var html, finalURL string
	actions := append(r.tabSetup(userAgent),
		chromedp.Navigate(rawURL),
		chromedp.Sleep(r.opts.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if status == 0 {
		status = 200
	}
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &RenderedPage{
		FinalURL:    finalURL,
		StatusCode:  status,
		ContentType: contentType,
		Body:        []byte(html),
	}, nil
}

// Close shuts the browser down.
func (r *ChromeRenderer) Close() error {
	r.browserCancel()
	r.allocCancel()
	return nil
}
