// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/dom"
)

// ChromeDriver drives a Chrome/Chromium instance over the DevTools
// protocol. It implements Driver.
type ChromeDriver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	// mu guards tabCtx/tabCancel; SwitchTab replaces them.
	mu        sync.Mutex
	tabCtx    context.Context
	tabCancel context.CancelFunc
	closed    bool
}

var _ Driver = (*ChromeDriver)(nil)

// NewChromeDriver launches the browser and opens the initial tab.
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// An empty Run forces the browser process to start now, so a broken
	// environment fails at construction instead of mid-run.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &ChromeDriver{
		cfg:         cfg,
		logger:      logger.Named("chrome_driver"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

// run executes chromedp actions on the active tab, translating dead-session
// failures into ErrSessionClosed.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	tabCtx := d.tabCtx
	closed := d.closed
	d.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if err := tabCtx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}

	opCtx, cancel := mergeDeadline(tabCtx, ctx)
	defer cancel()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if tabCtx.Err() != nil || isDisconnectError(err) {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return err
	}
	return nil
}

// mergeDeadline runs tab-bound work but honors the caller's deadline and
// cancellation.
func mergeDeadline(tabCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callerCtx.Deadline(); ok {
		return context.WithDeadline(tabCtx, deadline)
	}
	opCtx, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(callerCtx, cancel)
	return opCtx, func() { stop(); cancel() }
}

func isDisconnectError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "browser process exited")
}

// Observe captures url, title, page HTML, tab list and (optionally) a
// screenshot, then parses a fresh element tree with new indices.
func (d *ChromeDriver) Observe(ctx context.Context) (*StateSummary, error) {
	var (
		rawHTML, url, title string
		screenshot          []byte
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.run(gctx,
			chromedp.Location(&url),
			chromedp.Title(&title),
			chromedp.OuterHTML("html", &rawHTML),
		)
	})
	g.Go(func() error {
		// Screenshot failures are tolerable; the textual state is what
		// the agent actually plans against.
		if err := d.run(gctx, chromedp.CaptureScreenshot(&screenshot)); err != nil {
			d.logger.Warn("Screenshot capture failed", zap.Error(err))
			screenshot = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("page observation failed: %w", err)
	}

	tabs, err := d.listTabs(ctx)
	if err != nil {
		d.logger.Warn("Tab listing failed", zap.Error(err))
	}

	state, err := dom.BuildState(rawHTML, url)
	if err != nil {
		return nil, fmt.Errorf("failed to build element tree: %w", err)
	}

	d.logger.Debug("Page observed",
		zap.String("url", url),
		zap.Int("interactable_elements", len(state.SelectorMap)),
		zap.Int("tabs", len(tabs)))

	return &StateSummary{
		URL:        url,
		Title:      title,
		Tabs:       tabs,
		DOM:        state,
		RawHTML:    rawHTML,
		Screenshot: screenshot,
	}, nil
}

func (d *ChromeDriver) listTabs(ctx context.Context) ([]TabInfo, error) {
	d.mu.Lock()
	tabCtx := d.tabCtx
	d.mu.Unlock()

	infos, err := chromedp.Targets(tabCtx)
	if err != nil {
		return nil, err
	}
	var tabs []TabInfo
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		tabs = append(tabs, TabInfo{
			TargetID: string(info.TargetID),
			URL:      info.URL,
			Title:    info.Title,
			Index:    len(tabs),
		})
	}
	return tabs, nil
}

// Navigate loads a URL and waits out the configured settle period.
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if d.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := d.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return d.settle(ctx)
}

// settle gives in-flight page effects a moment to land.
func (d *ChromeDriver) settle(ctx context.Context) error {
	wait := d.cfg.PostLoadWait
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *ChromeDriver) GoBack(ctx context.Context) error {
	if err := d.run(ctx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("history navigation failed: %w", err)
	}
	return d.settle(ctx)
}

func (d *ChromeDriver) Click(ctx context.Context, el *dom.ElementNode) error {
	if el == nil {
		return fmt.Errorf("cannot click a nil element")
	}
	if err := d.run(ctx, chromedp.Click(el.XPath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("click on %s failed: %w", el.String(), err)
	}
	return nil
}

func (d *ChromeDriver) InputText(ctx context.Context, el *dom.ElementNode, text string) error {
	if el == nil {
		return fmt.Errorf("cannot type into a nil element")
	}
	err := d.run(ctx,
		chromedp.Clear(el.XPath, chromedp.BySearch),
		chromedp.SendKeys(el.XPath, text, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("input into %s failed: %w", el.String(), err)
	}
	return nil
}

func (d *ChromeDriver) SendKeys(ctx context.Context, keys string) error {
	if err := d.run(ctx, chromedp.KeyEvent(keys)); err != nil {
		return fmt.Errorf("key event %q failed: %w", keys, err)
	}
	return nil
}

func (d *ChromeDriver) ScrollBy(ctx context.Context, pixels int) error {
	script := fmt.Sprintf("window.scrollBy(0, %d)", pixels)
	if err := d.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// SwitchTab attaches the driver to another open tab by its Observe-time
// index.
func (d *ChromeDriver) SwitchTab(ctx context.Context, index int) error {
	tabs, err := d.listTabs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tabs: %w", err)
	}
	if index < 0 || index >= len(tabs) {
		return fmt.Errorf("tab index %d out of range (%d tabs open)", index, len(tabs))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrSessionClosed
	}

	newCtx, newCancel := chromedp.NewContext(d.allocCtx,
		chromedp.WithTargetID(target.ID(tabs[index].TargetID)))
	if err := chromedp.Run(newCtx); err != nil {
		newCancel()
		return fmt.Errorf("failed to attach to tab %d: %w", index, err)
	}

	d.tabCancel()
	d.tabCtx = newCtx
	d.tabCancel = newCancel
	d.logger.Info("Switched tab", zap.Int("index", index), zap.String("url", tabs[index].URL))
	return nil
}

// Close shuts the browser down. Idempotent.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.tabCancel()
	d.allocCancel()
	return nil
}
