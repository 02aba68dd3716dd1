package signer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
	"github.com/RockyZHH/MediaCrawler/internal/config"
)

// Browser owns one chromedp-driven browser process and the single tab used
// as the signing context. Login state lives in the browser profile; this
// module only reads from it.
type Browser struct {
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// Launch starts the browser and opens an empty tab.
func Launch(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Browser, error) {
	b := &Browser{logger: logger.Named("browser")}

	opts := allocatorOptions(cfg)
	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	b.tabCtx, b.tabCancel = chromedp.NewContext(b.allocCtx,
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Errorf),
	)

	if err := chromedp.Run(b.tabCtx, chromedp.Navigate("about:blank")); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to initialize browser context: %w", err)
	}

	b.logger.Info("browser launched",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.String("user_data_dir", cfg.Browser.UserDataDir),
	)
	return b, nil
}

func allocatorOptions(cfg *config.Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := cfg.Browser
	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if browserCfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(browserCfg.UserDataDir))
	}

	opts = append(opts,
		// The platform fingerprints automated browsers aggressively.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-extensions", true),

		chromedp.Flag("disable-gpu", browserCfg.Headless),
		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),
		chromedp.UserAgent(cfg.Network.UserAgent),
	)

	if cfg.Network.ProxyURL != "" {
		if _, err := url.Parse(cfg.Network.ProxyURL); err == nil {
			opts = append(opts, chromedp.ProxyServer(cfg.Network.ProxyURL))
		}
	}
	for _, arg := range browserCfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Navigate loads the given URL in the signing tab and waits for the document
// to settle enough for the signing entry point to exist.
func (b *Browser) Navigate(ctx context.Context, target string) error {
	return b.run(ctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
}

// Page returns the evaluator bound to the signing tab.
func (b *Browser) Page() *Page { return &Page{browser: b} }

// Close tears down the tab and the browser process.
func (b *Browser) Close() {
	if b.tabCancel != nil {
		b.tabCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// run executes chromedp actions on the tab while honoring the caller's
// context for cancellation.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(b.tabCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Page evaluates expressions in the browser's signing tab and exposes the
// context's cookies. It is the concrete PageEvaluator used in production.
type Page struct {
	browser *Browser
}

var _ PageEvaluator = (*Page)(nil)

// Evaluate runs a JavaScript expression and decodes the result into out.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	return p.browser.run(ctx, chromedp.Evaluate(expression, out))
}

// Cookies returns a snapshot of the browser context's cookies.
func (p *Page) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []schemas.Cookie
	err := p.browser.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		raw, err := storage.GetCookies().Do(cctx)
		if err != nil {
			return err
		}
		cookies = make([]schemas.Cookie, 0, len(raw))
		for _, c := range raw {
			cookies = append(cookies, schemas.Cookie{Name: c.Name, Value: c.Value})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read browser cookies: %w", err)
	}
	return cookies, nil
}
