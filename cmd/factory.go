package cmd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/internal/config"
	"github.com/RockyZHH/MediaCrawler/internal/observability"
	"github.com/RockyZHH/MediaCrawler/internal/publish"
	"github.com/RockyZHH/MediaCrawler/internal/session"
	"github.com/RockyZHH/MediaCrawler/internal/signer"
	"github.com/RockyZHH/MediaCrawler/internal/xhs"
)

// Components holds the initialized services a command needs. The struct
// centralizes lifecycle management: a command builds one, uses it, and calls
// Shutdown on the way out.
type Components struct {
	Browser  *signer.Browser
	State    *session.State
	Client   *xhs.Client
	Pipeline *publish.Pipeline
}

// Shutdown releases the browser. Safe to call on a partially built set.
func (c *Components) Shutdown() {
	if c.Browser != nil {
		c.Browser.Close()
	}
}

// newComponents launches the browser collaborator, adopts its login session,
// and wires the signed API client and the publish pipeline on top of it.
func newComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var initErr error
	defer func() {
		if initErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initErr))
			components.Shutdown()
		}
	}()

	browser, err := signer.Launch(ctx, cfg, logger)
	if err != nil {
		initErr = fmt.Errorf("failed to launch browser: %w", err)
		return nil, initErr
	}
	components.Browser = browser

	if err := browser.Navigate(ctx, cfg.Browser.StartURL); err != nil {
		initErr = fmt.Errorf("failed to open %s: %w", cfg.Browser.StartURL, err)
		return nil, initErr
	}

	page := browser.Page()
	cookies, err := page.Cookies(ctx)
	if err != nil {
		initErr = fmt.Errorf("failed to read browser cookies: %w", err)
		return nil, initErr
	}

	state := session.NewState(baseHeaders(cfg))
	state.Refresh(cookies)
	components.State = state
	logger.Debug("Browser session adopted.", zap.Int("cookies", len(cookies)))

	fn, err := loadSignFunc(cfg, page)
	if err != nil {
		initErr = err
		return nil, initErr
	}
	oracle := signer.NewOracle(page, state, fn, logger)

	client, err := xhs.New(xhs.Options{
		APIHost:            cfg.Client.APIHost,
		UploadHost:         cfg.Client.UploadHost,
		Timeout:            cfg.Network.Timeout,
		ProxyURL:           cfg.Network.ProxyURL,
		InsecureSkipVerify: cfg.Network.InsecureSkipVerify,
		MaxRPS:             cfg.Network.MaxRPS,
	}, oracle, state, logger)
	if err != nil {
		initErr = fmt.Errorf("failed to build API client: %w", err)
		return nil, initErr
	}
	components.Client = client
	components.Pipeline = publish.New(client, logger)

	if !client.Pong(ctx) {
		logger.Warn("Liveness probe failed; the browser session may not be logged in.")
	}

	logger.Info("All components initialized successfully.")
	return components, nil
}

// baseHeaders builds the header set carried on every API request. Operator
// overrides from client.headers win over the defaults.
func baseHeaders(cfg *config.Config) map[string]string {
	base := map[string]string{
		"User-Agent": cfg.Network.UserAgent,
		"Origin":     "https://www.xiaohongshu.com",
		"Referer":    "https://www.xiaohongshu.com/",
	}
	for k, v := range cfg.Client.Headers {
		base[k] = v
	}
	return base
}

// loadSignFunc reads the page-side combiner script configured by the
// operator. The signing algorithm stays outside the binary.
func loadSignFunc(cfg *config.Config, page signer.PageEvaluator) (signer.SignFunc, error) {
	if cfg.Browser.SignScriptFile == "" {
		return nil, fmt.Errorf("browser.sign_script_file is not configured")
	}
	script, err := os.ReadFile(cfg.Browser.SignScriptFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read sign script: %w", err)
	}
	return signer.ScriptSignFunc(page, string(script)), nil
}

// withComponents is the shared RunE scaffold: build, run, shut down.
func withComponents(ctx context.Context, run func(ctx context.Context, c *Components) error) error {
	cfg := config.Get()
	logger := observability.GetLogger()

	components, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	return run(ctx, components)
}
