package portal

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

const startupTimeout = 30 * time.Second

// browserInstance is one Chrome process and its single tab
type browserInstance struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	pid         int
}

// allocatorOptions builds the Chrome flags. Automation hints are suppressed
// because the portal serves a degraded page to detected bots.
func allocatorOptions(config Config) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("start-maximized", true),
		chromedp.WindowSize(1920, 1080),
	)

	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(config.ChromePath))
	}
	return opts
}

// launchBrowser starts Chrome, checks it responds, and routes downloads to
// downloadDir. The browser lives until close is called; it is deliberately
// not tied to the caller's context.
func launchBrowser(config Config, downloadDir string, logger arbor.ILogger) (*browserInstance, error) {
	startTime := time.Now()

	absDir, err := filepath.Abs(downloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download directory: %w", err)
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(config)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()

	// Run startup test
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	err = chromedp.Run(testCtx, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(absDir).
		WithEventsEnabled(true))
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("failed to set download directory: %w", err)
	}

	instance := &browserInstance{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocatorCancel,
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if p := c.Browser.Process(); p != nil {
			instance.pid = p.Pid
		}
	}

	logger.Debug().
		Int("pid", instance.pid).
		Str("download_dir", absDir).
		Bool("headless", config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")

	return instance, nil
}

// close cancels the tab and allocator, which terminates Chrome
func (b *browserInstance) close() {
	b.cancel()
	b.allocCancel()
}
