// -----------------------------------------------------------------------
// Browser driver - one chromedp session per job, local or remote
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

// startupTimeout bounds browser allocation and page setup
const startupTimeout = 30 * time.Second

// Driver launches chromedp sessions. Chromium runs locally through an exec
// allocator unless an endpoint is configured; other engines need an endpoint
// speaking the DevTools protocol.
type Driver struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewDriver creates a new browser driver
func NewDriver(config common.BrowserConfig, logger arbor.ILogger) *Driver {
	return &Driver{
		config: config,
		logger: logger,
	}
}

func (d *Driver) allocator(browser models.BrowserType, profile models.DeviceProfile) (context.Context, context.CancelFunc, error) {
	if endpoint := d.config.Endpoints[string(browser)]; endpoint != "" {
		d.logger.Debug().Str("browser", string(browser)).Str("endpoint", endpoint).Msg("Using remote browser endpoint")
		ctx, cancel := chromedp.NewRemoteAllocator(context.Background(), endpoint)
		return ctx, cancel, nil
	}

	if browser != models.BrowserChromium {
		return nil, nil, fmt.Errorf("%w: %s has no remote endpoint configured", interfaces.ErrEngineUnavailable, browser)
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("disable-gpu", d.config.DisableGPU),
		chromedp.Flag("no-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", false),
		chromedp.Flag("disable-renderer-backgrounding", false),
		chromedp.WindowSize(profile.Viewport.Width, profile.Viewport.Height),
	)
	if d.config.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(d.config.ExecPath))
	}

	ctx, cancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	return ctx, cancel, nil
}

// Launch opens one page configured with the device profile.
// The session outlives ctx; ctx only bounds startup.
func (d *Driver) Launch(ctx context.Context, browser models.BrowserType, opts interfaces.SessionOptions) (interfaces.BrowserSession, error) {
	startTime := time.Now()
	profile := opts.Device

	allocatorCtx, allocatorCancel, err := d.allocator(browser, profile)
	if err != nil {
		return nil, err
	}

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	session := &Session{
		ctx:            browserCtx,
		cancelBrowser:  browserCancel,
		cancelAlloc:    allocatorCancel,
		defaultTimeout: opts.DefaultTimeout,
		observer:       opts.Observer,
		logger:         d.logger,
	}

	// The first Run allocates the browser, so it must use the browser
	// context itself rather than a derived timeout context.
	abort := context.AfterFunc(ctx, browserCancel)
	timer := time.AfterFunc(startupTimeout, browserCancel)
	err = chromedp.Run(browserCtx, network.Enable())
	timer.Stop()
	abort()
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("failed to start %s session: %w", browser, err)
	}

	chromedp.ListenTarget(browserCtx, session.onEvent)

	viewportOpts := []chromedp.EmulateViewportOption{}
	if profile.Mobile {
		viewportOpts = append(viewportOpts, chromedp.EmulateMobile)
	}
	if profile.Touch {
		viewportOpts = append(viewportOpts, chromedp.EmulateTouch)
	}

	setup := []chromedp.Action{
		chromedp.EmulateViewport(int64(profile.Viewport.Width), int64(profile.Viewport.Height), viewportOpts...),
	}
	if profile.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(profile.UserAgent))
	}

	if err := session.run(ctx, startupTimeout, setup...); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to configure %s page: %w", browser, err)
	}

	d.logger.Debug().
		Str("browser", string(browser)).
		Int("width", profile.Viewport.Width).
		Int("height", profile.Viewport.Height).
		Bool("mobile", profile.Mobile).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return session, nil
}

var _ interfaces.BrowserDriver = (*Driver)(nil)
