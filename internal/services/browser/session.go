package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

// Session drives the single page of one job over chromedp
type Session struct {
	ctx            context.Context // chromedp browser context, owns the tab
	cancelBrowser  context.CancelFunc
	cancelAlloc    context.CancelFunc
	defaultTimeout time.Duration
	observer       interfaces.NetworkObserver
	logger         arbor.ILogger

	navMu    sync.Mutex
	navStart time.Time
	domReady time.Duration
	loaded   time.Duration

	closeOnce sync.Once
	closeErr  error
}

// onEvent runs on chromedp's event loop and must not block
func (s *Session) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if s.observer != nil {
			s.observer.ObserveRequest()
		}
	case *network.EventLoadingFinished:
		if s.observer != nil {
			s.observer.ObserveResponse(int64(e.EncodedDataLength))
		}
	case *page.EventDomContentEventFired:
		s.markNavigation(func(elapsed time.Duration) { s.domReady = elapsed })
	case *page.EventLoadEventFired:
		s.markNavigation(func(elapsed time.Duration) { s.loaded = elapsed })
	}
}

func (s *Session) markNavigation(set func(time.Duration)) {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	if !s.navStart.IsZero() {
		set(time.Since(s.navStart))
	}
}

// run executes actions on the page, bounded by ctx and timeout.
// The chromedp context is always derived from the browser context so
// cancelling a run never tears down the tab.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	return chromedp.Run(runCtx, actions...)
}

func (s *Session) timeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return s.defaultTimeout
}

// Navigate loads url and reports DOM-ready and load timings relative to the navigation start
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (interfaces.NavigationTiming, error) {
	s.navMu.Lock()
	start := time.Now()
	s.navStart = start
	s.domReady = 0
	s.loaded = 0
	s.navMu.Unlock()

	if err := s.run(ctx, s.timeout(timeout), chromedp.Navigate(url)); err != nil {
		return interfaces.NavigationTiming{}, fmt.Errorf("navigate to %s: %w", url, err)
	}

	elapsed := time.Since(start)

	s.navMu.Lock()
	defer s.navMu.Unlock()

	timing := interfaces.NavigationTiming{DOMContentLoaded: s.domReady, Load: s.loaded}
	if timing.Load == 0 {
		timing.Load = elapsed
	}
	if timing.DOMContentLoaded == 0 || timing.DOMContentLoaded > timing.Load {
		timing.DOMContentLoaded = timing.Load
	}
	return timing, nil
}

func (s *Session) Click(ctx context.Context, target models.Locator, timeout time.Duration) error {
	sel, opts, err := query(target)
	if err != nil {
		return err
	}
	return s.run(ctx, s.timeout(timeout), chromedp.Click(sel, opts...))
}

func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.run(ctx, s.defaultTimeout, chromedp.MouseClickXY(x, y))
}

// Fill clears the field then types value into it
func (s *Session) Fill(ctx context.Context, target models.Locator, value string, timeout time.Duration) error {
	sel, opts, err := query(target)
	if err != nil {
		return err
	}
	return s.run(ctx, s.timeout(timeout),
		chromedp.WaitVisible(sel, opts...),
		chromedp.SetValue(sel, "", opts...),
		chromedp.SendKeys(sel, value, opts...),
	)
}

func (s *Session) ScrollIntoView(ctx context.Context, target models.Locator, timeout time.Duration) error {
	sel, opts, err := query(target)
	if err != nil {
		return err
	}
	return s.run(ctx, s.timeout(timeout), chromedp.ScrollIntoView(sel, opts...))
}

func (s *Session) ScrollBy(ctx context.Context, x, y float64) error {
	var done bool
	script := fmt.Sprintf("(window.scrollBy(%g, %g), true)", x, y)
	return s.run(ctx, s.defaultTimeout, chromedp.Evaluate(script, &done))
}

func (s *Session) Text(ctx context.Context, target models.Locator, timeout time.Duration) (string, error) {
	sel, opts, err := query(target)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, s.timeout(timeout), chromedp.Text(sel, &text, opts...)); err != nil {
		return "", err
	}
	return text, nil
}

func (s *Session) WaitVisible(ctx context.Context, target models.Locator, timeout time.Duration) error {
	sel, opts, err := query(target)
	if err != nil {
		return err
	}
	return s.run(ctx, s.timeout(timeout), chromedp.WaitVisible(sel, opts...))
}

// Screenshot captures PNG bytes; quality 100 makes FullScreenshot emit PNG
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.run(ctx, s.defaultTimeout, action); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *Session) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.defaultTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot DOM: %w", err)
	}
	return html, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, s.defaultTimeout, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.ctx)
		s.cancelBrowser()
		s.cancelAlloc()
	})
	return s.closeErr
}

var _ interfaces.BrowserSession = (*Session)(nil)
