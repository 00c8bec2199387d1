// Package browsertest provides a scripted in-memory browser for tests that
// exercise the job engine without a real Chrome.
package browsertest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

// PNG is the payload returned by every fake screenshot
var PNG = []byte("\x89PNG\r\n\x1a\nfake-image")

// Element is a node the fake page can resolve
type Element struct {
	Text   string
	Hidden bool
}

// Driver launches fake sessions. Configure it before the first Launch.
type Driver struct {
	// Elements maps locators to the nodes present on every page
	Elements map[models.Locator]Element

	// RequestsPerNavigation and BytesPerRequest feed the network observer on each goto
	RequestsPerNavigation int
	BytesPerRequest       int64

	LaunchErr     error
	NavigateErr   error
	ScreenshotErr error
	CloseErr      error

	// BeforeAction, when set, runs before every session call and may block or fail it
	BeforeAction func(ctx context.Context, call string) error

	mu       sync.Mutex
	sessions []*Session
	launches []interfaces.SessionOptions
}

// NewDriver returns a driver with a small page of network traffic per navigation
func NewDriver() *Driver {
	return &Driver{
		Elements:              map[models.Locator]Element{},
		RequestsPerNavigation: 3,
		BytesPerRequest:       512,
	}
}

func (d *Driver) Launch(ctx context.Context, browser models.BrowserType, opts interfaces.SessionOptions) (interfaces.BrowserSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.launches = append(d.launches, opts)
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}

	session := &Session{driver: d, browser: browser, opts: opts, url: "about:blank"}
	d.sessions = append(d.sessions, session)
	return session, nil
}

// Sessions returns every session launched so far
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// Launches returns the options of every launch attempt
func (d *Driver) Launches() []interfaces.SessionOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]interfaces.SessionOptions(nil), d.launches...)
}

// Session records every call made against it
type Session struct {
	driver  *Driver
	browser models.BrowserType
	opts    interfaces.SessionOptions

	mu          sync.Mutex
	url         string
	calls       []string
	navTimeouts []time.Duration
	filled      map[string]string
	closed      int
}

// NavigateTimeouts returns the timeout passed to each Navigate call
func (s *Session) NavigateTimeouts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.navTimeouts...)
}

// Calls returns the recorded calls in order
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Filled returns the values typed into each located field
func (s *Session) Filled() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.filled))
	for k, v := range s.filled {
		out[k] = v
	}
	return out
}

// CloseCount reports how many times Close was called
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Browser returns the engine the session was launched for
func (s *Session) Browser() models.BrowserType {
	return s.browser
}

func (s *Session) record(ctx context.Context, call string) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	if hook := s.driver.BeforeAction; hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Session) find(target models.Locator) (Element, error) {
	el, ok := s.driver.Elements[target]
	if !ok {
		return Element{}, fmt.Errorf("waiting for %s: element not found", target.Describe())
	}
	return el, nil
}

func (s *Session) Navigate(ctx context.Context, rawURL string, timeout time.Duration) (interfaces.NavigationTiming, error) {
	if err := s.record(ctx, "navigate "+rawURL); err != nil {
		return interfaces.NavigationTiming{}, err
	}
	s.mu.Lock()
	s.navTimeouts = append(s.navTimeouts, timeout)
	s.mu.Unlock()
	if s.driver.NavigateErr != nil {
		return interfaces.NavigationTiming{}, s.driver.NavigateErr
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return interfaces.NavigationTiming{}, err
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	s.mu.Lock()
	s.url = parsed.String()
	s.mu.Unlock()

	if observer := s.opts.Observer; observer != nil {
		for i := 0; i < s.driver.RequestsPerNavigation; i++ {
			observer.ObserveRequest()
			observer.ObserveResponse(s.driver.BytesPerRequest)
		}
	}

	return interfaces.NavigationTiming{DOMContentLoaded: 40 * time.Millisecond, Load: 90 * time.Millisecond}, nil
}

func (s *Session) Click(ctx context.Context, target models.Locator, timeout time.Duration) error {
	if err := s.record(ctx, "click "+target.Describe()); err != nil {
		return err
	}
	_, err := s.find(target)
	return err
}

func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.record(ctx, fmt.Sprintf("click-at %g,%g", x, y))
}

func (s *Session) Fill(ctx context.Context, target models.Locator, value string, timeout time.Duration) error {
	if err := s.record(ctx, "fill "+target.Describe()); err != nil {
		return err
	}
	if _, err := s.find(target); err != nil {
		return err
	}
	s.mu.Lock()
	if s.filled == nil {
		s.filled = map[string]string{}
	}
	s.filled[target.Describe()] = value
	s.mu.Unlock()
	return nil
}

func (s *Session) ScrollIntoView(ctx context.Context, target models.Locator, timeout time.Duration) error {
	if err := s.record(ctx, "scroll-into-view "+target.Describe()); err != nil {
		return err
	}
	_, err := s.find(target)
	return err
}

func (s *Session) ScrollBy(ctx context.Context, x, y float64) error {
	return s.record(ctx, fmt.Sprintf("scroll-by %g,%g", x, y))
}

func (s *Session) Text(ctx context.Context, target models.Locator, timeout time.Duration) (string, error) {
	if err := s.record(ctx, "text "+target.Describe()); err != nil {
		return "", err
	}
	el, err := s.find(target)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (s *Session) WaitVisible(ctx context.Context, target models.Locator, timeout time.Duration) error {
	if err := s.record(ctx, "wait-visible "+target.Describe()); err != nil {
		return err
	}
	el, err := s.find(target)
	if err != nil {
		return err
	}
	if el.Hidden {
		return fmt.Errorf("waiting for %s: element not visible", target.Describe())
	}
	return nil
}

func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	call := "screenshot viewport"
	if fullPage {
		call = "screenshot full"
	}
	if err := s.record(ctx, call); err != nil {
		return nil, err
	}
	if s.driver.ScreenshotErr != nil {
		return nil, s.driver.ScreenshotErr
	}
	return append([]byte(nil), PNG...), nil
}

func (s *Session) Snapshot(ctx context.Context) (string, error) {
	if err := s.record(ctx, "snapshot"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return "<html><head><title>" + s.url + "</title></head><body><script>window.track()</script></body></html>", nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed++
	s.calls = append(s.calls, "close")
	s.mu.Unlock()
	return s.driver.CloseErr
}

// HasCall reports whether any recorded call starts with prefix
func (s *Session) HasCall(prefix string) bool {
	for _, call := range s.Calls() {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

var (
	_ interfaces.BrowserDriver  = (*Driver)(nil)
	_ interfaces.BrowserSession = (*Session)(nil)
)
