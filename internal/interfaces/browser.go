package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/ghostrun/internal/models"
)

// ErrEngineUnavailable is returned when no session can be obtained for a browser type
var ErrEngineUnavailable = errors.New("browser engine unavailable")

// NetworkObserver receives network activity for the lifetime of a session
type NetworkObserver interface {
	ObserveRequest()
	ObserveResponse(encodedBytes int64)
}

// SessionOptions configures the single page a job runs in
type SessionOptions struct {
	Device         models.DeviceProfile
	DefaultTimeout time.Duration // Applied to element actions without their own timeout
	Observer       NetworkObserver
}

// NavigationTiming is measured from the start of a navigation
type NavigationTiming struct {
	DOMContentLoaded time.Duration
	Load             time.Duration
}

// BrowserDriver launches one browser session per job
type BrowserDriver interface {
	Launch(ctx context.Context, browser models.BrowserType, opts SessionOptions) (BrowserSession, error)
}

// BrowserSession drives one page. A zero timeout means the session default.
type BrowserSession interface {
	// Navigate uses the session default when timeout is zero
	Navigate(ctx context.Context, url string, timeout time.Duration) (NavigationTiming, error)
	Click(ctx context.Context, target models.Locator, timeout time.Duration) error
	ClickAt(ctx context.Context, x, y float64) error
	Fill(ctx context.Context, target models.Locator, value string, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, target models.Locator, timeout time.Duration) error
	ScrollBy(ctx context.Context, x, y float64) error
	Text(ctx context.Context, target models.Locator, timeout time.Duration) (string, error)
	WaitVisible(ctx context.Context, target models.Locator, timeout time.Duration) error

	// Screenshot returns PNG bytes of the full page or the current viewport
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// Snapshot returns the serialized DOM of the current page
	Snapshot(ctx context.Context) (string, error)

	// URL returns the current page location
	URL(ctx context.Context) (string, error)

	Close() error
}
