package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"

	DefaultNavigationTimeout = 60 * time.Second
	defaultActionTimeout     = 10 * time.Second
	defaultViewportWidth     = 1280
	defaultViewportHeight    = 900
)

var (
	// ErrNavigationTimeout is returned when a navigation or load-state wait runs out of time.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrDetached marks evaluation against a destroyed or detached document.
	ErrDetached = errors.New("execution context detached")
	// ErrActionTimeout is returned when an element action finds no matching node in time.
	ErrActionTimeout = errors.New("element action timeout")
	// ErrUnknownDriver is returned by Launch for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown browser driver")
)

// Page is the slice of a browser tab the agent needs. Selectors are CSS.
type Page interface {
	URL() string
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Navigate(ctx context.Context, url string) error
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	// WaitForNavigation blocks until the main frame navigates or timeout elapses,
	// in which case ErrNavigationTimeout is returned.
	WaitForNavigation(ctx context.Context, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	Hover(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error
	Clear(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, label string) error
	Press(ctx context.Context, modifiers []string, key string) error
	Scroll(ctx context.Context, deltaY int) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Options configure a launched browser.
type Options struct {
	Headless          bool
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
	// StorageStatePath is loaded into the context when the file exists (playwright only).
	StorageStatePath string
}

func (o Options) withDefaults() Options {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = defaultViewportWidth
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = defaultViewportHeight
	}
	return o
}

// Session owns a browser process and its single page.
type Session interface {
	Page() Page
	Close() error
}

// StateSaver is implemented by sessions that can persist cookies and local storage.
type StateSaver interface {
	SaveState(path string) error
}

// Launch starts a browser with the named driver and opens one page.
func Launch(ctx context.Context, driver string, opts Options) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPlaywright:
		return launchPlaywright(opts)
	case DriverChromedp:
		return launchCDP(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

var detachedMarkers = []string{
	"execution context was destroyed",
	"cannot find context with specified id",
	"frame was detached",
	"target closed",
	"target page, context or browser has been closed",
	"inspected target navigated or closed",
	"detached",
}

// IsDetached reports whether err stems from evaluating against a document that went away.
func IsDetached(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDetached) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range detachedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func durationMillis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
