package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Launcher owns the playwright lifecycle for one browser and one page.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    *PlaywrightPage
}

func launchPlaywright(opts Options) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	ctxOpts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	}
	if path := strings.TrimSpace(opts.StorageStatePath); path != "" {
		if _, err := os.Stat(path); err == nil {
			ctxOpts.StorageStatePath = playwright.String(path)
		}
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(durationMillis(defaultActionTimeout))
	page.SetDefaultNavigationTimeout(durationMillis(opts.NavigationTimeout))

	return &Launcher{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    &PlaywrightPage{page: page},
	}, nil
}

func (l *Launcher) Page() Page {
	return l.page
}

// SaveState writes cookies and local storage so a later run can reuse the login.
func (l *Launcher) SaveState(path string) error {
	if _, err := l.context.StorageState(path); err != nil {
		return wrap(err)
	}
	return nil
}

func (l *Launcher) Close() error {
	if l.context != nil {
		_ = l.context.Close()
	}
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// PlaywrightPage implements Page on top of a playwright page.
type PlaywrightPage struct {
	page playwright.Page
}

func (p *PlaywrightPage) URL() string {
	return p.page.URL()
}

func (p *PlaywrightPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		val any
		err error
	)
	if arg == nil {
		val, err = p.page.Evaluate(script)
	} else {
		val, err = p.page.Evaluate(script, arg)
	}
	return val, wrap(err)
}

func (p *PlaywrightPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(durationMillis(timeoutFrom(ctx, DefaultNavigationTimeout))),
	})
	return wrapNav(err)
}

func (p *PlaywrightPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(durationMillis(timeout)),
	})
	return wrapNav(err)
}

func (p *PlaywrightPage) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.WaitForEvent("framenavigated", playwright.PageWaitForEventOptions{
		Timeout: playwright.Float(durationMillis(timeout)),
	})
	if err != nil {
		return wrapNav(err)
	}
	// Let the new document reach "load" so the next snapshot sees a body.
	_ = p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: playwright.Float(durationMillis(timeout)),
	})
	return nil
}

func (p *PlaywrightPage) Click(ctx context.Context, selector string) error {
	first, err := p.visible(ctx, selector)
	if err != nil {
		return err
	}
	_ = first.ScrollIntoViewIfNeeded()
	return wrap(first.Click())
}

func (p *PlaywrightPage) Hover(ctx context.Context, selector string) error {
	first, err := p.visible(ctx, selector)
	if err != nil {
		return err
	}
	return wrap(first.Hover())
}

func (p *PlaywrightPage) Focus(ctx context.Context, selector string) error {
	first, err := p.visible(ctx, selector)
	if err != nil {
		return err
	}
	return wrap(first.Focus())
}

func (p *PlaywrightPage) Clear(ctx context.Context, selector string) error {
	first, err := p.visible(ctx, selector)
	if err != nil {
		return err
	}
	return wrap(first.Clear())
}

func (p *PlaywrightPage) Type(ctx context.Context, selector, text string) error {
	first, err := p.visible(ctx, selector)
	if err != nil {
		return err
	}
	return wrap(first.PressSequentially(text))
}

func (p *PlaywrightPage) SelectOption(ctx context.Context, selector, label string) error {
	first, err := p.visible(ctx, selector)
	if err != nil {
		return err
	}
	_, err = first.SelectOption(playwright.SelectOptionValues{Labels: &[]string{label}})
	return wrap(err)
}

func (p *PlaywrightPage) Press(ctx context.Context, modifiers []string, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	combo := strings.Join(append(append([]string{}, modifiers...), key), "+")
	return wrap(p.page.Keyboard().Press(combo))
}

func (p *PlaywrightPage) Scroll(ctx context.Context, deltaY int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(p.page.Mouse().Wheel(0, float64(deltaY)))
}

func (p *PlaywrightPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shot, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypeJpeg,
		Quality: playwright.Int(70),
	})
	return shot, wrap(err)
}

func (p *PlaywrightPage) visible(ctx context.Context, selector string) (playwright.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// First() avoids strict mode violations when a stale marker matches twice.
	first := p.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(durationMillis(defaultActionTimeout)),
	}); err != nil {
		return nil, wrap(err)
	}
	return first, nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

// wrapNav is wrap for navigation waits, where a timeout is ErrNavigationTimeout.
func wrapNav(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("playwright: %w: %w", ErrNavigationTimeout, err)
	}
	return wrap(err)
}

// timeoutFrom returns the time left on ctx, or def when ctx has no deadline.
func timeoutFrom(ctx context.Context, def time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
	}
	return def
}
