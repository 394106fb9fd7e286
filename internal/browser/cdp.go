package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	idlePollInterval = 100 * time.Millisecond
	idleQuietPeriod  = 500 * time.Millisecond
	urlReadTimeout   = 5 * time.Second
)

// CDPSession owns a chromedp allocator and its single tab.
type CDPSession struct {
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	page        *CDPPage
}

func launchCDP(ctx context.Context, opts Options) (*CDPSession, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	// The browser outlives the launch context; Close tears it down.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	p := newCDPPage(tabCtx, opts.NavigationTimeout)
	return &CDPSession{cancelAlloc: cancelAlloc, cancelTab: cancelTab, page: p}, nil
}

func (s *CDPSession) Page() Page {
	return s.page
}

func (s *CDPSession) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}

// CDPPage implements Page over the Chrome DevTools Protocol.
type CDPPage struct {
	tab        context.Context
	navTimeout time.Duration

	mu       sync.Mutex
	navigate chan struct{} // closed and replaced on every main-frame navigation
}

func newCDPPage(tab context.Context, navTimeout time.Duration) *CDPPage {
	p := &CDPPage{tab: tab, navTimeout: navTimeout, navigate: make(chan struct{})}
	chromedp.ListenTarget(tab, func(ev any) {
		if e, ok := ev.(*page.EventFrameNavigated); ok && e.Frame != nil && e.Frame.ParentID == "" {
			p.mu.Lock()
			close(p.navigate)
			p.navigate = make(chan struct{})
			p.mu.Unlock()
		}
	})
	return p
}

func (p *CDPPage) URL() string {
	ctx, cancel := context.WithTimeout(p.tab, urlReadTimeout)
	defer cancel()
	var url string
	if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
		return ""
	}
	return url
}

func (p *CDPPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	payload, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("encode evaluate arg: %w", err)
	}
	expr := fmt.Sprintf("(%s)(%s)", script, payload)
	var out any
	err = p.run(ctx, chromedp.Evaluate(expr, &out, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	return out, err
}

func (p *CDPPage) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, timeoutFrom(ctx, p.navTimeout))
	defer cancel()
	err := p.run(navCtx, chromedp.Navigate(url))
	if err != nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", ErrNavigationTimeout, err)
	}
	return err
}

// WaitForNetworkIdle approximates playwright's networkidle: the document is
// complete and has stayed complete for a short quiet period.
func (p *CDPPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var quietSince time.Time
	for {
		var state string
		if err := p.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil && !IsDetached(err) {
			return err
		}
		now := time.Now()
		switch {
		case state != "complete":
			quietSince = time.Time{}
		case quietSince.IsZero():
			quietSince = now
		case now.Sub(quietSince) >= idleQuietPeriod:
			return nil
		}
		if now.After(deadline) {
			return fmt.Errorf("chromedp: %w: network idle after %s", ErrNavigationTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idlePollInterval):
		}
	}
}

func (p *CDPPage) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	navigated := p.navigate
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("chromedp: %w after %s", ErrNavigationTimeout, timeout)
	case <-navigated:
		return p.WaitForNetworkIdle(ctx, timeout)
	}
}

func (p *CDPPage) Click(ctx context.Context, selector string) error {
	return p.runElement(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (p *CDPPage) Hover(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	return p.runElement(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no node for %s", selector)
			}
			box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
			if err != nil {
				return err
			}
			if len(box.Content) < 6 {
				return fmt.Errorf("empty box model for %s", selector)
			}
			x := (box.Content[0] + box.Content[4]) / 2
			y := (box.Content[1] + box.Content[5]) / 2
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		}),
	)
}

func (p *CDPPage) Focus(ctx context.Context, selector string) error {
	return p.runElement(ctx, chromedp.Focus(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *CDPPage) Clear(ctx context.Context, selector string) error {
	return p.runElement(ctx, chromedp.Clear(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *CDPPage) Type(ctx context.Context, selector, text string) error {
	return p.runElement(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery, chromedp.NodeVisible))
}

const selectByLabelScript = `(args) => {
	const el = document.querySelector(args.selector);
	if (!el || !el.options) return false;
	for (const opt of el.options) {
		if (opt.label.trim() === args.label || opt.text.trim() === args.label) {
			el.value = opt.value;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		}
	}
	return false;
}`

func (p *CDPPage) SelectOption(ctx context.Context, selector, label string) error {
	val, err := p.Evaluate(ctx, selectByLabelScript, map[string]string{"selector": selector, "label": label})
	if err != nil {
		return err
	}
	if ok, _ := val.(bool); !ok {
		return fmt.Errorf("chromedp: no option %q in %s", label, selector)
	}
	return nil
}

var cdpModifiers = map[string]input.Modifier{
	"Control": input.ModifierCtrl,
	"Shift":   input.ModifierShift,
	"Alt":     input.ModifierAlt,
	"Meta":    input.ModifierMeta,
}

var cdpKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Home":       kb.Home,
	"End":        kb.End,
	"Space":      " ",
}

func (p *CDPPage) Press(ctx context.Context, modifiers []string, key string) error {
	mods := make([]input.Modifier, 0, len(modifiers))
	for _, m := range modifiers {
		if mod, ok := cdpModifiers[m]; ok {
			mods = append(mods, mod)
		}
	}
	if mapped, ok := cdpKeys[key]; ok {
		key = mapped
	} else if len([]rune(key)) == 1 && len(mods) > 0 {
		key = strings.ToLower(key)
	}
	return p.run(ctx, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods...)))
}

func (p *CDPPage) Scroll(ctx context.Context, deltaY int) error {
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil))
}

func (p *CDPPage) Screenshot(ctx context.Context) ([]byte, error) {
	var shot []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		shot, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(70).
			Do(ctx)
		return err
	}))
	return shot, err
}

// run executes actions on the tab while honouring cancellation and deadline of ctx.
func (p *CDPPage) run(ctx context.Context, actions ...chromedp.Action) error {
	return p.runWithin(ctx, 0, actions...)
}

// runElement is run for selector queries, which poll until the node shows up.
func (p *CDPPage) runElement(ctx context.Context, actions ...chromedp.Action) error {
	return p.runWithin(ctx, defaultActionTimeout, actions...)
}

func (p *CDPPage) runWithin(ctx context.Context, limit time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := scope(p.tab, ctx, limit)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && limit > 0 {
		return fmt.Errorf("chromedp: %w after %s", ErrActionTimeout, limit)
	}
	return wrapCDP(err)
}

// scope derives a context from tab that ends with ctx and, when limit is
// positive, no later than limit from now.
func scope(tab, ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancelRun := context.WithCancel(tab)
	deadline, ok := ctx.Deadline()
	if limit > 0 {
		if byLimit := time.Now().Add(limit); !ok || byLimit.Before(deadline) {
			deadline, ok = byLimit, true
		}
	}
	cancelDeadline := context.CancelFunc(func() {})
	if ok {
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
	}
	stop := context.AfterFunc(ctx, cancelRun)
	return runCtx, func() {
		stop()
		cancelDeadline()
		cancelRun()
	}
}

func wrapCDP(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("chromedp: %w", err)
}
