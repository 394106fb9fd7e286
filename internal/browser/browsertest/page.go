// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/polzovatel/browser-task-agent/internal/browser"
)

// Call records one invocation against the fake page.
type Call struct {
	Method string
	Args   []string
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Method
	}
	return c.Method + "(" + strings.Join(c.Args, ", ") + ")"
}

// Page is a scriptable browser.Page. The zero value is not usable; call NewPage.
type Page struct {
	mu sync.Mutex

	url       string
	document  any
	evalErrs  []error
	failures  map[string]error
	redirects map[string]string
	navigated bool
	shot      []byte
	calls     []Call
}

var _ browser.Page = (*Page)(nil)

func NewPage(url string) *Page {
	return &Page{
		url:       url,
		failures:  make(map[string]error),
		redirects: make(map[string]string),
		shot:      []byte{0xff, 0xd8, 0xff, 0xe0},
	}
}

// SetDocument sets the value returned by Evaluate, normally a raw snapshot map.
func (p *Page) SetDocument(doc any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.document = doc
}

// FailEvaluate queues errors returned by the next Evaluate calls, one per call.
func (p *Page) FailEvaluate(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalErrs = append(p.evalErrs, errs...)
}

// Fail makes every call to method fail with err. A selector narrows it to calls on that selector.
func (p *Page) Fail(method, selector string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[failureKey(method, selector)] = err
}

// NavigateOn makes an interaction with selector move the page to url.
func (p *Page) NavigateOn(selector, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirects[selector] = url
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Calls returns a copy of the recorded invocations.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Methods returns the recorded invocations rendered as strings.
func (p *Page) Methods() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many times method was invoked.
func (p *Page) Count(method string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "Evaluate"})
	if len(p.evalErrs) > 0 {
		err := p.evalErrs[0]
		p.evalErrs = p.evalErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.document, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.record(ctx, "Navigate", "", url); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.navigated = true
	return nil
}

func (p *Page) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return p.record(ctx, "WaitForNetworkIdle", "")
}

// WaitForNavigation returns immediately: nil when an earlier interaction navigated,
// browser.ErrNavigationTimeout otherwise.
func (p *Page) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	if err := p.record(ctx, "WaitForNavigation", ""); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigated {
		p.navigated = false
		return nil
	}
	return fmt.Errorf("fake: %w after %s", browser.ErrNavigationTimeout, timeout)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.interact(ctx, "Click", selector)
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	return p.interact(ctx, "Hover", selector)
}

func (p *Page) Focus(ctx context.Context, selector string) error {
	return p.interact(ctx, "Focus", selector)
}

func (p *Page) Clear(ctx context.Context, selector string) error {
	return p.interact(ctx, "Clear", selector)
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.interact(ctx, "Type", selector, text)
}

func (p *Page) SelectOption(ctx context.Context, selector, label string) error {
	return p.interact(ctx, "SelectOption", selector, label)
}

func (p *Page) Press(ctx context.Context, modifiers []string, key string) error {
	combo := strings.Join(append(append([]string{}, modifiers...), key), "+")
	return p.record(ctx, "Press", "", combo)
}

func (p *Page) Scroll(ctx context.Context, deltaY int) error {
	return p.record(ctx, "Scroll", "", fmt.Sprint(deltaY))
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.record(ctx, "Screenshot", ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.shot...), nil
}

func (p *Page) interact(ctx context.Context, method, selector string, args ...string) error {
	if err := p.record(ctx, method, selector, append([]string{selector}, args...)...); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if url, ok := p.redirects[selector]; ok {
		p.url = url
		p.navigated = true
	}
	return nil
}

func (p *Page) record(ctx context.Context, method, selector string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: method, Args: args})
	if err, ok := p.failures[failureKey(method, selector)]; ok {
		return err
	}
	if err, ok := p.failures[failureKey(method, "")]; ok {
		return err
	}
	return nil
}

func failureKey(method, selector string) string {
	return method + "\x00" + selector
}
