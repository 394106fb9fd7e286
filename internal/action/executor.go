package action

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-agent/internal/browser"
	"github.com/polzovatel/browser-task-agent/internal/llm"
	"github.com/polzovatel/browser-task-agent/internal/registry"
)

const (
	DefaultSettleTimeout     = 3 * time.Second
	DefaultNavigationTimeout = browser.DefaultNavigationTimeout
	DefaultScrollAmount      = 600
)

var (
	// ErrElementNotFound is returned when a ref does not resolve in the current generation.
	ErrElementNotFound = errors.New("element not found")
	// ErrInvalidArgument is returned for arguments outside what a verb accepts.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNavigationTimeout is logged by the executor and never returned from Execute.
	ErrNavigationTimeout = browser.ErrNavigationTimeout
)

const analyzeSystem = "You are looking at a screenshot of a web page. Answer the question about it concisely and factually."

// Config tunes the executor.
type Config struct {
	SettleTimeout     time.Duration
	NavigationTimeout time.Duration
	ScrollAmount      int
}

func (c Config) withDefaults() Config {
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = DefaultSettleTimeout
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.ScrollAmount <= 0 {
		c.ScrollAmount = DefaultScrollAmount
	}
	return c
}

// Effect is what executing a command did.
type Effect struct {
	// Navigated is set when the page URL changed; the registry was invalidated.
	Navigated bool
	URL       string
	// Output carries the answer of an ANALYZE command.
	Output string
	// Done is set by COMPLETE.
	Done bool
}

// Executor runs commands against a page, resolving refs through the registry.
type Executor struct {
	page   browser.Page
	refs   *registry.Registry
	model  llm.VisionModel
	cfg    Config
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(page browser.Page, refs *registry.Registry, model llm.VisionModel, cfg Config, logger zerolog.Logger) *Executor {
	return &Executor{
		page:   page,
		refs:   refs,
		model:  model,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("comp", "action").Logger(),
		sleep:  sleep,
	}
}

// Execute runs one command. A navigation timeout is logged, not returned.
// Whatever the verb, a URL that changed while it ran invalidates the refs.
func (e *Executor) Execute(ctx context.Context, cmd Command) (Effect, error) {
	if err := ctx.Err(); err != nil {
		return Effect{}, err
	}
	e.logger.Debug().Str("command", cmd.String()).Msg("execute")

	before := e.page.URL()
	eff, err := e.dispatch(ctx, cmd)
	if ctx.Err() != nil || eff.Navigated {
		return eff, err
	}
	if after := e.page.URL(); after != before {
		e.refs.Invalidate()
		e.logger.Info().Str("command", cmd.String()).Str("from", before).Str("to", after).
			Msg("navigation detected, refs invalidated")
		if err == nil {
			eff.Navigated = true
			eff.URL = after
		}
	}
	return eff, err
}

func (e *Executor) dispatch(ctx context.Context, cmd Command) (Effect, error) {
	switch c := cmd.(type) {
	case Click:
		return e.onElement(ctx, "click", c.Ref, func(sel string) error {
			return e.page.Click(ctx, sel)
		})
	case Hover:
		return e.onElement(ctx, "hover", c.Ref, func(sel string) error {
			return e.page.Hover(ctx, sel)
		})
	case Clear:
		return e.onElement(ctx, "clear", c.Ref, func(sel string) error {
			return e.page.Clear(ctx, sel)
		})
	case Select:
		return e.onElement(ctx, "select", c.Ref, func(sel string) error {
			return e.page.SelectOption(ctx, sel, c.Option)
		})
	case Type:
		return e.onElement(ctx, "type", c.Ref, func(sel string) error {
			if err := e.page.Focus(ctx, sel); err != nil {
				return err
			}
			if err := e.page.Clear(ctx, sel); err != nil {
				return err
			}
			return e.page.Type(ctx, sel, c.Text)
		})
	case Press:
		return e.press(ctx, c)
	case Scroll:
		return e.scroll(ctx, c)
	case Wait:
		return e.wait(ctx, c)
	case Fetch:
		return e.fetch(ctx, c)
	case Analyze:
		return e.analyze(ctx, c)
	case Complete:
		return Effect{Done: true, URL: e.page.URL()}, nil
	case Null, BreakdownNeeded:
		return Effect{URL: e.page.URL()}, nil
	default:
		return Effect{}, fmt.Errorf("%w: unsupported command %T", ErrInvalidArgument, cmd)
	}
}

func (e *Executor) onElement(ctx context.Context, verb string, ref int, act func(selector string) error) (Effect, error) {
	sel, err := e.refs.Resolve(ref)
	if err != nil {
		return Effect{}, fmt.Errorf("%s: %w: %w", verb, ErrElementNotFound, err)
	}
	before := e.page.URL()
	if err := act(string(sel)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Effect{}, ctxErr
		}
		return Effect{}, fmt.Errorf("%s ref %d: %w", verb, ref, err)
	}
	return e.settle(ctx, before)
}

// settle races a navigation against the settle timeout, then compares URLs.
func (e *Executor) settle(ctx context.Context, before string) (Effect, error) {
	if err := e.page.WaitForNavigation(ctx, e.cfg.SettleTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Effect{}, ctxErr
		}
		if !errors.Is(err, ErrNavigationTimeout) {
			e.logger.Warn().Err(err).Msg("waiting for navigation failed")
		}
	}
	after := e.page.URL()
	eff := Effect{URL: after}
	if after != before {
		e.refs.Invalidate()
		eff.Navigated = true
		e.logger.Info().Str("from", before).Str("to", after).Msg("navigation detected, refs invalidated")
	}
	return eff, nil
}

func (e *Executor) press(ctx context.Context, c Press) (Effect, error) {
	combo, err := ParseKeys(c.Keys)
	if err != nil {
		return Effect{}, err
	}
	before := e.page.URL()
	if err := e.page.Press(ctx, combo.Modifiers, combo.Key); err != nil {
		return Effect{}, fmt.Errorf("press %s: %w", combo, err)
	}
	return e.settle(ctx, before)
}

func (e *Executor) scroll(ctx context.Context, c Scroll) (Effect, error) {
	amount := c.Amount
	if amount == 0 {
		amount = e.cfg.ScrollAmount
	}
	if amount < 0 {
		return Effect{}, fmt.Errorf("%w: scroll amount %d", ErrInvalidArgument, amount)
	}
	switch strings.ToLower(c.Direction) {
	case "down":
	case "up":
		amount = -amount
	default:
		return Effect{}, fmt.Errorf("%w: scroll direction %q", ErrInvalidArgument, c.Direction)
	}
	if err := e.page.Scroll(ctx, amount); err != nil {
		return Effect{}, fmt.Errorf("scroll: %w", err)
	}
	return Effect{URL: e.page.URL()}, nil
}

// WaitDuration validates a WAIT argument.
func WaitDuration(arg string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, fmt.Errorf("%w: wait %q is not a positive number of seconds", ErrInvalidArgument, arg)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (e *Executor) wait(ctx context.Context, c Wait) (Effect, error) {
	d, err := WaitDuration(c.Seconds)
	if err != nil {
		return Effect{}, err
	}
	if err := e.sleep(ctx, d); err != nil {
		return Effect{}, err
	}
	return Effect{URL: e.page.URL()}, nil
}

func (e *Executor) fetch(ctx context.Context, c Fetch) (Effect, error) {
	target, err := resolveURL(e.page.URL(), c.URL)
	if err != nil {
		return Effect{}, err
	}
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()
	navErr := e.page.Navigate(navCtx, target)
	// The document may have changed even when navigation reported an error.
	e.refs.Invalidate()
	if navErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Effect{}, ctxErr
		}
		if !errors.Is(navErr, ErrNavigationTimeout) {
			return Effect{}, fmt.Errorf("fetch %s: %w", target, navErr)
		}
		e.logger.Warn().Str("url", target).Err(navErr).Msg("navigation timed out, continuing")
	}
	if err := e.page.WaitForNetworkIdle(ctx, e.cfg.NavigationTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Effect{}, ctxErr
		}
		e.logger.Warn().Str("url", target).Err(err).Msg("network did not go idle")
	}
	return Effect{Navigated: true, URL: e.page.URL()}, nil
}

// resolveURL accepts absolute URLs, bare hosts and paths relative to the current page.
func resolveURL(current, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty URL", ErrInvalidArgument)
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		return u.String(), nil
	}
	if !strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, ".") && strings.Contains(strings.SplitN(raw, "/", 2)[0], ".") {
		return "https://" + raw, nil
	}
	base, err := url.Parse(current)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("%w: relative URL %q without a current page", ErrInvalidArgument, raw)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidArgument, raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (e *Executor) analyze(ctx context.Context, c Analyze) (Effect, error) {
	if e.model == nil {
		return Effect{}, fmt.Errorf("%w: no vision model configured", ErrInvalidArgument)
	}
	shot, err := e.page.Screenshot(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Effect{}, ctxErr
		}
		e.logger.Warn().Err(err).Msg("screenshot failed, analyzing without image")
	}
	answer, err := e.model.Respond(ctx, llm.Request{
		System:     analyzeSystem,
		Prompt:     c.Prompt,
		Screenshot: shot,
	})
	if err != nil {
		return Effect{}, fmt.Errorf("analyze: %w", err)
	}
	e.logger.Info().Str("prompt", c.Prompt).Str("answer", answer).Msg("analysis")
	return Effect{URL: e.page.URL(), Output: strings.TrimSpace(answer)}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
