package action

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-agent/internal/browser"
	"github.com/polzovatel/browser-task-agent/internal/browser/browsertest"
	"github.com/polzovatel/browser-task-agent/internal/llm"
	"github.com/polzovatel/browser-task-agent/internal/registry"
	"github.com/polzovatel/browser-task-agent/internal/snapshot"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Respond(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockModel) Name() string { return "mock" }

type fixture struct {
	page  *browsertest.Page
	refs  *registry.Registry
	model *mockModel
	exec  *Executor
	slept time.Duration
}

const (
	selButton = `[data-agent-ref="g1-1"]`
	selInput  = `[data-agent-ref="g1-2"]`
	selSelect = `[data-agent-ref="g1-3"]`
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		page:  browsertest.NewPage("https://shop.test/"),
		refs:  registry.New(),
		model: &mockModel{},
	}
	f.refs.Rebuild(&snapshot.Snapshot{
		Generation: "g1",
		Root: &snapshot.Node{Role: "document", Children: []*snapshot.Node{
			{Role: "button", Ref: 1},
			{Role: "textbox", Ref: 2},
			{Role: "combobox", Ref: 3},
		}},
	})
	f.exec = NewExecutor(f.page, f.refs, f.model, Config{}, zerolog.Nop())
	f.exec.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept += d
		return ctx.Err()
	}
	return f
}

func TestClickWithoutNavigationKeepsRefs(t *testing.T) {
	f := newFixture(t)

	eff, err := f.exec.Execute(context.Background(), Click{Ref: 1})
	require.NoError(t, err)
	assert.False(t, eff.Navigated)
	assert.Equal(t, []string{"Click(" + selButton + ")", "WaitForNavigation"}, f.page.Methods())
	assert.Equal(t, 3, f.refs.Len())
}

func TestClickThatNavigatesInvalidatesRefs(t *testing.T) {
	f := newFixture(t)
	f.page.NavigateOn(selButton, "https://shop.test/cart")

	eff, err := f.exec.Execute(context.Background(), Click{Ref: 1})
	require.NoError(t, err)
	assert.True(t, eff.Navigated)
	assert.Equal(t, "https://shop.test/cart", eff.URL)

	_, err = f.refs.Resolve(2)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestUnknownRefIsElementNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), Hover{Ref: 42})
	require.ErrorIs(t, err, ErrElementNotFound)
	assert.Empty(t, f.page.Calls())
}

func TestInteractionFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("playwright: element is not visible")
	f.page.Fail("Click", selButton, boom)

	_, err := f.exec.Execute(context.Background(), Click{Ref: 1})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrElementNotFound)
	assert.Equal(t, 3, f.refs.Len())
}

func TestTypeFocusesClearsAndTypes(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), Type{Ref: 2, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Focus(" + selInput + ")",
		"Clear(" + selInput + ")",
		"Type(" + selInput + ", hello)",
		"WaitForNavigation",
	}, f.page.Methods())
}

func TestSelectAndClear(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), Select{Ref: 3, Option: "Large"})
	require.NoError(t, err)
	_, err = f.exec.Execute(context.Background(), Clear{Ref: 2})
	require.NoError(t, err)
	assert.Contains(t, f.page.Methods(), "SelectOption("+selSelect+", Large)")
	assert.Contains(t, f.page.Methods(), "Clear("+selInput+")")
}

func TestScroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, Scroll{Direction: "down"})
	require.NoError(t, err)
	_, err = f.exec.Execute(ctx, Scroll{Direction: "UP", Amount: 200})
	require.NoError(t, err)
	assert.Equal(t, []string{"Scroll(600)", "Scroll(-200)"}, f.page.Methods())

	_, err = f.exec.Execute(ctx, Scroll{Direction: "left"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.exec.Execute(ctx, Scroll{Direction: "down", Amount: -5})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPressNormalisesCombos(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), Press{Keys: "ctrl+shift+a"})
	require.NoError(t, err)
	_, err = f.exec.Execute(context.Background(), Press{Keys: "Super+Enter"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Press(Control+Shift+a)", "WaitForNavigation",
		"Press(Enter)", "WaitForNavigation",
	}, f.page.Methods())
}

func TestWait(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), Wait{Seconds: "1.5"})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, f.slept)

	for _, arg := range []string{"0", "-1", "soon", "", "NaN", "Inf"} {
		_, err := f.exec.Execute(context.Background(), Wait{Seconds: arg})
		require.ErrorIs(t, err, ErrInvalidArgument, arg)
	}
}

func TestWaitAcrossRedirectInvalidatesRefs(t *testing.T) {
	f := newFixture(t)
	f.exec.sleep = func(ctx context.Context, d time.Duration) error {
		f.page.SetURL("https://shop.test/after-login")
		return ctx.Err()
	}

	eff, err := f.exec.Execute(context.Background(), Wait{Seconds: "2"})
	require.NoError(t, err)
	assert.True(t, eff.Navigated)
	assert.Equal(t, "https://shop.test/after-login", eff.URL)
	assert.Zero(t, f.refs.Len())

	_, err = f.exec.Execute(context.Background(), Click{Ref: 1})
	require.ErrorIs(t, err, ErrElementNotFound)
	assert.Empty(t, f.page.Calls())
}

// redirectingPage moves to another URL whenever it is scrolled, like an infinite list
// that hands over to a new page.
type redirectingPage struct {
	*browsertest.Page
	to string
}

func (p *redirectingPage) Scroll(ctx context.Context, deltaY int) error {
	if err := p.Page.Scroll(ctx, deltaY); err != nil {
		return err
	}
	p.SetURL(p.to)
	return nil
}

func TestScrollThatNavigatesInvalidatesRefs(t *testing.T) {
	f := newFixture(t)
	page := &redirectingPage{Page: f.page, to: "https://shop.test/?page=2"}
	exec := NewExecutor(page, f.refs, f.model, Config{}, zerolog.Nop())

	eff, err := exec.Execute(context.Background(), Scroll{Direction: "down"})
	require.NoError(t, err)
	assert.True(t, eff.Navigated)
	assert.Equal(t, "https://shop.test/?page=2", eff.URL)
	assert.Zero(t, f.refs.Len())
}

func TestScrollWithoutNavigationKeepsRefs(t *testing.T) {
	f := newFixture(t)

	eff, err := f.exec.Execute(context.Background(), Scroll{Direction: "up", Amount: 100})
	require.NoError(t, err)
	assert.False(t, eff.Navigated)
	assert.Equal(t, 3, f.refs.Len())
}

func TestFetchInvalidatesAndWaitsForIdle(t *testing.T) {
	f := newFixture(t)

	eff, err := f.exec.Execute(context.Background(), Fetch{URL: "https://news.test/today"})
	require.NoError(t, err)
	assert.True(t, eff.Navigated)
	assert.Equal(t, "https://news.test/today", eff.URL)
	assert.Equal(t, []string{"Navigate(https://news.test/today)", "WaitForNetworkIdle"}, f.page.Methods())
	assert.Zero(t, f.refs.Len())
}

func TestFetchResolvesRelativeAndBareURLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eff, err := f.exec.Execute(ctx, Fetch{URL: "/about"})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/about", eff.URL)

	eff, err = f.exec.Execute(ctx, Fetch{URL: "example.com/docs"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/docs", eff.URL)
}

func TestFetchNavigationTimeoutIsLoggedOnly(t *testing.T) {
	f := newFixture(t)
	f.page.Fail("Navigate", "", fmt.Errorf("playwright: %w", browser.ErrNavigationTimeout))

	eff, err := f.exec.Execute(context.Background(), Fetch{URL: "https://slow.test"})
	require.NoError(t, err)
	assert.True(t, eff.Navigated)
	assert.Zero(t, f.refs.Len())
}

func TestFetchFailureStillInvalidates(t *testing.T) {
	f := newFixture(t)
	f.page.Fail("Navigate", "", errors.New("net::ERR_NAME_NOT_RESOLVED"))

	_, err := f.exec.Execute(context.Background(), Fetch{URL: "https://nowhere.test"})
	require.Error(t, err)
	assert.Zero(t, f.refs.Len())
}

func TestAnalyzeDoesNotTouchThePage(t *testing.T) {
	f := newFixture(t)
	f.model.On("Respond", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return req.Prompt == "what is the price?" && len(req.Screenshot) > 0
	})).Return(" 42 EUR \n", nil).Once()

	eff, err := f.exec.Execute(context.Background(), Analyze{Prompt: "what is the price?"})
	require.NoError(t, err)
	assert.Equal(t, "42 EUR", eff.Output)
	assert.Equal(t, []string{"Screenshot"}, f.page.Methods())
	assert.Equal(t, 3, f.refs.Len())
	f.model.AssertExpectations(t)
}

func TestCompleteAndSentinels(t *testing.T) {
	f := newFixture(t)

	eff, err := f.exec.Execute(context.Background(), Complete{})
	require.NoError(t, err)
	assert.True(t, eff.Done)

	eff, err = f.exec.Execute(context.Background(), Null{})
	require.NoError(t, err)
	assert.False(t, eff.Done)
	assert.Empty(t, f.page.Calls())
}

func TestExecuteHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.exec.Execute(ctx, Click{Ref: 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveURL(t *testing.T) {
	_, err := resolveURL("about:blank", "/relative")
	require.ErrorIs(t, err, ErrInvalidArgument)

	got, err := resolveURL("https://a.test/x/y", "../z")
	require.NoError(t, err)
	assert.Equal(t, "https://a.test/z", got)
}
