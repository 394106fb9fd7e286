package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-agent/internal/browser/browsertest"
)

func el(tag string, fields map[string]any, children ...map[string]any) map[string]any {
	node := map[string]any{"tag": tag, "visible": true}
	for k, v := range fields {
		node[k] = v
	}
	kids := make([]any, 0, len(children))
	for _, c := range children {
		kids = append(kids, c)
	}
	node["children"] = kids
	return node
}

func loginDocument() map[string]any {
	return map[string]any{
		"url":   "https://example.test/login",
		"title": "Login",
		"root": el("body", nil,
			el("header", nil),
			el("nav", nil,
				el("a", map[string]any{"ref": 1, "text": "Home", "inner": "Home", "href": "/home"}),
			),
			el("div", nil,
				el("div", nil,
					el("span", map[string]any{"text": "Hello   world"}),
				),
			),
			el("div", nil),
			el("form", nil,
				el("input", map[string]any{"ref": 2, "type": "text", "placeholder": "Search", "value": ""}),
				el("input", map[string]any{"ref": 3, "type": "checkbox", "label": "Remember me", "checked": true, "required": true, "value": "on"}),
				el("button", map[string]any{"ref": 4, "text": "Go", "inner": "Go"}),
			),
			el("p", map[string]any{"visible": false, "text": "secret"}),
		),
	}
}

func newTestBuilder(page *browsertest.Page) *Builder {
	return NewBuilder(page, Options{}, zerolog.Nop())
}

func TestBuildRendersOutline(t *testing.T) {
	page := browsertest.NewPage("https://example.test/login")
	page.SetDocument(loginDocument())

	snap, err := newTestBuilder(page).Build(context.Background())
	require.NoError(t, err)

	want := strings.Join([]string{
		`- document`,
		`  - banner`,
		`  - navigation`,
		`    - link "Home" [ref=1] [href="/home"]`,
		`  - generic "Hello world"`,
		`  - form`,
		`    - textbox "Search" [ref=2]`,
		`    - checkbox "Remember me" [ref=3] [checked] [required]`,
		`    - button "Go" [ref=4]`,
	}, "\n")
	assert.Equal(t, want, snap.Text())
	assert.Equal(t, []int{1, 2, 3, 4}, snap.Refs())
	assert.Equal(t, "https://example.test/login", snap.URL)
	assert.Equal(t, "Login", snap.Title)
	assert.NotEmpty(t, snap.Generation)
}

func TestBuildIsDeterministicAcrossGenerations(t *testing.T) {
	page := browsertest.NewPage("https://example.test/login")
	page.SetDocument(loginDocument())
	b := newTestBuilder(page)

	first, err := b.Build(context.Background())
	require.NoError(t, err)
	second, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Text(), second.Text())
	assert.Equal(t, first.Refs(), second.Refs())
	assert.NotEqual(t, first.Generation, second.Generation)
	assert.NotEqual(t, first.Selector(1), second.Selector(1))
}

func TestDescriptionPriorityAndTruncation(t *testing.T) {
	long := strings.Repeat("x", 120)
	page := browsertest.NewPage("about:blank")
	page.SetDocument(map[string]any{
		"root": el("body", nil,
			el("button", map[string]any{"ref": 1, "label": "Label", "alt": "Alt", "title": "Title", "text": "Text"}),
			el("img", map[string]any{"alt": "Logo", "title": "Company"}),
			el("button", map[string]any{"ref": 2, "title": long}),
			el("input", map[string]any{"ref": 3, "type": "submit", "value": "Send"}),
			el("input", map[string]any{"ref": 4, "type": "email", "label": "Email", "placeholder": "you@example.test", "value": "a@b.c"}),
		),
	})

	snap, err := newTestBuilder(page).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Label", snap.Find(1).Description)
	assert.Equal(t, "Send", snap.Find(3).Description)

	truncated := snap.Find(2).Description
	assert.Equal(t, DefaultMaxDescription, utf8.RuneCountInString(truncated))
	assert.True(t, strings.HasSuffix(truncated, "…"))

	email := snap.Find(4)
	assert.Equal(t, "Email", email.Description)
	assert.Equal(t, "a@b.c", email.Attributes[AttrValue])
	assert.Equal(t, "you@example.test", email.Attributes[AttrPlaceholder])
	assert.Contains(t, snap.Text(), `- img "Logo"`)
}

func TestCollapseKeepsReferencedChildren(t *testing.T) {
	page := browsertest.NewPage("about:blank")
	page.SetDocument(map[string]any{
		"root": el("body", nil,
			el("div", nil,
				el("div", map[string]any{"ref": 1, "role": "button", "inner": "Open"}),
			),
			el("div", nil,
				el("span", map[string]any{"text": "a"}),
				el("span", map[string]any{"text": "b"}),
			),
		),
	})

	snap, err := newTestBuilder(page).Build(context.Background())
	require.NoError(t, err)

	want := strings.Join([]string{
		`- document`,
		`  - generic`,
		`    - button "Open" [ref=1]`,
		`  - generic`,
		`    - generic "a"`,
		`    - generic "b"`,
	}, "\n")
	assert.Equal(t, want, snap.Text())
}

func TestBuildDetachedContext(t *testing.T) {
	page := browsertest.NewPage("https://example.test")
	page.FailEvaluate(errors.New("playwright: Execution context was destroyed, most likely because of a navigation"))

	_, err := newTestBuilder(page).Build(context.Background())
	require.ErrorIs(t, err, ErrDetachedContext)
}

func TestBuildOtherEvaluateError(t *testing.T) {
	page := browsertest.NewPage("https://example.test")
	page.FailEvaluate(errors.New("playwright: boom"))

	_, err := newTestBuilder(page).Build(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDetachedContext)
}

func TestBuildEmptyDocument(t *testing.T) {
	page := browsertest.NewPage("about:blank")
	page.SetDocument(map[string]any{"root": nil})

	snap, err := newTestBuilder(page).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "- document", snap.Text())
	assert.Empty(t, snap.Refs())
	assert.Equal(t, "about:blank", snap.URL)
}

func TestMarkerSelector(t *testing.T) {
	assert.Equal(t, `[data-agent-ref="abc-7"]`, MarkerSelector("abc", 7))
}

func TestInvisibleElementsAreNotDescribed(t *testing.T) {
	page := browsertest.NewPage("https://example.test")
	page.SetDocument(map[string]any{
		"url":   "https://example.test",
		"title": "Help",
		"root": el("body", nil,
			el("span", map[string]any{"visible": false, "title": "Tooltip", "text": "?"}),
			el("div", map[string]any{"visible": false, "label": "Help panel"},
				el("button", map[string]any{"ref": 1, "text": "OK", "inner": "OK"}),
			),
		),
	})

	snap, err := newTestBuilder(page).Build(context.Background())
	require.NoError(t, err)
	want := strings.Join([]string{
		`- document`,
		`  - generic`,
		`    - button "OK" [ref=1]`,
	}, "\n")
	assert.Equal(t, want, snap.Text())
}
