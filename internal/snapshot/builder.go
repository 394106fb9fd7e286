package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-agent/internal/browser"
)

const (
	DefaultMaxDepth       = 10
	DefaultMaxDescription = 80
	maxRawText            = 200
	maxHref               = 120
)

// ErrDetachedContext is returned when the page document went away during capture.
var ErrDetachedContext = errors.New("snapshot: detached execution context")

// Options tune outline capture.
type Options struct {
	MaxDepth       int
	MaxDescription int
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxDescription <= 0 {
		o.MaxDescription = DefaultMaxDescription
	}
	return o
}

// Builder captures outline snapshots of a page.
type Builder struct {
	page       browser.Page
	opts       Options
	logger     zerolog.Logger
	generation func() string
	now        func() time.Time
}

func NewBuilder(page browser.Page, opts Options, logger zerolog.Logger) *Builder {
	return &Builder{
		page:       page,
		opts:       opts.withDefaults(),
		logger:     logger.With().Str("comp", "snapshot").Logger(),
		generation: newGeneration,
		now:        time.Now,
	}
}

func newGeneration() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// rawNode mirrors the object produced by walkerScript.
type rawNode struct {
	Tag         string    `json:"tag"`
	Role        string    `json:"role"`
	Type        string    `json:"type"`
	Label       string    `json:"label"`
	Alt         string    `json:"alt"`
	Title       string    `json:"title"`
	Placeholder string    `json:"placeholder"`
	Text        string    `json:"text"`
	Inner       string    `json:"inner"`
	Value       *string   `json:"value"`
	Href        *string   `json:"href"`
	Visible     bool      `json:"visible"`
	Checked     bool      `json:"checked"`
	Selected    bool      `json:"selected"`
	Required    bool      `json:"required"`
	Ref         int       `json:"ref"`
	Children    []rawNode `json:"children"`
}

type rawPage struct {
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Root  *rawNode `json:"root"`
}

// Build captures a new generation. Markers of the previous generation are
// removed in the page, so selectors from older snapshots stop matching.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	gen := b.generation()
	val, err := b.page.Evaluate(ctx, walkerScript, map[string]any{
		"attr":             MarkerAttribute,
		"generation":       gen,
		"maxDepth":         b.opts.MaxDepth,
		"maxText":          maxRawText,
		"interactiveTags":  interactiveTags,
		"interactiveRoles": interactiveRoles,
		"skipTags":         skipTags,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if browser.IsDetached(err) {
			return nil, fmt.Errorf("%w: %v", ErrDetachedContext, err)
		}
		return nil, fmt.Errorf("evaluate snapshot script: %w", err)
	}
	raw, err := decode(val)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		URL:        raw.URL,
		Title:      raw.Title,
		Generation: gen,
		TakenAt:    b.now(),
	}
	if snap.URL == "" {
		snap.URL = b.page.URL()
	}
	if raw.Root != nil {
		snap.Root = b.project(raw.Root)
	}
	if snap.Root == nil {
		snap.Root = &Node{Role: "document"}
	}
	b.logger.Debug().
		Str("generation", gen).
		Str("url", snap.URL).
		Int("refs", len(snap.Refs())).
		Msg("snapshot captured")
	return snap, nil
}

func decode(val any) (rawPage, error) {
	var raw rawPage
	bytes, err := json.Marshal(val)
	if err != nil {
		return raw, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := json.Unmarshal(bytes, &raw); err != nil {
		return raw, fmt.Errorf("decode snapshot: %w", err)
	}
	return raw, nil
}

// project turns a raw element into an outline node, or nil when it is dropped.
func (b *Builder) project(r *rawNode) *Node {
	role := roleOf(r)
	desc := b.describe(r)
	node := &Node{
		Role:        role,
		Description: desc,
		Ref:         r.Ref,
		Attributes:  attributes(r, desc),
	}
	for i := range r.Children {
		if child := b.project(&r.Children[i]); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	if node.HasRef() || landmarkRoles[role] {
		return node
	}

	if node.Description == "" {
		switch {
		case len(node.Children) == 0:
			return nil
		case role == roleGeneric && len(node.Children) == 1 && node.Children[0].Role == roleGeneric && !node.Children[0].HasRef():
			return node.Children[0]
		}
	}
	return node
}

// describe picks aria-label, alt, title, placeholder, then text. Elements that
// cannot be seen get no description.
func (b *Builder) describe(r *rawNode) string {
	if !r.Visible {
		return ""
	}
	candidates := []string{r.Label, r.Alt, r.Title, r.Placeholder, r.Text}
	if r.Ref > 0 {
		candidates = append(candidates, r.Inner)
		if r.Tag == "input" && r.Value != nil && inputRoles[r.Type] == "button" {
			candidates = append(candidates, *r.Value)
		}
	}
	for _, c := range candidates {
		if c = collapse(c); c != "" {
			return truncate(c, b.opts.MaxDescription)
		}
	}
	return ""
}

func attributes(r *rawNode, desc string) map[string]string {
	attrs := make(map[string]string)
	if r.Checked {
		attrs[AttrChecked] = "true"
	}
	if r.Selected {
		attrs[AttrSelected] = "true"
	}
	if r.Required {
		attrs[AttrRequired] = "true"
	}
	if r.Value != nil && *r.Value != "" && showsValue(r) {
		attrs[AttrValue] = truncate(*r.Value, DefaultMaxDescription)
	}
	// A placeholder that already serves as the description is not repeated.
	if p := truncate(collapse(r.Placeholder), DefaultMaxDescription); p != "" && p != desc {
		attrs[AttrPlaceholder] = p
	}
	if r.Href != nil && *r.Href != "" {
		attrs[AttrHref] = truncate(*r.Href, maxHref)
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// showsValue excludes inputs whose value is a constant rather than user state.
func showsValue(r *rawNode) bool {
	switch inputRoles[r.Type] {
	case "button", "checkbox", "radio":
		return r.Tag != "input"
	}
	return true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
