package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MarkerAttribute is written onto every referenced element as "<generation>-<ref>".
const MarkerAttribute = "data-agent-ref"

// Attribute keys rendered after the ref, in this order.
const (
	AttrChecked     = "checked"
	AttrSelected    = "selected"
	AttrRequired    = "required"
	AttrValue       = "value"
	AttrPlaceholder = "placeholder"
	AttrHref        = "href"
)

var attributeOrder = []string{AttrChecked, AttrSelected, AttrRequired, AttrValue, AttrPlaceholder, AttrHref}

// flagAttributes render as a bare [name].
var flagAttributes = map[string]bool{AttrChecked: true, AttrSelected: true, AttrRequired: true}

// Node is one retained element of the page outline.
type Node struct {
	Role        string
	Description string
	// Ref is zero unless the element was visible and interactive when captured.
	Ref        int
	Attributes map[string]string
	Children   []*Node
}

func (n *Node) HasRef() bool {
	return n != nil && n.Ref > 0
}

// Snapshot is one generation of the page outline.
type Snapshot struct {
	URL        string
	Title      string
	Generation string
	Root       *Node
	TakenAt    time.Time
}

// MarkerSelector is the CSS selector addressing ref within generation.
func MarkerSelector(generation string, ref int) string {
	return fmt.Sprintf(`[%s="%s-%d"]`, MarkerAttribute, generation, ref)
}

// Selector returns the marker selector for ref in this snapshot's generation.
func (s *Snapshot) Selector(ref int) string {
	return MarkerSelector(s.Generation, ref)
}

// Refs lists every ref in traversal order.
func (s *Snapshot) Refs() []int {
	var refs []int
	walk(s.Root, func(n *Node) {
		if n.HasRef() {
			refs = append(refs, n.Ref)
		}
	})
	return refs
}

// Find returns the node carrying ref, or nil.
func (s *Snapshot) Find(ref int) *Node {
	var found *Node
	walk(s.Root, func(n *Node) {
		if found == nil && n.Ref == ref {
			found = n
		}
	})
	return found
}

// Text renders the indented outline handed to the model. It does not include
// the generation, so two captures of an unchanged page render identically.
func (s *Snapshot) Text() string {
	if s == nil || s.Root == nil {
		return ""
	}
	var b strings.Builder
	writeNode(&b, s.Root, 0)
	return strings.TrimRight(b.String(), "\n")
}

func (s *Snapshot) String() string {
	head := fmt.Sprintf("URL: %s\nTitle: %s\n", s.URL, s.Title)
	return head + s.Text()
}

func writeNode(b *strings.Builder, n *Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("- ")
	b.WriteString(n.Role)
	if n.Description != "" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(n.Description))
	}
	if n.HasRef() {
		fmt.Fprintf(b, " [ref=%d]", n.Ref)
	}
	for _, key := range attributeOrder {
		val, ok := n.Attributes[key]
		if !ok {
			continue
		}
		if flagAttributes[key] {
			fmt.Fprintf(b, " [%s]", key)
			continue
		}
		fmt.Fprintf(b, " [%s=%s]", key, strconv.Quote(val))
	}
	b.WriteString("\n")
	for _, child := range n.Children {
		writeNode(b, child, depth+1)
	}
}

func walk(n *Node, visit func(*Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, child := range n.Children {
		walk(child, visit)
	}
}
