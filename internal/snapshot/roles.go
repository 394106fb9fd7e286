package snapshot

const roleGeneric = "generic"

var interactiveTags = []string{"a", "button", "input", "textarea", "select", "option"}

var interactiveRoles = []string{
	"button", "link", "textbox", "searchbox", "combobox", "listbox", "option",
	"checkbox", "radio", "switch", "slider", "spinbutton", "tab", "menuitem",
	"menuitemcheckbox", "menuitemradio", "treeitem", "gridcell",
}

var skipTags = []string{"script", "style", "noscript", "template", "svg", "head", "meta", "link", "iframe"}

// landmarkRoles are retained even when they carry no text and no retained descendants.
var landmarkRoles = map[string]bool{
	"document":      true,
	"banner":        true,
	"navigation":    true,
	"main":          true,
	"complementary": true,
	"contentinfo":   true,
	"region":        true,
	"form":          true,
	"search":        true,
	"dialog":        true,
	"article":       true,
	"list":          true,
	"table":         true,
	"heading":       true,
}

var tagRoles = map[string]string{
	"body":     "document",
	"header":   "banner",
	"nav":      "navigation",
	"main":     "main",
	"aside":    "complementary",
	"footer":   "contentinfo",
	"section":  "region",
	"form":     "form",
	"search":   "search",
	"dialog":   "dialog",
	"article":  "article",
	"ul":       "list",
	"ol":       "list",
	"li":       "listitem",
	"table":    "table",
	"tr":       "row",
	"td":       "cell",
	"th":       "columnheader",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
	"p":        "paragraph",
	"img":      "img",
	"label":    "label",
	"a":        "link",
	"button":   "button",
	"textarea": "textbox",
	"select":   "combobox",
	"option":   "option",
	"summary":  "button",
}

var inputRoles = map[string]string{
	"checkbox": "checkbox",
	"radio":    "radio",
	"button":   "button",
	"submit":   "button",
	"reset":    "button",
	"image":    "button",
	"range":    "slider",
	"number":   "spinbutton",
	"search":   "searchbox",
}

// roleOf resolves the explicit ARIA role, falling back to the implicit role of the tag.
func roleOf(r *rawNode) string {
	if r.Role != "" {
		return r.Role
	}
	if r.Tag == "input" {
		if role, ok := inputRoles[r.Type]; ok {
			return role
		}
		return "textbox"
	}
	if role, ok := tagRoles[r.Tag]; ok {
		return role
	}
	return roleGeneric
}
