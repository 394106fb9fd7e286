package action

import (
	"fmt"
	"regexp"
	"strings"
)

// KeyCombo is a normalised key press: zero or more modifiers and one key.
type KeyCombo struct {
	Modifiers []string
	Key       string
}

func (k KeyCombo) String() string {
	return strings.Join(append(append([]string{}, k.Modifiers...), k.Key), "+")
}

var modifierNames = map[string]string{
	"ctrl":    "Control",
	"control": "Control",
	"shift":   "Shift",
	"alt":     "Alt",
	"option":  "Alt",
	"meta":    "Meta",
	"cmd":     "Meta",
	"command": "Meta",
}

var keyNames = map[string]string{
	"enter":      "Enter",
	"return":     "Enter",
	"tab":        "Tab",
	"esc":        "Escape",
	"escape":     "Escape",
	"space":      "Space",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"del":        "Delete",
	"up":         "ArrowUp",
	"down":       "ArrowDown",
	"left":       "ArrowLeft",
	"right":      "ArrowRight",
	"arrowup":    "ArrowUp",
	"arrowdown":  "ArrowDown",
	"arrowleft":  "ArrowLeft",
	"arrowright": "ArrowRight",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
	"home":       "Home",
	"end":        "End",
}

// ParseKeys reads "Enter", "Ctrl+a" or "Control+Shift+ArrowLeft". The last
// token is the key; earlier tokens are modifiers, unknown ones are ignored.
func ParseKeys(s string) (KeyCombo, error) {
	tokens := strings.Split(strings.TrimSpace(s), "+")
	keyToken := strings.TrimSpace(tokens[len(tokens)-1])
	if keyToken == "" {
		return KeyCombo{}, fmt.Errorf("%w: no key in %q", ErrInvalidArgument, s)
	}

	var combo KeyCombo
	seen := make(map[string]bool)
	for _, tok := range tokens[:len(tokens)-1] {
		name := strings.ToLower(strings.TrimSpace(tok))
		mod, ok := modifierNames[name]
		if !ok || seen[mod] {
			continue
		}
		seen[mod] = true
		combo.Modifiers = append(combo.Modifiers, mod)
	}

	switch name, ok := keyNames[strings.ToLower(keyToken)]; {
	case ok:
		combo.Key = name
	case functionKey.MatchString(keyToken):
		combo.Key = strings.ToUpper(keyToken)
	default:
		combo.Key = keyToken
	}
	return combo, nil
}

var functionKey = regexp.MustCompile(`^[fF](1[0-2]|[1-9])$`)
