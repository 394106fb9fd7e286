package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeys(t *testing.T) {
	cases := []struct {
		in   string
		mods []string
		key  string
	}{
		{"Enter", nil, "Enter"},
		{"return", nil, "Enter"},
		{"a", nil, "a"},
		{"Ctrl+a", []string{"Control"}, "a"},
		{"control+shift+ArrowLeft", []string{"Control", "Shift"}, "ArrowLeft"},
		{"Option+Cmd+esc", []string{"Alt", "Meta"}, "Escape"},
		{"Hyper+Ctrl+Ctrl+Tab", []string{"Control"}, "Tab"},
		{"f5", nil, "F5"},
		{"Shift+F12", []string{"Shift"}, "F12"},
	}
	for _, tc := range cases {
		combo, err := ParseKeys(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.mods, combo.Modifiers, tc.in)
		assert.Equal(t, tc.key, combo.Key, tc.in)
	}
}

func TestParseKeysRejectsMissingKey(t *testing.T) {
	for _, in := range []string{"", "Ctrl+", "  "} {
		_, err := ParseKeys(in)
		require.ErrorIs(t, err, ErrInvalidArgument, in)
	}
}

func TestKeyComboString(t *testing.T) {
	assert.Equal(t, "Control+Shift+a", KeyCombo{Modifiers: []string{"Control", "Shift"}, Key: "a"}.String())
	assert.Equal(t, "Enter", KeyCombo{Key: "Enter"}.String())
}
