package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationWindowIsBoundedAuditIsNot(t *testing.T) {
	c := NewConversation(3)
	for i := 0; i < 5; i++ {
		c.Record(fmt.Sprintf("p%d", i), fmt.Sprintf("r%d", i))
	}

	working := c.Working()
	require.Len(t, working, 3)
	assert.Equal(t, "p2", working[0].Prompt)
	assert.Equal(t, "r4", working[2].Response)
	assert.Len(t, c.Audit(), 5)
}

func TestConversationReset(t *testing.T) {
	c := NewConversation(0)
	c.Record("p", "r")
	c.Reset()
	assert.Empty(t, c.Working())
	assert.Empty(t, c.Audit())
}

func TestConversationCopiesAreIndependent(t *testing.T) {
	c := NewConversation(2)
	c.Record("p", "r")
	w := c.Working()
	w[0].Prompt = "changed"
	assert.Equal(t, "p", c.Working()[0].Prompt)
}

func TestWriteAudit(t *testing.T) {
	c := NewConversation(1)
	c.Record("plan", "PLAN: x")
	c.Record("step", "CLICK:1")

	path := filepath.Join(t.TempDir(), "audit", "run.json")
	require.NoError(t, c.WriteAudit(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []Exchange
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "CLICK:1", got[1].Response)
}
