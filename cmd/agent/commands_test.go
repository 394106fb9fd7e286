package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-agent/internal/action"
	"github.com/polzovatel/browser-task-agent/internal/agent"
	"github.com/polzovatel/browser-task-agent/internal/llm"
	"github.com/polzovatel/browser-task-agent/internal/plan"
	"github.com/polzovatel/browser-task-agent/internal/tools"
)

func TestSanitizeTask(t *testing.T) {
	assert.Equal(t, "open the\tmenu", sanitizeTask("  open the\tmenu\x07\n"))
	long := strings.Repeat("я", maxTaskLength+10)
	assert.Len(t, []rune(sanitizeTask(long)), maxTaskLength)
}

func TestPromptTask(t *testing.T) {
	var out bytes.Buffer
	task, cancelled, err := promptTask(strings.NewReader("find the cheapest lamp\n"), &out)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "find the cheapest lamp", task)
	assert.Contains(t, out.String(), "Введите задачу")

	_, cancelled, err = promptTask(strings.NewReader("\n"), &out)
	require.NoError(t, err)
	assert.True(t, cancelled)

	task, _, err = promptTask(strings.NewReader("no newline"), &out)
	require.NoError(t, err)
	assert.Equal(t, "no newline", task)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, agent.Result{
		Plan:           plan.Plan{Steps: []string{"a", "b"}},
		Status:         agent.PhaseAborted,
		AbortReason:    agent.ErrMaxAttemptsExceeded,
		StepsCompleted: 1,
		AttemptsUsed:   4,
		Analyses:       []string{"12 EUR"},
		FinalURL:       "https://shop.test/",
	})
	out := buf.String()
	assert.Contains(t, out, "max attempts exceeded")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "12 EUR")
	assert.Contains(t, out, "https://shop.test/")
}

func TestRunFailsFastWithoutCredentials(t *testing.T) {
	for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LLM_PROVIDER", "AGENT_LLM_PROVIDER"} {
		t.Setenv(name, "")
	}
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"run", "--task", "buy a lamp"})

	err := root.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrMissingCredentials), err.Error())
	assert.NotContains(t, buf.String(), "Начинаю задачу")
}

func TestCommandArguments(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"snapshot"})
	require.Error(t, root.Execute())

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"do", "https://example.test"})
	require.Error(t, root.Execute())

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"do", "https://example.test", "CLICK:1", "--tool", "click"})
	require.Error(t, root.Execute())
}

type recordingExecutor struct {
	cmds []action.Command
}

func (r *recordingExecutor) Execute(_ context.Context, cmd action.Command) (action.Effect, error) {
	r.cmds = append(r.cmds, cmd)
	return action.Effect{URL: "https://shop.test/"}, nil
}

func TestRunToolsWithJSONInput(t *testing.T) {
	exec := &recordingExecutor{}
	var out bytes.Buffer

	err := runTools(context.Background(), tools.New(exec), "", "type", `{"ref": 5, "text": "hello"}`, &out)
	require.NoError(t, err)
	assert.Equal(t, []action.Command{action.Type{Ref: 5, Text: "hello"}}, exec.cmds)
	assert.Equal(t, "> TYPE:5:hello ok\n", out.String())

	err = runTools(context.Background(), tools.New(exec), "", "click", `{"ref": `, &out)
	require.Error(t, err)
	err = runTools(context.Background(), tools.New(exec), "", "click", `{}`, &out)
	require.Error(t, err)
	assert.Len(t, exec.cmds, 1)
}

func TestRunToolsWithCommandLine(t *testing.T) {
	exec := &recordingExecutor{}
	var out bytes.Buffer

	err := runTools(context.Background(), tools.New(exec), "CLICK:1;SCROLL:down", "", "{}", &out)
	require.NoError(t, err)
	assert.Equal(t, []action.Command{action.Click{Ref: 1}, action.Scroll{Direction: "down"}}, exec.cmds)
	assert.Equal(t, "> CLICK:1 ok\n> SCROLL:down ok\n", out.String())
}

func TestWriteTrace(t *testing.T) {
	trace := agent.NewTrace(0)
	trace.Record(agent.Transition{At: time.Unix(0, 0).UTC(), From: agent.PhaseIdle, To: agent.PhasePlanning})
	path := filepath.Join(t.TempDir(), "trace.json")

	require.NoError(t, writeTrace(path, trace.Entries()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "planning", got[0]["to"])
}
