package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-agent/internal/action"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, cmd action.Command) (action.Effect, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(action.Effect), args.Error(1)
}

func TestDescribeCoversEveryVerb(t *testing.T) {
	tb := New(&mockExecutor{})
	catalogue := Catalogue(tb.Describe())
	for _, verb := range []string{"CLICK:", "TYPE:", "SELECT:", "HOVER:", "CLEAR:", "PRESS:", "SCROLL:", "WAIT:", "FETCH:", "ANALYZE:", "COMPLETE"} {
		assert.Contains(t, catalogue, verb)
	}
	assert.Len(t, strings.Split(catalogue, "\n"), len(tb.Describe()))
}

func TestInvokeBuildsCommands(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  action.Command
	}{
		{"click", map[string]any{"ref": float64(3)}, action.Click{Ref: 3}},
		{"TYPE", map[string]any{"ref": json.Number("2"), "text": "hi"}, action.Type{Ref: 2, Text: "hi"}},
		{"select", map[string]any{"ref": "4", "option": "Blue"}, action.Select{Ref: 4, Option: "Blue"}},
		{"scroll", map[string]any{"direction": "Down", "amount": 100}, action.Scroll{Direction: "down", Amount: 100}},
		{"wait", map[string]any{"seconds": 2.5}, action.Wait{Seconds: "2.5"}},
		{"fetch", map[string]any{"url": "https://a.test"}, action.Fetch{URL: "https://a.test"}},
		{"complete", nil, action.Complete{}},
	}
	for _, tc := range cases {
		exec := &mockExecutor{}
		exec.On("Execute", mock.Anything, tc.want).Return(action.Effect{}, nil).Once()
		_, err := New(exec).Invoke(context.Background(), tc.name, tc.input)
		require.NoError(t, err, tc.name)
		exec.AssertExpectations(t)
	}
}

func TestInvokeValidatesInput(t *testing.T) {
	tb := New(&mockExecutor{})
	_, err := tb.Invoke(context.Background(), "click", map[string]any{})
	require.Error(t, err)
	_, err = tb.Invoke(context.Background(), "select", map[string]any{"ref": 1, "option": " "})
	require.Error(t, err)
	_, err = tb.Invoke(context.Background(), "teleport", nil)
	require.Error(t, err)
}

func TestInvokeLineStopsAtFirstFailure(t *testing.T) {
	exec := &mockExecutor{}
	boom := errors.New("element not visible")
	exec.On("Execute", mock.Anything, action.Click{Ref: 1}).Return(action.Effect{URL: "https://a.test"}, nil).Once()
	exec.On("Execute", mock.Anything, action.Click{Ref: 2}).Return(action.Effect{}, boom).Once()

	results, err := New(exec).InvokeLine(context.Background(), "CLICK:1;CLICK:2;CLICK:3")
	require.ErrorIs(t, err, boom)
	require.Len(t, results, 1)
	assert.Equal(t, "CLICK:1 ok", results[0].Observation)
	exec.AssertExpectations(t)
}

func TestInvokeLineObservations(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, action.Fetch{URL: "https://b.test"}).Return(action.Effect{Navigated: true, URL: "https://b.test/"}, nil)
	exec.On("Execute", mock.Anything, action.Analyze{Prompt: "price?"}).Return(action.Effect{Output: "10"}, nil)
	exec.On("Execute", mock.Anything, action.Complete{}).Return(action.Effect{Done: true}, nil)

	results, err := New(exec).InvokeLine(context.Background(), "FETCH:https://b.test;ANALYZE:price?;COMPLETE")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "FETCH:https://b.test -> now at https://b.test/", results[0].Observation)
	assert.Equal(t, "10", results[1].Observation)
	assert.Equal(t, "task complete", results[2].Observation)
}

func TestInvokeLineRejectsBadGrammar(t *testing.T) {
	_, err := New(&mockExecutor{}).InvokeLine(context.Background(), "CLICK:one")
	require.ErrorIs(t, err, action.ErrParseFailure)
}
