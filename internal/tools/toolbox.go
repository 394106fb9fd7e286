package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/polzovatel/browser-task-agent/internal/action"
)

// Toolbox exposes the action verbs as named tools: described for prompts and
// invocable either with structured input or with a grammar line.
type Toolbox interface {
	Describe() []Tool
	Invoke(ctx context.Context, name string, input map[string]any) (Result, error)
	InvokeLine(ctx context.Context, line string) ([]Result, error)
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Grammar     string         `json:"grammar"`
	InputSchema map[string]any `json:"input_schema"`
}

type Result struct {
	Command     action.Command
	Observation string
	Effect      action.Effect
}

// Executor runs one parsed command.
type Executor interface {
	Execute(ctx context.Context, cmd action.Command) (action.Effect, error)
}

type standard struct {
	exec  Executor
	tools []Tool
}

func New(exec Executor) Toolbox {
	return &standard{
		exec: exec,
		tools: []Tool{
			newTool("click", "CLICK:<ref>", "Click the element with this ref", schema{"ref": integer("element ref from the outline")}, []string{"ref"}),
			newTool("type", "TYPE:<ref>:<text>", "Replace the content of an input with text", schema{"ref": integer("element ref"), "text": str("text to type")}, []string{"ref", "text"}),
			newTool("select", "SELECT:<ref>:<option>", "Choose an option of a select by its visible label", schema{"ref": integer("element ref"), "option": str("option label")}, []string{"ref", "option"}),
			newTool("hover", "HOVER:<ref>", "Move the mouse over an element to reveal menus", schema{"ref": integer("element ref")}, []string{"ref"}),
			newTool("clear", "CLEAR:<ref>", "Empty an input", schema{"ref": integer("element ref")}, []string{"ref"}),
			newTool("press", "PRESS:<keys>", "Press a key or combination such as Enter or Ctrl+a", schema{"keys": str("key or +-joined combination")}, []string{"keys"}),
			newTool("scroll", "SCROLL:<up|down>[:<pixels>]", "Scroll the page", schema{"direction": str("up or down"), "amount": integer("pixels, default 600")}, []string{"direction"}),
			newTool("wait", "WAIT:<seconds>", "Pause before the next action", schema{"seconds": str("positive number of seconds")}, []string{"seconds"}),
			newTool("fetch", "FETCH:<url>", "Open a URL", schema{"url": str("absolute or relative URL")}, []string{"url"}),
			newTool("analyze", "ANALYZE:<question>", "Ask a question about the current screenshot", schema{"prompt": str("question about the page")}, []string{"prompt"}),
			newTool("complete", "COMPLETE", "The whole task is done", schema{"message": str("optional summary")}, nil),
		},
	}
}

func (s *standard) Describe() []Tool {
	return append([]Tool(nil), s.tools...)
}

func (s *standard) Invoke(ctx context.Context, name string, input map[string]any) (Result, error) {
	cmd, err := buildCommand(strings.ToLower(strings.TrimSpace(name)), input)
	if err != nil {
		return Result{}, err
	}
	return s.run(ctx, cmd)
}

// InvokeLine parses a grammar line and runs its commands in order, stopping at the first failure.
func (s *standard) InvokeLine(ctx context.Context, line string) ([]Result, error) {
	cmds, err := action.Parse(line)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := s.run(ctx, cmd)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Effect.Done {
			break
		}
	}
	return results, nil
}

func (s *standard) run(ctx context.Context, cmd action.Command) (Result, error) {
	eff, err := s.exec.Execute(ctx, cmd)
	if err != nil {
		return Result{Command: cmd}, fmt.Errorf("%s: %w", cmd, err)
	}
	return Result{Command: cmd, Effect: eff, Observation: observe(cmd, eff)}, nil
}

func observe(cmd action.Command, eff action.Effect) string {
	switch {
	case eff.Output != "":
		return eff.Output
	case eff.Done:
		return "task complete"
	case eff.Navigated:
		return fmt.Sprintf("%s -> now at %s", cmd, eff.URL)
	default:
		return fmt.Sprintf("%s ok", cmd)
	}
}

func buildCommand(name string, input map[string]any) (action.Command, error) {
	switch name {
	case "click", "hover", "clear":
		ref, err := requiredInt(input, "ref")
		if err != nil {
			return nil, err
		}
		switch name {
		case "click":
			return action.Click{Ref: ref}, nil
		case "hover":
			return action.Hover{Ref: ref}, nil
		default:
			return action.Clear{Ref: ref}, nil
		}
	case "type":
		ref, err := requiredInt(input, "ref")
		if err != nil {
			return nil, err
		}
		return action.Type{Ref: ref, Text: optionalString(input, "text")}, nil
	case "select":
		ref, err := requiredInt(input, "ref")
		if err != nil {
			return nil, err
		}
		option, err := requiredString(input, "option")
		if err != nil {
			return nil, err
		}
		return action.Select{Ref: ref, Option: option}, nil
	case "press":
		keys, err := requiredString(input, "keys")
		if err != nil {
			return nil, err
		}
		return action.Press{Keys: keys}, nil
	case "scroll":
		dir, err := requiredString(input, "direction")
		if err != nil {
			return nil, err
		}
		return action.Scroll{Direction: strings.ToLower(dir), Amount: optionalInt(input, "amount")}, nil
	case "wait":
		secs, err := requiredString(input, "seconds")
		if err != nil {
			return nil, err
		}
		return action.Wait{Seconds: secs}, nil
	case "fetch":
		url, err := requiredString(input, "url")
		if err != nil {
			return nil, err
		}
		return action.Fetch{URL: url}, nil
	case "analyze":
		prompt, err := requiredString(input, "prompt")
		if err != nil {
			return nil, err
		}
		return action.Analyze{Prompt: prompt}, nil
	case "complete":
		return action.Complete{Message: optionalString(input, "message")}, nil
	default:
		return nil, fmt.Errorf("unknown tool %s", name)
	}
}

// Catalogue renders the tools as grammar lines for a prompt.
func Catalogue(tools []Tool) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Grammar, t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Helpers for schema and extraction.
type schema map[string]any

func newTool(name, grammar, desc string, props schema, required []string) Tool {
	return Tool{
		Name:        name,
		Description: desc,
		Grammar:     grammar,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func requiredString(input map[string]any, key string) (string, error) {
	val, ok := input[key]
	if !ok {
		return "", fmt.Errorf("field %s required", key)
	}
	switch v := val.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("field %s empty", key)
		}
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("field %s must be string", key)
	}
}

func optionalString(input map[string]any, key string) string {
	if _, ok := input[key]; !ok {
		return ""
	}
	v, _ := requiredString(input, key)
	return v
}

func requiredInt(input map[string]any, key string) (int, error) {
	val, ok := input[key]
	if !ok {
		return 0, fmt.Errorf("field %s required", key)
	}
	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %s must be integer: %w", key, err)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("field %s must be integer: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("field %s must be integer", key)
	}
}

func optionalInt(input map[string]any, key string) int {
	if _, ok := input[key]; !ok {
		return 0
	}
	v, _ := requiredInt(input, key)
	return v
}
