// Package plan parses the planning, decomposition and verification replies of the model.
package plan

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParseFailure is matched by every *ParseError.
var ErrParseFailure = errors.New("parse failure")

// ParseError describes why a reply did not fit its grammar.
type ParseError struct {
	Grammar string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Grammar, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParseFailure
}

// Plan is the ordered decomposition of an instruction. It is not modified after parsing.
type Plan struct {
	TaskDescription string
	Steps           []string
}

// SubPlan decomposes a single step.
type SubPlan struct {
	Description string
	SubSteps    []string
}

// SingleShot is the one-step plan used when the planning reply cannot be parsed.
func SingleShot(instruction string) Plan {
	return Plan{TaskDescription: instruction, Steps: []string{instruction}}
}

// ParsePlan reads "PLAN: <description>" followed by "STEPS:" and a numbered list.
func ParsePlan(reply string) (Plan, error) {
	desc, items, err := parseOutline(reply, "PLAN", "STEPS", "plan")
	if err != nil {
		return Plan{}, err
	}
	return Plan{TaskDescription: desc, Steps: items}, nil
}

// ParseSubPlan reads "SUB-PLAN: <description>" followed by "SUB-STEPS:" and a numbered list.
func ParseSubPlan(reply string) (SubPlan, error) {
	desc, items, err := parseOutline(reply, "SUB-PLAN", "SUB-STEPS", "sub-plan")
	if err != nil {
		return SubPlan{}, err
	}
	return SubPlan{Description: desc, SubSteps: items}, nil
}

var numbered = regexp.MustCompile(`^(\d+)[.)]\s+(.+)$`)

func parseOutline(reply, header, list, grammar string) (string, []string, error) {
	var (
		desc      string
		sawHeader bool
		inList    bool
		items     []string
	)
	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		label := strings.Trim(line, "*# ")
		switch {
		case !sawHeader && hasLabel(label, header):
			sawHeader = true
			desc = strings.TrimSpace(strings.Trim(label[len(header)+1:], "* "))
			continue
		case sawHeader && !inList && hasLabel(label, list):
			inList = true
			continue
		}
		if !inList {
			continue
		}
		m := numbered.FindStringSubmatch(line)
		if m == nil {
			if len(items) > 0 {
				break
			}
			continue
		}
		if step := strings.TrimSpace(m[2]); step != "" {
			items = append(items, step)
		}
	}
	switch {
	case !sawHeader:
		return "", nil, &ParseError{Grammar: grammar, Reason: fmt.Sprintf("missing %s: line", header)}
	case !inList:
		return "", nil, &ParseError{Grammar: grammar, Reason: fmt.Sprintf("missing %s: line", list)}
	case len(items) == 0:
		return "", nil, &ParseError{Grammar: grammar, Reason: "no numbered items"}
	}
	return desc, items, nil
}

func hasLabel(line, label string) bool {
	return len(line) > len(label) && strings.EqualFold(line[:len(label)], label) && line[len(label)] == ':'
}

// Verdict is the outcome of a verification question.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictCompleted
	VerdictIncomplete
)

func (v Verdict) String() string {
	switch v {
	case VerdictCompleted:
		return "COMPLETED"
	case VerdictIncomplete:
		return "INCOMPLETE"
	default:
		return "UNKNOWN"
	}
}

var completedWord = regexp.MustCompile(`\bCOMPLETED\b`)

// ParseVerdict reads a verification reply. Only a reply containing the word
// COMPLETED counts as done; anything else that is not INCOMPLETE is unknown.
func ParseVerdict(reply string) Verdict {
	upper := strings.ToUpper(reply)
	switch {
	case completedWord.MatchString(upper):
		return VerdictCompleted
	case strings.Contains(upper, "INCOMPLETE"):
		return VerdictIncomplete
	default:
		return VerdictUnknown
	}
}
