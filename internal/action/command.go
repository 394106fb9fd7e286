// Package action parses the model's action grammar and executes it against a page.
package action

import (
	"fmt"
	"strconv"
)

// Verb names a command in the action grammar.
type Verb string

const (
	VerbClick     Verb = "CLICK"
	VerbType      Verb = "TYPE"
	VerbFetch     Verb = "FETCH"
	VerbScroll    Verb = "SCROLL"
	VerbSelect    Verb = "SELECT"
	VerbHover     Verb = "HOVER"
	VerbPress     Verb = "PRESS"
	VerbWait      Verb = "WAIT"
	VerbClear     Verb = "CLEAR"
	VerbAnalyze   Verb = "ANALYZE"
	VerbComplete  Verb = "COMPLETE"
	VerbBreakdown Verb = "BREAKDOWN_NEEDED"
	VerbNull      Verb = "NULL"
)

// Command is one parsed action. The set of implementations is closed.
type Command interface {
	Verb() Verb
	String() string
	command()
}

type Click struct{ Ref int }

type Type struct {
	Ref  int
	Text string
}

type Select struct {
	Ref    int
	Option string
}

type Hover struct{ Ref int }

type Clear struct{ Ref int }

// Press carries a single key or a "+"-joined combination such as "Ctrl+Shift+a".
type Press struct{ Keys string }

// Scroll moves the viewport. Amount zero means the default distance.
type Scroll struct {
	Direction string
	Amount    int
}

// Wait keeps its argument verbatim; it is validated when executed.
type Wait struct{ Seconds string }

type Fetch struct{ URL string }

type Analyze struct{ Prompt string }

// Complete ends the whole task.
type Complete struct{ Message string }

// BreakdownNeeded asks for the current step to be decomposed.
type BreakdownNeeded struct{}

// Null means the step needs no action.
type Null struct{}

func (Click) Verb() Verb           { return VerbClick }
func (Type) Verb() Verb            { return VerbType }
func (Select) Verb() Verb          { return VerbSelect }
func (Hover) Verb() Verb           { return VerbHover }
func (Clear) Verb() Verb           { return VerbClear }
func (Press) Verb() Verb           { return VerbPress }
func (Scroll) Verb() Verb          { return VerbScroll }
func (Wait) Verb() Verb            { return VerbWait }
func (Fetch) Verb() Verb           { return VerbFetch }
func (Analyze) Verb() Verb         { return VerbAnalyze }
func (Complete) Verb() Verb        { return VerbComplete }
func (BreakdownNeeded) Verb() Verb { return VerbBreakdown }
func (Null) Verb() Verb            { return VerbNull }

func (c Click) String() string  { return fmt.Sprintf("CLICK:%d", c.Ref) }
func (c Type) String() string   { return fmt.Sprintf("TYPE:%d:%s", c.Ref, c.Text) }
func (c Select) String() string { return fmt.Sprintf("SELECT:%d:%s", c.Ref, c.Option) }
func (c Hover) String() string  { return fmt.Sprintf("HOVER:%d", c.Ref) }
func (c Clear) String() string  { return fmt.Sprintf("CLEAR:%d", c.Ref) }
func (c Press) String() string  { return "PRESS:" + c.Keys }
func (c Wait) String() string   { return "WAIT:" + c.Seconds }
func (c Fetch) String() string  { return "FETCH:" + c.URL }

func (c Analyze) String() string { return "ANALYZE:" + c.Prompt }

func (c Scroll) String() string {
	if c.Amount == 0 {
		return "SCROLL:" + c.Direction
	}
	return "SCROLL:" + c.Direction + ":" + strconv.Itoa(c.Amount)
}

func (c Complete) String() string {
	if c.Message == "" {
		return string(VerbComplete)
	}
	return "COMPLETE:" + c.Message
}

func (BreakdownNeeded) String() string { return string(VerbBreakdown) }
func (Null) String() string            { return string(VerbNull) }

func (Click) command()           {}
func (Type) command()            {}
func (Select) command()          {}
func (Hover) command()           {}
func (Clear) command()           {}
func (Press) command()           {}
func (Scroll) command()          {}
func (Wait) command()            {}
func (Fetch) command()           {}
func (Analyze) command()         {}
func (Complete) command()        {}
func (BreakdownNeeded) command() {}
func (Null) command()            {}

// Sentinel reports whether cmds is a lone NULL or BREAKDOWN_NEEDED reply.
func Sentinel(cmds []Command) (Command, bool) {
	if len(cmds) != 1 {
		return nil, false
	}
	switch cmds[0].(type) {
	case Null, BreakdownNeeded:
		return cmds[0], true
	}
	return nil, false
}
