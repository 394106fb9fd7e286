package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParseFailure is matched by every *ParseError.
var ErrParseFailure = errors.New("parse failure")

// ParseError points at the fragment of a reply that broke the grammar.
type ParseError struct {
	Fragment string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Fragment == "" {
		return "parse actions: " + e.Reason
	}
	return fmt.Sprintf("parse actions: %q: %s", e.Fragment, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParseFailure
}

// Parse reads a reply of the form "VERB:arg[:arg]" joined by ";" or newlines.
// Verbs are case-insensitive. NULL and BREAKDOWN_NEEDED must stand alone and
// COMPLETE may only end a batch. Any violation rejects the whole reply.
func Parse(reply string) ([]Command, error) {
	segments := split(reply)
	if len(segments) == 0 {
		return nil, &ParseError{Reason: "empty reply"}
	}
	cmds := make([]Command, 0, len(segments))
	for _, seg := range segments {
		cmd, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	for i, cmd := range cmds {
		switch cmd.(type) {
		case Null, BreakdownNeeded:
			if len(cmds) > 1 {
				return nil, &ParseError{Fragment: cmd.String(), Reason: "must be the only command in a reply"}
			}
		case Complete:
			if i != len(cmds)-1 {
				return nil, &ParseError{Fragment: cmd.String(), Reason: "must be the last command in a reply"}
			}
		}
	}
	return cmds, nil
}

func split(reply string) []string {
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			continue
		}
		for _, seg := range strings.Split(line, ";") {
			if seg = strings.TrimSpace(seg); seg != "" {
				out = append(out, seg)
			}
		}
	}
	return out
}

func parseSegment(seg string) (Command, error) {
	head, rest, hasArgs := strings.Cut(seg, ":")
	verb := Verb(strings.ToUpper(strings.TrimSpace(head)))
	rest = strings.TrimSpace(rest)
	fail := func(reason string) (Command, error) {
		return nil, &ParseError{Fragment: seg, Reason: reason}
	}

	switch verb {
	case VerbClick, VerbHover, VerbClear:
		ref, err := parseRef(rest)
		if err != nil {
			return fail(err.Error())
		}
		switch verb {
		case VerbClick:
			return Click{Ref: ref}, nil
		case VerbHover:
			return Hover{Ref: ref}, nil
		default:
			return Clear{Ref: ref}, nil
		}
	case VerbType, VerbSelect:
		refPart, arg, ok := strings.Cut(rest, ":")
		if !ok {
			return fail(fmt.Sprintf("%s needs a ref and an argument", verb))
		}
		ref, err := parseRef(refPart)
		if err != nil {
			return fail(err.Error())
		}
		arg = unquote(strings.TrimSpace(arg))
		if verb == VerbType {
			return Type{Ref: ref, Text: arg}, nil
		}
		if arg == "" {
			return fail("SELECT needs an option label")
		}
		return Select{Ref: ref, Option: arg}, nil
	case VerbScroll:
		dir, amountPart, hasAmount := strings.Cut(rest, ":")
		dir = strings.ToLower(strings.TrimSpace(dir))
		if dir == "" {
			return fail("SCROLL needs a direction")
		}
		amount := 0
		if hasAmount && strings.TrimSpace(amountPart) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(amountPart))
			if err != nil {
				return fail("scroll amount is not a number")
			}
			amount = n
		}
		return Scroll{Direction: dir, Amount: amount}, nil
	case VerbPress:
		if rest == "" {
			return fail("PRESS needs keys")
		}
		return Press{Keys: rest}, nil
	case VerbWait:
		return Wait{Seconds: rest}, nil
	case VerbFetch:
		if rest == "" {
			return fail("FETCH needs a URL")
		}
		return Fetch{URL: unquote(rest)}, nil
	case VerbAnalyze:
		if rest == "" {
			return fail("ANALYZE needs a prompt")
		}
		return Analyze{Prompt: unquote(rest)}, nil
	case VerbComplete:
		return Complete{Message: rest}, nil
	case VerbNull, VerbBreakdown:
		if hasArgs && rest != "" {
			return fail(fmt.Sprintf("%s takes no arguments", verb))
		}
		if verb == VerbNull {
			return Null{}, nil
		}
		return BreakdownNeeded{}, nil
	default:
		return fail("unknown verb")
	}
}

func parseRef(s string) (int, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	ref, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || ref <= 0 {
		return 0, fmt.Errorf("ref %q is not a positive integer", s)
	}
	return ref, nil
}

// unquote strips one pair of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
