// Package parser turns a raw shell input line into a Pipeline: one or two
// Commands joined by a single pipe, with optional redirection and a
// trailing background flag. It has no ecosystem analogue in the retrieval
// pack — this is a small hand-rolled recursive-descent-free tokenizer over
// whitespace-separated words, which is the standard-library-appropriate
// choice for a custom, unquoted shell grammar (see DESIGN.md).
package parser

import (
	"strings"

	"github.com/rajin-khan/cash/internal/shellerr"
)

// Command is an ordered argument vector plus optional redirection targets.
type Command struct {
	Args    []string
	InFile  string
	OutFile string
}

// IsEmpty reports whether the command has no arguments at all.
func (c *Command) IsEmpty() bool {
	return c == nil || len(c.Args) == 0
}

// Name returns the program name (first argument), or "" if empty.
func (c *Command) Name() string {
	if c.IsEmpty() {
		return ""
	}
	return c.Args[0]
}

// Pipeline is one or two Commands, optionally run in the background.
type Pipeline struct {
	Left       *Command
	Right      *Command // nil unless this is a two-stage pipeline
	Background bool
}

// Piped reports whether this pipeline has two stages.
func (p *Pipeline) Piped() bool {
	return p.Right != nil
}

// Warnings carries non-fatal parse-time warnings (ignored redirections in a
// pipeline, per spec.md §3/§4.1), separate from the Pipeline itself so the
// caller can print them without inventing a side channel on Command.
type Warnings []string

var wordBreak = func(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', '\a':
		return true
	}
	return false
}

func tokenize(line string) []string {
	return strings.FieldsFunc(line, wordBreak)
}

// Parse tokenizes and parses a full input line into a Pipeline.
func Parse(line string) (*Pipeline, Warnings, error) {
	trimmed := strings.TrimRightFunc(line, wordBreak)
	background := false
	if strings.HasSuffix(trimmed, "&") {
		background = true
		trimmed = strings.TrimRightFunc(strings.TrimSuffix(trimmed, "&"), wordBreak)
	}

	if strings.TrimSpace(trimmed) == "" {
		return &Pipeline{Left: &Command{}, Background: background}, nil, nil
	}

	pipeIdx := strings.IndexByte(trimmed, '|')
	if pipeIdx < 0 {
		left, err := parseCommand(trimmed)
		if err != nil {
			return nil, nil, err
		}
		return &Pipeline{Left: left, Background: background}, nil, nil
	}

	leftSrc, rightSrc := trimmed[:pipeIdx], trimmed[pipeIdx+1:]
	left, err := parseCommand(leftSrc)
	if err != nil {
		return nil, nil, err
	}
	right, err := parseCommand(rightSrc)
	if err != nil {
		return nil, nil, err
	}
	if left.IsEmpty() || right.IsEmpty() {
		return nil, nil, shellerr.New(shellerr.SyntaxMissingCommand, "both sides of a pipe must have a command")
	}

	var warnings Warnings
	if left.OutFile != "" {
		warnings = append(warnings, "output redirection on the left of a pipe is ignored")
		left.OutFile = ""
	}
	if right.InFile != "" {
		warnings = append(warnings, "input redirection on the right of a pipe is ignored")
		right.InFile = ""
	}

	return &Pipeline{Left: left, Right: right, Background: background}, warnings, nil
}

// parseCommand parses a single (non-piped) command source string.
func parseCommand(src string) (*Command, error) {
	tokens := tokenize(src)
	cmd := &Command{}
	sawRedirection := false

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "<":
			sawRedirection = true
			i++
			if i >= len(tokens) || isOperator(tokens[i]) {
				return nil, shellerr.New(shellerr.SyntaxRedirection, "expected filename after '<'")
			}
			cmd.InFile = tokens[i]
		case ">":
			sawRedirection = true
			i++
			if i >= len(tokens) || isOperator(tokens[i]) {
				return nil, shellerr.New(shellerr.SyntaxRedirection, "expected filename after '>'")
			}
			cmd.OutFile = tokens[i]
		case "|":
			// Only reachable if a second '|' appears on one side of the
			// split; treated as a literal-looking operator misuse.
			return nil, shellerr.New(shellerr.SyntaxRedirection, "unexpected '|'")
		default:
			cmd.Args = append(cmd.Args, tok)
		}
	}

	if len(cmd.Args) == 0 && sawRedirection {
		return nil, shellerr.New(shellerr.SyntaxEmptyCommand, "redirection given with no command")
	}
	return cmd, nil
}

// RejectBuiltinInPipeline enforces the rule that neither side of a
// pipeline may be one of the shell's own built-ins (they are not
// pipe-safe): the engine refuses rather than forking a copy of the shell
// for a built-in whose effect, other than pure output, would be
// unobservable (spec.md §9 "Built-ins in pipelines").
func RejectBuiltinInPipeline(p *Pipeline, isBuiltin func(name string) bool) error {
	if !p.Piped() {
		return nil
	}
	if isBuiltin(p.Left.Name()) || isBuiltin(p.Right.Name()) {
		return shellerr.New(shellerr.BuiltinInPipeline, "built-ins cannot appear in a pipeline")
	}
	return nil
}

func isOperator(tok string) bool {
	switch tok {
	case "<", ">", "|", "&":
		return true
	}
	return false
}

// DisplayText returns line with a trailing '&' (and surrounding
// whitespace) stripped, the form stored as a Job's command_text.
func DisplayText(line string) string {
	trimmed := strings.TrimRightFunc(line, wordBreak)
	trimmed = strings.TrimSuffix(trimmed, "&")
	return strings.TrimRightFunc(trimmed, wordBreak)
}
