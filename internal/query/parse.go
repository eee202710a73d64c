package query

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed or invalid query. Pos is the 1-based
// sibling index path of the offending command (empty for the outer group).
type ParseError struct {
	Msg string
	Pos []int
}

func (e *ParseError) Error() string {
	if len(e.Pos) == 0 {
		return "parse error: " + e.Msg
	}
	parts := make([]string, len(e.Pos))
	for i, p := range e.Pos {
		parts[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("parse error at [%s]: %s", strings.Join(parts, " "), e.Msg)
}

// Parse turns a query string into its command tree. The returned root is a
// synthetic group command holding the top-level commands.
func Parse(q string) (*Command, error) {
	p := &parser{in: q}
	cmds, err := p.groupBody(nil, false)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, &ParseError{Msg: fmt.Sprintf("unexpected input %q after last command", p.rest())}
	}
	return &Command{Action: ActionAdd, Group: cmds}, nil
}

// Validate runs the parser for its side effects only. It is the cheap
// upfront check callers run before submitting a job.
func Validate(q string) error {
	_, err := Parse(q)
	return err
}

type parser struct {
	in  string
	off int
}

func (p *parser) eof() bool { return p.off >= len(p.in) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.in[p.off]
}

func (p *parser) next() byte {
	b := p.in[p.off]
	p.off++
	return b
}

func (p *parser) consume(b byte) bool {
	if !p.eof() && p.in[p.off] == b {
		p.off++
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.in[p.off] {
		case ' ', '\t', '\n', '\r':
			p.off++
		default:
			return
		}
	}
}

func (p *parser) rest() string {
	r := p.in[p.off:]
	if len(r) > 16 {
		r = r[:16] + "..."
	}
	return r
}

// groupBody parses command+ until EOF (outer group) or ')' (inner group).
func (p *parser) groupBody(pos []int, inner bool) ([]*Command, error) {
	var cmds []*Command
	for i := 1; ; i++ {
		p.skipSpace()
		if p.eof() || (inner && p.peek() == ')') {
			break
		}
		cpos := append(append([]int(nil), pos...), i)
		cmd, err := p.command(cpos)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 0 {
		return nil, &ParseError{Msg: "group must contain at least one command", Pos: pos}
	}
	return cmds, nil
}

func (p *parser) command(pos []int) (*Command, error) {
	act := ActionAdd
	switch p.peek() {
	case '+':
		p.next()
	case '-':
		act = ActionRemove
		p.next()
	case '/':
		act = ActionLimit
		p.next()
	}
	p.skipSpace()

	var cmd *Command
	switch {
	case p.eof():
		return nil, &ParseError{Msg: "expected a group or primitive", Pos: pos}
	case p.peek() == '(':
		p.next()
		cmds, err := p.groupBody(pos, true)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.consume(')') {
			return nil, &ParseError{Msg: "group is not terminated with ')'", Pos: pos}
		}
		cmd = &Command{Action: act, Group: cmds, Pos: pos}
	default:
		prim, err := p.primitive(pos)
		if err != nil {
			return nil, err
		}
		cmd = &Command{Action: act, Prim: prim, Pos: pos}
	}

	p.skipSpace()
	if !p.consume(';') {
		return nil, &ParseError{Msg: "command is not terminated with ';'", Pos: pos}
	}
	return cmd, nil
}

func (p *parser) primitive(pos []int) (*Primitive, error) {
	name := p.ident()
	if name == "" {
		return nil, &ParseError{Msg: fmt.Sprintf("expected a category name, found %q", p.rest()), Pos: pos}
	}
	cat, ok := categories[strings.ToLower(name)]
	if !ok {
		return nil, &ParseError{Msg: fmt.Sprintf("unknown category %q", name), Pos: pos}
	}
	p.skipSpace()
	if !p.consume('[') {
		return nil, &ParseError{Msg: fmt.Sprintf("category %q is missing its '[' argument list", cat), Pos: pos}
	}

	var args []string
	for {
		arg, term, err := p.arg(pos)
		if err != nil {
			return nil, err
		}
		if arg == "" {
			return nil, &ParseError{Msg: fmt.Sprintf("category %q has an empty argument", cat), Pos: pos}
		}
		args = append(args, arg)
		if term == ']' {
			break
		}
	}

	if err := validateArgs(cat, args, pos); err != nil {
		return nil, err
	}
	return &Primitive{Category: cat, Args: args}, nil
}

func (p *parser) ident() string {
	start := p.off
	for !p.eof() {
		b := p.in[p.off]
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') {
			p.off++
			continue
		}
		break
	}
	return p.in[start:p.off]
}

// arg reads one argument up to ',' or ']' and returns it trimmed, together
// with the terminator that ended it.
func (p *parser) arg(pos []int) (string, byte, error) {
	start := p.off
	for !p.eof() {
		switch p.in[p.off] {
		case ',', ']':
			term := p.in[p.off]
			arg := strings.TrimSpace(p.in[start:p.off])
			p.off++
			return arg, term, nil
		default:
			p.off++
		}
	}
	return "", 0, &ParseError{Msg: "argument list is not terminated with ']'", Pos: pos}
}

func validateArgs(cat Category, args []string, pos []int) error {
	switch cat {
	case CategoryWA:
		if len(args) != 1 {
			return &ParseError{Msg: "wa takes exactly one argument", Pos: pos}
		}
		switch strings.ToLower(args[0]) {
		case "members", "delegates":
		default:
			return &ParseError{Msg: fmt.Sprintf("wa argument must be \"members\" or \"delegates\", got %q", args[0]), Pos: pos}
		}
	case CategoryNew, CategoryRefounded:
		if len(args) != 1 {
			return &ParseError{Msg: fmt.Sprintf("%s takes exactly one integer argument", cat), Pos: pos}
		}
		if _, err := strconv.Atoi(args[0]); err != nil {
			return &ParseError{Msg: fmt.Sprintf("%s argument %q is not an integer", cat, args[0]), Pos: pos}
		}
	case CategoryCensus:
		if len(args) != 3 {
			return &ParseError{Msg: "census takes exactly three integer arguments (scale, min, max)", Pos: pos}
		}
		for _, a := range args {
			if _, err := strconv.Atoi(a); err != nil {
				return &ParseError{Msg: fmt.Sprintf("census argument %q is not an integer", a), Pos: pos}
			}
		}
	}
	return nil
}
