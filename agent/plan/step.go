// Package plan turns task ids into ordered lists of skill steps.
package plan

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Step is one skill invocation of a task plan, e.g. goto(['chair', 'bottle']).
type Step struct {
	Verb          string   `json:"verb"`
	Objects       []string `json:"objects"`
	MotionProfile string   `json:"motion_profile,omitempty"`
}

// String renders the step in the expression form plans are written in.
func (s Step) String() string {
	quoted := make([]string, 0, len(s.Objects))
	for _, o := range s.Objects {
		quoted = append(quoted, "'"+o+"'")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "self.%s([%s]", s.Verb, strings.Join(quoted, ", "))
	if s.MotionProfile != "" {
		fmt.Fprintf(&sb, ", motion_profile=%s", s.MotionProfile)
	}
	sb.WriteString(", obs=obs)")
	return sb.String()
}

// ParseStep parses a step expression. Accepted forms include
//
//	self.goto(['chair', 'bottle'], obs=obs)
//	goto('banana')
//	self.open_object(['drawer handle',], obs)
//	self.place('table', motion_profile=slow, obs=obs)
//
// The first positional argument names the objects; motion_profile is kept and
// every other argument is ignored.
func ParseStep(expr string) (Step, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return Step{}, errors.Wrapf(err, "parsing step %q", expr)
	}
	p := &parser{toks: toks}
	step, err := p.step()
	if err != nil {
		return Step{}, errors.Wrapf(err, "parsing step %q", expr)
	}
	return step, nil
}

// MustParseStep is ParseStep for literals known to be valid.
func MustParseStep(expr string) Step {
	s, err := ParseStep(expr)
	if err != nil {
		panic(err)
	}
	return s
}

type tokenKind uint8

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokPunct
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j
		case unicode.IsDigit(r) || r == '-':
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case r == '\'' || r == '"':
			var sb strings.Builder
			j := i + 1
			for ; j < len(rs) && rs[j] != r; j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return nil, errors.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case strings.ContainsRune("().,[]=", r):
			toks = append(toks, token{tokPunct, string(r)})
			i++
		default:
			return nil, errors.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(punct string) bool {
	if t := p.peek(); t.kind == tokPunct && t.text == punct {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(punct string) error {
	if !p.accept(punct) {
		return errors.Errorf("expected %q, got %q", punct, p.peek().text)
	}
	return nil
}

func (p *parser) step() (Step, error) {
	verb := p.next()
	if verb.kind != tokIdent {
		return Step{}, errors.New("expected a skill name")
	}
	if verb.text == "self" && p.accept(".") {
		verb = p.next()
		if verb.kind != tokIdent {
			return Step{}, errors.New("expected a skill name after self.")
		}
	}
	step := Step{Verb: verb.text}
	if err := p.expect("("); err != nil {
		return Step{}, err
	}
	positional := 0
	for !p.accept(")") {
		if p.peek().kind == tokEOF {
			return Step{}, errors.New("unterminated argument list")
		}
		if t := p.peek(); t.kind == tokIdent && p.toks[p.pos+1].kind == tokPunct && p.toks[p.pos+1].text == "=" {
			p.pos += 2
			vals, err := p.value()
			if err != nil {
				return Step{}, err
			}
			if t.text == "motion_profile" && len(vals) > 0 {
				step.MotionProfile = vals[0]
			}
		} else {
			vals, err := p.value()
			if err != nil {
				return Step{}, err
			}
			if positional == 0 {
				step.Objects = vals
			}
			positional++
		}
		if !p.accept(",") {
			if err := p.expect(")"); err != nil {
				return Step{}, err
			}
			break
		}
	}
	if p.peek().kind != tokEOF {
		return Step{}, errors.Errorf("trailing input %q", p.peek().text)
	}
	if len(step.Objects) == 0 {
		return Step{}, errors.Errorf("skill %s names no objects", step.Verb)
	}
	return step, nil
}

// value parses a string, identifier, number or list of strings.
func (p *parser) value() ([]string, error) {
	t := p.next()
	switch {
	case t.kind == tokString || t.kind == tokIdent || t.kind == tokNumber:
		return []string{t.text}, nil
	case t.kind == tokPunct && t.text == "[":
		var out []string
		for !p.accept("]") {
			item := p.next()
			if item.kind != tokString && item.kind != tokIdent {
				return nil, errors.Errorf("unexpected %q in list", item.text)
			}
			out = append(out, item.text)
			if !p.accept(",") {
				if err := p.expect("]"); err != nil {
					return nil, err
				}
				break
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unexpected %q", t.text)
	}
}
