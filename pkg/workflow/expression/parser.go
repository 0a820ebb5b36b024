// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expression

import (
	"fmt"
	"strings"
)

// parser implements recursive descent over the tokens produced by lexer,
// following the grammar:
//
//	expr     := orExpr
//	orExpr   := andExpr ('||' andExpr)*
//	andExpr  := compExpr ('&&' compExpr)*
//	compExpr := value (('==' | '!=') value)?
//	value    := function | reference | literal
type parser struct {
	toks []token
	pos  int
}

func parseExpr(src string) (node, error) {
	lx := newLexer(src)
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("expression: unexpected trailing input near %q", p.cur().text)
	}
	return n, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	parts := []node{first}
	for p.cur().kind == tokOr {
		p.advance()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		parts = append(parts, next)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return orNode{parts: parts}, nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseComp()
	if err != nil {
		return nil, err
	}
	parts := []node{first}
	for p.cur().kind == tokAnd {
		p.advance()
		next, err := p.parseComp()
		if err != nil {
			return nil, err
		}
		parts = append(parts, next)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return andNode{parts: parts}, nil
}

func (p *parser) parseComp() (node, error) {
	left, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	switch p.cur().kind {
	case tokEq:
		p.advance()
		right, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return compNode{left: left, op: "==", right: right}, nil
	case tokNeq:
		p.advance()
		right, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return compNode{left: left, op: "!=", right: right}, nil
	default:
		return compNode{left: left}, nil
	}
}

func (p *parser) parseValue() (node, error) {
	t := p.cur()
	switch t.kind {
	case tokString:
		p.advance()
		return litNode{value: t.text}, nil
	case tokInt:
		p.advance()
		return litNode{value: t.ival}, nil
	case tokBool:
		p.advance()
		return litNode{value: t.bval}, nil
	case tokIdent:
		p.advance()
		if p.cur().kind == tokLParen {
			return p.parseFuncCall(t.text)
		}
		return refNode{path: t.text}, nil
	default:
		return nil, fmt.Errorf("expression: unexpected token near %q", t.text)
	}
}

func (p *parser) parseFuncCall(name string) (node, error) {
	p.advance() // consume '('
	var args []node
	if p.cur().kind != tokRParen {
		for {
			arg, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.cur().kind != tokRParen {
		return nil, fmt.Errorf("expression: expected ')' after arguments to %s", name)
	}
	p.advance() // consume ')'

	fn := funcNode{name: name, args: args}

	// fromJson(expr) is followed by an unparenthesized dotted/bracket
	// path, e.g. fromJson(x).a.b[0]. The lexer folds a leading '.' into
	// the next identifier's ident-part run, so the suffix arrives as one
	// token whose text already starts with '.'.
	if name == "fromJson" && p.cur().kind == tokIdent {
		suffix := p.advance().text
		return jsonPathNode{inner: fn, path: strings.TrimPrefix(suffix, ".")}, nil
	}
	return fn, nil
}
