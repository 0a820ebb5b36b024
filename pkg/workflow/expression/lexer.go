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

// Package expression implements the ${{ ... }} template grammar:
// whole-string interpolation and if-predicate evaluation over tasks,
// env, workflow, matrix, and params references plus a small function
// set. Leaf values are resolved by hand; the boolean algebra
// (&&, ||, ==, !=) is delegated to github.com/expr-lang/expr once
// every leaf has been reduced to a literal.
package expression

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokInt
	tokBool
	tokLParen
	tokRParen
	tokComma
	tokEq
	tokNeq
	tokAnd
	tokOr
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	ival int64
	bval bool
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src)}
}

func (l *lexer) peekRune() (rune, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
		l.pos++
	}
}

func isIdentStart(r rune) bool {
	// A leading '.' is accepted so a fromJson(...) path suffix like
	// ".items[0].name" lexes as a single identifier token.
	return r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9') || r == '-' || r == '[' || r == ']'
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// next returns the next token, or an error on malformed input (e.g. an
// unterminated string literal).
func (l *lexer) next() (token, error) {
	l.skipSpace()
	r, ok := l.peekRune()
	if !ok {
		return token{kind: tokEOF}, nil
	}

	switch r {
	case '(':
		l.pos++
		return token{kind: tokLParen}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen}, nil
	case ',':
		l.pos++
		return token{kind: tokComma}, nil
	case '\'', '"':
		return l.lexString(r)
	}

	if r == '=' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
		l.pos += 2
		return token{kind: tokEq}, nil
	}
	if r == '!' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
		l.pos += 2
		return token{kind: tokNeq}, nil
	}
	if r == '&' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '&' {
		l.pos += 2
		return token{kind: tokAnd}, nil
	}
	if r == '|' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '|' {
		l.pos += 2
		return token{kind: tokOr}, nil
	}

	if isDigit(r) || (r == '-' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])) {
		return l.lexNumber()
	}

	if isIdentStart(r) {
		return l.lexIdent()
	}

	return token{}, fmt.Errorf("expression: unexpected character %q", r)
}

func (l *lexer) lexString(quote rune) (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		r, ok := l.peekRune()
		if !ok {
			return token{}, fmt.Errorf("expression: unterminated string literal")
		}
		if r == quote {
			l.pos++
			return token{kind: tokString, text: sb.String()}, nil
		}
		if r == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			r = l.src[l.pos]
		}
		sb.WriteRune(r)
		l.pos++
	}
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	var n int64
	_, err := fmt.Sscanf(text, "%d", &n)
	if err != nil {
		return token{}, fmt.Errorf("expression: invalid integer %q", text)
	}
	return token{kind: tokInt, text: text, ival: n}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	// A trailing '.' with nothing after (e.g. "tasks.") is still a valid
	// prefix of a dotted path; callers resolve unknown paths to "".
	text := string(l.src[start:l.pos])
	switch strings.ToLower(text) {
	case "true":
		return token{kind: tokBool, bval: true, text: text}, nil
	case "false":
		return token{kind: tokBool, bval: false, text: text}, nil
	}
	return token{kind: tokIdent, text: text}, nil
}
