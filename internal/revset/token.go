// Package revset implements the revset query language: a small algebra
// over the change graph with set operators, graph functions and
// parent/child shorthands.
//
// The grammar is LL(1) and whitespace-insensitive:
//
//	expr    := union
//	union   := inter ( '|' inter )*
//	inter   := diff  ( '&' diff  )*
//	diff    := prefix ( '~' prefix )*
//	prefix  := '~'* postfix
//	postfix := atom ( '-' | '+' )*
//	atom    := ident '(' args? ')' | '@' | changeIdOrPrefix | '(' expr ')'
package revset

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jjkit/jjkit/internal/jjerr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokDuration
	tokAt     // @
	tokPipe   // |
	tokAmp    // &
	tokTilde  // ~
	tokLParen // (
	tokRParen // )
	tokComma  // ,
	tokMinus  // -
	tokPlus   // +
)

type token struct {
	kind tokenKind
	text string
	num  int64
	dur  time.Duration
	pos  int
}

// tokenize splits a revset source string into tokens. Errors carry the
// byte position of the offending character.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '@':
			toks = append(toks, token{kind: tokAt, pos: i})
			i++
		case c == '|':
			toks = append(toks, token{kind: tokPipe, pos: i})
			i++
		case c == '&':
			toks = append(toks, token{kind: tokAmp, pos: i})
			i++
		case c == '~':
			toks = append(toks, token{kind: tokTilde, pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, pos: i})
			i++
		case c == '-':
			toks = append(toks, token{kind: tokMinus, pos: i})
			i++
		case c == '+':
			toks = append(toks, token{kind: tokPlus, pos: i})
			i++
		case c == '"' || c == '\'':
			str, next, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: str, pos: i})
			i = next
		case c >= '0' && c <= '9':
			tok, next := scanNumber(src, i)
			toks = append(toks, tok)
			i = next
		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentRune(rune(src[i])) {
				i++
			}
			text := src[start:i]
			// Pattern prefixes swallow the rest of a quoted string:
			// re:"..." and glob:"...". A bare "re:foo" also works.
			if (text == "re" || text == "glob") && i < len(src) && src[i] == ':' {
				i++
				if i < len(src) && (src[i] == '"' || src[i] == '\'') {
					str, next, err := scanString(src, i)
					if err != nil {
						return nil, err
					}
					toks = append(toks, token{kind: tokString, text: text + ":" + str, pos: start})
					i = next
					continue
				}
				patStart := i
				for i < len(src) && !strings.ContainsRune(" \t\n\r|&~(),", rune(src[i])) {
					i++
				}
				toks = append(toks, token{kind: tokString, text: text + ":" + src[patStart:i], pos: start})
				continue
			}
			toks = append(toks, token{kind: tokIdent, text: text, pos: start})
		default:
			return nil, jjerr.Newf(jjerr.ParseError, "unexpected character %q at position %d", c, i).
				With("position", fmt.Sprintf("%d", i))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func scanString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == quote {
			return b.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(src) {
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
			i++
			continue
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, jjerr.Newf(jjerr.ParseError, "unterminated string starting at position %d", start).
		With("position", fmt.Sprintf("%d", start))
}

func scanNumber(src string, start int) (token, int) {
	i := start
	var n int64
	for i < len(src) && src[i] >= '0' && src[i] <= '9' {
		n = n*10 + int64(src[i]-'0')
		i++
	}
	if i < len(src) {
		switch src[i] {
		case 'd':
			return token{kind: tokDuration, dur: time.Duration(n) * 24 * time.Hour, num: n, pos: start}, i + 1
		case 'h':
			return token{kind: tokDuration, dur: time.Duration(n) * time.Hour, num: n, pos: start}, i + 1
		}
	}
	return token{kind: tokNumber, num: n, text: src[start:i], pos: start}, i
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
