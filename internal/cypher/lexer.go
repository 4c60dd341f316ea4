package cypher

import (
	"strings"
	"unicode"

	"github.com/hivellm/nexus/internal/nerrors"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokParam
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]bool{
	"MATCH": true, "WHERE": true, "RETURN": true, "CREATE": true, "DELETE": true,
	"DETACH": true, "MERGE": true, "SET": true, "UNION": true, "ALL": true,
	"ORDER": true, "BY": true, "ASC": true, "DESC": true, "LIMIT": true, "SKIP": true,
	"WITH": true, "FOREACH": true, "IN": true, "EXISTS": true, "AS": true,
	"AND": true, "OR": true, "NOT": true, "NULL": true, "TRUE": true, "FALSE": true,
	"DISTINCT": true, "ON": true,
}

// lexer tokenizes query text into a flat slice consumed by the parser.
type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src)} }

func (l *lexer) tokenize() ([]token, error) {
	var toks []token
	for {
		l.skipWhitespaceAndComments()
		if l.pos >= len(l.src) {
			toks = append(toks, token{kind: tokEOF, pos: l.pos})
			return toks, nil
		}
		start := l.pos
		c := l.src[l.pos]

		switch {
		case c == '"' || c == '\'':
			s, err := l.readString(c)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: start})
		case c == '$':
			l.pos++
			name := l.readIdentRunes()
			toks = append(toks, token{kind: tokParam, text: name, pos: start})
		case unicode.IsDigit(c):
			tok := l.readNumber()
			toks = append(toks, tok)
		case unicode.IsLetter(c) || c == '_':
			name := l.readIdentRunes()
			toks = append(toks, token{kind: tokIdent, text: name, pos: start})
		default:
			punct := l.readPunct()
			toks = append(toks, token{kind: tokPunct, text: punct, pos: start})
		}
	}
}

func (l *lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if unicode.IsSpace(c) {
			l.pos++
			continue
		}
		if c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

func (l *lexer) readIdentRunes() string {
	start := l.pos
	for l.pos < len(l.src) && (unicode.IsLetter(l.src[l.pos]) || unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

func (l *lexer) readNumber() token {
	start := l.pos
	isFloat := false
	for l.pos < len(l.src) && unicode.IsDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' && l.pos+1 < len(l.src) && unicode.IsDigit(l.src[l.pos+1]) {
		isFloat = true
		l.pos++
		for l.pos < len(l.src) && unicode.IsDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	kind := tokInt
	if isFloat {
		kind = tokFloat
	}
	return token{kind: kind, text: string(l.src[start:l.pos]), pos: start}
}

func (l *lexer) readString(quote rune) (string, error) {
	l.pos++ // consume opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			return b.String(), nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			switch l.src[l.pos] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(l.src[l.pos])
			}
			l.pos++
			continue
		}
		b.WriteRune(c)
		l.pos++
	}
	return "", &nerrors.SyntaxError{Pos: l.pos, Message: "unterminated string literal"}
}

var multiCharPuncts = []string{"<>", "<=", ">=", "..", "->", "<-"}

func (l *lexer) readPunct() string {
	for _, mc := range multiCharPuncts {
		rs := []rune(mc)
		if l.pos+len(rs) <= len(l.src) {
			match := true
			for i, r := range rs {
				if l.src[l.pos+i] != r {
					match = false
					break
				}
			}
			if match {
				l.pos += len(rs)
				return mc
			}
		}
	}
	c := l.src[l.pos]
	l.pos++
	return string(c)
}
