// Package parser implements a hand-written tokenizer and recursive-descent
// parser for SPARQL 1.1 Query and Update, producing algebra.Query/Update
// trees directly rather than an intermediate parse tree. Grounded on the
// teacher's internal/sparql/parser package (whole-input scanner style
// shared with pkg/rdfio, same family of helpers: peek/advance/skipWS).
package parser

import (
	"strings"
	"unicode"

	"github.com/relique/qdb/pkg/qdberr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI
	tokPrefixedName
	tokVar
	tokKeyword
	tokString
	tokNumber
	tokBool
	tokPunct
	tokBlankNode
)

type token struct {
	kind tokenKind
	text string
	// for strings: decoded value, language tag, datatype IRI (if any)
	lang      string
	datatype  string
	line, col int
}

type lexer struct {
	input     string
	pos       int
	line, col int
	peeked    *token
}

func newLexer(input string) *lexer {
	return &lexer{input: input, line: 1, col: 1}
}

func (l *lexer) errf(format string, args ...interface{}) error {
	return qdberr.Syntaxf(l.line, l.col, format, args...)
}

func (l *lexer) eof() bool { return l.pos >= len(l.input) }

func (l *lexer) cur() byte {
	if l.eof() {
		return 0
	}
	return l.input[l.pos]
}

func (l *lexer) curAt(off int) byte {
	if l.pos+off >= len(l.input) {
		return 0
	}
	return l.input[l.pos+off]
}

func (l *lexer) advance() byte {
	c := l.cur()
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *lexer) skipWSAndComments() {
	for !l.eof() {
		c := l.cur()
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			l.advance()
			continue
		}
		if c == '#' {
			for !l.eof() && l.cur() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

func isPNCharsBase(r rune) bool {
	return unicode.IsLetter(r) || r > 0x00C0
}

func isPNChar(r rune) bool {
	return isPNCharsBase(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == 0xB7
}

func isVarChar(r rune) bool {
	return isPNChar(r)
}

// peek returns the next token without consuming it.
func (l *lexer) peek() (token, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	t, err := l.lex()
	if err != nil {
		return token{}, err
	}
	l.peeked = &t
	return t, nil
}

// next consumes and returns the next token.
func (l *lexer) next() (token, error) {
	if l.peeked != nil {
		t := *l.peeked
		l.peeked = nil
		return t, nil
	}
	return l.lex()
}

func (l *lexer) lex() (token, error) {
	l.skipWSAndComments()
	line, col := l.line, l.col
	if l.eof() {
		return token{kind: tokEOF, line: line, col: col}, nil
	}
	c := l.cur()

	switch {
	case c == '?' || c == '$':
		l.advance()
		start := l.pos
		for !l.eof() && isVarChar(rune(l.cur())) {
			l.advance()
		}
		return token{kind: tokVar, text: l.input[start:l.pos], line: line, col: col}, nil

	case c == '<' && l.curAt(1) == '<':
		l.advance()
		l.advance()
		return token{kind: tokPunct, text: "<<", line: line, col: col}, nil

	case c == '>' && l.curAt(1) == '>':
		l.advance()
		l.advance()
		return token{kind: tokPunct, text: ">>", line: line, col: col}, nil

	case c == '<':
		if l.looksLikeIRI() {
			return l.lexIRI(line, col)
		}
		if l.curAt(1) == '=' {
			l.advance()
			l.advance()
			return token{kind: tokPunct, text: "<=", line: line, col: col}, nil
		}
		l.advance()
		return token{kind: tokPunct, text: "<", line: line, col: col}, nil

	case c == '"' || c == '\'':
		return l.lexString(line, col)

	case c == '_' && l.curAt(1) == ':':
		l.advance()
		l.advance()
		start := l.pos
		for !l.eof() && isVarChar(rune(l.cur())) {
			l.advance()
		}
		return token{kind: tokBlankNode, text: l.input[start:l.pos], line: line, col: col}, nil

	case isDigit(c) || (c == '.' && isDigit(l.curAt(1))):
		return l.lexNumber(line, col)

	case isPNCharsBase(rune(c)) || c == ':':
		return l.lexNameOrKeyword(line, col)

	default:
		return l.lexPunct(line, col)
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// looksLikeIRI scans ahead from a '<' without consuming input, reporting
// whether a closing '>' appears before whitespace or end of input. SPARQL's
// grammar normally disambiguates IRIREF from the "<"/"<=" operators by
// parser position alone; this lexer is position-agnostic, so it falls back
// to a lookahead heuristic instead.
func (l *lexer) looksLikeIRI() bool {
	for i := l.pos + 1; i < len(l.input); i++ {
		c := l.input[i]
		if c == '>' {
			return true
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '<' {
			return false
		}
	}
	return false
}

func (l *lexer) lexIRI(line, col int) (token, error) {
	l.advance() // '<'
	start := l.pos
	for !l.eof() && l.cur() != '>' {
		if l.cur() == ' ' || l.cur() == '\n' {
			return token{}, l.errf("unterminated IRI reference")
		}
		l.advance()
	}
	if l.eof() {
		return token{}, l.errf("unterminated IRI reference")
	}
	iri := l.input[start:l.pos]
	l.advance() // '>'
	return token{kind: tokIRI, text: iri, line: line, col: col}, nil
}

func (l *lexer) lexString(line, col int) (token, error) {
	quote := l.advance()
	long := false
	if l.cur() == quote && l.curAt(1) == quote {
		l.advance()
		l.advance()
		long = true
	}
	var b strings.Builder
	for {
		if l.eof() {
			return token{}, l.errf("unterminated string literal")
		}
		if !long && l.cur() == quote {
			l.advance()
			break
		}
		if long && l.cur() == quote && l.curAt(1) == quote && l.curAt(2) == quote {
			l.advance()
			l.advance()
			l.advance()
			break
		}
		if l.cur() == '\\' {
			l.advance()
			esc := l.advance()
			switch esc {
			case 't':
				b.WriteByte('\t')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case '"', '\'', '\\':
				b.WriteByte(esc)
			case 'u', 'U':
				n := 4
				if esc == 'U' {
					n = 8
				}
				var r rune
				for i := 0; i < n; i++ {
					r = r*16 + rune(hexVal(l.advance()))
				}
				b.WriteRune(r)
			default:
				b.WriteByte(esc)
			}
			continue
		}
		b.WriteByte(l.advance())
	}
	tok := token{kind: tokString, text: b.String(), line: line, col: col}
	if l.cur() == '@' {
		l.advance()
		start := l.pos
		for !l.eof() && (isVarChar(rune(l.cur())) || l.cur() == '-') {
			l.advance()
		}
		tok.lang = l.input[start:l.pos]
	} else if l.cur() == '^' && l.curAt(1) == '^' {
		l.advance()
		l.advance()
		dt, err := l.next()
		if err != nil {
			return token{}, err
		}
		switch dt.kind {
		case tokIRI:
			tok.datatype = dt.text
		case tokPrefixedName:
			tok.datatype = dt.text // resolved later against prefix map
		default:
			return token{}, l.errf("expected datatype IRI after ^^")
		}
	}
	return tok, nil
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}

func (l *lexer) lexNumber(line, col int) (token, error) {
	start := l.pos
	for !l.eof() && isDigit(l.cur()) {
		l.advance()
	}
	if l.cur() == '.' {
		l.advance()
		for !l.eof() && isDigit(l.cur()) {
			l.advance()
		}
	}
	if l.cur() == 'e' || l.cur() == 'E' {
		l.advance()
		if l.cur() == '+' || l.cur() == '-' {
			l.advance()
		}
		for !l.eof() && isDigit(l.cur()) {
			l.advance()
		}
	}
	return token{kind: tokNumber, text: l.input[start:l.pos], line: line, col: col}, nil
}

var keywords = map[string]bool{
	"SELECT": true, "CONSTRUCT": true, "ASK": true, "DESCRIBE": true,
	"WHERE": true, "FILTER": true, "OPTIONAL": true, "UNION": true,
	"MINUS": true, "GRAPH": true, "SERVICE": true, "BIND": true, "AS": true,
	"VALUES": true, "UNDEF": true, "ORDER": true, "BY": true, "ASC": true,
	"DESC": true, "GROUP": true, "HAVING": true, "LIMIT": true, "OFFSET": true,
	"DISTINCT": true, "REDUCED": true, "FROM": true, "NAMED": true,
	"PREFIX": true, "BASE": true, "A": true, "TRUE": true, "FALSE": true,
	"NOT": true, "IN": true, "EXISTS": true, "AND": true, "STR": true,
	"LANG": true, "LANGMATCHES": true, "DATATYPE": true, "BOUND": true,
	"SAMETERM": true, "ISIRI": true, "ISURI": true, "ISBLANK": true,
	"ISLITERAL": true, "ISNUMERIC": true, "REGEX": true, "SILENT": true,
	"INSERT": true, "DELETE": true, "DATA": true, "LOAD": true, "CLEAR": true,
	"CREATE": true, "DROP": true, "COPY": true, "MOVE": true, "ADD": true,
	"ALL": true, "DEFAULT": true, "INTO": true, "TO": true, "USING": true,
	"WITH": true, "COUNT": true, "SUM": true, "AVG": true, "MIN": true,
	"MAX": true, "SAMPLE": true, "GROUP_CONCAT": true, "SEPARATOR": true,
	"IF": true,

	// SPARQL 1.1 built-in functions not otherwise used as structural
	// keywords: lexed as keywords purely so parseBuiltinCall's generic
	// "KEYWORD(args...)" handling picks them up, rather than falling
	// through to the prefixed-name/IRI function-call path.
	"STRLEN": true, "SUBSTR": true, "UCASE": true, "LCASE": true,
	"STRSTARTS": true, "STRENDS": true, "CONTAINS": true,
	"STRBEFORE": true, "STRAFTER": true, "ENCODE_FOR_URI": true,
	"CONCAT": true, "REPLACE": true, "ABS": true, "ROUND": true,
	"CEIL": true, "FLOOR": true, "RAND": true, "NOW": true,
	"YEAR": true, "MONTH": true, "DAY": true, "HOURS": true,
	"MINUTES": true, "SECONDS": true, "TIMEZONE": true, "TZ": true,
	"MD5": true, "SHA1": true, "SHA256": true, "SHA384": true, "SHA512": true,
	"UUID": true, "STRUUID": true, "STRDT": true, "STRLANG": true,
	"URI": true, "IRI": true, "BNODE": true, "COALESCE": true,
}

func (l *lexer) lexNameOrKeyword(line, col int) (token, error) {
	start := l.pos
	for !l.eof() && (isPNChar(rune(l.cur())) || l.cur() == ':') {
		// consume a prefix-like token: letters/digits/_/- and at most one ':'
		if l.cur() == ':' {
			l.advance()
			break
		}
		l.advance()
	}
	text := l.input[start:l.pos]
	if strings.Contains(text, ":") {
		// PNAME_NS consumed; now consume local part
		localStart := l.pos
		for !l.eof() && (isPNChar(rune(l.cur())) || l.cur() == '.') {
			l.advance()
		}
		full := text + l.input[localStart:l.pos]
		return token{kind: tokPrefixedName, text: full, line: line, col: col}, nil
	}
	upper := strings.ToUpper(text)
	if keywords[upper] {
		return token{kind: tokKeyword, text: upper, line: line, col: col}, nil
	}
	if upper == "TRUE" || upper == "FALSE" {
		return token{kind: tokBool, text: upper, line: line, col: col}, nil
	}
	// an unrecognized bare name is treated as a zero-prefix PNAME (rare,
	// but keeps the lexer total rather than erroring on unknown keywords
	// that are actually function names handled by the expression parser)
	return token{kind: tokPrefixedName, text: text, line: line, col: col}, nil
}

var punct3 = []string{}
var punct2 = []string{"&&", "||", "!=", "<=", ">=", "^^"}

func (l *lexer) lexPunct(line, col int) (token, error) {
	for _, p := range punct2 {
		if strings.HasPrefix(l.input[l.pos:], p) {
			l.advance()
			l.advance()
			return token{kind: tokPunct, text: p, line: line, col: col}, nil
		}
	}
	c := l.advance()
	return token{kind: tokPunct, text: string(c), line: line, col: col}, nil
}
