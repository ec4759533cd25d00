package prefs

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// File is the decoded content of a prefs file.
type File struct {
	// Header is the leading comment block, when a blank line separates it
	// from the first declaration.
	Header string
	// Set holds the declarations. A key declared twice keeps the last value,
	// as the browser's loader does.
	Set Set
}

// SyntaxError describes malformed declaration text.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Col, e.Msg)
}

// Parse reads pref(), user_pref() and sticky_pref() declarations from r.
func Parse(r io.Reader) (File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return File{}, err
	}
	p := &parser{src: string(data), line: 1, col: 1, declLine: -1}
	return p.parse()
}

// ParseString is Parse over an in-memory string.
func ParseString(s string) (File, error) {
	return Parse(strings.NewReader(s))
}

type parser struct {
	src  string
	pos  int
	line int
	col  int

	file     File
	pending  []string
	seenDecl bool
	declLine int
}

func (p *parser) parse() (File, error) {
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		switch {
		case strings.HasPrefix(p.rest(), "//"):
			p.lineComment(2)
		case p.peek() == '#':
			p.lineComment(1)
		case strings.HasPrefix(p.rest(), "/*"):
			if err := p.blockComment(); err != nil {
				return File{}, err
			}
		default:
			if err := p.declaration(); err != nil {
				return File{}, err
			}
		}
	}
	p.flushDetached()
	return p.file, nil
}

func (p *parser) eof() bool    { return p.pos >= len(p.src) }
func (p *parser) rest() string { return p.src[p.pos:] }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) advance(n int) {
	for i := 0; i < n && !p.eof(); i++ {
		if p.src[p.pos] == '\n' {
			p.line++
			p.col = 1
		} else {
			p.col++
		}
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.line, Col: p.col, Msg: fmt.Sprintf(format, args...)}
}

// skipSpace consumes whitespace. A blank line detaches pending comments.
func (p *parser) skipSpace() {
	newlines := 0
	for !p.eof() {
		switch p.peek() {
		case '\n':
			newlines++
		case ' ', '\t', '\r', '\f', '\v':
		default:
			if newlines >= 2 {
				p.flushDetached()
			}
			return
		}
		p.advance(1)
	}
}

// flushDetached drops comments a blank line separates from what follows. The
// first such block before any declaration becomes the header.
func (p *parser) flushDetached() {
	if len(p.pending) == 0 {
		return
	}
	if !p.seenDecl && p.file.Header == "" {
		p.file.Header = strings.Join(p.pending, "\n")
	}
	p.pending = nil
}

func (p *parser) addComment(text string) {
	// Trailing comments on a declaration line belong to nothing.
	if p.line == p.declLine {
		return
	}
	p.pending = append(p.pending, text)
}

func (p *parser) lineComment(marker int) {
	p.advance(marker)
	end := strings.IndexByte(p.rest(), '\n')
	if end < 0 {
		end = len(p.rest())
	}
	text := strings.TrimRight(p.rest()[:end], " \t\r")
	p.addComment(strings.TrimPrefix(text, " "))
	p.advance(end)
}

func (p *parser) blockComment() error {
	startLine, startCol := p.line, p.col
	p.advance(2)
	end := strings.Index(p.rest(), "*/")
	if end < 0 {
		return &SyntaxError{Line: startLine, Col: startCol, Msg: "unterminated comment"}
	}
	body := p.rest()[:end]
	attached := startLine != p.declLine
	p.advance(end + 2)
	if !attached {
		return nil
	}
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "*")
		l = strings.TrimPrefix(l, " ")
		if l == "" && (i == 0 || i == len(lines)-1) {
			continue
		}
		p.pending = append(p.pending, strings.TrimRight(l, " \t"))
	}
	return nil
}

func (p *parser) declaration() error {
	ident := p.identifier()
	var kind Kind
	switch ident {
	case string(KindDefault), string(KindUser), string(KindSticky):
		kind = Kind(ident)
	case "":
		return p.errorf("unexpected character %q", p.peek())
	default:
		return p.errorf("unknown function %q", ident)
	}

	p.skipInline()
	if err := p.expect('('); err != nil {
		return err
	}
	p.skipInline()
	if q := p.peek(); q != '"' && q != '\'' {
		return p.errorf("expected preference name string")
	}
	key, err := p.stringLit()
	if err != nil {
		return err
	}
	if key == "" {
		return p.errorf("empty preference name")
	}
	p.skipInline()
	if err := p.expect(','); err != nil {
		return err
	}
	p.skipInline()
	val, err := p.value()
	if err != nil {
		return err
	}

	o := Override{Key: key, Value: val, Kind: kind}
	p.skipInline()
	for p.peek() == ',' {
		p.advance(1)
		p.skipInline()
		attr := p.identifier()
		switch {
		case kind == KindUser:
			return p.errorf("user_pref does not take attributes")
		case attr == "locked":
			o.Locked = true
		case attr == "sticky":
			o.Kind = KindSticky
		default:
			return p.errorf("unknown attribute %q", attr)
		}
		p.skipInline()
	}
	if err := p.expect(')'); err != nil {
		return err
	}
	p.skipInline()
	if err := p.expect(';'); err != nil {
		return err
	}

	o.Comment = strings.Join(p.pending, "\n")
	p.pending = nil
	p.seenDecl = true
	p.declLine = p.line
	p.file.Set.Put(o)
	return nil
}

// skipInline skips whitespace and comments inside a declaration.
func (p *parser) skipInline() {
	for !p.eof() {
		switch {
		case strings.ContainsRune(" \t\r\n\f\v", rune(p.peek())):
			p.advance(1)
		case strings.HasPrefix(p.rest(), "/*"):
			end := strings.Index(p.rest(), "*/")
			if end < 0 {
				return
			}
			p.advance(end + 2)
		case strings.HasPrefix(p.rest(), "//"):
			end := strings.IndexByte(p.rest(), '\n')
			if end < 0 {
				end = len(p.rest())
			}
			p.advance(end)
		default:
			return
		}
	}
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		if p.eof() {
			return p.errorf("expected %q, found end of input", c)
		}
		return p.errorf("expected %q, found %q", c, p.peek())
	}
	p.advance(1)
	return nil
}

func (p *parser) identifier() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (p.pos > start && c >= '0' && c <= '9') {
			p.advance(1)
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *parser) value() (Value, error) {
	switch c := p.peek(); {
	case c == '"' || c == '\'':
		s, err := p.stringLit()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.intLit()
	}
	line, col := p.line, p.col
	switch id := p.identifier(); id {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	case "":
		return Value{}, p.errorf("expected value")
	default:
		return Value{}, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("invalid value %q", id)}
	}
}

func (p *parser) intLit() (Value, error) {
	line, col := p.line, p.col
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.advance(1)
	}
	digits := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.advance(1)
	}
	if p.pos == digits {
		return Value{}, p.errorf("expected digits")
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(p.src[start:p.pos], "+"), 10, 64)
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		return Value{}, &SyntaxError{Line: line, Col: col, Msg: "integer out of range"}
	}
	return Int(n), nil
}

func (p *parser) stringLit() (string, error) {
	quote := p.peek()
	line, col := p.line, p.col
	p.advance(1)
	var sb strings.Builder
	for {
		if p.eof() {
			return "", &SyntaxError{Line: line, Col: col, Msg: "unterminated string"}
		}
		c := p.peek()
		switch {
		case c == quote:
			p.advance(1)
			return sb.String(), nil
		case c == '\n':
			return "", p.errorf("newline in string")
		case c == '\\':
			if err := p.escape(&sb); err != nil {
				return "", err
			}
		default:
			sb.WriteByte(c)
			p.advance(1)
		}
	}
}

func (p *parser) escape(sb *strings.Builder) error {
	p.advance(1)
	if p.eof() {
		return p.errorf("unterminated escape")
	}
	c := p.peek()
	p.advance(1)
	switch c {
	case '\\', '"', '\'':
		sb.WriteByte(c)
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 't':
		sb.WriteByte('\t')
	case 'x':
		n, err := p.hex(2)
		if err != nil {
			return err
		}
		sb.WriteByte(byte(n))
	case 'u':
		n, err := p.hex(4)
		if err != nil {
			return err
		}
		r := rune(n)
		if utf16.IsSurrogate(r) {
			if !strings.HasPrefix(p.rest(), `\u`) {
				return p.errorf("unpaired surrogate")
			}
			p.advance(2)
			lo, err := p.hex(4)
			if err != nil {
				return err
			}
			r = utf16.DecodeRune(r, rune(lo))
			if r == utf8.RuneError {
				return p.errorf("invalid surrogate pair")
			}
		}
		sb.WriteRune(r)
	default:
		return p.errorf("invalid escape \\%c", c)
	}
	return nil
}

func (p *parser) hex(n int) (uint64, error) {
	if len(p.rest()) < n {
		return 0, p.errorf("short hex escape")
	}
	v, err := strconv.ParseUint(p.rest()[:n], 16, 32)
	if err != nil {
		return 0, p.errorf("invalid hex escape %q", p.rest()[:n])
	}
	p.advance(n)
	return v, nil
}
