package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/danielsz/konserve/internal/value"
)

// reader is the restricted text reader. Its grammar is closed: nil, booleans,
// numbers, strings, keywords, symbols, vectors, lists, maps, sets, ## float
// constants and #tag payload. A tag only ever dispatches to a handler from the
// read table the decode started with; there is no other way to run code.
type reader struct {
	src []byte
	pos int
	b   builder
	// skipping is non-zero while reading a #_ discarded form. Tags inside a
	// discarded form are parsed but never dispatched.
	skipping int
}

// errClose signals a closing delimiter where a form was expected. Sequence
// readers consume it; anywhere else it is a syntax error.
var errClose = errors.New("closing delimiter")

func (p *reader) readTop() (any, error) {
	if err := p.skipSpace(0); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, p.fail("empty input")
	}
	v, err := p.read(0)
	if errors.Is(err, errClose) {
		return nil, p.fail("unexpected closing delimiter")
	}
	if err != nil {
		return nil, err
	}
	if err := p.skipSpace(0); err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.fail("trailing data after value")
	}
	return v, nil
}

func (p *reader) eof() bool { return p.pos >= len(p.src) }

// fail builds a malformed-input error pointing at the current position.
func (p *reader) fail(reason string) error {
	line := 1 + bytes.Count(p.src[:min(p.pos, len(p.src))], []byte{'\n'})
	col := p.pos - bytes.LastIndexByte(p.src[:min(p.pos, len(p.src))], '\n')
	return p.b.malformed(fmt.Sprintf("%s at line %d, column %d", reason, line, col), nil)
}

// skipSpace skips whitespace, commas, comments and #_ discarded forms.
func (p *reader) skipSpace(depth int) error {
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == ',':
			p.pos++
		case c == ';':
			for !p.eof() && p.src[p.pos] != '\n' {
				p.pos++
			}
		case c == '#' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '_':
			// #_#_a b discards nest, so they count against the depth limit
			if depth >= MaxDepth {
				return p.fail(fmt.Sprintf("nesting exceeds %d levels", MaxDepth))
			}
			p.pos += 2
			p.skipping++
			if err := p.skipSpace(depth + 1); err != nil {
				p.skipping--
				return err
			}
			if p.eof() {
				p.skipping--
				return p.fail("discard without a form")
			}
			_, err := p.read(depth + 1)
			p.skipping--
			if errors.Is(err, errClose) {
				return p.fail("discard without a form")
			}
			if err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// read parses one form. The caller has already skipped leading space and
// checked for end of input.
func (p *reader) read(depth int) (any, error) {
	if depth > MaxDepth {
		return nil, p.fail(fmt.Sprintf("nesting exceeds %d levels", MaxDepth))
	}
	c := p.src[p.pos]
	switch c {
	case ']', ')', '}':
		return nil, errClose
	case '[':
		p.pos++
		return p.readSeq(']', depth)
	case '(':
		p.pos++
		return p.readSeq(')', depth)
	case '{':
		p.pos++
		return p.readMap(depth)
	case '"':
		return p.readString()
	case ':':
		p.pos++
		tok := p.token()
		if !validSymbol(tok) {
			return nil, p.fail(fmt.Sprintf("invalid keyword :%s", tok))
		}
		return value.Keyword(tok), nil
	case '#':
		return p.readDispatch(depth)
	case '\\':
		return nil, p.fail("character literals are not supported")
	}
	tok := p.token()
	if tok == "" {
		return nil, p.fail(fmt.Sprintf("unexpected character %q", c))
	}
	return p.atom(tok)
}

func (p *reader) readSeq(closer byte, depth int) ([]any, error) {
	out := []any{}
	for {
		if err := p.skipSpace(depth); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, p.fail("unterminated collection")
		}
		if p.src[p.pos] == closer {
			p.pos++
			return out, nil
		}
		el, err := p.read(depth + 1)
		if errors.Is(err, errClose) {
			return nil, p.fail("mismatched closing delimiter")
		}
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
}

func (p *reader) readMap(depth int) (map[any]any, error) {
	items, err := p.readSeq('}', depth)
	if err != nil {
		return nil, err
	}
	if len(items)%2 != 0 {
		return nil, p.fail("map literal has an odd number of forms")
	}
	out := make(map[any]any, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		if err := p.b.put(out, items[i], items[i+1]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *reader) readDispatch(depth int) (any, error) {
	p.pos++ // '#'
	if p.eof() {
		return nil, p.fail("dangling #")
	}
	switch c := p.src[p.pos]; {
	case c == '{':
		p.pos++
		items, err := p.readSeq('}', depth)
		if err != nil {
			return nil, err
		}
		s := make(value.Set, len(items))
		for _, it := range items {
			if err := p.b.add(s, it); err != nil {
				return nil, err
			}
		}
		return s, nil
	case c == '#':
		p.pos++
		switch tok := p.token(); tok {
		case "Inf":
			return math.Inf(1), nil
		case "-Inf":
			return math.Inf(-1), nil
		case "NaN":
			return math.NaN(), nil
		default:
			return nil, p.fail(fmt.Sprintf("unknown symbolic value ##%s", tok))
		}
	}

	tag := p.token()
	if !value.ValidTag(tag) {
		return nil, p.fail(fmt.Sprintf("invalid tag #%s", tag))
	}
	if p.skipping > 0 {
		if err := p.skipSpace(depth); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, p.fail("tag without payload")
		}
		return p.read(depth + 1)
	}
	h, err := p.b.handler(tag)
	if err != nil {
		return nil, err
	}
	if err := p.skipSpace(depth); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, p.fail(fmt.Sprintf("tag #%s without payload", tag))
	}
	payload, err := p.read(depth + 1)
	if errors.Is(err, errClose) {
		return nil, p.fail(fmt.Sprintf("tag #%s without payload", tag))
	}
	if err != nil {
		return nil, err
	}
	return p.b.construct(h, tag, payload)
}

// token consumes bytes up to the next delimiter.
func (p *reader) token() string {
	start := p.pos
	for !p.eof() && !isDelimiter(p.src[p.pos]) {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

func (p *reader) atom(tok string) (any, error) {
	switch tok {
	case "nil":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if looksNumeric(tok) {
		return p.number(tok)
	}
	if !validSymbol(tok) {
		return nil, p.fail(fmt.Sprintf("invalid symbol %q", tok))
	}
	return value.Symbol(tok), nil
}

func looksNumeric(tok string) bool {
	c := tok[0]
	if c >= '0' && c <= '9' {
		return true
	}
	return (c == '+' || c == '-') && len(tok) > 1 && tok[1] >= '0' && tok[1] <= '9'
}

func (p *reader) number(tok string) (any, error) {
	if strings.ContainsAny(tok, "xX_pP") {
		return nil, p.fail(fmt.Sprintf("invalid number %q", tok))
	}
	if !strings.ContainsAny(tok, ".eE") {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err == nil {
			return n, nil
		}
		if u, uerr := strconv.ParseUint(strings.TrimPrefix(tok, "+"), 10, 64); uerr == nil {
			v, _ := value.Integer(u)
			return v, nil
		}
		return nil, p.fail(fmt.Sprintf("integer %q out of range", tok))
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, p.fail(fmt.Sprintf("invalid number %q", tok))
	}
	return f, nil
}

func (p *reader) readString() (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for {
		if p.eof() {
			return "", p.fail("unterminated string")
		}
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			return sb.String(), nil
		case '\\':
			p.pos++
			if p.eof() {
				return "", p.fail("unterminated string")
			}
			esc := p.src[p.pos]
			p.pos++
			switch esc {
			case '"', '\\', '/':
				sb.WriteByte(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'x':
				if p.pos+2 > len(p.src) {
					return "", p.fail("short \\x escape")
				}
				n, err := strconv.ParseUint(string(p.src[p.pos:p.pos+2]), 16, 8)
				if err != nil {
					return "", p.fail("invalid \\x escape")
				}
				p.pos += 2
				sb.WriteByte(byte(n))
			case 'u':
				r, err := p.unicodeEscape()
				if err != nil {
					return "", err
				}
				sb.WriteRune(r)
			default:
				return "", p.fail(fmt.Sprintf("invalid escape \\%c", esc))
			}
		default:
			r, size := utf8.DecodeRune(p.src[p.pos:])
			if r == utf8.RuneError && size <= 1 {
				return "", p.fail("invalid UTF-8 in string")
			}
			sb.WriteRune(r)
			p.pos += size
		}
	}
}

func (p *reader) hex4() (rune, error) {
	if p.pos+4 > len(p.src) {
		return 0, p.fail("short \\u escape")
	}
	n, err := strconv.ParseUint(string(p.src[p.pos:p.pos+4]), 16, 32)
	if err != nil {
		return 0, p.fail("invalid \\u escape")
	}
	p.pos += 4
	return rune(n), nil
}

func (p *reader) unicodeEscape() (rune, error) {
	r, err := p.hex4()
	if err != nil {
		return 0, err
	}
	if !utf16.IsSurrogate(r) {
		return r, nil
	}
	if p.pos+2 > len(p.src) || p.src[p.pos] != '\\' || p.src[p.pos+1] != 'u' {
		return 0, p.fail("unpaired surrogate in \\u escape")
	}
	p.pos += 2
	r2, err := p.hex4()
	if err != nil {
		return 0, err
	}
	pair := utf16.DecodeRune(r, r2)
	if pair == utf8.RuneError {
		return 0, p.fail("invalid surrogate pair in \\u escape")
	}
	return pair, nil
}
