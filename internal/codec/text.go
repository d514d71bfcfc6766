// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// text.go: the human-readable codec. Values render as EDN-style literals and
// registered record types as tagged literals (#app/Point [1 2]).

package codec

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/danielsz/konserve/internal/value"
)

// Text is the textual literal codec. Decoding goes through a restricted
// reader that only recognizes literal syntax and registered tags.
type Text struct{}

// Name returns "edn".
func (Text) Name() string { return "edn" }

// Encode renders v as text on w.
func (Text) Encode(w io.Writer, v any, writers registry.Resolver) error {
	n, err := lowerer{res: writers}.lower(v, 0)
	if err != nil {
		return err
	}
	var sb strings.Builder
	if err := render(&sb, n); err != nil {
		return err
	}
	_, err = io.WriteString(w, sb.String())
	return err
}

// Decode parses exactly one form from r.
func (c Text) Decode(r io.Reader, readers registry.ReadTable) (any, error) {
	b := builder{codec: c.Name(), readers: readers}
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, b.malformed("read", err)
	}
	p := &reader{src: src, b: b}
	return p.readTop()
}

func render(sb *strings.Builder, n any) error {
	switch x := n.(type) {
	case nil:
		sb.WriteString("nil")
	case bool:
		sb.WriteString(strconv.FormatBool(x))
	case int64:
		sb.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(x, 10))
	case float64:
		sb.WriteString(formatFloat(x))
	case string:
		quote(sb, x)
	case value.Keyword:
		if !validSymbol(string(x)) {
			return fmt.Errorf("konserve: keyword %q has no text form", string(x))
		}
		sb.WriteByte(':')
		sb.WriteString(string(x))
	case value.Symbol:
		if !validSymbol(string(x)) || reservedSymbol(string(x)) {
			return fmt.Errorf("konserve: symbol %q has no text form", string(x))
		}
		sb.WriteString(string(x))
	case []any:
		sb.WriteByte('[')
		for i, el := range x {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := render(sb, el); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case mapNode:
		entries := make([]string, len(x))
		for i, p := range x {
			var e strings.Builder
			if err := render(&e, p.key); err != nil {
				return err
			}
			e.WriteByte(' ')
			if err := render(&e, p.val); err != nil {
				return err
			}
			entries[i] = e.String()
		}
		sort.Strings(entries)
		sb.WriteByte('{')
		sb.WriteString(strings.Join(entries, ", "))
		sb.WriteByte('}')
	case setNode:
		members := make([]string, len(x))
		for i, m := range x {
			var e strings.Builder
			if err := render(&e, m); err != nil {
				return err
			}
			members[i] = e.String()
		}
		sort.Strings(members)
		sb.WriteString("#{")
		sb.WriteString(strings.Join(members, " "))
		sb.WriteByte('}')
	case taggedNode:
		sb.WriteByte('#')
		sb.WriteString(x.tag)
		sb.WriteByte(' ')
		return render(sb, x.payload)
	default:
		return fmt.Errorf("konserve: text cannot encode lowered %T", n)
	}
	return nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "##NaN"
	case math.IsInf(f, 1):
		return "##Inf"
	case math.IsInf(f, -1):
		return "##-Inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// quote writes s as a string literal. Bytes that are not valid UTF-8 are
// written as \xNN escapes so the literal reads back byte for byte.
func quote(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(sb, `\x%02x`, s[i])
			i++
			continue
		}
		i += size
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}

// validSymbol reports whether s can be written as a bare token and read back
// as the same symbol or keyword name.
func validSymbol(s string) bool {
	if s == "" || strings.HasPrefix(s, "/") && s != "/" || !utf8.ValidString(s) {
		return false
	}
	c := s[0]
	if c >= '0' && c <= '9' || c == ':' || c == '#' || c == '\'' {
		return false
	}
	if (c == '+' || c == '-' || c == '.') && len(s) > 1 && s[1] >= '0' && s[1] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if isDelimiter(s[i]) {
			return false
		}
	}
	return true
}

func reservedSymbol(s string) bool {
	return s == "nil" || s == "true" || s == "false"
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', ',', ';', '"', '(', ')', '[', ']', '{', '}', '\\', '^', '`', '~', '@':
		return true
	}
	return false
}
