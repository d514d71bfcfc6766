// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// msgpack.go: the default binary codec. Native MessagePack scalars, arrays
// and maps carry the primitive kinds; extension types carry keywords,
// symbols, sets and tagged values so the stream stays self-describing.

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/danielsz/konserve/internal/value"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MessagePack extension type ids.
const (
	extKeyword int8 = 1
	extSymbol  int8 = 2
	extSet     int8 = 3
	extTagged  int8 = 4
)

// extChunk caps a single read of extension payload bytes so a forged length
// cannot force one huge allocation up front.
const extChunk = 64 << 10

// MsgPack is a compact binary codec using MessagePack encoding.
type MsgPack struct{}

// Name returns "msgpack".
func (MsgPack) Name() string { return "msgpack" }

// Encode serializes v to MessagePack bytes on w.
func (MsgPack) Encode(w io.Writer, v any, writers registry.Resolver) error {
	n, err := lowerer{res: writers, nativeBytes: true}.lower(v, 0)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := mpWrite(&buf, n); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// mpWrite appends the encoding of a lowered value to buf. bytes.Buffer is an
// io.ByteWriter, so the encoder writes through without its own buffering and
// raw appends to buf stay in order.
func mpWrite(buf *bytes.Buffer, n any) error {
	enc := msgpack.NewEncoder(buf)
	switch x := n.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(x)
	case int64:
		return enc.EncodeInt(x)
	case uint64:
		return enc.EncodeUint(x)
	case float64:
		return enc.EncodeFloat64(x)
	case string:
		return enc.EncodeString(x)
	case []byte:
		return enc.EncodeBytes(x)
	case value.Keyword:
		return mpExt(buf, extKeyword, []byte(x))
	case value.Symbol:
		return mpExt(buf, extSymbol, []byte(x))
	case []any:
		if err := enc.EncodeArrayLen(len(x)); err != nil {
			return err
		}
		for _, el := range x {
			if err := mpWrite(buf, el); err != nil {
				return err
			}
		}
		return nil
	case mapNode:
		entries := make([][2][]byte, len(x))
		for i, p := range x {
			var kb, vb bytes.Buffer
			if err := mpWrite(&kb, p.key); err != nil {
				return err
			}
			if err := mpWrite(&vb, p.val); err != nil {
				return err
			}
			entries[i] = [2][]byte{kb.Bytes(), vb.Bytes()}
		}
		sortEntries(entries)
		if err := enc.EncodeMapLen(len(entries)); err != nil {
			return err
		}
		for _, e := range entries {
			buf.Write(e[0])
			buf.Write(e[1])
		}
		return nil
	case setNode:
		members, err := sortedEncodings(x, mpWrite)
		if err != nil {
			return err
		}
		var inner bytes.Buffer
		if err := msgpack.NewEncoder(&inner).EncodeArrayLen(len(members)); err != nil {
			return err
		}
		for _, m := range members {
			inner.Write(m)
		}
		return mpExt(buf, extSet, inner.Bytes())
	case taggedNode:
		var inner bytes.Buffer
		ienc := msgpack.NewEncoder(&inner)
		if err := ienc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := ienc.EncodeString(x.tag); err != nil {
			return err
		}
		if err := mpWrite(&inner, x.payload); err != nil {
			return err
		}
		return mpExt(buf, extTagged, inner.Bytes())
	}
	return fmt.Errorf("konserve: msgpack cannot encode lowered %T", n)
}

func mpExt(buf *bytes.Buffer, id int8, payload []byte) error {
	if err := msgpack.NewEncoder(buf).EncodeExtHeader(id, len(payload)); err != nil {
		return err
	}
	buf.Write(payload)
	return nil
}

// sortEntries orders encoded map entries by their encoded key bytes.
func sortEntries(entries [][2][]byte) {
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i][0], entries[j][0]) < 0 })
}

func sortedEncodings(items []any, write func(*bytes.Buffer, any) error) ([][]byte, error) {
	out := make([][]byte, len(items))
	for i, it := range items {
		var b bytes.Buffer
		if err := write(&b, it); err != nil {
			return nil, err
		}
		out[i] = b.Bytes()
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out, nil
}

// Decode reads r to the end; it must hold exactly one MessagePack value.
func (c MsgPack) Decode(r io.Reader, readers registry.ReadTable) (any, error) {
	b := builder{codec: c.Name(), readers: readers}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, b.malformed("read", err)
	}
	br := bytes.NewReader(data)
	d := mpReader{dec: msgpack.NewDecoder(br), b: b}
	v, err := d.read(0)
	if err != nil {
		return nil, err
	}
	if br.Len() > 0 {
		return nil, b.malformed(fmt.Sprintf("%d bytes of trailing data after value", br.Len()), nil)
	}
	return v, nil
}

type mpReader struct {
	dec *msgpack.Decoder
	b   builder
}

func (d mpReader) fail(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return d.b.malformed("unexpected end of input", err)
	}
	return d.b.malformed("decode", err)
}

func (d mpReader) read(depth int) (any, error) {
	if depth > MaxDepth {
		return nil, d.b.malformed(fmt.Sprintf("nesting exceeds %d levels", MaxDepth), nil)
	}
	code, err := d.dec.PeekCode()
	if err != nil {
		return nil, d.fail(err)
	}
	var v any
	switch {
	case code == msgpcode.Nil:
		err = d.dec.DecodeNil()
	case code == msgpcode.False || code == msgpcode.True:
		v, err = d.dec.DecodeBool()
	case code == msgpcode.Uint64:
		var n uint64
		n, err = d.dec.DecodeUint64()
		v, _ = value.Integer(n)
	case msgpcode.IsFixedNum(code),
		code == msgpcode.Int8, code == msgpcode.Int16, code == msgpcode.Int32, code == msgpcode.Int64,
		code == msgpcode.Uint8, code == msgpcode.Uint16, code == msgpcode.Uint32:
		v, err = d.dec.DecodeInt64()
	case code == msgpcode.Float:
		var f float32
		f, err = d.dec.DecodeFloat32()
		v = float64(f)
	case code == msgpcode.Double:
		v, err = d.dec.DecodeFloat64()
	case msgpcode.IsString(code):
		v, err = d.dec.DecodeString()
	case msgpcode.IsBin(code):
		v, err = d.dec.DecodeBytes()
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		return d.readArray(depth)
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		return d.readMap(depth)
	case msgpcode.IsExt(code):
		return d.readExt(depth)
	default:
		return nil, d.b.malformed(fmt.Sprintf("invalid type marker 0x%02x", code), nil)
	}
	if err != nil {
		return nil, d.fail(err)
	}
	return v, nil
}

func (d mpReader) readArray(depth int) ([]any, error) {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return nil, d.fail(err)
	}
	if n < 0 {
		return nil, nil
	}
	out := make([]any, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		el, err := d.read(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func (d mpReader) readMap(depth int) (map[any]any, error) {
	n, err := d.dec.DecodeMapLen()
	if err != nil {
		return nil, d.fail(err)
	}
	if n < 0 {
		return nil, nil
	}
	out := make(map[any]any, min(n, 1024))
	for i := 0; i < n; i++ {
		k, err := d.read(depth + 1)
		if err != nil {
			return nil, err
		}
		v, err := d.read(depth + 1)
		if err != nil {
			return nil, err
		}
		if err := d.b.put(out, k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d mpReader) readExt(depth int) (any, error) {
	id, n, err := d.dec.DecodeExtHeader()
	if err != nil {
		return nil, d.fail(err)
	}
	payload := make([]byte, 0, min(n, extChunk))
	for remaining := n; remaining > 0; {
		chunk := make([]byte, min(remaining, extChunk))
		if err := d.dec.ReadFull(chunk); err != nil {
			return nil, d.fail(err)
		}
		payload = append(payload, chunk...)
		remaining -= len(chunk)
	}

	switch id {
	case extKeyword:
		return value.Keyword(payload), nil
	case extSymbol:
		return value.Symbol(payload), nil
	case extSet:
		src := bytes.NewReader(payload)
		inner := mpReader{dec: msgpack.NewDecoder(src), b: d.b}
		items, err := inner.readArray(depth)
		if err != nil {
			return nil, err
		}
		if src.Len() != 0 {
			return nil, d.b.malformed("trailing bytes in set", nil)
		}
		s := make(value.Set, len(items))
		for _, it := range items {
			if err := d.b.add(s, it); err != nil {
				return nil, err
			}
		}
		return s, nil
	case extTagged:
		return d.readTagged(payload, depth)
	}
	return nil, d.b.malformed(fmt.Sprintf("unknown extension type %d", id), nil)
}

func (d mpReader) readTagged(payload []byte, depth int) (any, error) {
	src := bytes.NewReader(payload)
	inner := mpReader{dec: msgpack.NewDecoder(src), b: d.b}
	n, err := inner.dec.DecodeArrayLen()
	if err != nil {
		return nil, inner.fail(err)
	}
	if n != 2 {
		return nil, d.b.malformed(fmt.Sprintf("tagged value has %d elements, want 2", n), nil)
	}
	tag, err := inner.dec.DecodeString()
	if err != nil {
		return nil, inner.fail(err)
	}
	h, err := d.b.handler(tag)
	if err != nil {
		return nil, err
	}
	body, err := inner.read(depth + 1)
	if err != nil {
		return nil, err
	}
	if src.Len() != 0 {
		return nil, d.b.malformed("trailing bytes in tagged value", nil)
	}
	return d.b.construct(h, tag, body)
}
