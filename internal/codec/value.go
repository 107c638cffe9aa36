// Package codec implements the binary encoding used for every value and key
// digest persisted by the storage engine.
//
// The wire format is MessagePack (github.com/vmihailenco/msgpack/v5), chosen
// so that MEID and key files remain byte-for-byte readable by any other
// MessagePack implementation, not just this one.
package codec

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrDecode is returned when Decode is given truncated or malformed input.
var ErrDecode = errors.New("codec: decode error")

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindSeq
	KindMap
)

// Value is a tagged sum of everything the binary codec can carry: nil,
// booleans, signed/unsigned integers, floats, UTF-8 strings, raw byte
// strings, ordered sequences, and string-keyed mappings.
//
// The zero Value is Nil.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	bs   []byte
	seq  []Value
	m    map[string]Value
}

func Nil() Value                   { return Value{kind: KindNil} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Int(i int64) Value            { return Value{kind: KindInt, i: i} }
func Uint(u uint64) Value          { return Value{kind: KindUint, u: u} }
func Float(f float64) Value        { return Value{kind: KindFloat, f: f} }
func String(s string) Value        { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value         { return Value{kind: KindBytes, bs: b} }
func Seq(vs ...Value) Value        { return Value{kind: KindSeq, seq: vs} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) AsUint() (uint64, bool)   { return v.u, v.kind == KindUint }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)  { return v.bs, v.kind == KindBytes }
func (v Value) AsSeq() ([]Value, bool)   { return v.seq, v.kind == KindSeq }
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// IsNil reports whether v holds the nil variant.
func (v Value) IsNil() bool { return v.kind == KindNil }

// Encode serializes v to MessagePack bytes.
func Encode(v Value) ([]byte, error) {
	data, err := msgpack.Marshal(toNative(v))
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}

	return data, nil
}

// Decode parses MessagePack bytes into a Value tree.
//
// Decode fails with ErrDecode on truncated or malformed input.
func Decode(data []byte) (Value, error) {
	var native any

	err := msgpack.Unmarshal(data, &native)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return fromNative(native), nil
}

// ToNative converts a Value into the plain Go shape (nil/bool/int64/uint64/
// float64/string/[]byte/[]any/map[string]any) used by both the MessagePack
// codec and the AOL's JSON-based textual stringification.
func ToNative(v Value) any { return toNative(v) }

// FromNative is the inverse of ToNative.
func FromNative(n any) Value { return fromNative(n) }

// toNative converts a Value into the plain Go shape msgpack.Marshal expects.
func toNative(v Value) any {
	switch v.kind {
	case KindNil:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindUint:
		return v.u
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		// A nil slice would marshal as msgpack nil and decode back as
		// the Nil variant; keep empty byte strings byte strings.
		if v.bs == nil {
			return []byte{}
		}

		return v.bs
	case KindSeq:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = toNative(e)
		}

		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = toNative(e)
		}

		return out
	default:
		return nil
	}
}

// fromNative converts the plain Go shape msgpack.Unmarshal produces (for an
// `any` target) back into a Value tree.
func fromNative(n any) Value {
	switch x := n.(type) {
	case nil:
		return Nil()
	case bool:
		return Bool(x)
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case int:
		return Int(int64(x))
	case uint8:
		return Uint(uint64(x))
	case uint16:
		return Uint(uint64(x))
	case uint32:
		return Uint(uint64(x))
	case uint64:
		return Uint(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = fromNative(e)
		}

		return Seq(out...)
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			out[k] = fromNative(e)
		}

		return Map(out)
	default:
		// Unreachable for values produced by msgpack.Unmarshal into `any`.
		return Nil()
	}
}
