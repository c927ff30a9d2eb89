// Package respval implements the wire value union and the incremental
// parser/serializer described as the Frame Codec: bulk string arrays for
// requests, simple string/bulk string/integer/array/snapshot for replies.
package respval

import "fmt"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindSimpleString Kind = iota
	KindBulkString
	KindArray
	KindInteger
	KindSnapshot
	// KindError is not part of spec §3's value union (which lists only
	// simple string, bulk string, integer, array, and snapshot) but the
	// wire format needs a `-`-prefixed error line distinct from a `+`
	// simple string (spec §6, §7): "Unknown top-level command names
	// respond with an error simple string". We model that as its own
	// Kind rather than overload KindSimpleString with a sigil field.
	KindError
)

// Value is the tagged union described in spec §3. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind Kind

	// Str holds SimpleString and Snapshot payloads.
	Str []byte

	// Bulk holds BulkString payload; Null is true for the null bulk
	// string ("$-1\r\n"), in which case Bulk is unused.
	Bulk []byte
	Null bool

	// Items holds Array children.
	Items []Value

	// Int holds Integer.
	Int uint64
}

// SimpleString builds a SimpleString value.
func SimpleString(s string) Value {
	return Value{Kind: KindSimpleString, Str: []byte(s)}
}

// BulkString builds a non-null BulkString value.
func BulkString(b []byte) Value {
	return Value{Kind: KindBulkString, Bulk: b}
}

// NullBulkString builds the null bulk string.
func NullBulkString() Value {
	return Value{Kind: KindBulkString, Null: true}
}

// Array builds an Array value.
func Array(items ...Value) Value {
	return Value{Kind: KindArray, Items: items}
}

// Integer builds an Integer value.
func Integer(n uint64) Value {
	return Value{Kind: KindInteger, Int: n}
}

// Snapshot builds a Snapshot value.
func Snapshot(payload []byte) Value {
	return Value{Kind: KindSnapshot, Str: payload}
}

// BulkStringArray builds an Array of BulkString values from plain byte
// slices; this is how commands are re-serialized for replica fan-out
// (spec §4.D step 2).
func BulkStringArray(parts ...[]byte) Value {
	items := make([]Value, len(parts))
	for i, p := range parts {
		items[i] = BulkString(p)
	}
	return Array(items...)
}

// Equal reports structural equality, per spec §3 ("equality is
// structural").
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindSimpleString, KindSnapshot, KindError:
		return string(v.Str) == string(o.Str)
	case KindBulkString:
		if v.Null != o.Null {
			return false
		}
		if v.Null {
			return true
		}
		return string(v.Bulk) == string(o.Bulk)
	case KindInteger:
		return v.Int == o.Int
	case KindArray:
		if len(v.Items) != len(o.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindSimpleString:
		return fmt.Sprintf("SimpleString(%q)", v.Str)
	case KindBulkString:
		if v.Null {
			return "BulkString(nil)"
		}
		return fmt.Sprintf("BulkString(%q)", v.Bulk)
	case KindArray:
		return fmt.Sprintf("Array(%v)", v.Items)
	case KindInteger:
		return fmt.Sprintf("Integer(%d)", v.Int)
	case KindSnapshot:
		return fmt.Sprintf("Snapshot(%d bytes)", len(v.Str))
	case KindError:
		return fmt.Sprintf("Error(%q)", v.Str)
	default:
		return "Value(invalid)"
	}
}

// AsBulkStrings extracts a flat []byte slice from an Array of BulkString
// values, the shape every inbound client command arrives as. Returns
// false if v is not such an array.
func AsBulkStrings(v Value) ([][]byte, bool) {
	if v.Kind != KindArray {
		return nil, false
	}
	out := make([][]byte, len(v.Items))
	for i, it := range v.Items {
		if it.Kind != KindBulkString || it.Null {
			return nil, false
		}
		out[i] = it.Bulk
	}
	return out, true
}
