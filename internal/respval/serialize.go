package respval

import (
	"strconv"
)

var crlf = []byte{'\r', '\n'}

// Serialize is the total function from Value to bytes described in
// spec §4.A. Snapshot is the one variant whose encoding omits the
// trailing CRLF, distinguishing a baseline-snapshot payload from an
// otherwise identical bulk string.
func Serialize(v Value) []byte {
	buf := make([]byte, 0, estimateSize(v))
	return appendValue(buf, v)
}

func estimateSize(v Value) int {
	switch v.Kind {
	case KindSimpleString, KindError:
		return len(v.Str) + 3
	case KindBulkString:
		if v.Null {
			return 5
		}
		return len(v.Bulk) + 16
	case KindInteger:
		return 22
	case KindSnapshot:
		return len(v.Str) + 16
	case KindArray:
		n := 8
		for _, it := range v.Items {
			n += estimateSize(it)
		}
		return n
	default:
		return 0
	}
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindSimpleString:
		buf = append(buf, '+')
		buf = append(buf, v.Str...)
		buf = append(buf, crlf...)
	case KindError:
		buf = append(buf, '-')
		buf = append(buf, v.Str...)
		buf = append(buf, crlf...)
	case KindBulkString:
		if v.Null {
			buf = append(buf, "$-1"...)
			buf = append(buf, crlf...)
			return buf
		}
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(v.Bulk)), 10)
		buf = append(buf, crlf...)
		buf = append(buf, v.Bulk...)
		buf = append(buf, crlf...)
	case KindArray:
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(v.Items)), 10)
		buf = append(buf, crlf...)
		for _, it := range v.Items {
			buf = appendValue(buf, it)
		}
	case KindInteger:
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, v.Int, 10)
		buf = append(buf, crlf...)
	case KindSnapshot:
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(v.Str)), 10)
		buf = append(buf, crlf...)
		buf = append(buf, v.Str...)
		// no trailing CRLF: this is what makes a snapshot frame
		// distinguishable from a bulk string of identical length.
	}
	return buf
}

// ErrorReply builds the `-ERR ...` error frame used for protocol errors
// that reach an identified responder (spec §7).
func ErrorReply(msg string) Value {
	return Value{Kind: KindError, Str: []byte(msg)}
}
