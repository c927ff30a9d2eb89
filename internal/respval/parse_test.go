package respval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleString(t *testing.T) {
	p := NewParser()
	p.Append([]byte("+PONG\r\n"))
	v, n, err := p.Parse()
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, SimpleString("PONG"), *v)
}

func TestParsePartialAcrossAppends(t *testing.T) {
	p := NewParser()
	p.Append([]byte("*2\r\n$3\r\nGET\r"))
	v, n, err := p.Parse()
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, 0, n)

	p.Append([]byte("\n$3\r\nfoo\r\n"))
	v, n, err = p.Parse()
	require.NoError(t, err)
	require.Equal(t, Array(BulkString([]byte("GET")), BulkString([]byte("foo"))), *v)
	require.True(t, n > 0)
}

func TestParseSplitMidLengthDigit(t *testing.T) {
	p := NewParser()
	p.Append([]byte("$1"))
	v, _, err := p.Parse()
	require.NoError(t, err)
	require.Nil(t, v)

	p.Append([]byte("0\r\n"))
	v, _, err = p.Parse()
	require.NoError(t, err)
	require.Nil(t, v)

	p.Append([]byte("0123456789\r\n"))
	v, n, err := p.Parse()
	require.NoError(t, err)
	require.Equal(t, BulkString([]byte("0123456789")), *v)
	require.True(t, n > 0)
}

func TestParseLeadingZeroLengthIsError(t *testing.T) {
	p := NewParser()
	p.Append([]byte("$012\r\nhello\r\n"))
	_, _, err := p.Parse()
	require.Error(t, err)
}

func TestParseNullBulkString(t *testing.T) {
	p := NewParser()
	p.Append([]byte("$-1\r\n"))
	v, n, err := p.Parse()
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, v.Null)
}

func TestParseNestedArray(t *testing.T) {
	p := NewParser()
	p.Append([]byte("*2\r\n*1\r\n:1\r\n$3\r\nfoo\r\n"))
	v, _, err := p.Parse()
	require.NoError(t, err)
	require.Equal(t, Array(Array(Integer(1)), BulkString([]byte("foo"))), *v)
}

func TestParseEmptyBufferIsNotError(t *testing.T) {
	p := NewParser()
	v, n, err := p.Parse()
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, 0, n)

	// Idempotence: repeated append([]) then parse() keeps returning none.
	p.Append(nil)
	v, n, err = p.Parse()
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, 0, n)
}

func TestParseUnknownLeadingByteIsError(t *testing.T) {
	p := NewParser()
	p.Append([]byte("!oops\r\n"))
	_, _, err := p.Parse()
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.True(t, pe.HasByte)
	require.Equal(t, byte('!'), pe.Byte)
}

func TestSerializeParseRoundTrip(t *testing.T) {
	cases := []Value{
		SimpleString("OK"),
		BulkString([]byte("bar")),
		NullBulkString(),
		Integer(42),
		Array(BulkString([]byte("SET")), BulkString([]byte("foo")), BulkString([]byte("bar"))),
		ErrorReply("ERR unknown command 'FOO'"),
	}
	for _, v := range cases {
		b := Serialize(v)
		p := NewParser()
		p.Append(b)
		got, n, err := p.Parse()
		require.NoError(t, err)
		require.Equal(t, len(b), n)
		require.True(t, v.Equal(*got), "round trip mismatch: want %v got %v", v, got)
	}
}

func TestParseSnapshotFrameHasNoTrailingCRLF(t *testing.T) {
	payload := []byte("opaque-rdb-bytes")
	p := NewParser()
	p.Append([]byte("$16\r\n"))
	p.Append(payload)
	v, n, err := p.ParseSnapshot()
	require.NoError(t, err)
	require.Equal(t, 5+len(payload), n)
	require.Equal(t, Snapshot(payload), *v)
}
