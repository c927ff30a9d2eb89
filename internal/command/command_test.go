package command

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dstainton11/kvnode/internal/respval"
)

func array(parts ...string) respval.Value {
	bs := make([]respval.Value, len(parts))
	for i, p := range parts {
		bs[i] = respval.BulkString([]byte(p))
	}
	return respval.Array(bs...)
}

func TestParsePing(t *testing.T) {
	c, err := Parse(array("PING"))
	require.NoError(t, err)
	require.Equal(t, KindPing, c.Kind)
}

func TestParseSetWithExpiry(t *testing.T) {
	c, err := Parse(array("SET", "foo", "bar", "PX", "100"))
	require.NoError(t, err)
	require.Equal(t, KindSet, c.Kind)
	require.True(t, c.HasExpiry)
	require.EqualValues(t, 100, c.ExpiryMS)
}

func TestParseSetRejectsUnknownOption(t *testing.T) {
	_, err := Parse(array("SET", "foo", "bar", "EX", "100"))
	require.Error(t, err)
}

func TestParseUnknownCommand(t *testing.T) {
	_, err := Parse(array("FROBNICATE"))
	require.Error(t, err)
}

func TestParseReplconfCaseFolded(t *testing.T) {
	c, err := Parse(array("REPLCONF", "GETACK", "*"))
	require.NoError(t, err)
	require.Equal(t, "getack", c.Subkey)
}

func TestParseWait(t *testing.T) {
	c, err := Parse(array("WAIT", "1", "5000"))
	require.NoError(t, err)
	require.Equal(t, KindWait, c.Kind)
	require.Equal(t, 1, c.MinReplicas)
	require.EqualValues(t, 5000, c.TimeoutMS)
}

func TestEncodeRoundTripsToSameCommand(t *testing.T) {
	c := Command{Kind: KindSet, Key: []byte("k"), Value: []byte("v")}
	v := Encode(c)
	got, err := Parse(v)
	require.NoError(t, err)
	require.Equal(t, c.Kind, got.Kind)
	require.Equal(t, c.Key, got.Key)
	require.Equal(t, c.Value, got.Value)
}
