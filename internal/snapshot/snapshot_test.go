package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaselineIsFixedLengthAndStable(t *testing.T) {
	a := Baseline()
	b := Baseline()
	require.Len(t, a, BaselineSize)
	require.Equal(t, a, b, "baseline must be byte-identical across calls")
}

func TestBaselineIsIndependentCopies(t *testing.T) {
	a := Baseline()
	a[0] = 0xff
	b := Baseline()
	require.NotEqual(t, a[0], b[0], "mutating one copy must not affect another")
}
