package bitmap_test

import (
	"testing"

	"github.com/otusnet/pmtud-relay/internal/bitmap"
	"github.com/stretchr/testify/require"
)

func TestSetGetClear(t *testing.T) {
	b := bitmap.Alloc(65536)

	require.False(t, b.Get(443))
	b.Set(443)
	require.True(t, b.Get(443))
	b.Clear(443)
	require.False(t, b.Get(443))
}

func TestBitsAreIndependent(t *testing.T) {
	b := bitmap.Alloc(128)

	b.Set(0)
	b.Set(63)
	b.Set(64)
	b.Set(127)

	for i := 0; i < 128; i++ {
		want := i == 0 || i == 63 || i == 64 || i == 127
		require.Equal(t, want, b.Get(i), "bit %d", i)
	}
}

func TestAllZeroByDefault(t *testing.T) {
	b := bitmap.Alloc(65536)
	for _, i := range []int{0, 1, 443, 8080, 65535} {
		require.False(t, b.Get(i))
	}
}
