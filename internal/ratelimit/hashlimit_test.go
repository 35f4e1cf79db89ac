package ratelimit_test

import (
	"testing"
	"time"

	"github.com/otusnet/pmtud-relay/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestBurstThenDeny(t *testing.T) {
	h := ratelimit.Alloc(16, 1.0, 3.0)
	key := []byte("10.0.0.1")

	require.True(t, h.Touch(key))
	require.True(t, h.Touch(key))
	require.True(t, h.Touch(key))
	require.False(t, h.Touch(key), "fourth touch within the same instant should exceed burst")
}

func TestRefillAdmitsAfterWait(t *testing.T) {
	now := time.Now()
	h := ratelimit.Alloc(16, 1.0, 1.0)
	ratelimit.SetClockForTest(h, func() time.Time { return now })

	key := []byte("10.0.0.2")
	require.True(t, h.Touch(key))
	require.False(t, h.Touch(key))

	now = now.Add(2 * time.Second)
	require.True(t, h.Touch(key), "two seconds at 1 tok/sec should refill at least one token")
}

func TestSingleBucketCollisionEvictsPreviousKey(t *testing.T) {
	h := ratelimit.Alloc(1, 1.0, 1.0)

	a := []byte("key-a")
	b := []byte("key-b")

	require.True(t, h.Touch(a))
	require.False(t, h.Touch(a), "key-a burst already spent")

	require.True(t, h.Touch(b), "colliding key resets the shared slot to a fresh bucket")
}

func TestAllocSingleConstantKeyBurstThenDeny(t *testing.T) {
	h := ratelimit.AllocSingle(2.0, 2.0)

	require.True(t, h.Touch([]byte("iface")))
	require.True(t, h.Touch([]byte("iface")))
	require.False(t, h.Touch([]byte("iface")))
}

func TestDistinctKeysDoNotCollideAtLargeCapacity(t *testing.T) {
	h := ratelimit.Alloc(1024, 1.0, 1.0)

	keys := [][]byte{[]byte("10.0.0.1"), []byte("10.0.0.2"), []byte("10.0.0.3")}
	for _, k := range keys {
		require.True(t, h.Touch(k))
	}
	for _, k := range keys {
		require.False(t, h.Touch(k), "each key already spent its single burst token")
	}
}
