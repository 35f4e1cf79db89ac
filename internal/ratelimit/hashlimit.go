// Package ratelimit implements HashLimit, a fixed-size open table of
// token buckets keyed by an opaque byte string.
//
// The table deliberately uses a single bucket per hash slot instead of
// a resizing map: two keys that land in the same slot compete, and the
// loser's accounting is silently evicted. That is the design, not a
// bug — it bounds memory and keeps touch() O(1) regardless of how many
// distinct source addresses are seen, at the cost of slightly
// over-permissive admission under collisions. See the corpus's own
// per-IP rate limiters (which use a growable map with a separate GC
// goroutine) for the rejected alternative.
package ratelimit

import (
	"bytes"
	"hash/maphash"
	"time"
)

// bucket is one token bucket. tokens and the refill math are float64
// seconds-denominated, matching spec's stated acceptable precision.
type bucket struct {
	occupied   bool
	key        []byte
	tokens     float64
	lastRefill time.Time
}

// HashLimit is a fixed-capacity array of token buckets sharing one
// rate and burst, indexed by a stable hash of the admission key.
type HashLimit struct {
	buckets  []bucket
	rate     float64
	burst    float64
	seed     maphash.Seed
	nowFunc  func() time.Time
}

// Alloc creates a HashLimit with capacity buckets, all sharing rate
// (tokens/sec) and burst (max tokens). Burst is typically rate*1.9.
func Alloc(capacity int, rate, burst float64) *HashLimit {
	if capacity < 1 {
		capacity = 1
	}
	return &HashLimit{
		buckets: make([]bucket, capacity),
		rate:    rate,
		burst:   burst,
		seed:    maphash.MakeSeed(),
		nowFunc: time.Now,
	}
}

// AllocSingle creates a pure single-bucket limiter: capacity 1, keyed
// implicitly by whatever key Touch is always called with. This is the
// shape used for the aggregate per-interface limiter.
func AllocSingle(rate, burst float64) *HashLimit {
	return Alloc(1, rate, burst)
}

func (h *HashLimit) slotFor(key []byte) int {
	if len(h.buckets) == 1 {
		return 0
	}
	sum := maphash.Bytes(h.seed, key)
	return int(sum % uint64(len(h.buckets)))
}

// Touch consumes one token for key if available, returning true
// (admit) or false (deny). On a slot collision with a different key,
// the existing bucket is reset to a fresh, full bucket for the new key
// before the refill step runs — so, whenever burst is at least one
// token, the new key gets at least one admit immediately after
// evicting an old occupant.
func (h *HashLimit) Touch(key []byte) bool {
	idx := h.slotFor(key)
	b := &h.buckets[idx]
	now := h.nowFunc()

	if !b.occupied || !bytes.Equal(b.key, key) {
		b.key = append(b.key[:0], key...)
		b.tokens = h.burst
		b.lastRefill = now
		b.occupied = true
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		if elapsed > 0 {
			b.tokens += h.rate * elapsed
			if b.tokens > h.burst {
				b.tokens = h.burst
			}
		}
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

// Free releases the backing storage. HashLimit is not usable afterward.
func (h *HashLimit) Free() {
	h.buckets = nil
}

// SetClockForTest overrides the clock used for refill math. Exported
// for the package's own tests, which need deterministic elapsed time
// rather than a real sleep.
func SetClockForTest(h *HashLimit, now func() time.Time) {
	h.nowFunc = now
}
