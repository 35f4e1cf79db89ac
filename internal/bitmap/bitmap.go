// Package bitmap implements a dense, fixed-width bitset used for the
// optional L4 source-port allow-list over [0, 65535].
package bitmap

// BitMap is a dense bitset over [0, width). Out-of-range access is a
// programming error, not a runtime one: callers are expected to keep
// index within [0, width) themselves, exactly as spec requires.
type BitMap struct {
	width int
	words []uint64
}

// Alloc returns a zeroed BitMap over width bits.
func Alloc(width int) *BitMap {
	return &BitMap{
		width: width,
		words: make([]uint64, (width+63)/64),
	}
}

// Width reports the number of addressable bits.
func (b *BitMap) Width() int {
	return b.width
}

// Set marks bit i.
func (b *BitMap) Set(i int) {
	b.words[i/64] |= 1 << uint(i%64)
}

// Clear unmarks bit i.
func (b *BitMap) Clear(i int) {
	b.words[i/64] &^= 1 << uint(i%64)
}

// Get reports whether bit i is set.
func (b *BitMap) Get(i int) bool {
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Free releases the backing storage. BitMap is not usable afterward.
func (b *BitMap) Free() {
	b.words = nil
}
