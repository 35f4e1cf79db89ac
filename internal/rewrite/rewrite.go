// Package rewrite performs the in-place layer-2 header rewrite: the
// destination becomes the broadcast address and the source becomes the
// frame's original destination, so every host on the segment observes
// the relayed ICMP message as if it had been broadcast to them.
package rewrite

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Apply rewrites frame[0:12] in place: destination <- broadcast,
// source <- the frame's original destination MAC. frame must be at
// least 12 bytes; callers only ever call this after the Parser has
// already validated a far larger minimum length.
func Apply(frame []byte) {
	var origDst [6]byte
	copy(origDst[:], frame[0:6])
	copy(frame[0:6], BroadcastMAC[:])
	copy(frame[6:12], origDst[:])
}
