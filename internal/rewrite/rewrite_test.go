package rewrite_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otusnet/pmtud-relay/internal/rewrite"
)

func TestApplyRewritesDestinationAndSource(t *testing.T) {
	frame := []byte{
		0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, // original dst
		0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, // original src
		0x08, 0x00, // etherType
		0xde, 0xad, 0xbe, 0xef,
	}

	rewrite.Apply(frame)

	require.Equal(t, rewrite.BroadcastMAC[:], frame[0:6])
	require.Equal(t, []byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}, frame[6:12])
	require.Equal(t, []byte{0x08, 0x00}, frame[12:14])
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, frame[14:18])
}

func TestApplyOnAlreadyRewrittenFrameCopiesBroadcastIntoSource(t *testing.T) {
	frame := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb,
		0x08, 0x00,
	}

	rewrite.Apply(frame)

	require.Equal(t, rewrite.BroadcastMAC[:], frame[0:6])
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, frame[6:12])
}
