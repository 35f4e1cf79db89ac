package pipeline_test

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otusnet/pmtud-relay/internal/injector"
	"github.com/otusnet/pmtud-relay/internal/parser"
	"github.com/otusnet/pmtud-relay/internal/pipeline"
	"github.com/otusnet/pmtud-relay/internal/ratelimit"
)

// fakeReader yields the frames in order, then reports "would block" via
// a sentinel error whose Temporary() method returns true.
type fakeReader struct {
	frames [][]byte
	i      int
}

var errWouldBlock = wouldBlockErr{}

type wouldBlockErr struct{}

func (wouldBlockErr) Error() string   { return "would block" }
func (wouldBlockErr) Temporary() bool { return true }

func (f *fakeReader) Read(buf []byte) (int, int, error) {
	if f.i >= len(f.frames) {
		return 0, 0, errWouldBlock
	}
	frame := f.frames[f.i]
	f.i++
	n := copy(buf, frame)
	return n, n, nil
}

type fakeSender struct {
	sent [][]byte
}

func (s *fakeSender) Write(buf []byte) error {
	cp := append([]byte(nil), buf...)
	s.sent = append(s.sent, cp)
	return nil
}

type recordingLogger struct {
	accepts []string
	rejects []string
}

func (r *recordingLogger) LogAccept(srcIP net.IP, frame []byte) {
	r.accepts = append(r.accepts, srcIP.String())
}

func (r *recordingLogger) LogReject(srcIP net.IP, reason parser.RejectReason, frame []byte) {
	r.rejects = append(r.rejects, string(reason))
}

func ipv4ICMPFrame(dst, src [6]byte, srcIP [4]byte) []byte {
	frame := make([]byte, 14+20+8+20+8)
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)

	ip := frame[14:34]
	ip[0] = 0x45
	ip[9] = 1 // ICMP
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], []byte{10, 0, 0, 2})

	icmp := frame[34:42]
	icmp[0] = 3
	icmp[1] = 4

	inner := frame[42:62]
	inner[0] = 0x45

	return frame
}

func newTestPipeline(frames [][]byte, logger *recordingLogger, sender *fakeSender) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		Reader:         &fakeReader{frames: frames},
		Injector:       injector.New(sender, false),
		SourcesLimiter: ratelimit.Alloc(64, 1.0, 1.9),
		IfaceLimiter:   ratelimit.AllocSingle(10.0, 19.0),
		Logger:         logger,
		SnapLen:        2048,
	})
}

func TestDrainAcceptsAndRewritesFrame(t *testing.T) {
	dst := [6]byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	src := [6]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	frame := ipv4ICMPFrame(dst, src, [4]byte{10, 0, 0, 1})

	logger := &recordingLogger{}
	sender := &fakeSender{}
	p := newTestPipeline([][]byte{frame}, logger, sender)

	require.NoError(t, p.Drain())
	require.Equal(t, int64(1), p.Stats.Accepted.Load())
	require.Equal(t, []string{"10.0.0.1"}, logger.accepts)
	require.Len(t, sender.sent, 1)

	sent := sender.sent[0]
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, sent[0:6])
	require.Equal(t, dst[:], sent[6:12])
}

func TestDrainEnforcesSourceRateLimit(t *testing.T) {
	dst := [6]byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	src := [6]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	frame := ipv4ICMPFrame(dst, src, [4]byte{10, 0, 0, 1})
	frame2 := append([]byte(nil), frame...)

	logger := &recordingLogger{}
	sender := &fakeSender{}
	p := newTestPipeline([][]byte{frame, frame2}, logger, sender)

	require.NoError(t, p.Drain())
	require.Equal(t, int64(1), p.Stats.Accepted.Load())
	require.Equal(t, int64(1), p.Stats.Rejected.Load())
	require.Equal(t, []string{"source rate limit"}, logger.rejects)
}

func TestDrainRejectsAlreadyBroadcastFrame(t *testing.T) {
	dst := [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	src := [6]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	frame := ipv4ICMPFrame(dst, src, [4]byte{10, 0, 0, 1})

	logger := &recordingLogger{}
	sender := &fakeSender{}
	p := newTestPipeline([][]byte{frame}, logger, sender)

	require.NoError(t, p.Drain())
	require.Equal(t, []string{"already broadcast"}, logger.rejects)
	require.Empty(t, sender.sent)
}

func TestDryRunNeverWritesButLogsIdentically(t *testing.T) {
	dst := [6]byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	src := [6]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	frame := ipv4ICMPFrame(dst, src, [4]byte{10, 0, 0, 1})

	logger := &recordingLogger{}
	sender := &fakeSender{}
	p := pipeline.New(pipeline.Config{
		Reader:         &fakeReader{frames: [][]byte{frame}},
		Injector:       injector.New(sender, true),
		SourcesLimiter: ratelimit.Alloc(64, 1.0, 1.9),
		IfaceLimiter:   ratelimit.AllocSingle(10.0, 19.0),
		Logger:         logger,
		SnapLen:        2048,
	})

	require.NoError(t, p.Drain())
	require.Empty(t, sender.sent)
	require.Equal(t, []string{"10.0.0.1"}, logger.accepts)
	require.Equal(t, int64(1), p.Stats.Accepted.Load())
}
