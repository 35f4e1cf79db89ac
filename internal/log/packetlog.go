package log

import (
	"fmt"
	"io"
	"net"

	"github.com/otusnet/pmtud-relay/internal/parser"
)

// Verbosity levels per spec.md §6's --verbose table.
const (
	VerboseSilent       = 0
	VerboseAccept       = 1
	VerboseAcceptReject = 2
	VerboseHexDump      = 3
)

// PacketLogger writes the spec-mandated per-packet lines
// (`<source-ip> <reason>`) straight to w, independent of the ambient
// slog sink: this wire format is fixed by spec.md §6 and is not
// subject to --log-json.
type PacketLogger struct {
	w       io.Writer
	verbose int
	hexDump func([]byte) string
}

// NewPacketLogger builds a PacketLogger writing to w at the given
// verbosity. hexDump renders a frame for verbosity>=3 lines.
func NewPacketLogger(w io.Writer, verbose int, hexDump func([]byte) string) *PacketLogger {
	return &PacketLogger{w: w, verbose: verbose, hexDump: hexDump}
}

// LogAccept implements pipeline.Logger.
func (p *PacketLogger) LogAccept(srcIP net.IP, frame []byte) {
	if p.verbose < VerboseAccept {
		return
	}
	p.writeLine(srcIP, "transmitting", frame)
}

// LogReject implements pipeline.Logger.
func (p *PacketLogger) LogReject(srcIP net.IP, reason parser.RejectReason, frame []byte) {
	if p.verbose < VerboseAcceptReject {
		return
	}
	p.writeLine(srcIP, string(reason), frame)
}

func (p *PacketLogger) writeLine(srcIP net.IP, reason string, frame []byte) {
	ipStr := "?"
	if srcIP != nil {
		ipStr = srcIP.String()
	}
	if p.verbose >= VerboseHexDump && p.hexDump != nil {
		fmt.Fprintf(p.w, "%s %s %s\n", ipStr, reason, p.hexDump(frame))
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", ipStr, reason)
}
