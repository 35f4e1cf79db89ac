// Package metrics implements the optional Prometheus exporter that
// answers spec.md §9's open question ("an implementer may add a
// counter surface... without altering the wire behavior"): it mirrors
// the Pipeline's Stats counters without ever being consulted by the
// admit/reject decision itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Received counts every frame pulled off the capture socket.
	Received = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmtud_relay_received_total",
		Help: "Total frames pulled off the capture socket.",
	})

	// Accepted counts frames that passed parsing and both rate limits
	// and were handed to the injector.
	Accepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmtud_relay_accepted_total",
		Help: "Total frames accepted and rewritten for re-injection.",
	})

	// Rejected counts frames rejected, labeled by reason.
	Rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmtud_relay_rejected_total",
		Help: "Total frames rejected, by reason.",
	}, []string{"reason"})

	// CaptureDropped mirrors the kernel's PACKET_STATISTICS drop
	// counter for the bound socket. It is a Gauge rather than a Counter
	// because its value is periodically set from the kernel's own
	// cumulative counter, not incremented per observed event.
	CaptureDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmtud_relay_capture_dropped_total",
		Help: "Frames the kernel dropped before this process read them.",
	})
)

// SetCaptureDropped records the kernel's current PACKET_STATISTICS drop
// count. Called periodically from outside the event loop, since reading
// it requires a getsockopt the hot path never otherwise makes.
func SetCaptureDropped(n uint32) {
	CaptureDropped.Set(float64(n))
}
