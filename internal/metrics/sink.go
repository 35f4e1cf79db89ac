package metrics

import "github.com/otusnet/pmtud-relay/internal/parser"

// Sink implements pipeline.MetricsSink by incrementing the package's
// Prometheus counters directly from the event-loop goroutine. It is
// the only writer of these counters; the HTTP handler only ever reads
// them, so no synchronization beyond the counters' own atomics is
// needed.
type Sink struct{}

// OnReceived implements pipeline.MetricsSink.
func (Sink) OnReceived() { Received.Inc() }

// OnAccepted implements pipeline.MetricsSink.
func (Sink) OnAccepted() { Accepted.Inc() }

// OnRejected implements pipeline.MetricsSink.
func (Sink) OnRejected(reason parser.RejectReason) {
	Rejected.WithLabelValues(string(reason)).Inc()
}
