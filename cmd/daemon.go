package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/otusnet/pmtud-relay/internal/bitmap"
	"github.com/otusnet/pmtud-relay/internal/capture"
	"github.com/otusnet/pmtud-relay/internal/config"
	"github.com/otusnet/pmtud-relay/internal/eventloop"
	"github.com/otusnet/pmtud-relay/internal/injector"
	"github.com/otusnet/pmtud-relay/internal/log"
	"github.com/otusnet/pmtud-relay/internal/metrics"
	"github.com/otusnet/pmtud-relay/internal/pipeline"
	"github.com/otusnet/pmtud-relay/internal/ratelimit"
)

// snapLen is spec.md §6's mandated capture snapshot length.
const snapLen = 2048

// sourcesTableCapacity is the fixed bucket count for the per-source
// HashLimit; spec.md §4.2 leaves the exact capacity to the
// implementer as long as it stays fixed-size.
const sourcesTableCapacity = 4096

// bpfFilter is spec.md §6's capture-side admission filter, restricting
// the parser's hot path to ICMP Fragmentation-Needed / Packet-Too-Big
// frames that are not already addressed to broadcast.
const bpfFilter = `((icmp and icmp[0] == 3 and icmp[1] == 4)` +
	` or (icmp6 and ip6[40+0] == 2 and ip6[40+1] == 0))` +
	` and (ether dst not ff:ff:ff:ff:ff:ff)`

func runDaemon() error {
	ports, err := config.ParsePorts(portsCSV)
	if err != nil {
		exitWithError("invalid --ports", err)
	}
	cfg.Ports = ports

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	if err := log.Init(log.Config{JSON: cfg.LogJSON, FilePath: cfg.LogFile}); err != nil {
		exitWithError("failed to initialize logging", err)
	}

	if cfg.CPU >= 0 {
		if err := config.PinCurrentThreadToCPU(cfg.CPU); err != nil {
			slog.Warn("CPU pinning failed, continuing unpinned", "cpu", cfg.CPU, "error", err)
		}
	}

	ch, err := capture.Open(cfg.Iface, snapLen, bpfFilter)
	if err != nil {
		exitWithError("failed to open capture handle", err)
	}
	defer ch.Close()

	var allow *bitmap.BitMap
	if len(cfg.Ports) > 0 {
		allow = bitmap.Alloc(65536)
		for _, p := range cfg.Ports {
			allow.Set(p)
		}
	}

	sourcesLimiter := ratelimit.Alloc(sourcesTableCapacity, cfg.SrcRate, cfg.SrcRate*1.9)
	ifaceLimiter := ratelimit.AllocSingle(cfg.IfaceRate, cfg.IfaceRate*1.9)

	inject := injector.New(ch, cfg.DryRun)
	packetLogger := log.NewPacketLogger(os.Stderr, cfg.Verbose, pipeline.HexDump)

	var metricsSink pipeline.MetricsSink
	var metricsServer *metrics.Server
	metricsDone := make(chan struct{})
	if cfg.MetricsAddr != "" {
		metricsSink = metrics.Sink{}
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
		metricsServer.Start()

		dropTicker := time.NewTicker(2 * time.Second)
		go func() {
			defer dropTicker.Stop()
			for {
				select {
				case <-dropTicker.C:
					if _, dropped, err := ch.Stats(); err == nil {
						metrics.SetCaptureDropped(dropped)
					}
				case <-metricsDone:
					return
				}
			}
		}()
	}

	p := pipeline.New(pipeline.Config{
		Reader:         ch,
		Injector:       inject,
		SourcesLimiter: sourcesLimiter,
		IfaceLimiter:   ifaceLimiter,
		Allow:          allow,
		Logger:         packetLogger,
		Metrics:        metricsSink,
		SnapLen:        snapLen,
	})

	var statsTicker *time.Ticker
	statsDone := make(chan struct{})
	if cfg.StatsInterval > 0 {
		statsTicker = time.NewTicker(cfg.StatsInterval)
		go func() {
			for {
				select {
				case <-statsTicker.C:
					logStatsSummary(&p.Stats, ch)
				case <-statsDone:
					return
				}
			}
		}()
	}

	loop, err := eventloop.New(ch.FD(), p.Drain)
	if err != nil {
		exitWithError("failed to start event loop", err)
	}
	defer loop.Close()

	fmt.Fprintf(os.Stderr, "pid=%d iface=%s src-rate=%v iface-rate=%v verbose=%d dry-run=%v\n",
		os.Getpid(), cfg.Iface, cfg.SrcRate, cfg.IfaceRate, cfg.Verbose, cfg.DryRun)

	runErr := loop.Run()

	if statsTicker != nil {
		statsTicker.Stop()
		close(statsDone)
	}
	if metricsServer != nil {
		close(metricsDone)
		metricsServer.Stop(context.Background())
	}

	received, droppedByLibrary, statErr := ch.Stats()
	if statErr != nil {
		slog.Warn("failed to read capture statistics", "error", statErr)
	}
	fmt.Fprintf(os.Stderr, "pid=%d Quitting received=%d dropped-by-library=%d dropped-by-interface=%d\n",
		os.Getpid(), received, droppedByLibrary, p.Stats.IfaceRateDropped.Load())

	if runErr != nil {
		return fmt.Errorf("event loop: %w", runErr)
	}
	return nil
}

func logStatsSummary(stats *pipeline.Stats, ch *capture.Capture) {
	received, droppedByLibrary, err := ch.Stats()
	if err != nil {
		slog.Warn("stats: failed to read capture statistics", "error", err)
		return
	}
	slog.Info("capture statistics",
		"received", received,
		"dropped_by_library", droppedByLibrary,
		"dropped_by_interface", stats.IfaceRateDropped.Load(),
		"accepted", stats.Accepted.Load(),
		"rejected", stats.Rejected.Load())
}
