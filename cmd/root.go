// Package cmd implements the daemon's single root command: this
// daemon's entire job is running the capture loop, so unlike the
// corpus's multi-subcommand `otus` CLI (daemon/task/stop/reload/status)
// there is exactly one command and no subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otusnet/pmtud-relay/internal/config"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "pmtud-relay",
	Short: "Rebroadcast misdirected PMTUD ICMP messages on an ECMP/anycast segment",
	Long: `pmtud-relay observes ICMP Fragmentation-Needed / Packet-Too-Big
messages arriving on one interface and rebroadcasts each at layer 2, so
that every host on the segment sees it even when ECMP hashing delivered
it to the wrong cluster member.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var portsCSV string

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Iface, "iface", "", "capture and inject on this interface (required)")
	flags.Float64Var(&cfg.SrcRate, "src-rate", cfg.SrcRate, "per-source rate limit, pps")
	flags.Float64Var(&cfg.IfaceRate, "iface-rate", cfg.IfaceRate, "aggregate per-interface rate limit, pps")
	flags.CountVarP(&cfg.Verbose, "verbose", "v", "increase log verbosity (repeatable)")
	flags.BoolVar(&cfg.DryRun, "dry-run", false, "parse and rate-limit but do not inject")
	flags.IntVar(&cfg.CPU, "cpu", -1, "pin the event-loop thread to a CPU core (best effort; other threads are not pinned)")
	flags.StringVar(&portsCSV, "ports", "", "CSV of allow-listed inner L4 source ports")
	flags.StringVar(&cfg.LogFile, "log-file", "", "also write logs to a lumberjack-rotated file")
	flags.BoolVar(&cfg.LogJSON, "log-json", false, "emit structured JSON log lines")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics at /metrics on host:port")
	flags.DurationVar(&cfg.StatsInterval, "stats-interval", 0, "periodic stderr summary of capture statistics")

	// spec.md §6 wants --help's usage on stderr with a nonzero exit,
	// unlike cobra's stdout/exit-0 default.
	rootCmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		fmt.Fprintln(os.Stderr, c.UsageString())
		os.Exit(1)
	})
}

// Execute runs the root command. Called once from main.main().
func Execute() error {
	return rootCmd.Execute()
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
