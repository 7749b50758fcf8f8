package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// rssiCmd represents the rssi command
var rssiCmd = &cobra.Command{
	Use:   "rssi <device-address>",
	Short: "Poll the connection RSSI",
	Long: `Connects to a peripheral and reads the connection signal strength periodically.

Examples:
  # One reading per second until Ctrl+C
  blecentral rssi AA:BB:CC:DD:EE:FF

  # Five readings, 200ms apart
  blecentral rssi AA:BB:CC:DD:EE:FF --interval 200ms --count 5`,
	Args: cobra.ExactArgs(1),
	RunE: runRSSI,
}

var (
	rssiInterval time.Duration
	rssiCount    int
)

func init() {
	rssiCmd.Flags().DurationVar(&rssiInterval, "interval", 0, "Polling interval (0 for the configured default)")
	rssiCmd.Flags().IntVarP(&rssiCount, "count", "n", 0, "Stop after N readings (0 runs until Ctrl+C)")
}

func runRSSI(cmd *cobra.Command, args []string) error {
	if rssiCount < 0 {
		return fmt.Errorf("invalid count %d: must not be negative", rssiCount)
	}

	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("interval") {
		env.cfg.RSSI.Interval = rssiInterval
	}
	if err := env.cfg.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Polling RSSI of %s", args[0]), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	s, err := openSession(ctx, env, args[0], progress.Callback())
	if err != nil {
		return err
	}
	defer s.Close()
	progress.Stop()

	pollCtx, stop := context.WithCancel(ctx)
	defer stop()

	out := cmd.OutOrStdout()
	received := 0
	for sample := range s.device.PollRSSI(pollCtx, env.cfg.RSSI.Interval) {
		fmt.Fprintf(out, "%s  %s\n", sample.At.Format("15:04:05.000"), rssiString(out, sample.RSSI))
		received++
		if rssiCount > 0 && received >= rssiCount {
			stop()
			return nil
		}
	}

	if ctx.Err() == nil {
		return ErrConnectionLost
	}
	return nil
}
