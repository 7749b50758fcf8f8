package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/device"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> [uuid]",
	Short: "Subscribe to characteristic notifications",
	Long: `Enables notifications on one or more characteristics and prints every value received.

Examples:
  # Subscribe to Heart Rate Measurement
  blecentral subscribe AA:BB:CC:DD:EE:FF 2a37

  # Subscribe to several characteristics, hex output
  blecentral subscribe AA:BB:CC:DD:EE:FF 2a37,2a19 --hex

  # Subscribe to every notifiable characteristic of a service for 30 seconds
  blecentral subscribe AA:BB:CC:DD:EE:FF --service 180d --duration 30s`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSubscribe,
}

var (
	subscribeServiceUUID string
	subscribeCharUUIDs   string // comma-separated
	subscribeHex         bool
	subscribeDuration    time.Duration
)

func init() {
	subscribeCmd.Flags().StringVar(&subscribeServiceUUID, "service", "", "Service UUID (optional; auto-resolves if omitted)")
	subscribeCmd.Flags().StringVar(&subscribeCharUUIDs, "char", "", "Characteristic UUID(s), comma-separated (e.g., 2a37,2a38)")
	subscribeCmd.Flags().BoolVar(&subscribeHex, "hex", false, "Output as hex string; raw bytes by default")
	subscribeCmd.Flags().DurationVar(&subscribeDuration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
}

// notifiable filters chars down to those supporting notifications. When the
// characteristics were named explicitly a non-notifiable one is an error.
func notifiable(chars []*device.Characteristic, explicit bool) ([]*device.Characteristic, error) {
	out := make([]*device.Characteristic, 0, len(chars))
	for _, c := range chars {
		if c.Properties().CanNotify() {
			out = append(out, c)
			continue
		}
		if explicit {
			return nil, fmt.Errorf("characteristic %s does not support notifications", c.UUID())
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no notifiable characteristics found")
	}
	return out, nil
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address := args[0]

	var charUUIDsCSV string
	if len(args) == 2 {
		charUUIDsCSV = args[1]
	} else if subscribeCharUUIDs != "" {
		charUUIDsCSV = subscribeCharUUIDs
	}

	if charUUIDsCSV == "" && subscribeServiceUUID == "" {
		return fmt.Errorf("specify characteristic UUID(s) via argument or --char flag, or use --service for all characteristics")
	}

	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if subscribeDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, subscribeDuration)
		defer stop()
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Subscribing to %s", address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	s, err := openSession(ctx, env, address, progress.Callback())
	if err != nil {
		return err
	}
	defer s.Close()

	chars, err := resolveCharacteristics(s.device.Profile(), charUUIDsCSV, subscribeServiceUUID)
	if err != nil {
		return err
	}
	chars, err = notifiable(chars, charUUIDsCSV != "")
	if err != nil {
		return err
	}

	for _, c := range chars {
		if _, err := s.perform(ctx, device.EnableNotification{Characteristic: c}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", c.UUID(), err)
		}
	}
	progress.Stop()

	errOut := cmd.ErrOrStderr()
	for _, c := range chars {
		fmt.Fprintf(errOut, "Subscribed to %s\n", displayName(c.UUID(), bledb.LookupCharacteristic(c.UUID())))
	}
	fmt.Fprintln(errOut, "Press Ctrl+C to stop...")

	err = streamUpdates(ctx, s.device, cmd.OutOrStdout(), chars, len(chars) > 1)

	// best effort; the link may already be gone
	for _, c := range chars {
		if _, derr := s.perform(context.Background(), device.DisableNotification{Characteristic: c}); derr != nil {
			s.logger.WithError(derr).Debug("Failed to disable notifications")
		}
	}
	return err
}

// streamUpdates prints notifications for chars until ctx ends or the device closes its stream.
func streamUpdates(ctx context.Context, d *device.Device, out io.Writer, chars []*device.Characteristic, multiChar bool) error {
	wanted := make(map[string]bool, len(chars))
	for _, c := range chars {
		wanted[c.Service().UUID()+"/"+c.UUID()] = true
	}

	// link loss shows up as a state change, not as a closed stream
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !d.State().IsConnected() {
				return ErrConnectionLost
			}
		case u, ok := <-d.Updates():
			if !ok {
				return ErrConnectionLost
			}
			if !wanted[u.Service+"/"+u.Characteristic] {
				continue
			}
			if err := printUpdate(out, u, multiChar); err != nil {
				return err
			}
		}
	}
}

func printUpdate(out io.Writer, u device.ValueUpdate, multiChar bool) error {
	var prefix string
	if multiChar {
		prefix = u.Characteristic + ": "
	}

	if subscribeHex {
		_, err := fmt.Fprintf(out, "%s%s\n", prefix, hex.EncodeToString(u.Value))
		return err
	}
	fmt.Fprint(out, prefix)
	if _, err := out.Write(u.Value); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out)
	return err
}
