package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/device"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> [uuid]",
	Short: "Read a characteristic or descriptor value",
	Long: `Reads data from BLE characteristic(s) or a descriptor.

Examples:
  # Read Battery Level characteristic
  blecentral read AA:BB:CC:DD:EE:FF 2a19 --hex

  # Read multiple characteristics (comma-separated)
  blecentral read AA:BB:CC:DD:EE:FF 2a37,2a38,2a19 --hex

  # Read with service disambiguation
  blecentral read AA:BB:CC:DD:EE:FF --service 180f --char 2a19

  # Read descriptor (Client Characteristic Configuration)
  blecentral read AA:BB:CC:DD:EE:FF --service 180d --char 2a37 --desc 2902 --hex

  # Read every second until interrupted
  blecentral read AA:BB:CC:DD:EE:FF 2a19 --hex --watch 1s`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readCharUUIDs   string // supports comma-separated UUIDs
	readDescUUID    string
	readHex         bool
	readWatch       string
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	readCmd.Flags().StringVar(&readCharUUIDs, "char", "", "Characteristic UUID(s), comma-separated for multiple")
	readCmd.Flags().StringVar(&readDescUUID, "desc", "", "Descriptor UUID (reads descriptor instead of characteristic)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string (e.g., 'FF01'); raw bytes by default")
	readCmd.Flags().StringVar(&readWatch, "watch", "", "Continuously read at interval (e.g., 1s, 500ms); default 1s if no value given")
	readCmd.Flags().Lookup("watch").NoOptDefVal = "1s"
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]

	var uuidInput string
	switch {
	case len(args) == 2:
		uuidInput = args[1]
	case readCharUUIDs != "":
		uuidInput = readCharUUIDs
	case readDescUUID != "":
		uuidInput = readDescUUID
	default:
		return fmt.Errorf("UUID required: provide as second argument or via --char/--desc flag")
	}

	uuids := parseCSVUUIDs(uuidInput)
	if len(uuids) == 0 {
		return fmt.Errorf("no valid UUIDs provided")
	}

	var watchInterval time.Duration
	if readWatch != "" {
		if len(uuids) > 1 {
			return fmt.Errorf("watch mode requires a single characteristic, got %d", len(uuids))
		}
		var err error
		watchInterval, err = time.ParseDuration(readWatch)
		if err != nil {
			return fmt.Errorf("invalid watch interval: %w", err)
		}
	}

	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Reading %s from %s", uuidInput, address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	s, err := openSession(ctx, env, address, progress.Callback())
	if err != nil {
		return err
	}
	defer s.Close()
	progress.Stop()

	out := cmd.OutOrStdout()
	profile := s.device.Profile()

	// Descriptor path
	if readDescUUID != "" {
		charUUID := readCharUUIDs
		if len(args) == 2 && charUUID == "" && readDescUUID != args[1] {
			charUUID = args[1]
		}
		desc, err := resolveDescriptor(profile, readDescUUID, charUUID, readServiceUUID)
		if err != nil {
			return err
		}
		res, err := s.perform(ctx, device.ReadDescriptor{Descriptor: desc})
		if err != nil {
			return fmt.Errorf("failed to read descriptor: %w", err)
		}
		return outputData(out, "", res.Value)
	}

	chars, err := resolveCharacteristics(profile, uuidInput, readServiceUUID)
	if err != nil {
		return err
	}

	if len(chars) == 1 {
		if readWatch != "" {
			return watchChar(ctx, s, out, chars[0], watchInterval)
		}
		res, err := s.perform(ctx, device.ReadCharacteristic{Characteristic: chars[0]})
		if err != nil {
			return fmt.Errorf("failed to read characteristic: %w", err)
		}
		return outputData(out, "", res.Value)
	}

	return performMultiRead(ctx, s, out, cmd.ErrOrStderr(), chars)
}

// performMultiRead reads each characteristic in order, prefixing every value with its UUID.
// A failed read is reported and does not stop the others.
func performMultiRead(ctx context.Context, s *session, out, errOut io.Writer, chars []*device.Characteristic) error {
	// every read is queued before the first completes
	pending := make([]*device.Pending, len(chars))
	for i, c := range chars {
		p, err := s.device.Enqueue(device.ReadCharacteristic{Characteristic: c})
		if err != nil {
			return err
		}
		pending[i] = p
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.Action.Timeout*time.Duration(len(chars)))
	defer cancel()

	for i, p := range pending {
		res, err := p.Wait(actx)
		if err != nil {
			if errors.Is(err, device.ErrNotConnected) {
				return ErrConnectionLost
			}
			fmt.Fprintf(errOut, "%s: error: %v\n", chars[i].UUID(), err)
			continue
		}
		if err := outputData(out, chars[i].UUID()+": ", res.Value); err != nil {
			return err
		}
	}
	return nil
}

// watchChar reads c every interval until ctx ends or the link goes away.
func watchChar(ctx context.Context, s *session, out io.Writer, c *device.Characteristic, interval time.Duration) error {
	s.logger.WithField("interval", interval).Debug("Watching characteristic")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := s.perform(ctx, device.ReadCharacteristic{Characteristic: c})
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, device.ErrNotConnected):
			return ErrConnectionLost
		case err != nil:
			s.logger.WithError(err).Warn("Failed to read characteristic, continuing...")
		default:
			if err := outputData(out, "", res.Value); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// outputData writes data as hex or raw bytes according to --hex.
func outputData(out io.Writer, prefix string, data []byte) error {
	if readHex {
		_, err := fmt.Fprintf(out, "%s%s\n", prefix, hex.EncodeToString(data))
		return err
	}
	if prefix != "" {
		fmt.Fprint(out, prefix)
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	if prefix != "" {
		fmt.Fprintln(out)
	}
	return nil
}
