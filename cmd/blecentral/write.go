package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/device"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <uuid> <data>",
	Short: "Write to a characteristic or descriptor",
	Long: `Writes data to a BLE characteristic or descriptor.

Examples:
  # Write to characteristic (string data)
  blecentral write AA:BB:CC:DD:EE:FF 2a39 "Test"

  # Write hex data
  blecentral write AA:BB:CC:DD:EE:FF 2a39 01 --hex

  # Write to descriptor (enable notifications)
  blecentral write AA:BB:CC:DD:EE:FF 2902 0100 --hex --service 180d --char 2a37 --desc 2902

  # Write without response (faster, no ACK)
  blecentral write AA:BB:CC:DD:EE:FF 6e400002-b5a3-f393-e0a9-e50e24dcca9e "data" --without-response`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeCharUUID    string
	writeDescUUID    string
	writeHex         bool
	writeNoResponse  bool
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	writeCmd.Flags().StringVar(&writeCharUUID, "char", "", "Parent characteristic UUID when writing a descriptor")
	writeCmd.Flags().StringVar(&writeDescUUID, "desc", "", "Descriptor UUID (writes descriptor instead of characteristic)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	writeCmd.Flags().BoolVar(&writeNoResponse, "without-response", false, "Write without response (faster, no ACK); default waits for ACK, if available")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, targetUUID := args[0], args[1]

	data, err := parseWriteData(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}

	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Writing %d bytes to %s on %s", len(data), targetUUID, address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	s, err := openSession(ctx, env, address, progress.Callback())
	if err != nil {
		return err
	}
	defer s.Close()
	progress.Stop()

	profile := s.device.Profile()

	var action device.Action
	if writeDescUUID != "" {
		desc, err := resolveDescriptor(profile, writeDescUUID, writeCharUUID, writeServiceUUID)
		if err != nil {
			return err
		}
		action = device.WriteDescriptor{Descriptor: desc, Value: data}
	} else {
		c, err := resolveCharacteristic(profile, targetUUID, writeServiceUUID)
		if err != nil {
			return err
		}
		action, err = characteristicWrite(c, data)
		if err != nil {
			return err
		}
	}

	if _, err := s.perform(ctx, action); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Write successful")
	return nil
}

// characteristicWrite picks the write mode. With-response is the default when the
// characteristic supports it; --without-response forces the other mode.
func characteristicWrite(c *device.Characteristic, data []byte) (device.Action, error) {
	props := c.Properties()
	canWrite := props.Has(device.PropWrite)
	canWriteNoResponse := props.Has(device.PropWriteWithoutResponse)

	if !canWrite && !canWriteNoResponse {
		return nil, fmt.Errorf("characteristic %s does not support write operations", c.UUID())
	}
	if writeNoResponse && !canWriteNoResponse {
		return nil, fmt.Errorf("characteristic %s does not support write without response", c.UUID())
	}

	return device.WriteCharacteristic{
		Characteristic:  c,
		Value:           data,
		WithoutResponse: writeNoResponse || !canWrite,
	}, nil
}

// parseWriteData converts input string to bytes based on format flags
func parseWriteData(dataStr string) ([]byte, error) {
	if !writeHex {
		return []byte(dataStr), nil
	}

	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(dataStr)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
