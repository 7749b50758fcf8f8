package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/device"
)

// mtuCmd represents the mtu command
var mtuCmd = &cobra.Command{
	Use:   "mtu <device-address> <size>",
	Short: "Negotiate the ATT MTU",
	Long: `Connects to a peripheral, requests an ATT MTU and prints the negotiated value.
The result never exceeds what the peripheral supports.

Examples:
  blecentral mtu AA:BB:CC:DD:EE:FF 247`,
	Args: cobra.ExactArgs(2),
	RunE: runMTU,
}

const maxATTMTU = 517

func runMTU(cmd *cobra.Command, args []string) error {
	size, err := strconv.Atoi(args[1])
	if err != nil || size < device.DefaultMTU || size > maxATTMTU {
		return fmt.Errorf("invalid MTU %q: must be between %d and %d", args[1], device.DefaultMTU, maxATTMTU)
	}

	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Negotiating MTU with %s", args[0]), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	s, err := openSession(ctx, env, args[0], progress.Callback())
	if err != nil {
		return err
	}
	defer s.Close()
	progress.Stop()

	res, err := s.perform(ctx, device.RequestMTU{MTU: size})
	if err != nil {
		return fmt.Errorf("failed to negotiate MTU: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "MTU: %d\n", res.MTU)
	return nil
}
