package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for Bluetooth Low Energy peripherals and list what was heard.

Devices are listed in discovery order with their name, address, signal strength
and advertised services. With --services only peripherals advertising at least
one of the given services are reported.

Examples:
  # Scan for 10 seconds
  blecentral scan

  # Scan for heart-rate monitors, print each discovery as it happens
  blecentral scan --services 180d --watch

  # JSON output
  blecentral scan --duration 5s --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanServices []string
	scanWatch    bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 for the configured default)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only report devices advertising these service UUIDs")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print discoveries as they happen")
}

// scanEntry is the JSON form of a discovered device.
type scanEntry struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	RSSI             int               `json:"rssi"`
	Connectable      bool              `json:"connectable"`
	Services         []string          `json:"services"`
	TxPower          *int              `json:"tx_power,omitempty"`
	ManufacturerData string            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string]string `json:"service_data,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}

	// flags override the config file
	if cmd.Flags().Changed("duration") {
		env.cfg.Scan.Duration = scanDuration
	}
	if cmd.Flags().Changed("format") {
		env.cfg.OutputFormat = scanFormat
	}
	if cmd.Flags().Changed("services") {
		env.cfg.Scan.Services = scanServices
	}
	if err := env.cfg.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if env.cfg.Scan.Duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, env.cfg.Scan.Duration)
		defer stop()
	}

	c := central.New(newDriver(env.cfg, env.logger), newGate(), env.logger)
	defer c.Close()

	filter := env.cfg.ScanFilter()
	sc := c.Scanner()
	if err := sc.StartScanning(filter, env.cfg.CleanMode()); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	out := cmd.OutOrStdout()
	var progress *ProgressPrinter
	if !scanWatch {
		progress = NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", env.cfg.Scan.Duration)
		progress.Start()
		defer progress.Stop()
	}

	// the scan can also end early when the driver reports a failure
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-sc.Events():
			if scanWatch && ev.Type == scanner.EventNew {
				printDiscovery(out, ev.Device)
			}
		case <-ticker.C:
			if sc.State() != scanner.StateScanning {
				break loop
			}
		}
	}
	if progress != nil {
		progress.Stop()
	}
	if scanWatch {
		drainDiscoveries(out, sc)
	}

	devices := c.Registry().DevicesForFilter(filter)
	scanErr := sc.LastError()
	if sc.State() == scanner.StateScanning {
		if err := sc.StopScanning(scanner.RetainAll); err != nil {
			env.logger.WithField("error", err).Warn("Failed to stop scan")
		}
	}
	if scanErr != nil {
		return fmt.Errorf("scan failed: %w", scanErr)
	}

	switch env.cfg.OutputFormat {
	case "json":
		return displayDevicesJSON(out, devices)
	default:
		if scanWatch {
			return nil
		}
		return displayDevicesTable(out, devices)
	}
}

// drainDiscoveries prints the discoveries still buffered when the scan ends.
func drainDiscoveries(out io.Writer, sc *scanner.Scanner) {
	for {
		select {
		case ev := <-sc.Events():
			if ev.Type == scanner.EventNew {
				printDiscovery(out, ev.Device)
			}
		default:
			return
		}
	}
}

func printDiscovery(w io.Writer, d *device.Device) {
	name := d.Advertisement().LocalName()
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(w, "%s  %-20s %s\n", d.ID(), name, rssiString(w, d.RSSI()))
}

func displayDevicesTable(out io.Writer, devices []*device.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, d := range devices {
		adv := d.Advertisement()
		name := adv.LocalName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(adv.Services(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, d.ID(), rssiString(out, d.RSSI()), services)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []*device.Device) error {
	entries := make([]scanEntry, 0, len(devices))
	for _, d := range devices {
		adv := d.Advertisement()
		e := scanEntry{
			ID:          d.ID().String(),
			Name:        adv.LocalName(),
			RSSI:        d.RSSI(),
			Connectable: adv.Connectable(),
			Services:    adv.Services(),
		}
		if e.Services == nil {
			e.Services = []string{}
		}
		if tx, ok := adv.TxPower(); ok {
			e.TxPower = &tx
		}
		if md := adv.ManufacturerData(); len(md) > 0 {
			e.ManufacturerData = hex.EncodeToString(md)
		}
		if sd := adv.ServiceData(); len(sd) > 0 {
			e.ServiceData = make(map[string]string, len(sd))
			for k, v := range sd {
				e.ServiceData[k] = hex.EncodeToString(v)
			}
		}
		entries = append(entries, e)
	}

	// wrapped in an object so the output can be diffed key-wise
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string][]scanEntry{"devices": entries})
}

// rssiString renders a signal strength, coloured by quality when w is a terminal.
func rssiString(w io.Writer, rssi int) string {
	s := fmt.Sprintf("%d dBm", rssi)
	if !isTerminal(w) {
		return s
	}

	var c *color.Color
	switch {
	case rssi >= -60:
		c = color.New(color.FgGreen)
	case rssi >= -80:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed)
	}
	c.EnableColor()
	return c.Sprint(s)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
