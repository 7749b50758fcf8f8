package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/device"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect services, characteristics, and descriptors of a BLE device",
	Long: `Connects to a BLE device by address and discovers its services,
characteristics, and descriptors. Readable characteristics and every descriptor
are read through the device action queue, one at a time.

Examples:
  # Print the GATT profile with value previews
  blecentral inspect AA:BB:CC:DD:EE:FF

  # Profile only, no reads
  blecentral inspect AA:BB:CC:DD:EE:FF --read-limit 0

  # JSON output
  blecentral inspect AA:BB:CC:DD:EE:FF --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

const defaultInspectReadLimit = 64

var (
	inspectFormat    string
	inspectReadLimit int
)

func init() {
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "", "Output format (table, json)")
	inspectCmd.Flags().IntVar(&inspectReadLimit, "read-limit", defaultInspectReadLimit, "Max bytes shown per value (0 to disable reads)")
}

// InspectResult is the discovered profile of one device with value previews.
type InspectResult struct {
	Address  string        `json:"address"`
	MTU      int           `json:"mtu"`
	Services []ServiceInfo `json:"services"`
}

type ServiceInfo struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Characteristics []CharacteristicInfo `json:"characteristics"`
}

type CharacteristicInfo struct {
	UUID        string           `json:"uuid"`
	Name        string           `json:"name,omitempty"`
	Properties  string           `json:"properties"`
	ValueHex    string           `json:"value_hex,omitempty"`
	ValueASCII  string           `json:"value_ascii,omitempty"`
	Error       string           `json:"error,omitempty"`
	Descriptors []DescriptorInfo `json:"descriptors,omitempty"`
}

type DescriptorInfo struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name,omitempty"`
	ValueHex string `json:"value_hex,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]
	if inspectReadLimit < 0 {
		return fmt.Errorf("invalid read limit %d: must not be negative", inspectReadLimit)
	}

	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		env.cfg.OutputFormat = inspectFormat
	}
	if err := env.cfg.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting device %s", address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	s, err := openSession(ctx, env, address, progress.Callback())
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := inspectProfile(ctx, s, inspectReadLimit)
	progress.Stop()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if env.cfg.OutputFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return displayInspectText(out, result)
}

// inspectRead is one queued read and where its outcome goes.
type inspectRead struct {
	pending *device.Pending
	store   func(value []byte, err error)
}

// inspectProfile walks the discovered profile. With a positive readLimit every
// readable characteristic and every descriptor is queued for reading up front;
// a failed read is recorded in the result and does not stop the walk.
func inspectProfile(ctx context.Context, s *session, readLimit int) (*InspectResult, error) {
	profile := s.device.Profile()
	if profile == nil {
		return nil, device.ErrNotConnected
	}

	result := &InspectResult{Address: s.device.ID().String(), MTU: s.device.MTU()}
	var reads []inspectRead

	enqueue := func(action device.Action, store func([]byte, error)) error {
		if readLimit == 0 {
			return nil
		}
		p, err := s.device.Enqueue(action)
		if err != nil {
			return err
		}
		reads = append(reads, inspectRead{pending: p, store: store})
		return nil
	}

	for _, svc := range profile.Services() {
		chars := svc.Characteristics()
		si := ServiceInfo{
			UUID:            svc.UUID(),
			Name:            svc.KnownName(),
			Characteristics: make([]CharacteristicInfo, len(chars)),
		}

		for i, c := range chars {
			descs := c.Descriptors()
			ci := &si.Characteristics[i]
			*ci = CharacteristicInfo{
				UUID:       c.UUID(),
				Name:       c.KnownName(),
				Properties: c.Properties().String(),
			}
			if len(descs) > 0 {
				ci.Descriptors = make([]DescriptorInfo, len(descs))
			}

			if c.Properties().Has(device.PropRead) {
				err := enqueue(device.ReadCharacteristic{Characteristic: c}, func(v []byte, err error) {
					if err != nil {
						ci.Error = err.Error()
						return
					}
					v = preview(v, readLimit)
					ci.ValueHex = hex.EncodeToString(v)
					ci.ValueASCII = asciiPreview(v)
				})
				if err != nil {
					return nil, err
				}
			}

			for j, d := range descs {
				di := &ci.Descriptors[j]
				*di = DescriptorInfo{UUID: d.UUID(), Name: d.KnownName()}
				err := enqueue(device.ReadDescriptor{Descriptor: d}, func(v []byte, err error) {
					if err != nil {
						di.Error = err.Error()
						return
					}
					di.ValueHex = hex.EncodeToString(preview(v, readLimit))
				})
				if err != nil {
					return nil, err
				}
			}
		}
		result.Services = append(result.Services, si)
	}
	if result.Services == nil {
		result.Services = []ServiceInfo{}
	}

	for _, r := range reads {
		actx, cancel := context.WithTimeout(ctx, s.cfg.Action.Timeout)
		res, err := r.pending.Wait(actx)
		cancel()
		if errors.Is(err, device.ErrNotConnected) {
			return nil, ErrConnectionLost
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			s.logger.WithField("action", r.pending.Action).WithError(err).Warn("Inspect read failed")
		}
		r.store(res.Value, err)
	}
	return result, nil
}

func displayInspectText(out io.Writer, r *InspectResult) error {
	fmt.Fprintf(out, "Device %s (MTU %d)\n", r.Address, r.MTU)
	for _, svc := range r.Services {
		fmt.Fprintf(out, "\nService %s\n", displayName(svc.UUID, svc.Name))
		for _, c := range svc.Characteristics {
			fmt.Fprintf(out, "  Characteristic %s [%s]\n", displayName(c.UUID, c.Name), c.Properties)
			switch {
			case c.Error != "":
				fmt.Fprintf(out, "    Error: %s\n", c.Error)
			case c.ValueHex != "":
				fmt.Fprintf(out, "    Value: %s %q\n", c.ValueHex, c.ValueASCII)
			}
			for _, d := range c.Descriptors {
				fmt.Fprintf(out, "    Descriptor %s\n", displayName(d.UUID, d.Name))
				switch {
				case d.Error != "":
					fmt.Fprintf(out, "      Error: %s\n", d.Error)
				case d.ValueHex != "":
					fmt.Fprintf(out, "      Value: %s\n", d.ValueHex)
				}
			}
		}
	}
	return nil
}

func preview(v []byte, limit int) []byte {
	if limit > 0 && len(v) > limit {
		return v[:limit]
	}
	return v
}

// asciiPreview returns a safe ASCII preview, replacing non-printable bytes with '.'
func asciiPreview(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 32 && c <= 126 {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
