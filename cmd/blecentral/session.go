package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/internal/device"
	goble "github.com/srg/blecentral/internal/device/go-ble"
	"github.com/srg/blecentral/pkg/config"
)

// newDriver builds the radio driver used by every command.
var newDriver = func(cfg *config.Config, logger *logrus.Logger) device.RadioDriver {
	return goble.NewDriver(logger, cfg.Connect.Timeout)
}

// newGate reports radio availability. The host stacks go-ble drives have no
// permission model, so the gate is static.
var newGate = func() device.PermissionGate {
	return device.NewStaticGate(true, true)
}

// retryBackoff is the pause between connection attempts.
var retryBackoff = 500 * time.Millisecond

// commandEnv is what every command needs before touching the radio.
type commandEnv struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func newCommandEnv(cmd *cobra.Command) (*commandEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}
	return &commandEnv{cfg: cfg, logger: logger}, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// session is one connected, discovered peripheral.
type session struct {
	central *central.Central
	device  *device.Device
	cfg     *config.Config
	logger  *logrus.Logger
}

// openSession connects to address with bounded retries and discovers its services.
func openSession(ctx context.Context, env *commandEnv, address string, progress func(phase string)) (*session, error) {
	if progress == nil {
		progress = func(string) {}
	}

	id := device.ParseIdentifier(address)
	if id == "" {
		return nil, fmt.Errorf("device address required")
	}

	c := central.New(newDriver(env.cfg, env.logger), newGate(), env.logger)
	s := &session{central: c, device: c.Device(id), cfg: env.cfg, logger: env.logger}

	progress("Connecting")
	if err := s.connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	progress("Discovering")
	dctx, cancel := context.WithTimeout(ctx, env.cfg.Connect.DiscoverTimeout)
	defer cancel()
	if err := s.device.DiscoverServices(dctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	progress("Processing")
	return s, nil
}

func (s *session) connect(ctx context.Context) error {
	attempts := s.cfg.Connect.Retries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.Connect.Timeout)
		err = s.device.Connect(cctx)
		cancel()
		if err == nil {
			return nil
		}

		// abandon the attempt the driver may still be running
		_ = s.device.Disconnect(context.Background())

		if ctx.Err() != nil || !retryable(err) || attempt == attempts {
			break
		}
		s.logger.WithFields(logrus.Fields{
			"device_id": s.device.ID(),
			"attempt":   attempt,
			"error":     err,
		}).Warn("Connection attempt failed, retrying")

		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to connect to %s: %w", s.device.ID(), err)
}

func retryable(err error) bool {
	return !errors.Is(err, device.ErrBluetoothOff) &&
		!errors.Is(err, device.ErrNoPermission) &&
		!errors.Is(err, device.ErrUnsupported) &&
		!errors.Is(err, device.ErrClosed)
}

// perform runs one action bounded by the configured action timeout.
func (s *session) perform(ctx context.Context, action device.Action) (device.ActionResult, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.Action.Timeout)
	defer cancel()
	return s.device.Perform(actx, action)
}

// Close disconnects and releases the driver.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.device.State() != device.Disconnected {
		if err := s.device.Disconnect(ctx); err != nil {
			s.logger.WithField("error", err).Debug("Disconnect failed during close")
		}
	}
	return s.central.Close()
}
