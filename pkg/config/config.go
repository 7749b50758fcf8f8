package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/scanner"
)

// ScanConfig controls discovery sessions started by the CLI.
type ScanConfig struct {
	Duration  time.Duration `yaml:"duration" default:"10s"`
	Services  []string      `yaml:"services"`
	CleanMode string        `yaml:"clean_mode" default:"remove_all"`
}

// ConnectConfig bounds connection establishment.
type ConnectConfig struct {
	Timeout         time.Duration `yaml:"timeout" default:"30s"`
	Retries         int           `yaml:"retries" default:"2"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout" default:"15s"`
}

type ActionConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"10s"`
}

type RSSIConfig struct {
	Interval time.Duration `yaml:"interval" default:"1s"`
}

// Config holds application configuration
type Config struct {
	LogLevel     string        `yaml:"log_level" default:"info"`
	OutputFormat string        `yaml:"output_format" default:"table"` // table, json
	Scan         ScanConfig    `yaml:"scan"`
	Connect      ConnectConfig `yaml:"connect"`
	Action       ActionConfig  `yaml:"action"`
	RSSI         RSSIConfig    `yaml:"rssi"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format: unsupported format %q (use table or json)", c.OutputFormat))
	}
	if c.Scan.Duration < 0 {
		errs = append(errs, errors.New("scan.duration: must not be negative"))
	}
	if _, err := scanner.ParseCleanMode(c.Scan.CleanMode); err != nil {
		errs = append(errs, fmt.Errorf("scan.clean_mode: %w", err))
	}
	for _, s := range c.Scan.Services {
		if device.NewScanFilter(s).IsEmpty() {
			errs = append(errs, fmt.Errorf("scan.services: invalid UUID %q", s))
		}
	}
	if c.Connect.Timeout <= 0 {
		errs = append(errs, errors.New("connect.timeout: must be positive"))
	}
	if c.Connect.Retries < 0 {
		errs = append(errs, errors.New("connect.retries: must not be negative"))
	}
	if c.Connect.DiscoverTimeout <= 0 {
		errs = append(errs, errors.New("connect.discover_timeout: must be positive"))
	}
	if c.Action.Timeout <= 0 {
		errs = append(errs, errors.New("action.timeout: must be positive"))
	}
	if c.RSSI.Interval <= 0 {
		errs = append(errs, errors.New("rssi.interval: must be positive"))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// ScanFilter returns the configured scan services as a filter.
func (c *Config) ScanFilter() device.ScanFilter {
	return device.NewScanFilter(c.Scan.Services...)
}

// CleanMode returns the configured clean mode; Validate reports unknown values.
func (c *Config) CleanMode() scanner.CleanMode {
	mode, _ := scanner.ParseCleanMode(c.Scan.CleanMode)
	return mode
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
