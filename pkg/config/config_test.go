package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/scanner"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 10*time.Second, cfg.Scan.Duration)
	assert.Empty(t, cfg.Scan.Services)
	assert.Equal(t, scanner.RemoveAll, cfg.CleanMode())
	assert.Equal(t, 30*time.Second, cfg.Connect.Timeout)
	assert.Equal(t, 2, cfg.Connect.Retries)
	assert.Equal(t, 15*time.Second, cfg.Connect.DiscoverTimeout)
	assert.Equal(t, 10*time.Second, cfg.Action.Timeout)
	assert.Equal(t, time.Second, cfg.RSSI.Interval)
	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blecentral.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
output_format: json
scan:
  duration: 3s
  services: ["180D", "0000180f-0000-1000-8000-00805f9b34fb"]
  clean_mode: retain-all
connect:
  retries: 5
rssi:
  interval: 250ms
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, logrus.DebugLevel, cfg.Level())
		assert.Equal(t, "json", cfg.OutputFormat)
		assert.Equal(t, 3*time.Second, cfg.Scan.Duration)
		assert.Equal(t, "180d,180f", cfg.ScanFilter().Key())
		assert.Equal(t, scanner.RetainAll, cfg.CleanMode())
		assert.Equal(t, 5, cfg.Connect.Retries)
		assert.Equal(t, 250*time.Millisecond, cfg.RSSI.Interval)

		// untouched keys keep their defaults
		assert.Equal(t, 30*time.Second, cfg.Connect.Timeout)
		assert.Equal(t, 10*time.Second, cfg.Action.Timeout)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scan: [unterminated"))
		assert.ErrorContains(t, err, "failed to parse config")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "output_format: csv\n"))
		assert.ErrorContains(t, err, "output_format")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad output format", func(c *Config) { c.OutputFormat = "xml" }, "output_format"},
		{"negative scan duration", func(c *Config) { c.Scan.Duration = -time.Second }, "scan.duration"},
		{"bad clean mode", func(c *Config) { c.Scan.CleanMode = "sometimes" }, "scan.clean_mode"},
		{"bad service uuid", func(c *Config) { c.Scan.Services = []string{"heart"} }, "scan.services"},
		{"zero connect timeout", func(c *Config) { c.Connect.Timeout = 0 }, "connect.timeout"},
		{"negative retries", func(c *Config) { c.Connect.Retries = -1 }, "connect.retries"},
		{"zero discover timeout", func(c *Config) { c.Connect.DiscoverTimeout = 0 }, "connect.discover_timeout"},
		{"zero action timeout", func(c *Config) { c.Action.Timeout = 0 }, "action.timeout"},
		{"zero rssi interval", func(c *Config) { c.RSSI.Interval = 0 }, "rssi.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LogLevel = "loud"
		cfg.RSSI.Interval = 0
		err := cfg.Validate()
		assert.ErrorContains(t, err, "log_level")
		assert.ErrorContains(t, err, "rssi.interval")
	})
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with info level", "info", logrus.InfoLevel},
		{"creates logger with warn level", "warn", logrus.WarnLevel},
		{"creates logger with error level", "error", logrus.ErrorLevel},
		{"falls back to info on unknown level", "loud", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
