//go:build test

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/pkg/config"
)

// newFlagCommand mirrors the persistent flags of rootCmd on a standalone command.
func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "blecentral.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_level: warn\n"), 0o600))

	tests := []struct {
		name     string
		args     []string
		expected logrus.Level
		errMsg   string
	}{
		{"silent by default", nil, logrus.PanicLevel, ""},
		{"verbose", []string{"--verbose"}, logrus.DebugLevel, ""},
		{"log level", []string{"--log-level", "error"}, logrus.ErrorLevel, ""},
		{"log level beats verbose", []string{"--verbose", "--log-level", "info"}, logrus.InfoLevel, ""},
		{"config file", []string{"--config", cfgPath}, logrus.WarnLevel, ""},
		{"verbose beats config file", []string{"--config", cfgPath, "--verbose"}, logrus.DebugLevel, ""},
		{"invalid log level", []string{"--log-level", "loud"}, 0, "invalid log level: loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newFlagCommand(t, tt.args...)

			cfg, err := loadConfig(cmd)
			require.NoError(t, err)

			logger, err := configureLogger(cmd, "verbose", cfg)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cmd := newFlagCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loadConfig(cmd)
	assert.ErrorContains(t, err, "failed to read config")

	// without --config the defaults apply
	cfg, err := loadConfig(newFlagCommand(t))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}
