package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/handlink/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// cli carries the state shared by all subcommands of one invocation.
type cli struct {
	cfg        *config.Config
	configPath string
	logger     *logrus.Logger
}

// newRootCmd builds the command tree with a fresh configuration.
func newRootCmd() *cobra.Command {
	c := &cli{cfg: config.DefaultConfig()}

	root := &cobra.Command{
		Use:   "handlink",
		Short: "BLE session manager for an actuated hand",
		Long: `Connects to the hand controller over Bluetooth Low Energy and drives it:

- Scans for the advertised device name and connects with a 187 byte MTU
- Streams roll/pitch/yaw telemetry from the hand characteristic
- Sends up, down and toggle commands with write confirmation
- Tracks the manual target angle within the configured limits

Settings come from defaults, an optional YAML file (--config) and flags.`,
		Version:           formatVersion(version),
		PersistentPreRunE: c.prepare,
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	root.SilenceErrors = true
	root.SilenceUsage = true

	pf := root.PersistentFlags()
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("verbose", false, "Enable debug logging")
	pf.StringVar(&c.configPath, "config", "", "YAML configuration file")
	c.cfg.BindFlags(pf)

	// Add -v as a short flag for --version
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(newRunCmd(c))
	root.AddCommand(newSendCmd(c))
	root.AddCommand(newDecodeCmd(c))
	return root
}

// prepare merges the config file under explicit flags and builds the logger.
func (c *cli) prepare(cmd *cobra.Command, _ []string) error {
	if c.configPath != "" {
		if err := c.cfg.MergeFile(c.configPath, cmd.Flags()); err != nil {
			return err
		}
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	if c.configPath != "" && !cmd.Flags().Changed("log-level") && !verbose {
		logger.SetLevel(c.cfg.LogLevel)
	}
	c.logger = logger
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
