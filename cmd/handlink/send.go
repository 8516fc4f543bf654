package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/handlink/internal/codec"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/session"
)

func newSendCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "send <up|down|toggle>",
		Short: "Connect, send one command and disconnect",
		Long: `Connects to the hand, writes a single command with response and disconnects.

Exits non-zero if the connection fails or the hand does not confirm the write.`,
		Example: `  handlink send toggle
  handlink send up --name left-hand --scan-timeout 10s`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(codec.CommandUp), string(codec.CommandDown), string(codec.CommandToggle)},
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := codec.ParseCommand(args[0])
			if err != nil {
				return err
			}
			return c.send(cmd, command)
		},
	}
}

func (c *cli) send(cmd *cobra.Command, command codec.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errOut := cmd.ErrOrStderr()
	mgr, err := c.newManager(cmd.InOrStdin(), errOut)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			c.logger.WithField("error", err).Warn("Disconnect failed")
		}
	}()

	if isTerminal(errOut) {
		progress := NewProgressPrinter(errOut, "Connecting to "+c.cfg.Device.Name, session.Scanning.String(),
			session.Ready.String(), session.Failed.String()).
			WithCountdown(session.Scanning.String(), c.cfg.Timeouts.Scan)
		progress.Start()
		defer progress.Stop()
		go func() {
			for ev := range mgr.Events() {
				progress.SetPhase(ev.Status.State.String())
			}
		}()
	}

	if err := mgr.Connect(ctx); err != nil {
		return err
	}

	if !mgr.SendCommand(ctx, command) {
		return device.Fail(device.WriteFailure, ErrCommandNotSent, "%s", command)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s sent to %s\n", command, mgr.Status().DeviceName)
	return nil
}
