package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/handlink/internal/codec"
)

func newDecodeCmd(_ *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <payload|->",
		Short: "Decode a telemetry payload",
		Long: `Runs the telemetry decoder on a notification payload and prints the
orientation as JSON. Use - to read the payload from standard input.`,
		Example: `  handlink decode '{"rpy":{"roll":1.5,"pitch":-30,"yaw":90}}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if args[0] == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				payload = b
			}

			t, err := codec.DecodeTelemetry(payload)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(t, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
			return err
		},
	}
}
