// cmd/matrixctl/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	serialscan "matrix-service/internal/discovery/serial"
	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
)

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query power, input, audio and multiview state",
		Args:  cobra.NoArgs,
		RunE: withStack(opts, func(cmd *cobra.Command, s *stack) error {
			if err := s.client.TestConnection(cmd.Context()); err != nil {
				return err
			}
			snapshot, err := s.coordinator.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return printSnapshot(opts, cmd.OutOrStdout(), snapshot)
		}),
	}
}

func newPowerCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "power on|off",
		Short:     "Switch the matrix on or put it in standby",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch strings.ToLower(args[0]) {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("power state must be on or off, got %q", args[0])
			}
			return invoke(opts, protocol.SetPower(on))(cmd, args)
		},
	}
}

func newInputCommand(opts *options) *cobra.Command {
	return numberCommand(opts, "input N", "Route input N to the output", protocol.SetInput)
}

func newAudioCommand(opts *options) *cobra.Command {
	return numberCommand(opts, "audio N", "Select audio source N, 0 follows the video window", protocol.SetAudioOutput)
}

func newMultiviewCommand(opts *options) *cobra.Command {
	return numberCommand(opts, "multiview N", "Select layout 1 single, 2 pip, 3 pbp, 4 triple or 5 quad", protocol.SetMultiview)
}

func numberCommand(opts *options, use, short string, build func(int) protocol.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("expected a number, got %q", args[0])
			}
			return invoke(opts, build(n))(cmd, args)
		},
	}
}

// invoke sends an actuation through the coordinator and prints the
// refreshed state
func invoke(opts *options, command protocol.Command) func(*cobra.Command, []string) error {
	return withStack(opts, func(cmd *cobra.Command, s *stack) error {
		if err := s.coordinator.Invoke(cmd.Context(), command); err != nil {
			return err
		}
		return printSnapshot(opts, cmd.OutOrStdout(), s.coordinator.Snapshot())
	})
}

func newPortsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configured := opts.port
			if configured == "" {
				if cfg, err := loadConfig(opts); err == nil {
					configured = cfg.Serial.Port
				}
			}

			ports, err := serialscan.NewScanner(nil, configured).List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, ports)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT\t")
			for _, p := range ports {
				name := p.Name
				if p.Configured {
					name += " *"
				}
				ids := ""
				if p.IsUSB {
					ids = p.VID + ":" + p.PID
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t\n", name, p.IsUSB, ids, p.SerialNumber, p.Product)
			}
			return w.Flush()
		},
	}
}

func printSnapshot(opts *options, out io.Writer, s model.Snapshot) error {
	if opts.json {
		return writeJSON(out, s)
	}

	fmt.Fprintf(out, "power:     %s\n", s.Power)
	if s.Input > 0 {
		fmt.Fprintf(out, "input:     %d\n", s.Input)
	} else {
		fmt.Fprintln(out, "input:     unknown")
	}
	if s.AudioOutput != nil {
		fmt.Fprintf(out, "audio:     %d\n", *s.AudioOutput)
	}
	if s.Multiview != nil {
		fmt.Fprintf(out, "multiview: %s\n", s.MultiviewName())
	}
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
