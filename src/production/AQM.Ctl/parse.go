package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
	parser "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Parser"
)

func newParseCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "parse PAYLOAD",
		Short: "Parse a sensor payload the way the subscriber would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := parser.Mode(strings.ToLower(mode))
			if m != parser.ModePositional && m != parser.ModeLabeled {
				return fmt.Errorf("unknown mode %q (want positional or labeled)", mode)
			}

			reading := parser.New(m, logger.Nop()).Parse(args[0])
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, reading)
			}
			if reading == nil {
				fmt.Fprintln(w, "no result")
				return nil
			}
			fmt.Fprintf(w, "co_ppm=%d moisture=%d\n", reading.COPPM, reading.Moisture)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(parser.ModePositional), "positional or labeled")
	return cmd
}
