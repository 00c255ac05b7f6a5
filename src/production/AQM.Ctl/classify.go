package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	dashboard "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Dashboard"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify PPM",
		Short: "Show the air quality band for a CO concentration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ppm, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid PPM %q: %w", args[0], err)
			}

			aq := dashboard.Classify(ppm)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), aq)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", aq.Label, aq.Description)
			return nil
		},
	}
}
