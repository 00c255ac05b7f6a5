package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sensor freshness and the latest reading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, cleanup, err := openService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			view, err := svc.Render(ctx, 1, 1)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, view)
			}

			if !view.Connection.OK {
				fmt.Fprintf(w, "Store: unreachable (%s)\n", view.Connection.Error)
			} else {
				fmt.Fprintln(w, "Store: connected")
			}
			if view.Empty {
				fmt.Fprintln(w, "No data currently available.")
				return nil
			}

			fmt.Fprintln(w, view.Freshness.Message)
			fmt.Fprintf(w, "  Latest CO Level:  %s\n", view.Metrics.COLevel)
			fmt.Fprintf(w, "  Latest Moisture:  %s\n", view.Metrics.Moisture)
			fmt.Fprintf(w, "  Air Quality:      %s (%s)\n", view.Metrics.AirQuality.Label, view.Metrics.AirQuality.Description)
			fmt.Fprintf(w, "  Reading Recorded: %s\n", view.Metrics.Recorded)
			fmt.Fprintf(w, "  Total readings:   %d\n", view.History.Total)
			return nil
		},
	}
}
