package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	config "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Config"
	container "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Container"
	dashboard "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Dashboard"
)

var (
	jsonOutput bool

	// openService builds the dashboard service over the configured store.
	// Replaced in tests.
	openService = openStoreService
)

// logToStderr keeps log lines out of command output such as CSV on stdout
func logToStderr(cfg *config.DashboardConfig) {
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
}

func openStoreService(ctx context.Context) (*dashboard.Service, func(), error) {
	ctr, err := container.NewDashboardContainer("airctl", logToStderr)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = ctr.Shutdown(context.Background()) }

	repo, err := ctr.GetReadingRepository(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	svc, err := dashboard.NewService(repo, ctr.GetConfig().Dashboard, ctr.GetLogger())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "airctl",
		Short:         "Operator CLI for the air quality sensor store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	root.AddCommand(newExportCmd())
	root.AddCommand(newParseCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
