package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetup/fleetup/pkg/cli"
	"github.com/fleetup/fleetup/pkg/report"
	"github.com/fleetup/fleetup/pkg/util"
)

var (
	reportLimit  int
	reportOutDir string
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show saved runs",
	Long: `Load a finished run from Redis and print its summary, or list the
most recent runs when no run ID is given.

With --out the run's report files are written again under that directory.

Examples:
  fleetup report
  fleetup report 3f6c1d2e-... --json
  fleetup report 3f6c1d2e-... --out /tmp/reports`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !userSettings.Redis.Enabled() {
			return fmt.Errorf("no run store: fleetup settings set redis.addr <host:port>: %w", util.ErrInvalidConfig)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store := report.NewRedisStore(userSettings.Redis)
		defer store.Close()

		if len(args) == 0 {
			return listRuns(ctx, store)
		}

		run, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		if reportOutDir != "" {
			dir, err := writeReports(reportOutDir, run)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Reports written to %s\n", dir)
		}
		if jsonOutput {
			return report.Encode(os.Stdout, run.Records)
		}
		fmt.Printf("Run %s: %s of %d devices, %s\n\n", run.ID, run.Operation, len(run.Records),
			run.Started.Local().Format("2006-01-02 15:04:05"))
		printSummary(run)
		return nil
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportLimit, "limit", 20, "Runs to list")
	reportCmd.Flags().StringVar(&reportOutDir, "out", "", "Write the run's report files under this directory")
}

func listRuns(ctx context.Context, store report.Store) error {
	ids, err := store.List(ctx, reportLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No saved runs")
		return nil
	}

	t := cli.NewTable("RUN", "OPERATION", "STARTED", "DEVICES", "FAILED")
	for _, id := range ids {
		run, err := store.Load(ctx, id)
		if err != nil {
			util.Debugf("skipping run %s: %v", id, err)
			continue
		}
		failed := 0
		for i := range run.Records {
			if run.Records[i].Failed() {
				failed++
			}
		}
		t.Row(run.ID, run.Operation, run.Started.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprint(len(run.Records)), fmt.Sprint(failed))
	}
	t.Flush()
	return nil
}
