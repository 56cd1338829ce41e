package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetup/fleetup/pkg/audit"
	"github.com/fleetup/fleetup/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View audit logs",
	Long: `View the audit log of destructive actions: configuration sets sent,
configurations saved, images copied and files deleted.

The log is enabled with: fleetup settings set audit_log <path>

Examples:
  fleetup audit list --device 10.0.0.1
  fleetup audit list --last 24h
  fleetup audit list --run 3f6c1d2e-... --failures`,
}

var (
	auditDevice   string
	auditUser     string
	auditRun      string
	auditLast     string
	auditLimit    int
	auditFailures bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditLogger == nil {
			return fmt.Errorf("audit logging is not enabled: fleetup settings set audit_log <path>")
		}
		filter := audit.Filter{
			Device:      auditDevice,
			User:        auditUser,
			RunID:       auditRun,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}

		// Parse --last duration
		if auditLast != "" {
			duration, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(events)
		}

		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "USER", "DEVICE", "OPERATION", "TARGET", "STATUS")
		for _, event := range events {
			status := cli.Green("ok")
			if !event.Success {
				status = cli.Red("failed")
			}
			target := event.File
			if event.Region != "" {
				target = event.Region + event.File
			}
			if target == "" && len(event.Commands) > 0 {
				target = fmt.Sprintf("%d lines", len(event.Commands))
			}
			t.Row(
				event.Timestamp.Local().Format("2006-01-02 15:04:05"),
				event.User,
				event.Device,
				event.Operation,
				target,
				status,
			)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditDevice, "device", "", "Filter by device address")
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditListCmd.Flags().StringVar(&auditRun, "run", "", "Filter by run ID")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed operations")

	auditCmd.AddCommand(auditListCmd)
}
