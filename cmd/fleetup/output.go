package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/fleetup/fleetup/pkg/cli"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/fleet"
	"github.com/fleetup/fleetup/pkg/report"
	"github.com/fleetup/fleetup/pkg/util"
)

// Report file names inside a run directory.
const (
	recordsFile = "records.json"
	configFile  = "config_report.csv"
	upgradeFile = "upgrade_report.csv"
)

// runDirName is <start>_<operation>_<short id>, so runs sort by time.
func runDirName(run *report.Run) string {
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s", run.Started.Format("20060102-150405"), run.Operation, id)
}

func parsedFileName(info string) string {
	return "parsed_" + util.SanitizeName(info) + ".csv"
}

// writeReports writes the records and the CSV reports of run into a new
// directory under base and returns that directory.
func writeReports(base string, run *report.Run) (string, error) {
	dir := filepath.Join(base, runDirName(run))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	write := func(name string, fn func(io.Writer) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", name, err)
		}
		return f.Close()
	}

	if err := write(recordsFile, func(w io.Writer) error {
		return report.Encode(w, run.Records)
	}); err != nil {
		return "", err
	}

	switch fleet.Kind(run.Operation) {
	case fleet.KindUpgrade:
		if err := write(upgradeFile, func(w io.Writer) error {
			return report.WriteUpgradeCSV(w, report.UpgradeRows(run.Records))
		}); err != nil {
			return "", err
		}
	default:
		if err := write(configFile, func(w io.Writer) error {
			return report.WriteConfigCSV(w, report.ConfigRows(run.Records))
		}); err != nil {
			return "", err
		}
		parsed := report.ParsedByInfo(run.Records)
		for _, info := range sortedKeys(parsed) {
			rows := parsed[info]
			if err := write(parsedFileName(info), func(w io.Writer) error {
				return report.WriteParsedCSV(w, rows)
			}); err != nil {
				return "", err
			}
		}
	}
	return dir, nil
}

func printSummary(run *report.Run) {
	summaryTable(os.Stdout, run)
}

// summaryTable prints one row per upgrade step, or one row per command for
// collect and configure runs.
func summaryTable(w io.Writer, run *report.Run) {
	if fleet.Kind(run.Operation) == fleet.KindUpgrade {
		t := cli.NewTable("HOSTNAME", "ADDRESS", "STEP", "CURRENT", "TARGET", "STATUS").WithWriter(w)
		for _, r := range report.UpgradeRows(run.Records) {
			t.Row(r.Hostname, r.Address, r.Step, r.CurrentRelease, r.TargetRelease, colorStatus(r.Status))
		}
		t.Flush()
		return
	}
	t := cli.NewTable("HOSTNAME", "ADDRESS", "INFO", "COMMAND", "STATUS").WithWriter(w)
	for _, r := range report.ConfigRows(run.Records) {
		t.Row(r.Hostname, r.Address, r.Info, r.Command, colorStatus(r.Status))
	}
	t.Flush()
}

func colorStatus(status string) string {
	switch status {
	case "":
		return status
	case device.StatusDone, device.StatusAlreadyUpgraded, string(device.StatusConnected):
		return cli.Green(status)
	}
	if s := device.Status(status); s.Terminal() || s == device.StatusNotInScope {
		return cli.Yellow(status)
	}
	return cli.Red(status)
}

// sortedKeys returns the keys of m in order.
func sortedKeys(m map[string][]map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
