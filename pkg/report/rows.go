package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/parse"
)

// ConfigRow is one line of the configuration report.
type ConfigRow struct {
	Hostname string
	Address  string
	Info     string
	Command  string
	Status   string
}

// ConfigRows lists every command of every device. A command that never
// ran reports its device status; a device without commands gets one row
// carrying its status.
func ConfigRows(records []DeviceRecord) []ConfigRow {
	var rows []ConfigRow
	for _, rec := range records {
		if len(rec.Commands) == 0 {
			rows = append(rows, ConfigRow{Hostname: rec.Hostname, Address: rec.Address, Status: deviceStatus(rec)})
			continue
		}
		for _, c := range rec.Commands {
			status := c.Status
			if status == "" {
				status = deviceStatus(rec)
			}
			rows = append(rows, ConfigRow{
				Hostname: rec.Hostname,
				Address:  rec.Address,
				Info:     c.Info,
				Command:  c.Command,
				Status:   status,
			})
		}
	}
	return rows
}

func deviceStatus(rec DeviceRecord) string {
	if rec.Status == "" && rec.Error != "" {
		return rec.Error
	}
	return rec.Status
}

// UpgradeRow is one line of the upgrade report.
type UpgradeRow struct {
	Hostname       string
	Address        string
	Step           string
	CurrentRelease string
	TargetRelease  string
	Status         string
}

// UpgradeRows lists every upgrade step of every device. A device that
// stopped before its first step gets one row carrying the device status.
// The current release is left empty for devices that failed authentication.
func UpgradeRows(records []DeviceRecord) []UpgradeRow {
	var rows []UpgradeRow
	for _, rec := range records {
		if len(rec.Steps) == 0 {
			rows = append(rows, UpgradeRow{Hostname: rec.Hostname, Address: rec.Address, Status: deviceStatus(rec)})
			continue
		}
		for _, s := range rec.Steps {
			status := s.Status
			if status == "" {
				status = deviceStatus(rec)
			}
			row := UpgradeRow{Hostname: rec.Hostname, Address: rec.Address, Step: s.Step, Status: status}
			if !strings.Contains(status, string(device.StatusAuthFailed)) && s.Current != nil {
				row.CurrentRelease = s.Current.Version
			}
			if s.Target != nil {
				row.TargetRelease = s.Target.Version
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// ParsedByInfo merges the parsed records of all devices per info tag,
// each row prefixed with the device hostname and address.
func ParsedByInfo(records []DeviceRecord) map[string][]map[string]interface{} {
	out := make(map[string][]map[string]interface{})
	for _, rec := range records {
		for _, c := range rec.Commands {
			for _, p := range c.Parsed {
				row := make(map[string]interface{}, len(p)+2)
				for k, v := range p {
					row[k] = v
				}
				row["device_hostname"] = rec.Hostname
				row["device_ip_address"] = rec.Address
				out[c.Info] = append(out[c.Info], row)
			}
		}
	}
	return out
}

// WriteConfigCSV writes the configuration report.
func WriteConfigCSV(w io.Writer, rows []ConfigRow) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"device_hostname", "device_ip_address", "info", "command", "status"})
	for _, r := range rows {
		cw.Write([]string{r.Hostname, r.Address, r.Info, r.Command, r.Status})
	}
	cw.Flush()
	return cw.Error()
}

// WriteUpgradeCSV writes the upgrade report.
func WriteUpgradeCSV(w io.Writer, rows []UpgradeRow) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"device_hostname", "device_ip_address", "step", "current_release", "target_release", "status"})
	for _, r := range rows {
		cw.Write([]string{r.Hostname, r.Address, r.Step, r.CurrentRelease, r.TargetRelease, r.Status})
	}
	cw.Flush()
	return cw.Error()
}

// WriteParsedCSV writes merged parsed rows. The device columns come first,
// then every other field in name order; list values are joined.
func WriteParsedCSV(w io.Writer, rows []map[string]interface{}) error {
	fields := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			if k != "device_hostname" && k != "device_ip_address" {
				fields[k] = true
			}
		}
	}
	header := []string{"device_hostname", "device_ip_address"}
	rest := make([]string, 0, len(fields))
	for k := range fields {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	header = append(header, rest...)

	cw := csv.NewWriter(w)
	cw.Write(header)
	for _, r := range rows {
		line := make([]string, len(header))
		for i, k := range header {
			line[i] = cell(r[k])
		}
		cw.Write(line)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing parsed report: %w", err)
	}
	return nil
}

func cell(v interface{}) string {
	return strings.Join(parse.StringList(v), " ")
}
