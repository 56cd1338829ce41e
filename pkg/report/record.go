// Package report defines the per-device result records of a fleet run,
// their JSON and CSV renderings and the store runs are saved to.
//
// Records are built field by field from a finished device; nothing here
// serializes live device objects directly.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fleetup/fleetup/pkg/device"
)

// ReleaseRecord is a firmware release as reported.
type ReleaseRecord struct {
	Version string `json:"version"`
	Image   string `json:"image"`
	Mode    string `json:"mode"`
	MD5     string `json:"md5,omitempty"`
	Space   int64  `json:"space,omitempty"`
}

// FlashRecord is one flash region as reported.
type FlashRecord struct {
	Region    string   `json:"region"`
	FreeSpace int64    `json:"free_space"`
	Files     []string `json:"files"`
	Refreshed bool     `json:"refreshed"`
}

// CommandRecord is one executed command.
type CommandRecord struct {
	Info    string                   `json:"info"`
	Command string                   `json:"command"`
	Output  string                   `json:"output"`
	Parsed  []map[string]interface{} `json:"parsed,omitempty"`
	Status  string                   `json:"status"`
}

// StepRecord is one executed upgrade step.
type StepRecord struct {
	Step    string         `json:"step"`
	Current *ReleaseRecord `json:"current_release,omitempty"`
	Target  *ReleaseRecord `json:"target_release,omitempty"`
	Status  string         `json:"status"`
	Output  string         `json:"output,omitempty"`
}

// DeviceRecord is everything a fleet run learned about one device. Error
// is set when the device's worker ended on an unrecognised failure.
type DeviceRecord struct {
	Hostname string          `json:"hostname"`
	Address  string          `json:"address"`
	Platform string          `json:"platform"`
	Hardware []string        `json:"hardware,omitempty"`
	Protocol string          `json:"protocol,omitempty"`
	Attempts []string        `json:"attempts,omitempty"`
	Flash    []FlashRecord   `json:"flash,omitempty"`
	Commands []CommandRecord `json:"commands"`
	Steps    []StepRecord    `json:"steps,omitempty"`
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Failed reports whether the worker ended on a fatal error.
func (r *DeviceRecord) Failed() bool {
	return r.Error != ""
}

// Run is the aggregated result of one fleet operation.
type Run struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Started   time.Time      `json:"started"`
	Finished  time.Time      `json:"finished"`
	Records   []DeviceRecord `json:"records"`
}

// FromDevice builds the record of a finished device. err is the fatal
// error its worker returned, if any.
func FromDevice(dev *device.Device, err error) DeviceRecord {
	rec := DeviceRecord{
		Hostname: dev.Hostname,
		Address:  dev.Address,
		Platform: dev.Platform,
		Hardware: append([]string(nil), dev.Hardware...),
		Protocol: string(dev.Protocol()),
		Commands: make([]CommandRecord, 0, len(dev.Commands)),
		Status:   string(dev.Status),
	}
	for _, p := range dev.Attempts {
		rec.Attempts = append(rec.Attempts, string(p))
	}
	for _, r := range dev.Regions() {
		rec.Flash = append(rec.Flash, FlashRecord{
			Region:    r.Name,
			FreeSpace: r.FreeSpace,
			Files:     append([]string(nil), r.Files...),
			Refreshed: r.Refreshed,
		})
	}
	for _, c := range dev.Commands {
		cr := CommandRecord{Info: c.Info, Command: c.Text, Output: c.Output, Status: c.Status}
		for _, p := range c.Parsed {
			cr.Parsed = append(cr.Parsed, map[string]interface{}(p))
		}
		rec.Commands = append(rec.Commands, cr)
	}
	for _, s := range dev.Steps {
		rec.Steps = append(rec.Steps, StepRecord{
			Step:    string(s.Name),
			Current: releaseRecord(s.Current),
			Target:  releaseRecord(s.Target),
			Status:  s.Status,
			Output:  s.Output,
		})
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func releaseRecord(r *device.ReleaseDescriptor) *ReleaseRecord {
	if r == nil {
		return nil
	}
	return &ReleaseRecord{Version: r.Version, Image: r.Image, Mode: string(r.Mode), MD5: r.MD5, Space: r.Space}
}

// Encode writes records as an indented JSON array.
func Encode(w io.Writer, records []DeviceRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		records = []DeviceRecord{}
	}
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	return nil
}

// Decode reads a JSON array written by Encode.
func Decode(r io.Reader) ([]DeviceRecord, error) {
	var records []DeviceRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return records, nil
}
