package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Release is one firmware image entry of the release catalog.
type Release struct {
	Image string `json:"image"`
	MD5   string `json:"md5"`
	Space int64  `json:"space"`
}

// Releases is keyed platform → hardware model → version.
type Releases map[string]map[string]map[string]Release

// Lookup returns the release for (platform, hardware, version).
func (r Releases) Lookup(platform, hardware, version string) (Release, bool) {
	rel, ok := r[platform][hardware][version]
	return rel, ok
}

// LoadReleases reads the JSON release catalog.
func LoadReleases(path string) (Releases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading release catalog: %w", err)
	}
	var r Releases
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing release catalog %s: %w", path, err)
	}
	return r, nil
}

// Target maps a hardware model substring to the desired version.
type Target struct {
	Model   string
	Version string
}

// Targets is the ordered upgrade-target list.
type Targets []Target

// Match returns the target for a device's hardware list. A row matches
// when its model is a substring of any hardware entry; when several rows
// match, the last one wins.
func (t Targets) Match(hardware []string) (Target, bool) {
	var found Target
	ok := false
	for _, row := range t {
		for _, hw := range hardware {
			if strings.Contains(hw, row.Model) {
				found, ok = row, true
				break
			}
		}
	}
	return found, ok
}

// LoadTargets reads the CSV upgrade-target list (header model,target_release).
func LoadTargets(path string) (Targets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading upgrade targets: %w", err)
	}
	defer f.Close()

	rows, err := readCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parsing upgrade targets %s: %w", path, err)
	}
	var targets Targets
	for i, row := range rows {
		model, version := row["model"], row["target_release"]
		if model == "" || version == "" {
			return nil, fmt.Errorf("upgrade targets %s row %d: model and target_release are required", path, i+2)
		}
		targets = append(targets, Target{Model: model, Version: version})
	}
	return targets, nil
}

// readCSV returns the rows of a headed CSV file as header→value maps,
// trimming whitespace around every field.
func readCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
