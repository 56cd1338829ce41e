package catalog

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fleetup/fleetup/pkg/util"
)

// Entry is one device row of the inventory.
type Entry struct {
	Platform string
	Address  string
	Username string
	Password string
	Secret   string
}

// HasCredentials reports whether the row carries inline credentials.
func (e Entry) HasCredentials() bool {
	return e.Username != "" && e.Password != ""
}

// LoadInventory reads the device inventory CSV
// (vendor_os,ip_address,username,password,enable_secret). Rows whose
// vendor_os starts with '#' are skipped.
func LoadInventory(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	defer f.Close()

	rows, err := readCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
	}

	v := &util.ValidationBuilder{}
	var entries []Entry
	for i, row := range rows {
		platform := row["vendor_os"]
		if platform == "" || strings.HasPrefix(platform, "#") {
			continue
		}
		e := Entry{
			Platform: platform,
			Address:  row["ip_address"],
			Username: row["username"],
			Password: row["password"],
			Secret:   row["enable_secret"],
		}
		if !util.IsValidIPv4(e.Address) {
			v.AddErrorf("row %d: invalid ip_address %q", i+2, e.Address)
			continue
		}
		entries = append(entries, e)
	}
	if err := v.Build(); err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return entries, nil
}

// LoadValidation reads the validation command list, one command per line.
// Blank lines are skipped.
func LoadValidation(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading validation list: %w", err)
	}
	defer f.Close()

	var cmds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			cmds = append(cmds, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading validation list %s: %w", path, err)
	}
	return cmds, nil
}
