// Package catalog loads the inputs of a fleet run: the command catalog,
// release and upgrade-target catalogs, the validation command list, the
// device inventory and credentials. Everything is gathered into a Bundle
// that is handed explicitly to the components that need it.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetup/fleetup/pkg/util"
)

// Info tags with special handling.
const (
	InfoConfiguration      = "Configuration"
	InfoDeviceInformation  = "Device Information"
	InfoFileSystem         = "File System"
	InfoDeviceDirectory    = "Device Directory"
	InfoMD5Checksum        = "MD5 Checksum"
	InfoMACAddressTable    = "MAC Address Table"
	InfoInterfacesCounters = "Interfaces Counters"
	InfoInstallActive      = "Install Active"
)

// CommandSpec is one catalog entry: per-platform command texts and
// whether the output is converted to structured records.
type CommandSpec struct {
	Commands      map[string][]string `yaml:"commands" json:"commands"`
	TextFSM       bool                `yaml:"textfsm" json:"textfsm"`
	ClearCounters bool                `yaml:"clear_counters,omitempty" json:"clear_counters,omitempty"`
}

// Commands maps an info tag to its entry.
type Commands map[string]CommandSpec

// Texts returns the command texts for info on platform.
func (c Commands) Texts(info, platform string) ([]string, error) {
	spec, ok := c[info]
	if !ok {
		return nil, fmt.Errorf("info %q: %w", info, util.ErrNotFound)
	}
	texts, ok := spec.Commands[platform]
	if !ok || len(texts) == 0 {
		return nil, fmt.Errorf("info %q has no commands for %s: %w", info, platform, util.ErrUnsupportedPlatform)
	}
	return texts, nil
}

// First returns the first command text for info on platform, as used by
// commands that take an argument (directory listing, checksum).
func (c Commands) First(info, platform string) (string, error) {
	texts, err := c.Texts(info, platform)
	if err != nil {
		return "", err
	}
	return texts[0], nil
}

// Infos returns the catalog's info tags in sorted order.
func (c Commands) Infos() []string {
	infos := make([]string, 0, len(c))
	for info := range c {
		infos = append(infos, info)
	}
	sort.Strings(infos)
	return infos
}

// Validate checks that every entry names at least one platform command.
func (c Commands) Validate() error {
	v := &util.ValidationBuilder{}
	for _, info := range c.Infos() {
		spec := c[info]
		v.Add(len(spec.Commands) > 0, fmt.Sprintf("info %q: no platform commands", info))
		for platform, texts := range spec.Commands {
			for _, t := range texts {
				v.Add(strings.TrimSpace(t) != "", fmt.Sprintf("info %q platform %s: empty command", info, platform))
			}
		}
	}
	return v.Build()
}

// LoadCommands reads a command catalog. Files ending in .json are decoded
// as JSON, everything else as YAML.
func LoadCommands(path string) (Commands, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading command catalog: %w", err)
	}
	var cmds Commands
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cmds)
	} else {
		err = yaml.Unmarshal(data, &cmds)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing command catalog %s: %w", path, err)
	}
	if err := cmds.Validate(); err != nil {
		return nil, fmt.Errorf("command catalog %s: %w", path, err)
	}
	return cmds, nil
}
