package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Default file names inside an inventory directory.
const (
	CommandsFile    = "commands.yaml"
	CommandsJSON    = "commands.json"
	ReleasesFile    = "os_images.json"
	TargetsFile     = "upgrade_list.csv"
	ValidationFile  = "command_list.txt"
	InventoryFile   = "device_list.csv"
	CredentialsFile = "credentials.yaml"
)

// Bundle is the read-only configuration of one fleet run. It is built once
// and passed by pointer to every component that needs catalog data.
type Bundle struct {
	Commands    Commands
	Releases    Releases
	Targets     Targets
	Validation  []string
	Inventory   []Entry
	Credentials *CredentialStore
}

// Loader reads a Bundle from an inventory directory.
type Loader struct {
	dir string
}

// NewLoader creates a loader for dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads every input. The command catalog and the device inventory are
// required; the release catalog, upgrade targets, validation list and
// credentials file are optional and left empty when absent.
func (l *Loader) Load() (*Bundle, error) {
	b := &Bundle{}
	var err error

	cmdPath := l.path(CommandsFile)
	if !exists(cmdPath) {
		cmdPath = l.path(CommandsJSON)
	}
	if b.Commands, err = LoadCommands(cmdPath); err != nil {
		return nil, err
	}
	if b.Inventory, err = LoadInventory(l.path(InventoryFile)); err != nil {
		return nil, err
	}

	if p := l.path(ReleasesFile); exists(p) {
		if b.Releases, err = LoadReleases(p); err != nil {
			return nil, err
		}
	}
	if p := l.path(TargetsFile); exists(p) {
		if b.Targets, err = LoadTargets(p); err != nil {
			return nil, err
		}
	}
	if p := l.path(ValidationFile); exists(p) {
		if b.Validation, err = LoadValidation(p); err != nil {
			return nil, err
		}
	}
	if p := l.path(CredentialsFile); exists(p) {
		if b.Credentials, err = LoadCredentials(p); err != nil {
			return nil, err
		}
	} else {
		b.Credentials = &CredentialStore{}
	}
	return b, nil
}

func (l *Loader) path(name string) string {
	return filepath.Join(l.dir, name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

// RequireUpgradeInputs checks that the inputs of an upgrade run are present.
func (b *Bundle) RequireUpgradeInputs() error {
	if len(b.Releases) == 0 {
		return fmt.Errorf("release catalog %s is empty or missing", ReleasesFile)
	}
	if len(b.Targets) == 0 {
		return fmt.Errorf("upgrade targets %s are empty or missing", TargetsFile)
	}
	return nil
}
