package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials are the resolved login secrets for one device.
type Credentials struct {
	Username string `yaml:"username" json:"-"`
	Password string `yaml:"password" json:"-"`
	Secret   string `yaml:"secret" json:"-"`
}

// CredentialEntry is one record of the credentials file. Exactly one of
// Address, Tag or Common selects the devices it applies to.
type CredentialEntry struct {
	Address     string `yaml:"address,omitempty"`
	Tag         string `yaml:"tag,omitempty"`
	Common      bool   `yaml:"common,omitempty"`
	Credentials `yaml:",inline"`
}

// CredentialStore resolves credentials for inventory rows that carry none.
type CredentialStore struct {
	Entries []CredentialEntry `yaml:"entries"`
}

// LoadCredentials reads a YAML credentials file.
func LoadCredentials(path string) (*CredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	var cs CredentialStore
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parsing credentials %s: %w", path, err)
	}
	for i, e := range cs.Entries {
		n := 0
		if e.Address != "" {
			n++
		}
		if e.Tag != "" {
			n++
		}
		if e.Common {
			n++
		}
		if n != 1 {
			return nil, fmt.Errorf("credentials %s entry %d: exactly one of address, tag, common is required", path, i)
		}
	}
	return &cs, nil
}

// SetCommon installs c as the common entry, replacing any existing one.
func (cs *CredentialStore) SetCommon(c Credentials) {
	for i := range cs.Entries {
		if cs.Entries[i].Common {
			cs.Entries[i].Credentials = c
			return
		}
	}
	cs.Entries = append(cs.Entries, CredentialEntry{Common: true, Credentials: c})
}

// Resolve returns the credentials for an inventory row. Inline
// credentials win; otherwise an address match, then a tag (platform)
// match, then the common entry. No match yields empty credentials.
func (cs *CredentialStore) Resolve(e Entry) Credentials {
	if e.HasCredentials() {
		return Credentials{Username: e.Username, Password: e.Password, Secret: e.Secret}
	}
	if cs == nil {
		return Credentials{}
	}
	var byTag, common *CredentialEntry
	for i := range cs.Entries {
		ce := &cs.Entries[i]
		switch {
		case ce.Address != "" && ce.Address == e.Address:
			return ce.Credentials
		case ce.Tag != "" && ce.Tag == e.Platform && byTag == nil:
			byTag = ce
		case ce.Common && common == nil:
			common = ce
		}
	}
	if byTag != nil {
		return byTag.Credentials
	}
	if common != nil {
		return common.Credentials
	}
	return Credentials{}
}
