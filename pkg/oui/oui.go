// Package oui resolves the vendor of a MAC address from the IEEE
// organisationally unique identifier registry.
package oui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fleetup/fleetup/pkg/parse"
)

// Unknown is returned for MAC addresses whose prefix is not registered.
const Unknown = "Unknown"

// Registry maps six-hex-digit prefixes to vendor names.
type Registry struct {
	vendors map[string]string
}

// NewRegistry builds a registry from prefix → vendor pairs. Prefixes may
// use any MAC notation.
func NewRegistry(entries map[string]string) *Registry {
	r := &Registry{vendors: make(map[string]string, len(entries))}
	for prefix, vendor := range entries {
		if p := Prefix(prefix); p != "" {
			r.vendors[p] = vendor
		}
	}
	return r
}

// Load reads an IEEE oui.txt file.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening oui registry: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// registryTemplate extracts the "(hex)" lines of the IEEE registry format:
//
//	00-00-0C   (hex)		Cisco Systems, Inc
const registryTemplate = `Value PREFIX ([0-9A-Fa-f]{2}-[0-9A-Fa-f]{2}-[0-9A-Fa-f]{2})
Value VENDOR (\S.*\S|\S)

Start
  ^\s*${PREFIX}\s+\(hex\)\s+${VENDOR}\s*$$ -> Record
`

// Read parses an IEEE oui.txt stream.
func Read(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading oui registry: %w", err)
	}
	records, err := parse.ParseWith(registryTemplate, string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing oui registry: %w", err)
	}
	reg := &Registry{vendors: make(map[string]string, len(records))}
	for _, rec := range records {
		prefix := Prefix(parse.String(rec["prefix"]))
		vendor := parse.String(rec["vendor"])
		if prefix != "" && vendor != "" {
			reg.vendors[prefix] = vendor
		}
	}
	return reg, nil
}

// Prefix returns the upper-case first six hex digits of a MAC address in
// colon, dash, dotted or bare notation, or "" when there are fewer than six.
func Prefix(mac string) string {
	var b strings.Builder
	for _, c := range mac {
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			b.WriteRune(c)
		case c >= 'a' && c <= 'f':
			b.WriteRune(c - 'a' + 'A')
		case c == ':' || c == '-' || c == '.':
		default:
			return ""
		}
		if b.Len() == 6 {
			return b.String()
		}
	}
	return ""
}

// Vendor returns the registered vendor of mac, or Unknown.
func (r *Registry) Vendor(mac string) string {
	if r == nil {
		return Unknown
	}
	if v, ok := r.vendors[Prefix(mac)]; ok {
		return v
	}
	return Unknown
}

// Len returns the number of registered prefixes.
func (r *Registry) Len() int {
	return len(r.vendors)
}
