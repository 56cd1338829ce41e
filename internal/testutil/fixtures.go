package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fleetup/fleetup/pkg/catalog"
)

// Context returns a context that is cancelled when the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Commands returns a command catalog covering the infos the upgrade
// workflow needs, for cisco_ios and cisco_nxos.
func Commands() catalog.Commands {
	both := func(text string) map[string][]string {
		return map[string][]string{"cisco_ios": {text}, "cisco_nxos": {text}}
	}
	return catalog.Commands{
		catalog.InfoConfiguration:     {Commands: both("show running-config")},
		catalog.InfoDeviceInformation: {Commands: both("show version"), TextFSM: true},
		catalog.InfoFileSystem:        {Commands: both("show file systems")},
		catalog.InfoDeviceDirectory:   {Commands: both("dir"), TextFSM: true},
		catalog.InfoMD5Checksum:       {Commands: both("verify /md5")},
		catalog.InfoMACAddressTable:   {Commands: both("show mac address-table"), TextFSM: true},
		catalog.InfoInterfacesCounters: {
			Commands:      both("show interfaces counters"),
			TextFSM:       false,
			ClearCounters: true,
		},
		"Interfaces Description": {Commands: both("show interfaces description")},
		"Interface Config": {Commands: map[string][]string{
			"cisco_ios": {"interface Gi1/0/1\ndescription uplink"},
		}},
	}
}

// FakeParser returns canned records by command text; commands without
// records fail to parse.
type FakeParser struct {
	Records map[string][]map[string]interface{}
}

// NewFakeParser returns an empty parser.
func NewFakeParser() *FakeParser {
	return &FakeParser{Records: make(map[string][]map[string]interface{})}
}

// On registers the records returned for command.
func (p *FakeParser) On(command string, records ...map[string]interface{}) *FakeParser {
	p.Records[command] = records
	return p
}

// Parse implements device.Parser.
func (p *FakeParser) Parse(platform, command, output string) ([]map[string]interface{}, error) {
	recs, ok := p.Records[command]
	if !ok {
		return nil, fmt.Errorf("no template for %s %q", platform, command)
	}
	out := make([]map[string]interface{}, len(recs))
	for i, r := range recs {
		c := make(map[string]interface{}, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out, nil
}

// DirRecords builds directory-listing records: one per file, each
// carrying the region's total free bytes.
func DirRecords(free int64, files ...string) []map[string]interface{} {
	recs := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		recs = append(recs, map[string]interface{}{"name": f, "total_free": fmt.Sprint(free)})
	}
	if len(recs) == 0 {
		recs = append(recs, map[string]interface{}{"name": "", "total_free": fmt.Sprint(free)})
	}
	return recs
}

// FileSystems renders a "show file systems" table listing regions.
func FileSystems(regions ...string) string {
	var b strings.Builder
	b.WriteString("File Systems:\n\n     Size(b)     Free(b)      Type  Flags  Prefixes\n")
	for _, r := range regions {
		fmt.Fprintf(&b, "*  122185728    85291520     flash     rw   %s\n", r)
	}
	b.WriteString("           -           -    opaque     rw   system:\n")
	return b.String()
}
