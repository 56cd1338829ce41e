package parse

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/fleetup/fleetup/pkg/util"
)

const testIndex = `# Template index
Template, Hostname, Platform, Command

cisco_ios_show_version.textfsm, .*, cisco_ios, sh[[ow]] ver[[sion]]
cisco_ios_dir.textfsm, .*, cisco_ios, dir
`

const testShowVersionTemplate = `Value VERSION (\S+)
Value RUNNING_IMAGE (\S+)
Value List HARDWARE (\S+)

Start
  ^.*Software.*Version\s+${VERSION},
  ^System\s+image\s+file\s+is\s+"flash:${RUNNING_IMAGE}"
  ^[Mm]odel\s+[Nn]umber\s+:\s+${HARDWARE}
`

const testShowVersionOutput = `Cisco IOS Software, C2960X Software (C2960X-UNIVERSALK9-M), Version 15.2(7)E7, RELEASE SOFTWARE (fc2)
System image file is "flash:c2960x-universalk9-mz.152-7.E7.bin"
Model number                    : WS-C2960X-48FPD-L
Model number                    : WS-C2960X-24PD-L
`

func writeTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte(testIndex), 0644); err != nil {
		t.Fatal(err)
	}
	tmpl := filepath.Join(dir, "cisco_ios_show_version.textfsm")
	if err := os.WriteFile(tmpl, []byte(testShowVersionTemplate), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestExpandCompletion(t *testing.T) {
	re := regexp.MustCompile("^" + expandCompletion("sh[[ow]] ver[[sion]]"))
	tests := []struct {
		cmd  string
		want bool
	}{
		{"show version", true},
		{"sh ver", true},
		{"sho versi", true},
		{"s ver", false},
		{"show running-config", false},
	}
	for _, tt := range tests {
		if got := re.MatchString(tt.cmd); got != tt.want {
			t.Errorf("%q matches %q = %v, want %v", re, tt.cmd, got, tt.want)
		}
	}
}

func TestReadIndexMissingColumn(t *testing.T) {
	_, err := readIndex(bufio.NewScanner(strings.NewReader("Template, Hostname\nx.textfsm, .*\n")))
	if err == nil {
		t.Error("readIndex() should reject an index without platform and command columns")
	}
}

func TestTemplateLookup(t *testing.T) {
	p, err := NewTextFSM(writeTemplates(t))
	if err != nil {
		t.Fatalf("NewTextFSM() error: %v", err)
	}
	if name, ok := p.Template("cisco_ios", "show version"); !ok || name != "cisco_ios_show_version.textfsm" {
		t.Errorf("Template() = %q, %v", name, ok)
	}
	if _, ok := p.Template("cisco_nxos", "show version"); ok {
		t.Error("Template() should not match another platform")
	}
}

func TestParse(t *testing.T) {
	p, err := NewTextFSM(writeTemplates(t))
	if err != nil {
		t.Fatalf("NewTextFSM() error: %v", err)
	}
	records, err := p.Parse("cisco_ios", "show version", testShowVersionOutput)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Parse() = %d records, want 1", len(records))
	}
	rec := records[0]
	if String(rec["version"]) != "15.2(7)E7" {
		t.Errorf("version = %v", rec["version"])
	}
	if String(rec["running_image"]) != "c2960x-universalk9-mz.152-7.E7.bin" {
		t.Errorf("running_image = %v", rec["running_image"])
	}
	if hw := StringList(rec["hardware"]); len(hw) != 2 || hw[1] != "WS-C2960X-24PD-L" {
		t.Errorf("hardware = %v", hw)
	}
}

func TestParseNoTemplate(t *testing.T) {
	p, err := NewTextFSM(writeTemplates(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Parse("cisco_ios", "show clock", "10:00:00"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Parse() error = %v, want ErrNotFound", err)
	}
	if _, err := p.Parse("cisco_ios", "dir", "x"); err == nil {
		t.Error("Parse() should fail when the indexed template file is missing")
	}
}

func TestValueHelpers(t *testing.T) {
	if String([]string{"a", "b"}) != "a" || String(nil) != "" || String("x") != "x" {
		t.Error("String() conversions")
	}
	if l := StringList("x"); len(l) != 1 || l[0] != "x" {
		t.Errorf("StringList(scalar) = %v", l)
	}
	if l := StringList([]interface{}{"a", "b"}); len(l) != 2 {
		t.Errorf("StringList(list) = %v", l)
	}
	if n, err := Int64("1,234,567"); err != nil || n != 1234567 {
		t.Errorf("Int64() = %d, %v", n, err)
	}
	if _, err := Int64("n/a"); err == nil {
		t.Error("Int64(non-numeric) should fail")
	}
}
