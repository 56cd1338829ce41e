package flash

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fleetup/fleetup/internal/testutil"
	"github.com/fleetup/fleetup/pkg/audit"
	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/util"
)

type env struct {
	inv    *Inventory
	dev    *device.Device
	sess   *testutil.FakeSession
	parser *testutil.FakeParser
}

func newEnv(t *testing.T, platform string) *env {
	t.Helper()
	e := &env{
		sess:   testutil.NewFakeSession("sw1#"),
		parser: testutil.NewFakeParser(),
		dev:    device.New(platform, "10.0.0.1", catalog.Credentials{Username: "admin", Password: "admin"}),
	}
	dialer := testutil.NewFakeDialer().Add("10.0.0.1", e.sess)
	e.inv = &Inventory{
		Exec:  &device.Executor{Commands: testutil.Commands(), Parser: e.parser, Dialer: dialer},
		User:  "netops",
		RunID: "run-1",
	}
	if err := e.dev.Connect(testutil.Context(t), dialer, ""); err != nil {
		t.Fatal(err)
	}
	return e
}

// scriptDelete makes every delete in the session answer its prompts.
func (e *env) scriptDelete(region string, files ...string) {
	for _, f := range files {
		e.sess.On("delete /recursive "+region+f, "Delete filename ["+f+"]? ")
	}
	e.sess.On("", "Delete "+region+"? [confirm]")
	e.sess.On("y", "sw1#")
}

func TestDiscover(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	e.sess.On("show file systems", testutil.FileSystems("flash:", "flash-2:"))
	e.parser.On("dir flash:", testutil.DirRecords(1000, "a.bin", "vlan.dat")...)
	e.parser.On("dir flash-2:", testutil.DirRecords(500)...)

	if err := e.inv.Discover(testutil.Context(t), e.dev); err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if want := []string{"flash:", "flash-2:"}; !reflect.DeepEqual(e.dev.FlashOrder, want) {
		t.Fatalf("FlashOrder = %v, want %v", e.dev.FlashOrder, want)
	}
	first, second := e.dev.Flash["flash:"], e.dev.Flash["flash-2:"]
	if !first.Refreshed || first.FreeSpace != 1000 || !reflect.DeepEqual(first.Files, []string{"a.bin", "vlan.dat"}) {
		t.Errorf("flash: = %+v", first)
	}
	if !second.Refreshed || second.FreeSpace != 500 || len(second.Files) != 0 {
		t.Errorf("flash-2: = %+v", second)
	}
}

func TestDiscoverNXOSBootflash(t *testing.T) {
	e := newEnv(t, "cisco_nxos")
	e.sess.On("show file systems", testutil.FileSystems("bootflash:"))
	e.parser.On("dir bootflash:", testutil.DirRecords(2000, "nxos.9.3.8.bin")...)

	if err := e.inv.Discover(testutil.Context(t), e.dev); err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if !reflect.DeepEqual(e.dev.FlashOrder, []string{"bootflash:"}) {
		t.Errorf("FlashOrder = %v", e.dev.FlashOrder)
	}
}

func TestDiscoverReusesFileSystemCommand(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	ctx := testutil.Context(t)
	e.sess.On("show file systems", testutil.FileSystems("flash:"))
	e.parser.On("dir flash:", testutil.DirRecords(1000)...)

	if err := e.inv.Exec.RunCatalog(ctx, e.dev, []string{catalog.InfoFileSystem}, false); err != nil {
		t.Fatal(err)
	}
	if err := e.inv.Discover(ctx, e.dev); err != nil {
		t.Fatal(err)
	}
	if n := len(e.sess.SentWithPrefix("show file systems")); n != 1 {
		t.Errorf("show file systems sent %d times, want 1", n)
	}
}

func TestDiscoverUnsupportedPlatform(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	e.dev.Platform = "arista_eos"

	err := e.inv.Discover(testutil.Context(t), e.dev)
	if !errors.Is(err, util.ErrUnsupportedPlatform) {
		t.Fatalf("Discover() error = %v, want ErrUnsupportedPlatform", err)
	}
	var de *util.DeviceError
	if !errors.As(err, &de) || de.Address != "10.0.0.1" {
		t.Errorf("error should carry device context: %v", err)
	}
}

func TestRefreshUnreadable(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	region := e.dev.AddRegion("flash:")
	region.Refreshed = true
	region.FreeSpace = 1 << 30

	if err := e.inv.Refresh(testutil.Context(t), e.dev, region); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if region.Refreshed || HasSpace(region, 1) {
		t.Error("a region whose listing cannot be parsed must fail capacity checks")
	}
}

func TestHasSpace(t *testing.T) {
	tests := []struct {
		name   string
		region device.FlashRegion
		needed int64
		want   bool
	}{
		{"room to spare", device.FlashRegion{FreeSpace: 100, Refreshed: true}, 99, true},
		{"exactly full", device.FlashRegion{FreeSpace: 100, Refreshed: true}, 100, false},
		{"too small", device.FlashRegion{FreeSpace: 100, Refreshed: true}, 101, false},
		{"not refreshed", device.FlashRegion{FreeSpace: 100}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasSpace(&tt.region, tt.needed); got != tt.want {
				t.Errorf("HasSpace() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActiveVersion(t *testing.T) {
	out := `[ R0 ] Active Package(s) Information:
State (St): I - Inactive, U - Activated & Uncommitted,
            C - Activated & Committed, D - Deactivated & Uncommitted
--------------------------------------------------------
Type  St   Filename/Version
--------------------------------------------------------
IMG   C    16.12.04.0.2447
`
	if got := ActiveVersion(out); got != "16.12.04" {
		t.Errorf("ActiveVersion() = %q, want 16.12.04", got)
	}
	if got := ActiveVersion("No packages"); got != "" {
		t.Errorf("ActiveVersion(no IMG) = %q", got)
	}
}

func TestEvictBundle(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	region := e.dev.AddRegion("flash:")
	region.Files = []string{"current.bin", "target.bin", "old.bin", "vlan.dat", "config.text"}
	region.Refreshed = true
	e.scriptDelete("flash:", "old.bin")
	e.parser.On("dir flash:", testutil.DirRecords(5000, "current.bin", "target.bin", "vlan.dat", "config.text")...)

	current := &device.ReleaseDescriptor{Version: "15.2(4)E8", Image: "current.bin", Mode: device.ModeBundle}
	target := &device.ReleaseDescriptor{Version: "15.2(7)E7", Image: "target.bin", Mode: device.ModeBundle}
	if err := e.inv.Evict(testutil.Context(t), e.dev, region, current, target); err != nil {
		t.Fatalf("Evict() error: %v", err)
	}

	if got := e.sess.SentWithPrefix("delete "); !reflect.DeepEqual(got, []string{"delete /recursive flash:old.bin"}) {
		t.Errorf("deletes = %v", got)
	}
	if region.FreeSpace != 5000 || !region.Refreshed {
		t.Errorf("region not refreshed after eviction: %+v", region)
	}
}

func TestEvictInstall(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	region := e.dev.AddRegion("flash:")
	region.Files = []string{
		"packages.conf",
		"cat9k-rpbase.16.12.04.SPA.pkg",
		"cat9k-rpbase.16.09.03.SPA.pkg",
		"cat9k_iosxe.16.09.03.SPA.conf",
		"cat9k_iosxe.17.03.05.SPA.bin",
		"vlan.dat",
	}
	region.Refreshed = true
	e.sess.On("show install active", "Type  St   Filename/Version\nIMG   C    16.12.04.0.2447\n")
	e.scriptDelete("flash:", "cat9k-rpbase.16.09.03.SPA.pkg", "cat9k_iosxe.16.09.03.SPA.conf")
	e.parser.On("dir flash:", testutil.DirRecords(9000)...)

	current := &device.ReleaseDescriptor{Version: "16.12.04", Image: "packages.conf", Mode: device.ModeInstall}
	target := &device.ReleaseDescriptor{Version: "17.03.05", Image: "cat9k_iosxe.17.03.05.SPA.bin", Mode: device.ModeInstall}
	if err := e.inv.Evict(testutil.Context(t), e.dev, region, current, target); err != nil {
		t.Fatalf("Evict() error: %v", err)
	}

	want := []string{
		"delete /recursive flash:cat9k-rpbase.16.09.03.SPA.pkg",
		"delete /recursive flash:cat9k_iosxe.16.09.03.SPA.conf",
	}
	if got := e.sess.SentWithPrefix("delete "); !reflect.DeepEqual(got, want) {
		t.Errorf("deletes = %v, want %v", got, want)
	}
}

func TestEvictNeverDeletesRunningOrTarget(t *testing.T) {
	for _, mode := range []device.Mode{device.ModeBundle, device.ModeInstall} {
		t.Run(string(mode), func(t *testing.T) {
			e := newEnv(t, "cisco_ios")
			region := e.dev.AddRegion("flash:")
			region.Files = []string{"run.bin", "next.bin", "stale.bin"}
			region.Refreshed = true
			e.sess.On("show install active", "IMG   C    99.99.99.0.1\n")
			e.scriptDelete("flash:", "stale.bin")
			e.parser.On("dir flash:", testutil.DirRecords(1)...)

			current := &device.ReleaseDescriptor{Image: "run.bin", Mode: mode}
			target := &device.ReleaseDescriptor{Image: "next.bin", Mode: mode}
			if err := e.inv.Evict(testutil.Context(t), e.dev, region, current, target); err != nil {
				t.Fatal(err)
			}
			for _, c := range e.sess.SentWithPrefix("delete ") {
				if c == "delete /recursive flash:run.bin" || c == "delete /recursive flash:next.bin" {
					t.Errorf("protected image deleted: %s", c)
				}
			}
		})
	}
}

func TestEvictWithoutTarget(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	region := e.dev.AddRegion("flash:")
	region.Files = []string{"old.bin"}
	current := &device.ReleaseDescriptor{Image: "run.bin", Mode: device.ModeBundle}

	if err := e.inv.Evict(testutil.Context(t), e.dev, region, current, nil); err != nil {
		t.Fatal(err)
	}
	if len(e.sess.SentCommands()) != 0 {
		t.Errorf("nothing should be sent without a target, sent %v", e.sess.SentCommands())
	}
}

func TestDeleteFileAudited(t *testing.T) {
	logger, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), audit.RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()
	audit.SetDefaultLogger(logger)
	defer audit.SetDefaultLogger(nil)

	e := newEnv(t, "cisco_ios")
	e.scriptDelete("flash:", "old.bin")
	if err := e.inv.DeleteFile(testutil.Context(t), e.dev, "flash:", "old.bin"); err != nil {
		t.Fatalf("DeleteFile() error: %v", err)
	}
	if want := []string{"delete /recursive flash:old.bin", "", "y"}; !reflect.DeepEqual(e.sess.SentCommands(), want) {
		t.Errorf("sent = %q, want %q", e.sess.SentCommands(), want)
	}

	events, err := audit.Query(audit.Filter{Operation: audit.OpDeleteFile})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || !events[0].Success || events[0].File != "old.bin" || events[0].RunID != "run-1" {
		t.Errorf("audit events = %+v", events)
	}
}

func TestDeleteFileMissingPrompt(t *testing.T) {
	tests := []struct {
		name   string
		script func(e *env)
		sent   int
	}{
		{
			name: "filename prompt times out",
			script: func(e *env) {
				e.sess.OnErr("delete /recursive flash:old.bin", &transport.Error{Kind: transport.KindPatternNotDetected, Err: errors.New("timeout")})
			},
			sent: 1,
		},
		{
			name: "no confirm prompt",
			script: func(e *env) {
				e.sess.On("delete /recursive flash:old.bin", "Delete filename [old.bin]? ")
				e.sess.On("", "%Error deleting flash:old.bin (Is a directory)\nsw1#")
			},
			sent: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), audit.RotationConfig{})
			if err != nil {
				t.Fatal(err)
			}
			defer logger.Close()
			audit.SetDefaultLogger(logger)
			defer audit.SetDefaultLogger(nil)

			e := newEnv(t, "cisco_ios")
			tt.script(e)
			if err := e.inv.DeleteFile(testutil.Context(t), e.dev, "flash:", "old.bin"); err != nil {
				t.Fatalf("missing prompt should not be fatal: %v", err)
			}
			if n := len(e.sess.SentCommands()); n != tt.sent {
				t.Errorf("sent %d commands, want %d", n, tt.sent)
			}

			events, err := audit.Query(audit.Filter{Operation: audit.OpDeleteFile})
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != 1 || events[0].Success || !strings.Contains(events[0].Error, "not received") {
				t.Errorf("audit events = %+v, want one failure", events)
			}
		})
	}
}

func TestDeleteFileFatal(t *testing.T) {
	e := newEnv(t, "cisco_ios")
	e.sess.OnErr("delete /recursive flash:old.bin", &transport.Error{Kind: transport.KindUnknown, Err: errors.New("eof")})

	var de *util.DeviceError
	if err := e.inv.DeleteFile(testutil.Context(t), e.dev, "flash:", "old.bin"); !errors.As(err, &de) {
		t.Fatalf("DeleteFile() error = %v, want *util.DeviceError", err)
	}
}
