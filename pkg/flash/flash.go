// Package flash discovers and maintains the flash storage regions of a
// device: free space, file listings and removal of stale images.
package flash

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fleetup/fleetup/pkg/audit"
	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/parse"
	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/util"
)

// Region name patterns by platform. A stack exposes one region per member.
var regionPatterns = map[string]*regexp.Regexp{
	"cisco_ios":  regexp.MustCompile(`flash:|flash-\d:|flash\d:`),
	"cisco_nxos": regexp.MustCompile(`bootflash:|flash:|flash-\d:|flash\d:`),
}

const (
	deletePrompt  = `Delete filename`
	confirmPrompt = `confirm`
	packagesConf  = "packages.conf"
)

// DefaultInstallCommand lists the active install-mode packages when the
// command catalog does not carry the "Install Active" info.
const DefaultInstallCommand = "show install active"

// Inventory operates on the flash regions of devices. User and RunID tag
// the audit events of deletions.
type Inventory struct {
	Exec  *device.Executor
	User  string
	RunID string
}

// RegionPattern returns the region name pattern for platform.
func RegionPattern(platform string) (*regexp.Regexp, error) {
	re, ok := regionPatterns[platform]
	if !ok {
		return nil, fmt.Errorf("flash regions of %s: %w", platform, util.ErrUnsupportedPlatform)
	}
	return re, nil
}

// Discover registers every flash region listed by the device's file system
// table and refreshes each one. An already executed "File System" command
// is reused.
func (inv *Inventory) Discover(ctx context.Context, dev *device.Device) error {
	re, err := RegionPattern(dev.Platform)
	if err != nil {
		return util.NewDeviceError("discover flash", dev.Address, err)
	}

	cmd := lastExecuted(dev, catalog.InfoFileSystem)
	if cmd == nil {
		if err := inv.Exec.RunCatalog(ctx, dev, []string{catalog.InfoFileSystem}, false); err != nil {
			return err
		}
		cmd = lastExecuted(dev, catalog.InfoFileSystem)
	}
	if cmd == nil {
		return nil
	}

	for _, line := range strings.Split(cmd.Output, "\n") {
		if m := re.FindString(line); m != "" {
			dev.AddRegion(m)
		}
	}
	util.WithDevice(dev.Address).Debugf("Flash regions: %s", strings.Join(dev.FlashOrder, " "))

	for _, region := range dev.Regions() {
		if err := inv.Refresh(ctx, dev, region); err != nil {
			return err
		}
	}
	return nil
}

func lastExecuted(dev *device.Device, info string) *device.Command {
	for i := len(dev.Commands) - 1; i >= 0; i-- {
		if c := dev.Commands[i]; c.Info == info && c.Executed() {
			return c
		}
	}
	return nil
}

// Refresh reads the directory listing of region and records its free
// space and file names. A listing that cannot be read leaves the region
// unrefreshed, which makes every capacity check on it fail.
func (inv *Inventory) Refresh(ctx context.Context, dev *device.Device, region *device.FlashRegion) error {
	region.Refreshed = false
	cmd, err := inv.Exec.RunInfo(ctx, dev, catalog.InfoDeviceDirectory, region.Name)
	if err != nil {
		return err
	}
	log := util.WithDevice(dev.Address)
	if cmd.Status != device.StatusDone || len(cmd.Parsed) == 0 {
		if cmd.Executed() {
			log.Warnf("Couldn't read directory of %s: %s", region.Name, cmd.Status)
		}
		return nil
	}

	files := make([]string, 0, len(cmd.Parsed))
	for _, rec := range cmd.Parsed {
		if name := parse.String(rec["name"]); name != "" {
			files = append(files, name)
		}
	}
	free, err := parse.Int64(cmd.Parsed[len(cmd.Parsed)-1]["total_free"])
	if err != nil {
		log.Warnf("Free space of %s: %v", region.Name, err)
		return nil
	}

	region.Files = files
	region.FreeSpace = free
	region.Refreshed = true
	log.Debugf("%s: %d files, %d bytes free", region.Name, len(files), free)
	return nil
}

// HasSpace reports whether region can take needed more bytes and still
// keep some free.
func HasSpace(region *device.FlashRegion, needed int64) bool {
	return region.Refreshed && region.FreeSpace-needed > 0
}

// Evict deletes images from region that neither the running nor the
// target release use, then refreshes the region. Bundle devices lose
// stale .bin files; install-mode devices lose packages whose name lacks
// the active version. The running and target images are never deleted.
func (inv *Inventory) Evict(ctx context.Context, dev *device.Device, region *device.FlashRegion, current, target *device.ReleaseDescriptor) error {
	if current == nil || target == nil {
		return nil
	}
	protected := func(file string) bool {
		return file == current.Image || file == target.Image
	}

	var victims []string
	if current.Mode == device.ModeBundle {
		for _, f := range region.Files {
			if strings.HasSuffix(f, ".bin") && !protected(f) {
				victims = append(victims, f)
			}
		}
	} else {
		version, err := inv.activeVersion(ctx, dev)
		if err != nil {
			return err
		}
		if version == "" {
			util.WithDevice(dev.Address).Warnf("No active install package found, nothing evicted from %s", region.Name)
			return nil
		}
		for _, f := range region.Files {
			if isPackage(f) && !strings.Contains(f, version) && !strings.Contains(f, packagesConf) && !protected(f) {
				victims = append(victims, f)
			}
		}
	}
	if len(victims) == 0 {
		return nil
	}

	for _, f := range victims {
		if err := inv.DeleteFile(ctx, dev, region.Name, f); err != nil {
			return err
		}
	}
	return inv.Refresh(ctx, dev, region)
}

func isPackage(file string) bool {
	return strings.Contains(file, ".bin") || strings.Contains(file, ".pkg") || strings.Contains(file, ".conf")
}

// activeVersion returns the version of the active IMG package, e.g.
// "16.12.04" for the entry "IMG   C    16.12.04.0.2447".
func (inv *Inventory) activeVersion(ctx context.Context, dev *device.Device) (string, error) {
	text, err := inv.Exec.Commands.First(catalog.InfoInstallActive, dev.Platform)
	if err != nil {
		text = DefaultInstallCommand
	}
	cmd := dev.CreateCommand(catalog.InfoInstallActive, text, false)
	if err := inv.Exec.Run(ctx, dev, cmd, false); err != nil {
		return "", err
	}
	return ActiveVersion(cmd.Output), nil
}

// ActiveVersion extracts the active image version from "show install
// active" output, or "" when no IMG package is listed.
func ActiveVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "IMG") {
			continue
		}
		fields := strings.Fields(line)
		parts := strings.Split(fields[len(fields)-1], ".")
		if len(parts) <= 2 {
			return ""
		}
		return strings.Join(parts[:len(parts)-2], ".")
	}
	return ""
}

// DeleteFile removes file from region, answering the filename and confirm
// prompts. A prompt that does not appear is logged and the deletion ends
// there.
func (inv *Inventory) DeleteFile(ctx context.Context, dev *device.Device, region, file string) error {
	sess, err := inv.Exec.Session(ctx, dev)
	if err != nil || sess == nil {
		return err
	}
	log := util.WithDevice(dev.Address)
	log.Infof("Deleting file %s from %s", file, region)

	start := time.Now()
	event := audit.NewEvent(inv.User, dev.Address, audit.OpDeleteFile).WithRun(inv.RunID).WithFile(region, file)
	defer func() { audit.Record(event) }()

	steps := []struct {
		line   string
		expect string
		when   string
	}{
		{"delete /recursive " + region + file, deletePrompt, ""},
		{"", confirmPrompt, deletePrompt},
		{"y", `#`, confirmPrompt},
	}

	var output, missing string
	for _, s := range steps {
		if s.when != "" && !strings.Contains(output, s.when) {
			missing = s.when
			break
		}
		event.WithCommands(s.line)
		out, err := sess.SendCommand(ctx, s.line, transport.SendOptions{
			ExpectString: s.expect,
			ReadTimeout:  device.CommandReadTimeout,
		})
		output += out
		if err != nil {
			if transport.KindOf(err) == transport.KindPatternNotDetected {
				missing = s.expect
				break
			}
			event.Finish(start, err)
			return util.NewDeviceError("delete file", dev.Address, err)
		}
	}

	if missing != "" {
		event.Finish(start, fmt.Errorf("prompt %q not received", missing))
		log.Warnf("Prompt %q not received, file %s%s not deleted", missing, region, file)
		return nil
	}
	event.Finish(start, nil)
	log.Infof("File %s deleted", file)
	return nil
}
