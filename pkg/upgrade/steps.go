package upgrade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fleetup/fleetup/pkg/audit"
	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/flash"
	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/util"
)

// CopyReadTimeout bounds a single image copy.
const CopyReadTimeout = 1200 * time.Second

const (
	destinationPrompt = `Destination filename`
	copyOpenError     = "Error opening"
	copyFirstReply    = `Destination filename|%\s*Error`
)

// validate saves the configuration and runs every validation command,
// collecting a prompt-prefixed transcript in the step output.
func (o *Orchestrator) validate(ctx context.Context, step *device.UpgradeStep) error {
	sess, err := o.cfg.Exec.Session(ctx, o.dev)
	if err != nil || sess == nil {
		return err
	}

	start := time.Now()
	_, err = sess.SaveConfig(ctx)
	audit.Record(audit.NewEvent(o.cfg.User, o.dev.Address, audit.OpSaveConfig).WithRun(o.cfg.RunID).Finish(start, err))
	if err != nil && transport.KindOf(err) != transport.KindPatternNotDetected {
		return util.NewDeviceError("save config", o.dev.Address, err)
	}

	var b strings.Builder
	for _, line := range o.cfg.Bundle.Validation {
		cmd := o.dev.CreateCommand(string(step.Name), line, false)
		if err := o.cfg.Exec.Run(ctx, o.dev, cmd, false); err != nil {
			return err
		}
		fmt.Fprintf(&b, "%s# %s\n%s\n", o.dev.Hostname, line, cmd.Output)
	}
	step.Output = b.String()
	step.Status = device.StatusDone

	if o.cfg.ValidationDir != "" {
		if err := o.writeValidation(step); err != nil {
			util.WithDevice(o.dev.Address).Warnf("Saving %s output: %v", step.Name, err)
		}
	}
	return nil
}

// writeValidation stores the transcript as
// <dir>/<step>/[YYYYMMDD] <hostname> (<address>) - <step>.txt.
func (o *Orchestrator) writeValidation(step *device.UpgradeStep) error {
	dir := filepath.Join(o.cfg.ValidationDir, string(step.Name))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("[%s] %s (%s) - %s.txt",
		time.Now().Format("20060102"), o.dev.Hostname, o.dev.Address, step.Name)
	return os.WriteFile(filepath.Join(dir, name), []byte(step.Output), 0644)
}

// AlreadyUpgraded reports whether the running version satisfies the
// target: one version string contains the other.
func AlreadyUpgraded(current, target string) bool {
	if current == "" || target == "" {
		return false
	}
	return strings.Contains(target, current) || strings.Contains(current, target)
}

// transferImage copies the target image to the regions lacking it: the
// first such region on a standalone device, every such region on a stack.
func (o *Orchestrator) transferImage(ctx context.Context, step *device.UpgradeStep) error {
	if o.target == nil {
		step.Status = string(device.StatusNotInScope)
		return nil
	}
	log := util.WithDevice(o.dev.Address)
	if AlreadyUpgraded(o.current.Version, o.target.Version) {
		log.Infof("Already upgraded to %s", o.target.Version)
		step.Status = device.StatusAlreadyUpgraded
		return nil
	}

	if err := o.requireRegions("transfer image"); err != nil {
		return err
	}
	var missing []*device.FlashRegion
	for _, r := range o.dev.Regions() {
		if !r.HasFile(o.target.Image) {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		log.Infof("Image %s already in %s", o.target.Image, strings.Join(o.dev.FlashOrder, " "))
		step.Status = device.StatusDone
		return nil
	}
	if !o.dev.Stacked() {
		missing = missing[:1]
	}

	for _, region := range missing {
		if err := o.upload(ctx, step, region); err != nil {
			return err
		}
		if step.Status != "" {
			return nil
		}
	}
	step.Status = device.StatusDone
	return nil
}

// upload frees space if asked, checks capacity on a fresh listing and
// copies the target image into region.
func (o *Orchestrator) upload(ctx context.Context, step *device.UpgradeStep, region *device.FlashRegion) error {
	if o.cfg.Evict {
		if err := o.flash.Evict(ctx, o.dev, region, o.current, o.target); err != nil {
			return err
		}
	}
	if err := o.flash.Refresh(ctx, o.dev, region); err != nil {
		return err
	}
	if !flash.HasSpace(region, o.target.Space) {
		util.WithDevice(o.dev.Address).Warnf("%s: %d bytes free, %d needed", region.Name, region.FreeSpace, o.target.Space)
		step.Status = device.StatusNoSpace
		return nil
	}

	copied, err := o.copyImage(ctx, region)
	if err != nil {
		return err
	}
	if !copied {
		step.Status = device.CopyFailedStatus(o.target.Image, region.Name)
		return nil
	}
	return o.flash.Refresh(ctx, o.dev, region)
}

// copyImage runs the device copy command. It reports false when the
// device could not open the source.
func (o *Orchestrator) copyImage(ctx context.Context, region *device.FlashRegion) (bool, error) {
	sess, err := o.cfg.Exec.Session(ctx, o.dev)
	if err != nil || sess == nil {
		return false, err
	}
	image := o.target.Image
	src, err := o.cfg.Images.URL(ctx, image)
	if err != nil {
		return false, util.NewDeviceError("image source", o.dev.Address, err)
	}

	log := util.WithDevice(o.dev.Address)
	log.Infof("Copying image %s to %s", image, region.Name)
	start := time.Now()
	line := fmt.Sprintf("copy %s %s%s", src, region.Name, image)
	event := audit.NewEvent(o.cfg.User, o.dev.Address, audit.OpCopyImage).
		WithRun(o.cfg.RunID).
		WithFile(region.Name, image).
		WithCommands(line)
	defer func() { audit.Record(event) }()

	out, err := sess.SendCommand(ctx, line, transport.SendOptions{
		ExpectString: copyFirstReply,
		ReadTimeout:  device.CommandReadTimeout,
	})
	if err == nil && strings.Contains(out, destinationPrompt) {
		var more string
		more, err = sess.SendCommand(ctx, "", transport.SendOptions{
			ExpectString: `#`,
			ReadTimeout:  CopyReadTimeout,
		})
		out += more
	}
	if err != nil {
		event.Finish(start, err)
		return false, util.NewDeviceError("copy image", o.dev.Address, err)
	}

	switch {
	case strings.Contains(out, copyOpenError):
		event.Finish(start, fmt.Errorf("%s", strings.TrimSpace(out)))
		log.Warnf("Image %s not copied to %s", image, region.Name)
		return false, nil
	case strings.Contains(out, "Error"):
		err := fmt.Errorf("copy %s to %s: %s", image, region.Name, strings.TrimSpace(out))
		event.Finish(start, err)
		return false, util.NewDeviceError("copy image", o.dev.Address, err)
	}
	event.Finish(start, nil)
	log.Infof("Image %s copied to %s", image, region.Name)
	return true, nil
}

// verifyImage checks the target image digest in every region, stopping at
// the first region that lacks the image or fails the check.
func (o *Orchestrator) verifyImage(ctx context.Context, step *device.UpgradeStep) error {
	if o.target == nil {
		step.Status = string(device.StatusNotInScope)
		return nil
	}
	if err := o.requireRegions("verify image"); err != nil {
		return err
	}
	log := util.WithDevice(o.dev.Address)
	image := o.target.Image

	for _, region := range o.dev.Regions() {
		if !region.HasFile(image) {
			log.Warnf("Image %s not in %s", image, region.Name)
			step.Status = device.ImageMissingStatus(image, region.Name)
			return nil
		}
		cmd, err := o.cfg.Exec.RunInfo(ctx, o.dev, catalog.InfoMD5Checksum, region.Name+image)
		if err != nil {
			return err
		}
		if cmd.Status != device.StatusDone {
			step.Status = cmd.Status
			return nil
		}
		if digest := Digest(cmd.Output); digest == "" || !strings.EqualFold(digest, o.target.MD5) {
			log.Warnf("MD5 NOk for image %s%s", region.Name, image)
			step.Status = device.StatusChecksumMismatch
			return nil
		}
		log.Infof("MD5 Ok for image %s%s", region.Name, image)
	}
	step.Status = device.StatusDone
	return nil
}

func (o *Orchestrator) requireRegions(op string) error {
	if len(o.dev.FlashOrder) == 0 {
		return util.NewDeviceError(op, o.dev.Address, fmt.Errorf("no flash regions discovered: %w", util.ErrNotFound))
	}
	return nil
}

// Digest extracts the hex digest from "verify /md5" output, e.g.
// "verify /md5 (flash:x.bin) = 0f1e...".
func Digest(output string) string {
	i := strings.LastIndex(output, "= ")
	if i < 0 {
		return ""
	}
	fields := strings.Fields(output[i+2:])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
