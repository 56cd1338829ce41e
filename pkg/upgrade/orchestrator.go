// Package upgrade drives the firmware upgrade workflow of one device:
// release discovery, flash discovery and the ordered upgrade steps.
package upgrade

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/flash"
	"github.com/fleetup/fleetup/pkg/imagestore"
	"github.com/fleetup/fleetup/pkg/parse"
	"github.com/fleetup/fleetup/pkg/util"
)

// Config is shared by the orchestrators of one fleet run.
type Config struct {
	Exec   *device.Executor
	Bundle *catalog.Bundle
	Images imagestore.Source

	// Evict deletes stale images from a region before copying.
	Evict bool
	// ValidationDir, when set, receives one text file per validation step.
	ValidationDir string

	User  string
	RunID string
}

// Orchestrator runs the upgrade workflow of a single device. It is owned
// by the device's worker.
type Orchestrator struct {
	cfg   Config
	dev   *device.Device
	flash *flash.Inventory
	phase *phases

	current *device.ReleaseDescriptor
	target  *device.ReleaseDescriptor
}

// New returns an orchestrator for dev in phase new.
func New(cfg Config, dev *device.Device) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		dev:   dev,
		flash: &flash.Inventory{Exec: cfg.Exec, User: cfg.User, RunID: cfg.RunID},
		phase: newPhases(),
	}
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() string {
	return o.phase.Current()
}

// Current returns the running release, nil before it is determined.
func (o *Orchestrator) Current() *device.ReleaseDescriptor { return o.current }

// Target returns the target release, nil when the device is out of scope.
func (o *Orchestrator) Target() *device.ReleaseDescriptor { return o.target }

// Run executes the whole workflow: the three discovery phases followed by
// steps in the given order. A device that failed to connect runs nothing;
// its steps carry the device status.
func (o *Orchestrator) Run(ctx context.Context, steps []device.StepName) error {
	if o.dev.Status.Terminal() {
		for _, name := range steps {
			o.dev.AddStep(name).Status = string(o.dev.Status)
		}
		return nil
	}
	if err := o.DetermineCurrentRelease(ctx); err != nil {
		return err
	}
	if err := o.DetermineTargetRelease(ctx); err != nil {
		return err
	}
	if err := o.DiscoverFlash(ctx); err != nil {
		return err
	}
	for _, name := range steps {
		if _, err := o.RunStep(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// DetermineCurrentRelease reads the running version, image and hardware
// list from the device information and file system commands.
func (o *Orchestrator) DetermineCurrentRelease(ctx context.Context) error {
	if err := o.phase.enter(ctx, eventCurrent); err != nil {
		return err
	}
	infos := []string{catalog.InfoDeviceInformation, catalog.InfoFileSystem}
	if err := o.cfg.Exec.RunCatalog(ctx, o.dev, infos, false); err != nil {
		return err
	}

	var rec device.Record
	for _, cmd := range o.dev.Commands {
		if cmd.Info == catalog.InfoDeviceInformation && len(cmd.Parsed) > 0 {
			rec = cmd.Parsed[0]
		}
	}
	if rec == nil {
		return util.NewDeviceError("current release", o.dev.Address,
			fmt.Errorf("no parsed %q output: %w", catalog.InfoDeviceInformation, util.ErrNotFound))
	}

	image := imageName(parse.String(rec["running_image"]))
	o.current = &device.ReleaseDescriptor{
		Version: parse.String(rec["version"]),
		Image:   image,
		Mode:    modeOf(image),
	}
	o.dev.Hardware = parse.StringList(rec["hardware"])

	util.WithDevice(o.dev.Address).Infof("Current release %s (%s, %s) on %s",
		o.current.Version, o.current.Image, o.current.Mode, strings.Join(o.dev.Hardware, ", "))
	return nil
}

// imageName strips the filesystem and directory from a running image path
// such as "flash:/c2960x-universalk9-mz.152-7.E7.bin".
func imageName(running string) string {
	if i := strings.LastIndex(running, ":"); i >= 0 {
		running = running[i+1:]
	}
	if running == "" {
		return ""
	}
	return path.Base(running)
}

func modeOf(image string) device.Mode {
	if strings.HasSuffix(image, "bin") {
		return device.ModeBundle
	}
	return device.ModeInstall
}

// DetermineTargetRelease matches the hardware list against the upgrade
// targets and enriches the match from the release catalog. A device
// without a target is marked out of scope; that is not an error.
func (o *Orchestrator) DetermineTargetRelease(ctx context.Context) error {
	if err := o.phase.enter(ctx, eventTarget); err != nil {
		return err
	}
	log := util.WithDevice(o.dev.Address)

	row, ok := o.cfg.Bundle.Targets.Match(o.dev.Hardware)
	if !ok || len(o.dev.Hardware) == 0 {
		log.Warnf("Device model %v not in scope", o.dev.Hardware)
		o.dev.Status = device.StatusNotInScope
		return nil
	}
	rel, ok := o.cfg.Bundle.Releases.Lookup(o.dev.Platform, o.dev.Hardware[0], row.Version)
	if !ok {
		log.Warnf("Release %s for %s/%s missing from the release catalog", row.Version, o.dev.Platform, o.dev.Hardware[0])
		o.dev.Status = device.StatusNotInScope
		return nil
	}

	o.target = &device.ReleaseDescriptor{
		Version: row.Version,
		Image:   rel.Image,
		Mode:    o.current.Mode,
		MD5:     rel.MD5,
		Space:   rel.Space,
	}
	log.Infof("Target release %s (%s)", o.target.Version, o.target.Image)
	return nil
}

// DiscoverFlash populates the device's flash regions.
func (o *Orchestrator) DiscoverFlash(ctx context.Context) error {
	if err := o.phase.enter(ctx, eventFlash); err != nil {
		return err
	}
	return o.flash.Discover(ctx, o.dev)
}

// RunStep appends and executes one upgrade step.
func (o *Orchestrator) RunStep(ctx context.Context, name device.StepName) (*device.UpgradeStep, error) {
	if err := o.phase.enter(ctx, eventStep); err != nil {
		return nil, err
	}
	step := o.dev.AddStep(name)
	step.Current = o.current
	step.Target = o.target

	util.WithStep(o.dev.Address, string(name)).Info("Running upgrade step")
	var err error
	switch name {
	case device.StepPreValidations, device.StepPostValidations:
		err = o.validate(ctx, step)
	case device.StepTransferImage:
		err = o.transferImage(ctx, step)
	case device.StepVerifyMD5:
		err = o.verifyImage(ctx, step)
	default:
		err = fmt.Errorf("unknown upgrade step %q", name)
	}
	return step, err
}
