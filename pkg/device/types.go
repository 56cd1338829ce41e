// Package device models one managed switch or router for the duration of
// a fleet run: its live CLI session, the commands executed on it, its flash
// regions and the upgrade steps it went through.
package device

import (
	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/transport"
)

// Record is one structured row parsed from command output.
type Record map[string]interface{}

// Mode is the firmware packaging of a release.
type Mode string

const (
	ModeBundle  Mode = "Bundle"
	ModeInstall Mode = "Install"
)

// ReleaseDescriptor describes a firmware release. MD5 and Space are only
// set on target releases.
type ReleaseDescriptor struct {
	Version string
	Image   string
	Mode    Mode
	MD5     string
	Space   int64
}

// FlashRegion is one storage filesystem of the device. FreeSpace is only
// meaningful while Refreshed is true.
type FlashRegion struct {
	Name      string
	FreeSpace int64
	Files     []string
	Refreshed bool
}

// HasFile reports whether name is listed in the region.
func (r *FlashRegion) HasFile(name string) bool {
	for _, f := range r.Files {
		if f == name {
			return true
		}
	}
	return false
}

// Command is one command issued to the device. The descriptor fields are
// fixed at creation; Output, Parsed and Status are set once by execution.
type Command struct {
	Info  string
	Text  string
	Parse bool

	Output string
	Parsed []Record
	Status string
}

// Executed reports whether the command has been run.
func (c *Command) Executed() bool {
	return c.Status != ""
}

// StepName identifies an upgrade step.
type StepName string

const (
	StepPreValidations  StepName = "Pre-Validations"
	StepTransferImage   StepName = "Transfer Image"
	StepVerifyMD5       StepName = "Verify MD5"
	StepPostValidations StepName = "Post-Validations"
)

// StepNames lists the upgrade steps in their declared order.
var StepNames = []StepName{StepPreValidations, StepTransferImage, StepVerifyMD5, StepPostValidations}

// ParseStepName returns the step with the given name.
func ParseStepName(s string) (StepName, bool) {
	for _, n := range StepNames {
		if string(n) == s {
			return n, true
		}
	}
	return "", false
}

// UpgradeStep is one executed step of the upgrade workflow.
type UpgradeStep struct {
	Name    StepName
	Current *ReleaseDescriptor
	Target  *ReleaseDescriptor
	Status  string
	Output  string
}

// Device is one fleet member. It is owned by a single worker.
type Device struct {
	Address     string
	Platform    string
	Credentials catalog.Credentials
	Hardware    []string
	Hostname    string
	Status      Status

	// Attempts records the protocol of every dial attempt, in order.
	Attempts []transport.Protocol

	Commands []*Command
	Steps    []*UpgradeStep

	Flash      map[string]*FlashRegion
	FlashOrder []string

	session  transport.Session
	protocol transport.Protocol
}

// New creates a device from an inventory row and resolved credentials.
func New(platform, address string, creds catalog.Credentials) *Device {
	return &Device{
		Address:     address,
		Platform:    platform,
		Credentials: creds,
		Flash:       make(map[string]*FlashRegion),
	}
}

// Session returns the live session, or nil when none is established.
func (d *Device) Session() transport.Session {
	return d.session
}

// Protocol returns the protocol of the last successful connection.
func (d *Device) Protocol() transport.Protocol {
	return d.protocol
}

// CreateCommand appends a new command to the device's command list.
func (d *Device) CreateCommand(info, text string, parse bool) *Command {
	cmd := &Command{Info: info, Text: text, Parse: parse}
	d.Commands = append(d.Commands, cmd)
	return cmd
}

// AddStep appends a new upgrade step.
func (d *Device) AddStep(name StepName) *UpgradeStep {
	step := &UpgradeStep{Name: name}
	d.Steps = append(d.Steps, step)
	return step
}

// AddRegion registers a flash region, keeping discovery order. Adding a
// known region returns the existing entry.
func (d *Device) AddRegion(name string) *FlashRegion {
	if r, ok := d.Flash[name]; ok {
		return r
	}
	r := &FlashRegion{Name: name}
	d.Flash[name] = r
	d.FlashOrder = append(d.FlashOrder, name)
	return r
}

// Regions returns the flash regions in discovery order.
func (d *Device) Regions() []*FlashRegion {
	regions := make([]*FlashRegion, 0, len(d.FlashOrder))
	for _, name := range d.FlashOrder {
		regions = append(regions, d.Flash[name])
	}
	return regions
}

// Stacked reports whether the device is a stack of several members.
func (d *Device) Stacked() bool {
	return len(d.Hardware) > 1
}
