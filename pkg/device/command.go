package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/util"
)

// Read timeouts by command category.
const (
	ConfigurationReadTimeout = 600 * time.Second
	CommandReadTimeout       = 100 * time.Second
)

// longRunning lists the infos read with ConfigurationReadTimeout. Hashing
// a firmware image takes as long as dumping a large configuration.
var longRunning = map[string]bool{
	catalog.InfoConfiguration: true,
	catalog.InfoMD5Checksum:   true,
}

// ReadTimeout returns the read timeout for commands of info.
func ReadTimeout(info string) time.Duration {
	if longRunning[info] {
		return ConfigurationReadTimeout
	}
	return CommandReadTimeout
}

// invalidInputMarker is how the CLI reports a command it does not know.
const invalidInputMarker = "Invalid input detected"

// Parser converts raw output into structured records.
type Parser interface {
	Parse(platform, command, output string) ([]map[string]interface{}, error)
}

// VendorLookup resolves the vendor of a MAC address.
type VendorLookup interface {
	Vendor(mac string) string
}

// Executor runs commands on devices. It holds only read-only
// configuration and may be shared by all workers of a run.
type Executor struct {
	Commands catalog.Commands
	Parser   Parser
	Vendors  VendorLookup
	Dialer   transport.Dialer

	// CounterSettle is how long to wait after clearing interface counters
	// before reading them.
	CounterSettle time.Duration
}

// Session returns the device's usable session, reconnecting if it died.
func (e *Executor) Session(ctx context.Context, dev *Device) (transport.Session, error) {
	return dev.EnsureSession(ctx, e.Dialer)
}

// Run executes cmd on dev and records its outcome. Without a session it
// does nothing and leaves the status empty. A prompt that never appears is
// recorded as a command status; any other transport failure is returned
// as a *util.DeviceError.
func (e *Executor) Run(ctx context.Context, dev *Device, cmd *Command, configMode bool) error {
	if cmd.Executed() {
		return fmt.Errorf("command %q already executed", cmd.Text)
	}
	sess, err := e.Session(ctx, dev)
	if err != nil || sess == nil {
		return err
	}
	log := util.WithDevice(dev.Address)

	parseFailed := false
	if configMode {
		log.Debugf("Applying configuration: %s", cmd.Text)
		out, err := sess.SendConfigSet(ctx, util.SplitLines(cmd.Text))
		cmd.Output = out
		if err != nil {
			return e.fail(dev, cmd, err)
		}
	} else {
		log.Debugf("Getting information: %s", cmd.Text)
		out, err := sess.SendCommand(ctx, cmd.Text, transport.SendOptions{
			ReadTimeout:  ReadTimeout(cmd.Info),
			StripPrompt:  true,
			StripCommand: true,
		})
		cmd.Output = out
		if err != nil {
			return e.fail(dev, cmd, err)
		}
		if cmd.Parse {
			parseFailed = !e.parse(dev, cmd)
		}
	}

	switch {
	case strings.Contains(cmd.Output, invalidInputMarker):
		log.Warnf("Command not found: %s", cmd.Text)
		cmd.Status = StatusCommandNotFound
	case parseFailed:
		log.Warnf("Error parsing the output of: %s", cmd.Text)
		cmd.Status = StatusParseError
	default:
		cmd.Status = StatusDone
	}
	return nil
}

// parse fills cmd.Parsed and reports success.
func (e *Executor) parse(dev *Device, cmd *Command) bool {
	if e.Parser == nil {
		return false
	}
	rows, err := e.Parser.Parse(dev.Platform, cmd.Text, cmd.Output)
	if err != nil {
		util.WithDevice(dev.Address).Debugf("parse %q: %v", cmd.Text, err)
		return false
	}
	cmd.Parsed = make([]Record, len(rows))
	for i, row := range rows {
		cmd.Parsed[i] = Record(row)
	}
	if cmd.Info == catalog.InfoMACAddressTable {
		e.annotateVendors(cmd)
	}
	return true
}

func (e *Executor) annotateVendors(cmd *Command) {
	if e.Vendors == nil {
		return
	}
	for _, rec := range cmd.Parsed {
		if mac, ok := rec["destination_address"].(string); ok {
			rec["vendor"] = e.Vendors.Vendor(mac)
		}
	}
}

func (e *Executor) fail(dev *Device, cmd *Command, err error) error {
	if transport.KindOf(err) == transport.KindPatternNotDetected {
		util.WithDevice(dev.Address).Warnf("Pattern not detected in command: %s", cmd.Text)
		cmd.Status = PatternNotDetectedStatus(cmd.Text)
		return nil
	}
	return util.NewDeviceError("run command", dev.Address, err)
}

// clearCounters zeroes the interface counters and waits CounterSettle so
// the following reads cover a known interval. A confirm prompt that never
// appears is logged and the counters are read uncleared.
func (e *Executor) clearCounters(ctx context.Context, dev *Device) error {
	sess, err := e.Session(ctx, dev)
	if err != nil || sess == nil {
		return err
	}
	steps := []struct {
		line   string
		expect string
	}{
		{"clear counters", `confirm`},
		{"", ""},
	}
	for _, s := range steps {
		_, err := sess.SendCommand(ctx, s.line, transport.SendOptions{ExpectString: s.expect, ReadTimeout: CommandReadTimeout})
		if err != nil {
			if transport.KindOf(err) == transport.KindPatternNotDetected {
				util.WithDevice(dev.Address).Warnf("Counters not cleared: %v", err)
				return nil
			}
			return util.NewDeviceError("clear counters", dev.Address, err)
		}
	}
	if e.CounterSettle <= 0 {
		return nil
	}
	select {
	case <-time.After(e.CounterSettle):
		return nil
	case <-ctx.Done():
		return util.NewDeviceError("clear counters", dev.Address, ctx.Err())
	}
}

// RunCatalog creates and runs every catalog command of each info tag for
// the device's platform, in order.
func (e *Executor) RunCatalog(ctx context.Context, dev *Device, infos []string, configMode bool) error {
	for _, info := range infos {
		texts, err := e.Commands.Texts(info, dev.Platform)
		if err != nil {
			return util.NewDeviceError("catalog", dev.Address, err)
		}
		parse := e.Commands[info].TextFSM && !configMode
		if info == catalog.InfoInterfacesCounters && e.Commands[info].ClearCounters && !configMode {
			if err := e.clearCounters(ctx, dev); err != nil {
				return err
			}
		}
		for _, text := range texts {
			if err := e.Run(ctx, dev, dev.CreateCommand(info, text, parse), configMode); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunInfo runs the first catalog command of info with an argument
// appended, for commands that address a file or region.
func (e *Executor) RunInfo(ctx context.Context, dev *Device, info, arg string) (*Command, error) {
	text, err := e.Commands.First(info, dev.Platform)
	if err != nil {
		return nil, util.NewDeviceError("catalog", dev.Address, err)
	}
	if arg != "" {
		text += " " + arg
	}
	cmd := dev.CreateCommand(info, text, e.Commands[info].TextFSM)
	return cmd, e.Run(ctx, dev, cmd, false)
}
