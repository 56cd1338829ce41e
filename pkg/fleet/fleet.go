// Package fleet runs one operation across every device of the inventory,
// one worker per device, and aggregates the per-device records.
package fleet

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fleetup/fleetup/pkg/audit"
	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/imagestore"
	"github.com/fleetup/fleetup/pkg/report"
	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/upgrade"
	"github.com/fleetup/fleetup/pkg/util"
)

// Kind names a fleet operation.
type Kind string

const (
	KindCollect   Kind = "collect"
	KindConfigure Kind = "configure"
	KindUpgrade   Kind = "upgrade"
)

// Operation is what each worker does once its device is connected.
type Operation struct {
	Kind  Kind
	Infos []string
	Steps []device.StepName
	Evict bool
}

// Collect runs the catalog commands of infos.
func Collect(infos ...string) Operation {
	return Operation{Kind: KindCollect, Infos: infos}
}

// Configure applies the catalog configuration sets of infos.
func Configure(infos ...string) Operation {
	return Operation{Kind: KindConfigure, Infos: infos}
}

// Upgrade runs the upgrade workflow with steps in the given order.
func Upgrade(evict bool, steps ...device.StepName) Operation {
	return Operation{Kind: KindUpgrade, Steps: steps, Evict: evict}
}

// Validate checks the operation against the bundle before any device is
// contacted.
func (op Operation) Validate(b *catalog.Bundle) error {
	v := &util.ValidationBuilder{}
	switch op.Kind {
	case KindCollect, KindConfigure:
		v.Add(len(op.Infos) > 0, "at least one info is required")
		for _, info := range op.Infos {
			_, ok := b.Commands[info]
			v.Add(ok, fmt.Sprintf("info %q is not in the command catalog", info))
		}
	case KindUpgrade:
		v.Add(len(op.Steps) > 0, "at least one upgrade step is required")
		if err := b.RequireUpgradeInputs(); err != nil {
			v.AddErrorf("%v", err)
		}
	default:
		v.AddErrorf("unknown operation %q", op.Kind)
	}
	return v.Build()
}

// Devices builds one device per inventory row with resolved credentials.
func Devices(b *catalog.Bundle) []*device.Device {
	devices := make([]*device.Device, 0, len(b.Inventory))
	for _, e := range b.Inventory {
		devices = append(devices, device.New(e.Platform, e.Address, b.Credentials.Resolve(e)))
	}
	return devices
}

// Coordinator fans an operation out over devices. Its fields are read-only
// during a run.
type Coordinator struct {
	Bundle *catalog.Bundle
	Exec   *device.Executor
	Images imagestore.Source

	// Limit bounds concurrent workers; zero means one worker per device.
	Limit int
	// Preferred is the first protocol tried; SSH when empty.
	Preferred     transport.Protocol
	ValidationDir string
	User          string

	Progress Progress
	Metrics  *Metrics
}

// Run executes op on every device and returns the aggregated run once all
// workers have finished. A worker's fatal error is attached to its own
// record and never stops the others. Records are sorted by address.
func (c *Coordinator) Run(ctx context.Context, devices []*device.Device, op Operation) *report.Run {
	run := &report.Run{
		ID:        uuid.NewString(),
		Operation: string(op.Kind),
		Started:   time.Now(),
	}
	log := util.WithOperation(string(op.Kind)).WithField("run", run.ID)
	log.Infof("Starting %s on %d devices", op.Kind, len(devices))
	if c.Progress != nil {
		c.Progress.RunStart(run.ID, op, len(devices))
	}

	results := make(chan report.DeviceRecord, len(devices))
	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	if c.Limit > 0 {
		g.SetLimit(c.Limit)
	}
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			start := time.Now()
			err := c.runDevice(ctx, run.ID, dev, op)
			rec := report.FromDevice(dev, err)
			rec.Duration = time.Since(start)
			if err != nil {
				util.WithDevice(dev.Address).Errorf("%s failed: %v", op.Kind, err)
			}
			if c.Metrics != nil {
				c.Metrics.Observe(op.Kind, &rec)
			}
			mu.Lock()
			done++
			if c.Progress != nil {
				c.Progress.DeviceEnd(&rec, done, len(devices))
			}
			mu.Unlock()
			results <- rec
			return nil
		})
	}
	g.Wait()
	close(results)

	run.Records = make([]report.DeviceRecord, 0, len(devices))
	for rec := range results {
		run.Records = append(run.Records, rec)
	}
	sort.Slice(run.Records, func(i, j int) bool {
		return run.Records[i].Address < run.Records[j].Address
	})
	run.Finished = time.Now()

	if c.Metrics != nil {
		c.Metrics.ObserveRun(run)
	}
	if c.Progress != nil {
		c.Progress.RunEnd(run)
	}
	log.Infof("Finished %s in %s", op.Kind, run.Finished.Sub(run.Started).Round(time.Millisecond))
	return run
}

// runDevice is the body of one worker. Panics are converted to errors so a
// single device cannot take the run down.
func (c *Coordinator) runDevice(ctx context.Context, runID string, dev *device.Device, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			util.WithDevice(dev.Address).Debugf("panic: %v\n%s", r, debug.Stack())
			err = util.NewDeviceError(string(op.Kind), dev.Address, fmt.Errorf("panic: %v", r))
		}
	}()
	defer dev.Disconnect()

	if err := dev.Connect(ctx, c.Exec.Dialer, c.Preferred); err != nil {
		return err
	}

	switch op.Kind {
	case KindCollect:
		return c.Exec.RunCatalog(ctx, dev, op.Infos, false)
	case KindConfigure:
		return c.configure(ctx, runID, dev, op.Infos)
	case KindUpgrade:
		orch := upgrade.New(upgrade.Config{
			Exec:          c.Exec,
			Bundle:        c.Bundle,
			Images:        c.Images,
			Evict:         op.Evict,
			ValidationDir: c.ValidationDir,
			User:          c.User,
			RunID:         runID,
		}, dev)
		return orch.Run(ctx, op.Steps)
	}
	return util.NewDeviceError(string(op.Kind), dev.Address, fmt.Errorf("unknown operation"))
}

// configure applies each info's configuration set, auditing the lines
// sent. Devices without a session still get their commands listed so the
// report shows what was skipped.
func (c *Coordinator) configure(ctx context.Context, runID string, dev *device.Device, infos []string) error {
	for _, info := range infos {
		start := time.Now()
		first := len(dev.Commands)
		attempted := dev.Session() != nil

		err := c.Exec.RunCatalog(ctx, dev, []string{info}, true)
		if attempted {
			event := audit.NewEvent(c.User, dev.Address, audit.OpApplyConfig).WithRun(runID)
			for _, cmd := range dev.Commands[first:] {
				event.WithCommands(util.SplitLines(cmd.Text)...)
			}
			audit.Record(event.Finish(start, err))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
