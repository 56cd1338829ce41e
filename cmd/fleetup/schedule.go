package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetup/fleetup/pkg/fleet"
	"github.com/fleetup/fleetup/pkg/util"
)

// runScheduled repeats op on a standard five-field cron schedule until the
// process is interrupted. A run still in progress when the next one is due
// causes that tick to be skipped.
func runScheduled(parent context.Context, spec string, op fleet.Operation) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	logger := cron.PrintfLogger(util.Logger)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	c.Schedule(sched, cron.FuncJob(func() {
		// Inventory and catalogs are reloaded so edits apply to the next run.
		coord, devices, err := prepare(op)
		if err != nil {
			util.Errorf("Scheduled %s: %v", op.Kind, err)
			return
		}
		run := coord.Run(ctx, devices, op)
		if err := finish(ctx, coord, run); err != nil {
			util.Errorf("Scheduled %s: %v", op.Kind, err)
		}
	}))

	util.Infof("Scheduled %s (%s), next run at %s", op.Kind, spec, sched.Next(time.Now()).Format("2006-01-02 15:04"))
	if !jsonOutput {
		fmt.Printf("fleetup %s scheduled %q, interrupt to stop\n", op.Kind, spec)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
