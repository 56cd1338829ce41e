package fleet

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fleetup/fleetup/pkg/cli"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/report"
)

// Progress receives lifecycle callbacks during a run. DeviceEnd calls are
// serialized by the coordinator.
type Progress interface {
	RunStart(id string, op Operation, devices int)
	DeviceEnd(rec *report.DeviceRecord, done, total int)
	RunEnd(run *report.Run)
}

// consoleProgress is an append-only terminal progress reporter. It never
// rewrites lines, so output is safe for pipes and CI logs.
type consoleProgress struct {
	W       io.Writer
	Verbose bool
}

// NewConsoleProgress creates a reporter writing to stdout.
func NewConsoleProgress(verbose bool) Progress {
	return &consoleProgress{W: os.Stdout, Verbose: verbose}
}

const dotWidth = 32

func (p *consoleProgress) RunStart(id string, op Operation, devices int) {
	what := strings.Join(op.Infos, ", ")
	if op.Kind == KindUpgrade {
		names := make([]string, len(op.Steps))
		for i, s := range op.Steps {
			names[i] = string(s)
		}
		what = strings.Join(names, " > ")
	}
	fmt.Fprintf(p.W, "\nfleetup %s: %d devices (%s)\n", op.Kind, devices, what)
	if p.Verbose {
		fmt.Fprintf(p.W, "run %s\n", cli.Dim(id))
	}
	fmt.Fprintln(p.W)
}

func (p *consoleProgress) DeviceEnd(rec *report.DeviceRecord, done, total int) {
	tag := fmt.Sprintf("[%d/%d]", done, total)
	name := rec.Address
	if rec.Hostname != "" {
		name = rec.Hostname + " (" + rec.Address + ")"
	}
	fmt.Fprintf(p.W, "  %-9s %s %s  (%s)\n", tag, cli.DotPad(name, dotWidth), colorOutcome(rec), formatDurationCompact(rec.Duration))

	if !p.Verbose {
		return
	}
	if rec.Failed() {
		fmt.Fprintf(p.W, "            %s\n", cli.Dim(rec.Error))
	}
	for _, s := range rec.Steps {
		fmt.Fprintf(p.W, "            %s %s\n", cli.DotPad(s.Step, dotWidth-10), colorStatus(s.Status))
	}
}

func (p *consoleProgress) RunEnd(run *report.Run) {
	ok, failed, unreachable := 0, 0, 0
	for i := range run.Records {
		switch outcome(&run.Records[i]) {
		case outcomeOK:
			ok++
		case outcomeFailed:
			failed++
		default:
			unreachable++
		}
	}

	fmt.Fprintf(p.W, "\n---\n")
	fmt.Fprintf(p.W, "fleetup %s: %d devices", run.Operation, len(run.Records))
	var parts []string
	if ok > 0 {
		parts = append(parts, cli.Green(fmt.Sprintf("%d ok", ok)))
	}
	if failed > 0 {
		parts = append(parts, cli.Red(fmt.Sprintf("%d failed", failed)))
	}
	if unreachable > 0 {
		parts = append(parts, cli.Yellow(fmt.Sprintf("%d skipped", unreachable)))
	}
	if len(parts) > 0 {
		fmt.Fprintf(p.W, ": %s", strings.Join(parts, ", "))
	}
	fmt.Fprintf(p.W, "  (%s)\n", formatDurationCompact(run.Finished.Sub(run.Started)))

	if failed > 0 {
		fmt.Fprintf(p.W, "\n  FAILED:\n")
		for i := range run.Records {
			rec := &run.Records[i]
			if outcome(rec) != outcomeFailed {
				continue
			}
			fmt.Fprintf(p.W, "    %s: %s\n", rec.Address, failureReason(rec))
		}
	}
	fmt.Fprintln(p.W)
}

type deviceOutcome int

const (
	outcomeOK deviceOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// outcome classifies a record: a worker error or a failed step is a
// failure, a connection failure or an out-of-scope device is skipped.
func outcome(rec *report.DeviceRecord) deviceOutcome {
	if rec.Failed() {
		return outcomeFailed
	}
	status := device.Status(rec.Status)
	if status.Terminal() || status == device.StatusNotInScope {
		return outcomeSkipped
	}
	for _, s := range rec.Steps {
		if !stepSucceeded(s.Status) {
			return outcomeFailed
		}
	}
	return outcomeOK
}

func stepSucceeded(status string) bool {
	return status == device.StatusDone || status == device.StatusAlreadyUpgraded
}

func failureReason(rec *report.DeviceRecord) string {
	if rec.Failed() {
		return rec.Error
	}
	for _, s := range rec.Steps {
		if !stepSucceeded(s.Status) {
			return fmt.Sprintf("step %q: %s", s.Step, s.Status)
		}
	}
	return rec.Status
}

func colorOutcome(rec *report.DeviceRecord) string {
	switch outcome(rec) {
	case outcomeOK:
		return cli.Green("OK")
	case outcomeFailed:
		return cli.Red("FAIL")
	}
	return cli.Yellow(rec.Status)
}

func colorStatus(status string) string {
	if stepSucceeded(status) {
		return cli.Green(status)
	}
	return cli.Red(status)
}

// formatDurationCompact formats a duration in a human-readable compact form.
func formatDurationCompact(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
