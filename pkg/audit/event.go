// Package audit records the destructive actions fleetup takes on devices:
// flash deletions, image copies and configuration pushes.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Operations recorded by the fleet workers.
const (
	OpDeleteFile  = "flash.delete"
	OpCopyImage   = "flash.copy"
	OpApplyConfig = "config.apply"
	OpSaveConfig  = "config.save"
)

// Event is one auditable action against a device.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	User      string        `json:"user"`
	RunID     string        `json:"run_id,omitempty"`
	Device    string        `json:"device"`
	Operation string        `json:"operation"`
	Region    string        `json:"region,omitempty"`
	File      string        `json:"file,omitempty"`
	Commands  []string      `json:"commands,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	User        string
	RunID       string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(user, device, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      user,
		Device:    device,
		Operation: operation,
	}
}

// WithRun tags the event with the fleet run that produced it.
func (e *Event) WithRun(id string) *Event {
	e.RunID = id
	return e
}

// WithFile sets the flash region and file the action touched.
func (e *Event) WithFile(region, file string) *Event {
	e.Region = region
	e.File = file
	return e
}

// WithCommands records the CLI lines sent to the device.
func (e *Event) WithCommands(cmds ...string) *Event {
	e.Commands = append(e.Commands, cmds...)
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// Finish sets the duration since start and the outcome of err.
func (e *Event) Finish(start time.Time, err error) *Event {
	e.Duration = time.Since(start)
	if err != nil {
		return e.WithError(err)
	}
	return e.WithSuccess()
}
