package device

import (
	"fmt"

	"github.com/fleetup/fleetup/pkg/transport"
)

// Status is the device-level outcome. The set of values is closed.
type Status string

const (
	StatusNone        Status = ""
	StatusConnected   Status = "Connected"
	StatusRefused     Status = "Device refused connection"
	StatusTCPFailed   Status = "TCP connection failed"
	StatusAuthFailed  Status = "Authentication failed"
	StatusSSHKeys     Status = "Issue with the SSH keys"
	StatusUnreachable Status = "Couldn't connect"
	StatusNotInScope  Status = "Device model not in scope"
)

var validStatuses = map[Status]bool{
	StatusNone:        true,
	StatusConnected:   true,
	StatusRefused:     true,
	StatusTCPFailed:   true,
	StatusAuthFailed:  true,
	StatusSSHKeys:     true,
	StatusUnreachable: true,
	StatusNotInScope:  true,
}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	return validStatuses[s]
}

// Terminal reports whether s is a connection failure after which no
// further transport operation happens.
func (s Status) Terminal() bool {
	switch s {
	case StatusRefused, StatusTCPFailed, StatusAuthFailed, StatusSSHKeys, StatusUnreachable:
		return true
	}
	return false
}

// statusFor maps a classified transport failure to its terminal status.
func statusFor(kind transport.ErrorKind) (Status, bool) {
	switch kind {
	case transport.KindRefused:
		return StatusRefused, true
	case transport.KindTCPTimeout:
		return StatusTCPFailed, true
	case transport.KindAuthFailed:
		return StatusAuthFailed, true
	case transport.KindKeyLength:
		return StatusSSHKeys, true
	case transport.KindUnreachable:
		return StatusUnreachable, true
	}
	return StatusNone, false
}

// Command and step status values.
const (
	StatusDone             = "Done"
	StatusCommandNotFound  = "Command not found"
	StatusParseError       = "Error parsing the output"
	StatusAlreadyUpgraded  = "Already upgraded"
	StatusChecksumMismatch = "MD5 NOk"
	StatusNoSpace          = "Couldn't free up some space for the target image"
)

// PatternNotDetectedStatus is recorded when cmd's expected prompt never appeared.
func PatternNotDetectedStatus(cmd string) string {
	return fmt.Sprintf("Error getting information from command: %s", cmd)
}

// CopyFailedStatus is recorded when the device could not open the image source.
func CopyFailedStatus(image, region string) string {
	return fmt.Sprintf("Couldn't copy image %s to %s", image, region)
}

// ImageMissingStatus is recorded when region lacks the target image.
func ImageMissingStatus(image, region string) string {
	return fmt.Sprintf("Image %s not in %s", image, region)
}
