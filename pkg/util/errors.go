// Package util provides logging helpers, common error types and small
// string/address helpers shared by the fleetup packages.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	ErrNotConnected        = errors.New("device not connected")
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrValidationFailed    = errors.New("validation failed")
)

// DeviceError carries an unrecognised failure up to the fleet worker
// boundary with the operation and device address attached.
type DeviceError struct {
	Op      string
	Address string
	Err     error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Address, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError wraps err with operation and device context. Wrapping an
// error that already carries device context for the same address keeps the
// innermost operation and prefixes the outer one.
func NewDeviceError(op, address string, err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) && de.Address == address {
		return &DeviceError{Op: op + ": " + de.Op, Address: address, Err: de.Err}
	}
	return &DeviceError{Op: op, Address: address, Err: err}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
