// Package cli provides terminal formatting helpers for fleetup output.
package cli

import (
	"os"
	"strings"
)

// colorEnabled is false when NO_COLOR is set (see no-color.org) or after
// SetColor(false).
var colorEnabled = os.Getenv("NO_COLOR") == ""

// SetColor turns ANSI coloring on or off for the whole process.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Green(s string) string  { return paint("32", s) }
func Yellow(s string) string { return paint("33", s) }
func Red(s string) string    { return paint("31", s) }
func Bold(s string) string   { return paint("1", s) }
func Dim(s string) string    { return paint("2", s) }

// DotPad pads name with dots to the given width.
// Example: DotPad("sw1 (10.0.0.1)", 20) → "sw1 (10.0.0.1) ....."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}
