package main

import (
	"errors"
	"fmt"

	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/scoreboard"
	"github.com/srg/scorectl/internal/store"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the display dropped the link before the
	// command was delivered.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error chain into a message with a hint where one helps.
func FormatUserError(err error) string {
	var hint string
	switch {
	case errors.Is(err, store.ErrNoDevice):
		hint = "pass the display address with --device"
	case errors.Is(err, scoreboard.ErrNotReady), errors.Is(err, ErrConnectionLost):
		hint = "make sure the display is powered and in range"
	case errors.Is(err, device.ErrTimeout):
		hint = "increase --timeout or move closer to the display"
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "turn Bluetooth on"
	case errors.Is(err, device.ErrUnsupported):
		hint = "Bluetooth LE is not supported on this platform"
	}
	if hint == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s\n  hint: %s", err, hint)
}
