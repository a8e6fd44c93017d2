package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/scorectl/internal/device"
)

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "device not connected"),
		device.ContainsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case device.ContainsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	default:
		return err
	}
}

// StatusFromError converts the outcome of a go-ble call into a GATT status.
func StatusFromError(err error) device.Status {
	if err == nil {
		return device.StatusSuccess
	}

	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return device.Status(attErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, device.ErrTimeout) {
		return device.StatusTimeout
	}
	// Not worth retrying
	if errors.Is(err, device.ErrBluetoothOff) || errors.Is(err, device.ErrNotConnected) {
		return device.StatusFailure
	}

	msg := err.Error()
	switch {
	case device.ContainsIgnoreCase(msg, "encryption"):
		return device.StatusInsufficientEncryption
	case device.ContainsIgnoreCase(msg, "authentication"):
		return device.StatusInsufficientAuthentication
	case device.ContainsIgnoreCase(msg, "read not permitted"),
		device.ContainsIgnoreCase(msg, "reading is not permitted"):
		return device.StatusReadNotPermitted
	case device.ContainsIgnoreCase(msg, "write not permitted"),
		device.ContainsIgnoreCase(msg, "writing is not permitted"):
		return device.StatusWriteNotPermitted
	case device.ContainsIgnoreCase(msg, "not supported"):
		return device.StatusRequestNotSupported
	case device.ContainsIgnoreCase(msg, "timed out"), device.ContainsIgnoreCase(msg, "timeout"):
		return device.StatusTimeout
	case device.ContainsIgnoreCase(msg, "no resources"):
		return device.StatusNoResources
	default:
		return device.StatusGattError
	}
}
