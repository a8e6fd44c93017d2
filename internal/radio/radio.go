// Package radio reports whether the local Bluetooth adapter is powered.
package radio

import (
	"context"

	"github.com/sirupsen/logrus"
)

// State reports the adapter power state.
type State interface {
	Enabled() bool
}

// Watcher additionally delivers power changes until ctx is done.
type Watcher interface {
	State
	Watch(ctx context.Context, fn func(enabled bool)) error
}

// AlwaysOn is used where the adapter state cannot be observed.
type AlwaysOn struct{}

func (AlwaysOn) Enabled() bool { return true }

func (AlwaysOn) Watch(ctx context.Context, _ func(bool)) error { return nil }

// Open returns the BlueZ adapter state, falling back to AlwaysOn when the
// system bus or BlueZ is not available.
func Open(adapter string, logger *logrus.Logger) Watcher {
	b, err := NewBlueZ(adapter, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"adapter": adapter,
			"error":   err,
		}).Warn("Adapter state unavailable, assuming powered")
		return AlwaysOn{}
	}
	return b
}
