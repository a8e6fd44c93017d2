// Package reconnect keeps trying to re-establish a lost connection with a
// bounded cadence: a fixed delay between attempts and a longer cooldown after
// every few attempts.
package reconnect

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/groutine"
)

// Reason tells why a reconnection loop was started.
type Reason int

const (
	// ReasonPersistedDevice reconnects to the device stored from an earlier run.
	ReasonPersistedDevice Reason = iota
	// ReasonLastDevice reconnects to the device of the current run after a link loss.
	ReasonLastDevice
)

func (r Reason) String() string {
	if r == ReasonLastDevice {
		return "last-device"
	}
	return "persisted-device"
}

// Connector is the part of the connection manager the supervisor drives.
type Connector interface {
	Connect(deviceID string, sessionCtx any) error
	IsConnected(deviceID string) bool
	IsConnectPending(deviceID string) bool
}

// Radio reports whether the local adapter is powered.
type Radio interface {
	Enabled() bool
}

// Options control the retry cadence.
type Options struct {
	InitialDelay  time.Duration
	AttemptDelay  time.Duration
	Cooldown      time.Duration
	CooldownEvery int
}

// DefaultOptions is the cadence used by the scoreboard remote.
func DefaultOptions() Options {
	return Options{
		InitialDelay:  100 * time.Millisecond,
		AttemptDelay:  2 * time.Second,
		Cooldown:      24 * time.Second,
		CooldownEvery: 3,
	}
}

// Supervisor runs at most one reconnection loop at a time.
type Supervisor struct {
	conn   Connector
	radio  Radio
	logger *logrus.Logger
	opts   Options

	running      atomic.Bool
	shouldTry    atomic.Bool
	shuttingDown atomic.Bool
}

// NewSupervisor creates a supervisor. A nil radio is treated as always enabled.
func NewSupervisor(conn Connector, radio Radio, logger *logrus.Logger, opts Options) *Supervisor {
	if opts.CooldownEvery <= 0 {
		opts.CooldownEvery = DefaultOptions().CooldownEvery
	}
	return &Supervisor{conn: conn, radio: radio, logger: logger, opts: opts}
}

// Start launches the loop in the background. It returns false when a loop is already running.
func (s *Supervisor) Start(ctx context.Context, deviceID string, reason Reason) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.WithField("device", deviceID).Debug("Reconnection already running")
		return false
	}
	s.shouldTry.Store(true)
	groutine.Go(ctx, "reconnect-supervisor", func(ctx context.Context) {
		s.loop(ctx, deviceID, reason)
	})
	return true
}

// Run executes the loop on the calling goroutine and reports whether the
// device ended up connected. It returns false immediately when a loop is already running.
func (s *Supervisor) Run(ctx context.Context, deviceID string, reason Reason) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.shouldTry.Store(true)
	return s.loop(ctx, deviceID, reason)
}

// Stop asks the loop to exit at its next iteration boundary.
func (s *Supervisor) Stop() {
	s.shouldTry.Store(false)
}

// Shutdown stops the loop and prevents future attempts.
func (s *Supervisor) Shutdown() {
	s.shuttingDown.Store(true)
	s.Stop()
}

// Running reports whether a loop is active.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

func (s *Supervisor) radioEnabled() bool {
	return s.radio == nil || s.radio.Enabled()
}

func (s *Supervisor) loop(ctx context.Context, deviceID string, reason Reason) bool {
	defer s.running.Store(false)

	log := s.logger.WithFields(logrus.Fields{
		"device": deviceID,
		"reason": reason,
	})
	log.Info("Starting reconnection")

	if !groutine.Sleep(ctx, s.opts.InitialDelay) {
		return false
	}

	attempt := 0
	for s.shouldTry.Load() && s.radioEnabled() && !s.shuttingDown.Load() {
		if !s.conn.IsConnectPending(deviceID) {
			if err := s.conn.Connect(deviceID, reason); err != nil && !errors.Is(err, device.ErrAlreadyConnected) {
				log.WithField("error", err).Warn("Reconnect attempt rejected")
			}
		}
		attempt++
		log.WithField("attempt", attempt).Debug("Reconnect attempt issued")

		if !groutine.Sleep(ctx, s.opts.AttemptDelay) {
			break
		}
		if s.conn.IsConnected(deviceID) {
			log.WithField("attempt", attempt).Info("Reconnected")
			return true
		}
		if attempt%s.opts.CooldownEvery == 0 {
			log.WithField("cooldown", s.opts.Cooldown).Info("Reconnect cooling down")
			if !groutine.Sleep(ctx, s.opts.Cooldown) {
				break
			}
		}
	}

	log.WithField("attempts", attempt).Info("Reconnection stopped")
	return false
}
