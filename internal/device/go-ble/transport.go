package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/groutine"
)

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 10 * time.Second

// Transport is a device.Transport backed by go-ble.
type Transport struct {
	logger         *logrus.Logger
	connectTimeout time.Duration

	handler atomic.Pointer[device.EventHandler]

	initOnce sync.Once
	initErr  error
}

// NewTransport creates a go-ble transport. A zero connectTimeout selects DefaultConnectTimeout.
func NewTransport(logger *logrus.Logger, connectTimeout time.Duration) *Transport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Transport{logger: logger, connectTimeout: connectTimeout}
}

// SetEventHandler installs the single event sink. Events emitted before it is set are dropped.
func (t *Transport) SetEventHandler(h device.EventHandler) {
	t.handler.Store(&h)
}

func (t *Transport) emit(ev device.Event) {
	if h := t.handler.Load(); h != nil && *h != nil {
		(*h)(ev)
	}
}

func (t *Transport) init() error {
	t.initOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			t.initErr = fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
			return
		}
		ble.SetDefaultDevice(dev)
	})
	return t.initErr
}

// Connect dials deviceID in the background. The outcome is reported as an
// EventConnectionStateChanged; a non-nil return means the request was not issued.
func (t *Transport) Connect(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("device address is empty: %w", device.ErrInvalidArgument)
	}
	if err := t.init(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	groutine.Go(ctx, "ble-dial-"+deviceID, func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()

		t.logger.WithField("address", deviceID).Debug("Dialing BLE device...")
		client, err := ble.Dial(dialCtx, ble.NewAddr(deviceID))
		if err != nil {
			err = NormalizeError(err)
			t.logger.WithFields(logrus.Fields{
				"address": deviceID,
				"error":   err,
			}).Warn("Failed to dial BLE device")
			t.emit(device.Event{
				Kind:     device.EventConnectionStateChanged,
				DeviceID: deviceID,
				Status:   StatusFromError(err),
				State:    device.StateDisconnected,
			})
			return
		}

		l := newLink(t, deviceID, client)
		l.monitor()
		t.logger.WithField("address", deviceID).Info("BLE link established")
		t.emit(device.Event{
			Kind:     device.EventConnectionStateChanged,
			DeviceID: deviceID,
			Status:   device.StatusSuccess,
			State:    device.StateConnected,
			Link:     l,
		})
	})
	return nil
}

// Scan listens for advertisements until ctx ends. Cancellation is not an error.
func (t *Transport) Scan(ctx context.Context, allowDup bool, fn func(device.Advertisement)) error {
	if err := t.init(); err != nil {
		return err
	}
	err := ble.Scan(ctx, allowDup, func(a ble.Advertisement) {
		fn(convertAdvertisement(a))
	}, nil)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

func convertAdvertisement(a ble.Advertisement) device.Advertisement {
	services := make([]string, 0, len(a.Services()))
	for _, u := range a.Services() {
		services = append(services, device.NormalizeUUID(u.String()))
	}
	return device.Advertisement{
		Address:     a.Addr().String(),
		Name:        a.LocalName(),
		RSSI:        a.RSSI(),
		Services:    services,
		Connectable: a.Connectable(),
	}
}
