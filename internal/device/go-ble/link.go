package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/groutine"
)

// link is the go-ble implementation of device.Link. Every request is executed
// in a named goroutine and answered through the transport's event handler.
type link struct {
	t        *Transport
	id       string
	client   ble.Client
	logger   *logrus.Logger
	callMu   sync.Mutex // go-ble clients are not safe for concurrent requests
	subMu    sync.Mutex // Subscribe/Unsubscribe only
	closed   atomic.Bool
	services atomic.Pointer[[]*device.Service]
	done     chan struct{}
}

func newLink(t *Transport, id string, client ble.Client) *link {
	return &link{
		t:      t,
		id:     id,
		client: client,
		logger: t.logger,
		done:   make(chan struct{}),
	}
}

// monitor watches the go-ble client Disconnected() channel and reports an
// unexpected link loss. Locally closed links stay silent.
func (l *link) monitor() {
	dc, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		l.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(context.Background(), "ble-link-monitor-"+l.id, func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			if l.closed.Swap(true) {
				return
			}
			close(l.done)
			l.logger.WithField("address", l.id).Warn("BLE stack reported disconnection")
			l.t.emit(device.Event{
				Kind:     device.EventConnectionStateChanged,
				DeviceID: l.id,
				Status:   device.StatusSuccess,
				State:    device.StateDisconnected,
			})
		case <-l.done:
		}
	})
}

func (l *link) DeviceID() string { return l.id }

func (l *link) Services() []*device.Service {
	if p := l.services.Load(); p != nil {
		return *p
	}
	return nil
}

// async runs fn under the call lock in a named goroutine unless the link is
// closed. The event fn returns is emitted after the lock is released, since
// the handler may issue the next request from the same goroutine.
func (l *link) async(name string, fn func() device.Event) error {
	if l.closed.Load() {
		return fmt.Errorf("link %s: %w", l.id, device.ErrClosed)
	}
	groutine.Go(context.Background(), name+"-"+l.id, func(context.Context) {
		if ev, ok := l.call(fn); ok {
			l.t.emit(ev)
		}
	})
	return nil
}

func (l *link) call(fn func() device.Event) (device.Event, bool) {
	l.callMu.Lock()
	defer l.callMu.Unlock()
	if l.closed.Load() {
		return device.Event{}, false
	}
	return fn(), true
}

func (l *link) DiscoverServices() error {
	return l.async("ble-discover", func() device.Event {
		profile, err := l.client.DiscoverProfile(true)
		ev := device.Event{Kind: device.EventServicesDiscovered, DeviceID: l.id, Status: StatusFromError(err)}
		if err != nil {
			l.logger.WithFields(logrus.Fields{"address": l.id, "error": err}).Error("Failed to discover profile")
		} else {
			services := convertProfile(profile)
			l.services.Store(&services)
			ev.Services = services
		}
		return ev
	})
}

func (l *link) RequestMTU(mtu int) error {
	return l.async("ble-mtu", func() device.Event {
		got, err := l.client.ExchangeMTU(mtu)
		if err != nil && device.ContainsIgnoreCase(err.Error(), "not implemented") {
			// CoreBluetooth negotiates the MTU on its own
			got, err = mtu, nil
		}
		return device.Event{Kind: device.EventMTUChanged, DeviceID: l.id, Status: StatusFromError(err), MTU: got}
	})
}

func bleChar(c *device.Characteristic) (*ble.Characteristic, error) {
	if c == nil {
		return nil, &device.NotFoundError{Resource: "characteristic"}
	}
	bc, ok := c.Handle.(*ble.Characteristic)
	if !ok || bc == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{c.UUID}}
	}
	return bc, nil
}

func (l *link) ReadCharacteristic(c *device.Characteristic) error {
	bc, err := bleChar(c)
	if err != nil {
		return err
	}
	return l.async("ble-read", func() device.Event {
		data, err := l.client.ReadCharacteristic(bc)
		return device.Event{
			Kind:           device.EventCharacteristicRead,
			DeviceID:       l.id,
			Status:         StatusFromError(err),
			Characteristic: c.UUID,
			Value:          data,
		}
	})
}

func (l *link) WriteCharacteristic(c *device.Characteristic, payload []byte, mode device.WriteMode) error {
	bc, err := bleChar(c)
	if err != nil {
		return err
	}
	data := append([]byte(nil), payload...)
	return l.async("ble-write", func() device.Event {
		err := l.client.WriteCharacteristic(bc, data, mode == device.WriteWithoutResponse)
		return device.Event{
			Kind:           device.EventCharacteristicWrite,
			DeviceID:       l.id,
			Status:         StatusFromError(err),
			Characteristic: c.UUID,
			Value:          data,
		}
	})
}

func (l *link) ReadDescriptor(d *device.Descriptor) error {
	bd, ok := d.Handle.(*ble.Descriptor)
	if !ok || bd == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{d.Characteristic, d.UUID}}
	}
	return l.async("ble-read-desc", func() device.Event {
		data, err := l.client.ReadDescriptor(bd)
		return device.Event{
			Kind:           device.EventDescriptorRead,
			DeviceID:       l.id,
			Status:         StatusFromError(err),
			Characteristic: d.Characteristic,
			Descriptor:     d.UUID,
			Value:          data,
		}
	})
}

// WriteDescriptor writes d. CCCD writes are acknowledged without touching the
// air: SetNotify already configured the remote side through Subscribe.
func (l *link) WriteDescriptor(d *device.Descriptor, payload []byte) error {
	data := append([]byte(nil), payload...)
	if d.IsCCCD() {
		return l.async("ble-cccd", func() device.Event {
			return device.Event{
				Kind:           device.EventDescriptorWrite,
				DeviceID:       l.id,
				Status:         device.StatusSuccess,
				Characteristic: d.Characteristic,
				Descriptor:     d.UUID,
				Value:          data,
			}
		})
	}
	bd, ok := d.Handle.(*ble.Descriptor)
	if !ok || bd == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{d.Characteristic, d.UUID}}
	}
	return l.async("ble-write-desc", func() device.Event {
		err := l.client.WriteDescriptor(bd, data)
		return device.Event{
			Kind:           device.EventDescriptorWrite,
			DeviceID:       l.id,
			Status:         StatusFromError(err),
			Characteristic: d.Characteristic,
			Descriptor:     d.UUID,
			Value:          data,
		}
	})
}

// SetNotify subscribes to or unsubscribes from c. Indications win when the
// characteristic supports both, matching the CCCD value the manager writes.
// It is synchronous and does not take the call lock.
func (l *link) SetNotify(c *device.Characteristic, enable bool) error {
	bc, err := bleChar(c)
	if err != nil {
		return err
	}
	if l.closed.Load() {
		return fmt.Errorf("link %s: %w", l.id, device.ErrClosed)
	}
	ind := c.IsIndicatable()
	uuid := c.UUID

	// Called from the event path, possibly inside a notification handler
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if !enable {
		return NormalizeError(l.client.Unsubscribe(bc, ind))
	}
	return NormalizeError(l.client.Subscribe(bc, ind, func(data []byte) {
		l.t.emit(device.Event{
			Kind:           device.EventCharacteristicChanged,
			DeviceID:       l.id,
			Status:         device.StatusSuccess,
			Characteristic: uuid,
			Value:          append([]byte(nil), data...),
		})
	}))
}

// Close cancels the connection. Subsequent requests fail with device.ErrClosed.
func (l *link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.done)
	l.logger.WithField("address", l.id).Info("Disconnecting BLE device...")
	return NormalizeError(l.client.CancelConnection())
}
