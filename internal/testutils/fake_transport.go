//go:build test

package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/scorectl/internal/device"
)

// Request is one call the manager issued against the fake transport.
type Request struct {
	Op         string // connect, discover, mtu, read, write, read-desc, write-desc, notify
	DeviceID   string
	UUID       string
	Descriptor string
	Payload    []byte
	Mode       device.WriteMode
	MTU        int
	Enable     bool
}

// FakeTransport is a scripted device.Transport. By default every request is
// answered synchronously with a success event; Hold switches to manual mode
// where responses wait until Release.
type FakeTransport struct {
	mu          sync.Mutex
	handler     device.EventHandler
	peripherals map[string]*PeripheralBuilder
	links       map[string]*FakeLink
	requests    []Request
	failures    map[string][]device.Status // per request op, consumed in order
	connectErr  error
	held        []device.Event
	manual      bool
	inFlight    int
	maxInFlight int
	mtu         int
}

// NewFakeTransport creates a transport knowing the given peripherals.
func NewFakeTransport(peripherals ...*PeripheralBuilder) *FakeTransport {
	t := &FakeTransport{
		peripherals: make(map[string]*PeripheralBuilder),
		links:       make(map[string]*FakeLink),
		failures:    make(map[string][]device.Status),
	}
	for _, p := range peripherals {
		t.peripherals[p.ID()] = p
	}
	return t
}

func (t *FakeTransport) SetEventHandler(h device.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Fail makes the next len(statuses) requests of kind op answer with those statuses.
func (t *FakeTransport) Fail(op string, statuses ...device.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[op] = append(t.failures[op], statuses...)
}

// FailConnectCall makes Connect return err synchronously.
func (t *FakeTransport) FailConnectCall(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// NegotiatedMTU caps the MTU reported by MTU responses; zero echoes the request.
func (t *FakeTransport) NegotiatedMTU(mtu int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mtu = mtu
}

// Hold stops automatic responses.
func (t *FakeTransport) Hold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manual = true
}

// Release emits the oldest withheld response. It reports false when none is waiting.
func (t *FakeTransport) Release() bool {
	t.mu.Lock()
	if len(t.held) == 0 {
		t.mu.Unlock()
		return false
	}
	ev := t.held[0]
	t.held = t.held[1:]
	t.mu.Unlock()

	t.respond(ev)
	return true
}

// ReleaseAll emits withheld responses, including ones produced while releasing,
// then switches back to automatic mode.
func (t *FakeTransport) ReleaseAll() {
	for t.Release() {
	}
	t.mu.Lock()
	t.manual = false
	t.mu.Unlock()
	for t.Release() {
	}
}

// Held returns the number of withheld responses.
func (t *FakeTransport) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}

// Requests returns a copy of the request log.
func (t *FakeTransport) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Request(nil), t.requests...)
}

// RequestOps returns the op names of the request log, in order.
func (t *FakeTransport) RequestOps() []string {
	var out []string
	for _, r := range t.Requests() {
		out = append(out, r.Op)
	}
	return out
}

// ResetRequests clears the request log.
func (t *FakeTransport) ResetRequests() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = nil
}

// MaxInFlight is the highest number of unanswered requests ever observed.
func (t *FakeTransport) MaxInFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInFlight
}

// Link returns the most recent link to id.
func (t *FakeTransport) Link(id string) *FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[id]
}

// Drop simulates an unexpected link loss reported by the stack.
func (t *FakeTransport) Drop(id string) {
	t.mu.Lock()
	if l := t.links[id]; l != nil {
		l.closed = true
	}
	t.mu.Unlock()
	t.Emit(device.Event{
		Kind:     device.EventConnectionStateChanged,
		DeviceID: id,
		Status:   device.StatusSuccess,
		State:    device.StateDisconnected,
	})
}

// Notify simulates an inbound notification.
func (t *FakeTransport) Notify(id, charUUID string, value []byte) {
	t.Emit(device.Event{
		Kind:           device.EventCharacteristicChanged,
		DeviceID:       id,
		Status:         device.StatusSuccess,
		Characteristic: device.NormalizeUUID(charUUID),
		Value:          value,
	})
}

// Emit delivers ev to the handler immediately.
func (t *FakeTransport) Emit(ev device.Event) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// request logs r and answers it with ev, adjusted by any scripted failure.
func (t *FakeTransport) request(r Request, ev device.Event) {
	t.mu.Lock()
	t.requests = append(t.requests, r)
	if q := t.failures[r.Op]; len(q) > 0 {
		ev.Status = q[0]
		t.failures[r.Op] = q[1:]
		if r.Op == "connect" {
			ev.State = device.StateDisconnected
			ev.Link = nil
		}
	}
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	if t.manual {
		t.held = append(t.held, ev)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.respond(ev)
}

func (t *FakeTransport) respond(ev device.Event) {
	t.mu.Lock()
	t.inFlight--
	t.mu.Unlock()
	t.Emit(ev)
}

func (t *FakeTransport) Connect(_ context.Context, deviceID string) error {
	t.mu.Lock()
	err := t.connectErr
	t.connectErr = nil
	p, known := t.peripherals[deviceID]
	t.mu.Unlock()

	if err != nil {
		return err
	}

	ev := device.Event{Kind: device.EventConnectionStateChanged, DeviceID: deviceID}
	if !known {
		ev.Status = device.StatusFailure
		ev.State = device.StateDisconnected
	} else {
		l := &FakeLink{t: t, id: deviceID, services: p.Build()}
		t.mu.Lock()
		t.links[deviceID] = l
		t.mu.Unlock()
		ev.Status = device.StatusSuccess
		ev.State = device.StateConnected
		ev.Link = l
	}
	t.request(Request{Op: "connect", DeviceID: deviceID}, ev)
	return nil
}

// FakeLink is the device.Link handed out by FakeTransport.
type FakeLink struct {
	t        *FakeTransport
	id       string
	services []*device.Service
	closed   bool
	notify   map[string]bool
}

func (l *FakeLink) DeviceID() string { return l.id }

func (l *FakeLink) Services() []*device.Service { return nil }

func (l *FakeLink) check() error {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.closed {
		return fmt.Errorf("fake link %s: %w", l.id, device.ErrClosed)
	}
	return nil
}

func (l *FakeLink) DiscoverServices() error {
	if err := l.check(); err != nil {
		return err
	}
	l.t.request(Request{Op: "discover", DeviceID: l.id}, device.Event{
		Kind:     device.EventServicesDiscovered,
		DeviceID: l.id,
		Services: l.services,
	})
	return nil
}

func (l *FakeLink) RequestMTU(mtu int) error {
	if err := l.check(); err != nil {
		return err
	}
	got := mtu
	l.t.mu.Lock()
	if l.t.mtu > 0 && l.t.mtu < got {
		got = l.t.mtu
	}
	l.t.mu.Unlock()
	l.t.request(Request{Op: "mtu", DeviceID: l.id, MTU: mtu}, device.Event{
		Kind:     device.EventMTUChanged,
		DeviceID: l.id,
		MTU:      got,
	})
	return nil
}

func (l *FakeLink) ReadCharacteristic(c *device.Characteristic) error {
	if err := l.check(); err != nil {
		return err
	}
	l.t.request(Request{Op: "read", DeviceID: l.id, UUID: c.UUID}, device.Event{
		Kind:           device.EventCharacteristicRead,
		DeviceID:       l.id,
		Characteristic: c.UUID,
		Value:          []byte(c.UUID),
	})
	return nil
}

func (l *FakeLink) WriteCharacteristic(c *device.Characteristic, payload []byte, mode device.WriteMode) error {
	if err := l.check(); err != nil {
		return err
	}
	data := append([]byte(nil), payload...)
	l.t.request(Request{Op: "write", DeviceID: l.id, UUID: c.UUID, Payload: data, Mode: mode}, device.Event{
		Kind:           device.EventCharacteristicWrite,
		DeviceID:       l.id,
		Characteristic: c.UUID,
		Value:          data,
	})
	return nil
}

func (l *FakeLink) ReadDescriptor(d *device.Descriptor) error {
	if err := l.check(); err != nil {
		return err
	}
	l.t.request(Request{Op: "read-desc", DeviceID: l.id, UUID: d.Characteristic, Descriptor: d.UUID}, device.Event{
		Kind:           device.EventDescriptorRead,
		DeviceID:       l.id,
		Characteristic: d.Characteristic,
		Descriptor:     d.UUID,
		Value:          []byte(d.UUID),
	})
	return nil
}

func (l *FakeLink) WriteDescriptor(d *device.Descriptor, payload []byte) error {
	if err := l.check(); err != nil {
		return err
	}
	data := append([]byte(nil), payload...)
	l.t.request(Request{Op: "write-desc", DeviceID: l.id, UUID: d.Characteristic, Descriptor: d.UUID, Payload: data}, device.Event{
		Kind:           device.EventDescriptorWrite,
		DeviceID:       l.id,
		Characteristic: d.Characteristic,
		Descriptor:     d.UUID,
		Value:          data,
	})
	return nil
}

// SetNotify is local and answers synchronously.
func (l *FakeLink) SetNotify(c *device.Characteristic, enable bool) error {
	if err := l.check(); err != nil {
		return err
	}
	l.t.mu.Lock()
	if l.notify == nil {
		l.notify = make(map[string]bool)
	}
	l.notify[c.UUID] = enable
	l.t.requests = append(l.t.requests, Request{Op: "notify", DeviceID: l.id, UUID: c.UUID, Enable: enable})
	l.t.mu.Unlock()
	return nil
}

// Notifying reports whether SetNotify(true) is in effect for charUUID.
func (l *FakeLink) Notifying(charUUID string) bool {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	return l.notify[device.NormalizeUUID(charUUID)]
}

func (l *FakeLink) Close() error {
	l.t.mu.Lock()
	l.closed = true
	l.t.requests = append(l.t.requests, Request{Op: "close", DeviceID: l.id})
	l.t.mu.Unlock()
	return nil
}

// Closed reports whether Close was called or the link was dropped.
func (l *FakeLink) Closed() bool {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	return l.closed
}
