package gatt

import (
	"fmt"
	"sync"
	"weak"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Listener is a set of optional callbacks. Unset slots are skipped.
// Callbacks run on the transport's event goroutine and must not block.
type Listener struct {
	OnConnect               func(deviceID string)
	OnDisconnect            func(deviceID string)
	OnServicesDiscovered    func(deviceID string, profile *device.Profile)
	OnMTUChanged            func(deviceID string, mtu int)
	OnCharacteristicRead    func(deviceID string, c *device.Characteristic, value []byte)
	OnCharacteristicWrite   func(deviceID string, c *device.Characteristic, value []byte)
	OnCharacteristicChanged func(deviceID string, c *device.Characteristic, value []byte)
	OnDescriptorRead        func(deviceID string, d *device.Descriptor, value []byte)
	OnDescriptorWrite       func(deviceID string, d *device.Descriptor, value []byte)
	OnNotificationsEnabled  func(deviceID string, c *device.Characteristic)
	OnNotificationsDisabled func(deviceID string, c *device.Characteristic)
}

// Subscription is the handle returned by Registry.Register. It does not keep
// the listener alive; the owner calls Unsubscribe when done.
type Subscription struct {
	ID string

	registry *Registry
	ref      weak.Pointer[Listener]
}

// Unsubscribe removes the listener from the registry. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.registry == nil {
		return
	}
	s.registry.remove(s.ref)
}

// Registry holds listeners without extending their lifetime. Entries whose
// listener was garbage collected are pruned on every Register/Unregister and
// skipped during dispatch.
type Registry struct {
	logger *logrus.Logger

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[weak.Pointer[Listener], *Subscription]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:  logger,
		entries: orderedmap.New[weak.Pointer[Listener], *Subscription](),
	}
}

// Register adds l. Registering the same listener twice returns the existing subscription.
func (r *Registry) Register(l *Listener) *Subscription {
	if l == nil {
		return nil
	}
	ref := weak.Make(l)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	if sub, ok := r.entries.Get(ref); ok {
		return sub
	}
	sub := &Subscription{ID: uuid.NewString(), registry: r, ref: ref}
	r.entries.Set(ref, sub)
	r.logger.WithFields(logrus.Fields{
		"subscription": sub.ID,
		"listeners":    r.entries.Len(),
	}).Debug("Listener registered")
	return sub
}

// Unregister removes l if present.
func (r *Registry) Unregister(l *Listener) {
	if l == nil {
		return
	}
	r.remove(weak.Make(l))
}

func (r *Registry) remove(ref weak.Pointer[Listener]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.entries.Delete(ref); ok {
		r.logger.WithField("subscription", sub.ID).Debug("Listener unregistered")
	}
	r.pruneLocked()
}

func (r *Registry) pruneLocked() {
	var dead []weak.Pointer[Listener]
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key.Value() == nil {
			dead = append(dead, pair.Key)
		}
	}
	for _, ref := range dead {
		sub, _ := r.entries.Delete(ref)
		r.logger.WithField("subscription", sub.ID).Debug("Pruned collected listener")
	}
}

// Len returns the number of entries, including ones not yet pruned.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// live snapshots the listeners still reachable, in registration order.
func (r *Registry) live() []*Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Listener, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if l := pair.Key.Value(); l != nil {
			out = append(out, l)
		}
	}
	return out
}

// each invokes fn for every live listener outside the registry lock.
// A panicking listener is logged and does not stop delivery to the rest.
func (r *Registry) each(event string, fn func(l *Listener)) {
	for _, l := range r.live() {
		r.invoke(event, l, fn)
	}
}

func (r *Registry) invoke(event string, l *Listener, fn func(l *Listener)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"event": event,
				"panic": fmt.Sprint(rec),
			}).Error("Listener panicked")
		}
	}()
	fn(l)
}
