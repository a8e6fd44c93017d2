package gatt

import (
	"bytes"

	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
)

// HandleEvent is the transport callback. A step only completes when the
// event's category matches the kind of the pending operation on that device.
func (m *Manager) HandleEvent(ev device.Event) {
	if ev.Kind != device.EventConnectionStateChanged && ev.Kind != device.EventServicesDiscovered && !m.IsConnected(ev.DeviceID) {
		m.logger.WithFields(logrus.Fields{
			"device": ev.DeviceID,
			"event":  ev.Kind,
		}).Debug("Dropping event for device without session")
		return
	}

	switch ev.Kind {
	case device.EventConnectionStateChanged:
		m.onConnectionStateChanged(ev)
	case device.EventServicesDiscovered:
		m.onServicesDiscovered(ev)
	case device.EventMTUChanged:
		m.onMTUChanged(ev)
	case device.EventCharacteristicRead:
		m.onCharacteristicRead(ev)
	case device.EventCharacteristicWrite:
		m.onCharacteristicWrite(ev)
	case device.EventCharacteristicChanged:
		m.onCharacteristicChanged(ev)
	case device.EventDescriptorRead:
		m.onDescriptorRead(ev)
	case device.EventDescriptorWrite:
		m.onDescriptorWrite(ev)
	default:
		m.logger.WithField("event", ev.Kind).Warn("Unknown transport event")
	}
}

func (m *Manager) onConnectionStateChanged(ev device.Event) {
	id := ev.DeviceID
	log := m.logger.WithFields(logrus.Fields{
		"device": id,
		"status": ev.Status,
		"state":  ev.State,
	})

	switch {
	case ev.Status.OK() && ev.State == device.StateConnected:
		m.onConnected(ev)

	case ev.Status.OK():
		log.Info("Disconnected")
		m.teardown(id)
		m.completeFor(id)

	case ev.Status.IsSecurity():
		// TODO: bond with the device and retry once pairing support lands in the transport.
		log.Warn("Connection requires bonding, not supported yet")
		if ev.State == device.StateDisconnected {
			m.teardown(id)
			m.completeFor(id)
		} else {
			m.completeFor(id, KindConnect)
		}

	case ev.Status.IsSporadic() && m.pendingFor(id, KindConnect) != nil:
		m.retryConnect(ev)

	default:
		log.Error("Connection state changed with failure status")
		m.teardown(id)
		m.completeFor(id)
	}
}

func (m *Manager) onConnected(ev device.Event) {
	id := ev.DeviceID
	if ev.Link == nil {
		m.logger.WithField("device", id).Error("Connected event without link")
		m.completeFor(id, KindConnect)
		return
	}

	// A dial that outlived its Connect step must not start discovery while
	// another step is in flight.
	p := m.pendingFor(id, KindConnect)
	if p == nil {
		m.logger.WithField("device", id).Warn("Connected without a pending connect, closing late link")
		if err := ev.Link.Close(); err != nil {
			m.logger.WithFields(logrus.Fields{"device": id, "error": err}).Debug("Closing late link failed")
		}
		return
	}
	sessionCtx := p.op.(*Connect).SessionContext

	if old, ok := m.sessions.Get(id); ok && old.link != ev.Link {
		m.logger.WithField("device", id).Warn("Replacing stale session")
		_ = old.link.Close()
	}
	s := newSession(ev.Link, sessionCtx)
	m.sessions.Set(id, s)
	m.attempts.Del(id)

	m.logger.WithFields(logrus.Fields{
		"device":  id,
		"session": s.ID,
	}).Info("Connected")
	m.listeners.each("connect", func(l *Listener) {
		if l.OnConnect != nil {
			l.OnConnect(id)
		}
	})

	// The Connect step stays pending until discovery finishes
	if err := ev.Link.DiscoverServices(); err != nil {
		m.logger.WithFields(logrus.Fields{"device": id, "error": err}).Error("Failed to start service discovery")
		m.teardown(id)
		m.completeFor(id)
	}
}

func (m *Manager) retryConnect(ev device.Event) {
	id := ev.DeviceID
	p := m.pendingFor(id, KindConnect)
	if p == nil {
		return
	}

	failures, _ := m.attempts.Get(id)
	failures++
	log := m.logger.WithFields(logrus.Fields{
		"device":  id,
		"status":  ev.Status,
		"attempt": failures,
		"max":     m.opts.MaxConnectAttempts,
	})

	if DecideConnectRetry(failures, m.opts.MaxConnectAttempts) == Retry {
		m.attempts.Set(id, failures)
		log.Warn("Connect attempt failed, trying again")
		m.mu.Lock()
		if !m.closed {
			m.queue.Push(p.op)
		}
		m.mu.Unlock()
	} else {
		m.attempts.Del(id)
		log.Error("Max connect attempts reached, giving up")
	}
	m.complete(p)
}

func (m *Manager) onServicesDiscovered(ev device.Event) {
	id := ev.DeviceID
	s, ok := m.sessions.Get(id)
	if !ev.Status.OK() || !ok {
		m.logger.WithFields(logrus.Fields{
			"device":  id,
			"status":  ev.Status,
			"session": ok,
		}).Error("Service discovery failed")
		m.teardown(id)
		m.completeFor(id, KindConnect)
		return
	}

	profile := device.NewProfile(ev.Services)
	s.setProfile(profile)
	m.logger.WithFields(logrus.Fields{
		"device":   id,
		"services": len(profile.Services()),
	}).Info("Discovered services")

	if err := m.RequestMTU(id, m.opts.PreferredMTU); err != nil {
		m.logger.WithFields(logrus.Fields{"device": id, "error": err}).Warn("Cannot request MTU")
	}
	m.listeners.each("services-discovered", func(l *Listener) {
		if l.OnServicesDiscovered != nil {
			l.OnServicesDiscovered(id, profile)
		}
	})
	m.completeFor(id, KindConnect)
}

func (m *Manager) onMTUChanged(ev device.Event) {
	id := ev.DeviceID
	mtu := ev.MTU
	if ev.Status.OK() {
		if s, ok := m.sessions.Get(id); ok {
			s.setMTU(mtu)
		}
	} else if s, ok := m.sessions.Get(id); ok {
		mtu = s.MTU()
	}
	m.logger.WithFields(logrus.Fields{
		"device":  id,
		"mtu":     mtu,
		"success": ev.Status.OK(),
	}).Info("ATT MTU changed")

	m.listeners.each("mtu-changed", func(l *Listener) {
		if l.OnMTUChanged != nil {
			l.OnMTUChanged(id, mtu)
		}
	})
	m.completeFor(id, KindMtuRequest)
}

// characteristic resolves an event's characteristic against the session cache.
func (m *Manager) characteristic(deviceID, uuid string) *device.Characteristic {
	if c := m.FindCharacteristic(deviceID, uuid); c != nil {
		return c
	}
	return &device.Characteristic{UUID: device.NormalizeUUID(uuid)}
}

func (m *Manager) descriptor(deviceID, charUUID, descUUID string) *device.Descriptor {
	if s, ok := m.sessions.Get(deviceID); ok {
		if d := s.Profile().Descriptor(charUUID, descUUID); d != nil {
			return d
		}
	}
	return &device.Descriptor{UUID: device.NormalizeUUID(descUUID), Characteristic: device.NormalizeUUID(charUUID)}
}

// logFailure reports a failed read or write; permission errors get their own message.
func (m *Manager) logFailure(ev device.Event, uuid string) {
	log := m.logger.WithFields(logrus.Fields{
		"device": ev.DeviceID,
		"uuid":   uuid,
		"status": ev.Status,
		"event":  ev.Kind,
	})
	switch ev.Status {
	case device.StatusReadNotPermitted:
		log.Error("Read not permitted")
	case device.StatusWriteNotPermitted:
		log.Error("Write not permitted")
	default:
		log.Error("GATT request failed")
	}
}

func (m *Manager) onCharacteristicRead(ev device.Event) {
	if ev.Status.OK() {
		c := m.characteristic(ev.DeviceID, ev.Characteristic)
		m.logger.WithFields(logrus.Fields{
			"device": ev.DeviceID,
			"uuid":   c.UUID,
			"value":  ev.Value,
		}).Debug("Read characteristic")
		m.listeners.each("characteristic-read", func(l *Listener) {
			if l.OnCharacteristicRead != nil {
				l.OnCharacteristicRead(ev.DeviceID, c, ev.Value)
			}
		})
	} else {
		m.logFailure(ev, ev.Characteristic)
	}
	m.completeFor(ev.DeviceID, KindCharacteristicRead)
}

func (m *Manager) onCharacteristicWrite(ev device.Event) {
	if ev.Status.OK() {
		c := m.characteristic(ev.DeviceID, ev.Characteristic)
		m.logger.WithFields(logrus.Fields{
			"device": ev.DeviceID,
			"uuid":   c.UUID,
			"bytes":  len(ev.Value),
		}).Debug("Wrote characteristic")
		m.listeners.each("characteristic-write", func(l *Listener) {
			if l.OnCharacteristicWrite != nil {
				l.OnCharacteristicWrite(ev.DeviceID, c, ev.Value)
			}
		})
	} else {
		m.logFailure(ev, ev.Characteristic)
	}
	m.completeFor(ev.DeviceID, KindCharacteristicWrite)
}

// onCharacteristicChanged delivers notifications; they never complete a step.
func (m *Manager) onCharacteristicChanged(ev device.Event) {
	c := m.characteristic(ev.DeviceID, ev.Characteristic)
	m.logger.WithFields(logrus.Fields{
		"device": ev.DeviceID,
		"uuid":   c.UUID,
		"bytes":  len(ev.Value),
	}).Debug("Characteristic changed")
	m.listeners.each("characteristic-changed", func(l *Listener) {
		if l.OnCharacteristicChanged != nil {
			l.OnCharacteristicChanged(ev.DeviceID, c, ev.Value)
		}
	})
}

func (m *Manager) onDescriptorRead(ev device.Event) {
	if ev.Status.OK() {
		d := m.descriptor(ev.DeviceID, ev.Characteristic, ev.Descriptor)
		m.listeners.each("descriptor-read", func(l *Listener) {
			if l.OnDescriptorRead != nil {
				l.OnDescriptorRead(ev.DeviceID, d, ev.Value)
			}
		})
	} else {
		m.logFailure(ev, ev.Descriptor)
	}
	m.completeFor(ev.DeviceID, KindDescriptorRead)
}

// onDescriptorWrite completes DescriptorWrite for ordinary descriptors and
// Enable/DisableNotifications for the CCCD.
func (m *Manager) onDescriptorWrite(ev device.Event) {
	cccd := device.IsCCCD(ev.Descriptor)

	if ev.Status.OK() {
		if cccd {
			m.onCCCDWrite(ev)
		} else {
			d := m.descriptor(ev.DeviceID, ev.Characteristic, ev.Descriptor)
			m.listeners.each("descriptor-write", func(l *Listener) {
				if l.OnDescriptorWrite != nil {
					l.OnDescriptorWrite(ev.DeviceID, d, ev.Value)
				}
			})
		}
	} else {
		m.logFailure(ev, ev.Descriptor)
	}

	if cccd {
		m.completeFor(ev.DeviceID, KindEnableNotifications, KindDisableNotifications)
	} else {
		m.completeFor(ev.DeviceID, KindDescriptorWrite)
	}
}

func (m *Manager) onCCCDWrite(ev device.Event) {
	c := m.characteristic(ev.DeviceID, ev.Characteristic)
	log := m.logger.WithFields(logrus.Fields{"device": ev.DeviceID, "uuid": c.UUID})

	switch {
	case bytes.Equal(ev.Value, device.EnableNotificationValue), bytes.Equal(ev.Value, device.EnableIndicationValue):
		log.Info("Notifications enabled")
		m.listeners.each("notifications-enabled", func(l *Listener) {
			if l.OnNotificationsEnabled != nil {
				l.OnNotificationsEnabled(ev.DeviceID, c)
			}
		})
	case bytes.Equal(ev.Value, device.DisableNotificationValue):
		log.Info("Notifications disabled")
		m.listeners.each("notifications-disabled", func(l *Listener) {
			if l.OnNotificationsDisabled != nil {
				l.OnNotificationsDisabled(ev.DeviceID, c)
			}
		})
	default:
		log.WithField("value", ev.Value).Error("Unexpected CCCD value")
	}
}
