package gatt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
)

// DefaultMaxConnectAttempts bounds automatic retries of sporadic connect failures.
const DefaultMaxConnectAttempts = 4

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	// MaxConnectAttempts is the number of consecutive sporadic connect
	// failures after which the manager gives up.
	MaxConnectAttempts int
	// PreferredMTU is requested automatically after service discovery.
	PreferredMTU int
	// OperationTimeout forces completion of a pending step that receives no
	// transport callback in time. Zero disables the deadline.
	OperationTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConnectAttempts <= 0 {
		o.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if o.PreferredMTU <= 0 {
		o.PreferredMTU = MaxMTU
	}
	o.PreferredMTU = ClampMTU(o.PreferredMTU)
	return o
}

// pendingOp is the single in-flight step. Completions carry the token they
// were issued for, so a late callback can never complete a newer step.
type pendingOp struct {
	op    Operation
	seq   uint64
	timer *time.Timer
}

// Manager serializes GATT operations against a Transport. At most one
// operation is outstanding at any time, across all devices, and operations
// complete in the order they were enqueued.
type Manager struct {
	transport device.Transport
	listeners *Registry
	logger    *logrus.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // guards queue, pending, seq and closed
	queue   *OperationQueue
	pending *pendingOp
	seq     uint64
	closed  bool

	sessions *hashmap.Map[string, *Session]
	attempts *hashmap.Map[string, int]
}

// NewManager creates a manager and installs itself as the transport's event handler.
func NewManager(transport device.Transport, listeners *Registry, logger *logrus.Logger, opts Options) *Manager {
	if listeners == nil {
		listeners = NewRegistry(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport: transport,
		listeners: listeners,
		logger:    logger,
		opts:      opts.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		queue:     NewOperationQueue(),
		sessions:  hashmap.New[string, *Session](),
		attempts:  hashmap.New[string, int](),
	}
	transport.SetEventHandler(m.HandleEvent)
	return m
}

// ----------------------------
// Public API
// ----------------------------

// Listeners returns the registry events are dispatched to.
func (m *Manager) Listeners() *Registry { return m.listeners }

// RegisterListener is a shortcut for Listeners().Register.
func (m *Manager) RegisterListener(l *Listener) *Subscription {
	return m.listeners.Register(l)
}

// UnregisterListener is a shortcut for Listeners().Unregister.
func (m *Manager) UnregisterListener(l *Listener) {
	m.listeners.Unregister(l)
}

// Connect queues a connection to deviceID. sessionCtx is attached to the resulting Session.
func (m *Manager) Connect(deviceID string, sessionCtx any) error {
	return m.Enqueue(&Connect{Device: deviceID, SessionContext: sessionCtx})
}

// Disconnect queues a teardown of deviceID's session.
func (m *Manager) Disconnect(deviceID string) error {
	return m.Enqueue(&Disconnect{Device: deviceID})
}

// DisconnectAll queues a Disconnect for every connected device.
func (m *Manager) DisconnectAll() {
	m.sessions.Range(func(id string, _ *Session) bool {
		if err := m.Disconnect(id); err != nil {
			m.logger.WithFields(logrus.Fields{"device": id, "error": err}).Debug("Skipping disconnect")
		}
		return true
	})
}

// RequestMTU queues an MTU negotiation; mtu is clamped to [MinMTU, MaxMTU].
func (m *Manager) RequestMTU(deviceID string, mtu int) error {
	return m.Enqueue(&MtuRequest{Device: deviceID, MTU: mtu})
}

func (m *Manager) ReadCharacteristic(deviceID, charUUID string) error {
	return m.Enqueue(&CharacteristicRead{Device: deviceID, Characteristic: charUUID})
}

// WriteCharacteristic queues a write. WriteAuto picks an acknowledged write
// when the characteristic supports it.
func (m *Manager) WriteCharacteristic(deviceID, charUUID string, payload []byte, mode device.WriteMode) error {
	return m.Enqueue(&CharacteristicWrite{Device: deviceID, Characteristic: charUUID, Mode: mode, Payload: payload})
}

func (m *Manager) ReadDescriptor(deviceID, charUUID, descUUID string) error {
	return m.Enqueue(&DescriptorRead{Device: deviceID, Characteristic: charUUID, Descriptor: descUUID})
}

func (m *Manager) WriteDescriptor(deviceID, charUUID, descUUID string, payload []byte) error {
	return m.Enqueue(&DescriptorWrite{Device: deviceID, Characteristic: charUUID, Descriptor: descUUID, Payload: payload})
}

func (m *Manager) EnableNotifications(deviceID, charUUID string) error {
	return m.Enqueue(&EnableNotifications{Device: deviceID, Characteristic: charUUID})
}

func (m *Manager) DisableNotifications(deviceID, charUUID string) error {
	return m.Enqueue(&DisableNotifications{Device: deviceID, Characteristic: charUUID})
}

// IsConnected reports whether a session exists for deviceID.
func (m *Manager) IsConnected(deviceID string) bool {
	_, ok := m.sessions.Get(deviceID)
	return ok
}

// IsConnectPending reports whether a Connect for deviceID is pending or queued.
func (m *Manager) IsConnectPending(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil && m.pending.op.Kind() == KindConnect && m.pending.op.DeviceID() == deviceID {
		return true
	}
	for _, op := range m.queue.Snapshot() {
		if op.Kind() == KindConnect && op.DeviceID() == deviceID {
			return true
		}
	}
	return false
}

// PendingOperation returns the in-flight operation, or nil when idle.
func (m *Manager) PendingOperation() Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	return m.pending.op
}

// QueueLen returns the number of operations waiting behind the pending one.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Session returns the live session of deviceID.
func (m *Manager) Session(deviceID string) (*Session, bool) {
	return m.sessions.Get(deviceID)
}

// Sessions returns every live session.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, m.sessions.Len())
	m.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

// FindCharacteristic looks up a discovered characteristic of a connected device.
func (m *Manager) FindCharacteristic(deviceID, charUUID string) *device.Characteristic {
	s, ok := m.sessions.Get(deviceID)
	if !ok {
		return nil
	}
	return s.Profile().Characteristic(charUUID)
}

// Close rejects further operations, drops the queue and tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	dropped := m.queue.Clear()
	if m.pending != nil {
		if m.pending.timer != nil {
			m.pending.timer.Stop()
		}
		m.pending = nil
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range m.Sessions() {
		m.teardown(s.DeviceID)
	}
	m.logger.WithField("dropped", dropped).Info("Connection manager closed")
}

// ----------------------------
// Queue mechanics
// ----------------------------

// Enqueue validates op and appends it to the queue. A validation failure is
// returned synchronously and leaves the queue untouched.
func (m *Manager) Enqueue(op Operation) error {
	normalized, err := m.validate(op)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"device":    deviceOf(op),
			"operation": kindOf(op),
			"error":     err,
		}).Debug("Operation rejected")
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("connection manager: %w", device.ErrClosed)
	}
	m.queue.Push(normalized)
	var next *pendingOp
	if m.pending == nil {
		next = m.nextLocked()
	}
	m.mu.Unlock()

	m.run(next)
	return nil
}

// nextLocked pops the head of the queue and makes it pending.
// Must be called with m.mu held.
func (m *Manager) nextLocked() *pendingOp {
	if m.pending != nil {
		m.logger.WithField("pending", describe(m.pending.op)).Error("Dispatch requested while an operation is pending, aborting")
		return nil
	}
	op := m.queue.Pop()
	if op == nil {
		return nil
	}
	m.seq++
	p := &pendingOp{op: op, seq: m.seq}
	if m.opts.OperationTimeout > 0 {
		p.timer = time.AfterFunc(m.opts.OperationTimeout, func() { m.expire(p) })
	}
	m.pending = p
	return p
}

// finish clears p if it is still pending and returns the next step to run.
func (m *Manager) finish(p *pendingOp) *pendingOp {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p == nil || m.pending != p {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	m.pending = nil
	m.logger.WithFields(logrus.Fields{
		"device":    p.op.DeviceID(),
		"operation": describe(p.op),
		"seq":       p.seq,
	}).Debug("Operation completed")
	if m.closed {
		return nil
	}
	return m.nextLocked()
}

// complete ends step p and advances the queue. Stale tokens are ignored.
func (m *Manager) complete(p *pendingOp) {
	m.run(m.finish(p))
}

// run executes p and every following step that completes synchronously.
func (m *Manager) run(p *pendingOp) {
	for p != nil {
		if !m.execute(p) {
			return
		}
		p = m.finish(p)
	}
}

// pendingFor returns the pending token when it targets deviceID and has one of kinds.
// With no kinds given any operation on deviceID matches.
func (m *Manager) pendingFor(deviceID string, kinds ...Kind) *pendingOp {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pending
	if p == nil || p.op.DeviceID() != deviceID {
		return nil
	}
	if len(kinds) == 0 {
		return p
	}
	for _, k := range kinds {
		if p.op.Kind() == k {
			return p
		}
	}
	return nil
}

// completeFor completes the pending step when it matches deviceID and kinds.
func (m *Manager) completeFor(deviceID string, kinds ...Kind) {
	if p := m.pendingFor(deviceID, kinds...); p != nil {
		m.complete(p)
	}
}

// expire forces completion of a step that never received its callback.
func (m *Manager) expire(p *pendingOp) {
	m.mu.Lock()
	stale := m.pending != p
	m.mu.Unlock()
	if stale {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"device":    p.op.DeviceID(),
		"operation": describe(p.op),
		"timeout":   m.opts.OperationTimeout,
		"status":    device.StatusTimeout,
	}).Warn("Operation timed out, completing as failed")
	m.complete(p)
}

// ----------------------------
// Validation
// ----------------------------

func (m *Manager) validate(op Operation) (Operation, error) {
	if op == nil {
		return nil, fmt.Errorf("nil operation: %w", device.ErrInvalidArgument)
	}
	id := op.DeviceID()
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%s without device id: %w", op.Kind(), device.ErrInvalidArgument)
	}

	if c, ok := op.(*Connect); ok {
		if m.IsConnected(id) {
			return nil, &device.ConnectionError{State: device.AlreadyConnected, Msg: id}
		}
		return c, nil
	}

	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, &device.ConnectionError{State: device.NotConnected, Msg: id}
	}
	profile := s.Profile()

	switch o := op.(type) {
	case *Disconnect:
		return o, nil

	case *MtuRequest:
		return &MtuRequest{Device: o.Device, MTU: ClampMTU(o.MTU)}, nil

	case *CharacteristicRead:
		c, err := lookupCharacteristic(profile, o.Characteristic)
		if err != nil {
			return nil, err
		}
		if !c.IsReadable() {
			return nil, &device.CapabilityError{UUID: c.UUID, Capability: device.CapabilityRead}
		}
		return &CharacteristicRead{Device: o.Device, Characteristic: c.UUID}, nil

	case *CharacteristicWrite:
		c, err := lookupCharacteristic(profile, o.Characteristic)
		if err != nil {
			return nil, err
		}
		mode, err := resolveWriteMode(c, o.Mode)
		if err != nil {
			return nil, err
		}
		return &CharacteristicWrite{
			Device:         o.Device,
			Characteristic: c.UUID,
			Mode:           mode,
			Payload:        append([]byte(nil), o.Payload...),
		}, nil

	case *DescriptorRead:
		d, err := lookupDescriptor(profile, o.Characteristic, o.Descriptor)
		if err != nil {
			return nil, err
		}
		if !d.Readable {
			return nil, &device.CapabilityError{UUID: d.UUID, Capability: device.CapabilityRead}
		}
		return &DescriptorRead{Device: o.Device, Characteristic: d.Characteristic, Descriptor: d.UUID}, nil

	case *DescriptorWrite:
		d, err := lookupDescriptor(profile, o.Characteristic, o.Descriptor)
		if err != nil {
			return nil, err
		}
		if d.IsCCCD() {
			return nil, fmt.Errorf("CCCD of %q is managed through notifications: %w", d.Characteristic, device.ErrInvalidArgument)
		}
		if !d.Writable {
			return nil, &device.CapabilityError{UUID: d.UUID, Capability: device.CapabilityWrite}
		}
		return &DescriptorWrite{
			Device:         o.Device,
			Characteristic: d.Characteristic,
			Descriptor:     d.UUID,
			Payload:        append([]byte(nil), o.Payload...),
		}, nil

	case *EnableNotifications:
		c, err := lookupNotifiable(profile, o.Characteristic)
		if err != nil {
			return nil, err
		}
		return &EnableNotifications{Device: o.Device, Characteristic: c.UUID}, nil

	case *DisableNotifications:
		c, err := lookupNotifiable(profile, o.Characteristic)
		if err != nil {
			return nil, err
		}
		return &DisableNotifications{Device: o.Device, Characteristic: c.UUID}, nil

	default:
		return nil, fmt.Errorf("unknown operation %T: %w", op, device.ErrUnsupported)
	}
}

func lookupCharacteristic(p *device.Profile, uuid string) (*device.Characteristic, error) {
	c := p.Characteristic(uuid)
	if c == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{device.NormalizeUUID(uuid)}}
	}
	return c, nil
}

func lookupDescriptor(p *device.Profile, charUUID, descUUID string) (*device.Descriptor, error) {
	d := p.Descriptor(charUUID, descUUID)
	if d == nil {
		uuids := []string{device.NormalizeUUID(descUUID)}
		if charUUID != "" {
			uuids = []string{device.NormalizeUUID(charUUID), uuids[0]}
		}
		return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: uuids}
	}
	return d, nil
}

func lookupNotifiable(p *device.Profile, uuid string) (*device.Characteristic, error) {
	c, err := lookupCharacteristic(p, uuid)
	if err != nil {
		return nil, err
	}
	if !c.IsNotifiable() && !c.IsIndicatable() {
		return nil, &device.CapabilityError{UUID: c.UUID, Capability: device.CapabilityNotify}
	}
	if c.CCCD() == nil {
		return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.UUID, device.CCCDUUID}}
	}
	return c, nil
}

func resolveWriteMode(c *device.Characteristic, mode device.WriteMode) (device.WriteMode, error) {
	switch mode {
	case device.WriteWithResponse:
		if c.IsWritable() {
			return mode, nil
		}
	case device.WriteWithoutResponse:
		if c.IsWritableWithoutResponse() {
			return mode, nil
		}
	default:
		if c.IsWritable() {
			return device.WriteWithResponse, nil
		}
		if c.IsWritableWithoutResponse() {
			return device.WriteWithoutResponse, nil
		}
	}
	return mode, &device.CapabilityError{UUID: c.UUID, Capability: device.CapabilityWrite}
}

func deviceOf(op Operation) string {
	if op == nil {
		return ""
	}
	return op.DeviceID()
}

func kindOf(op Operation) string {
	if op == nil {
		return ""
	}
	return op.Kind().String()
}

// ----------------------------
// Dispatch
// ----------------------------

// execute issues p against the transport. It reports true when the step is
// already finished and the caller must advance the queue.
func (m *Manager) execute(p *pendingOp) bool {
	op := p.op
	id := op.DeviceID()
	log := m.logger.WithFields(logrus.Fields{
		"device":    id,
		"operation": describe(op),
		"seq":       p.seq,
	})
	log.Debug("Dispatching operation")

	if c, ok := op.(*Connect); ok {
		if m.IsConnected(id) {
			log.Warn("Already connected, skipping connect")
			return true
		}
		log.Info("Connecting")
		if err := m.transport.Connect(m.ctx, c.Device); err != nil {
			log.WithField("error", err).Error("Failed to start connection")
			return true
		}
		return false
	}

	s, ok := m.sessions.Get(id)
	if !ok {
		log.Error("Not connected, abandoning operation")
		return true
	}
	link := s.link
	profile := s.Profile()

	var err error
	switch o := op.(type) {
	case *Disconnect:
		log.Info("Disconnecting")
		m.teardown(id)
		return true

	case *MtuRequest:
		err = link.RequestMTU(o.MTU)

	case *CharacteristicRead:
		c := profile.Characteristic(o.Characteristic)
		if c == nil {
			log.Error("Cannot find characteristic to read from")
			return true
		}
		err = link.ReadCharacteristic(c)

	case *CharacteristicWrite:
		c := profile.Characteristic(o.Characteristic)
		if c == nil {
			log.Error("Cannot find characteristic to write to")
			return true
		}
		err = link.WriteCharacteristic(c, o.Payload, o.Mode)

	case *DescriptorRead:
		d := profile.Descriptor(o.Characteristic, o.Descriptor)
		if d == nil {
			log.Error("Cannot find descriptor to read from")
			return true
		}
		err = link.ReadDescriptor(d)

	case *DescriptorWrite:
		d := profile.Descriptor(o.Characteristic, o.Descriptor)
		if d == nil {
			log.Error("Cannot find descriptor to write to")
			return true
		}
		err = link.WriteDescriptor(d, o.Payload)

	case *EnableNotifications:
		err = m.configureNotifications(link, profile, o.Characteristic, true)

	case *DisableNotifications:
		err = m.configureNotifications(link, profile, o.Characteristic, false)
	}

	if err != nil {
		log.WithField("error", err).Error("Operation failed to start")
		return true
	}
	return false
}

func (m *Manager) configureNotifications(link device.Link, profile *device.Profile, charUUID string, enable bool) error {
	c := profile.Characteristic(charUUID)
	if c == nil {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{charUUID}}
	}
	cccd := c.CCCD()
	if cccd == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.UUID, device.CCCDUUID}}
	}

	payload := device.DisableNotificationValue
	if enable {
		switch {
		case c.IsIndicatable():
			payload = device.EnableIndicationValue
		case c.IsNotifiable():
			payload = device.EnableNotificationValue
		default:
			return &device.CapabilityError{UUID: c.UUID, Capability: device.CapabilityNotify}
		}
	}

	if err := link.SetNotify(c, enable); err != nil {
		return fmt.Errorf("set notify for %q: %w", c.UUID, err)
	}
	return link.WriteDescriptor(cccd, payload)
}

// teardown is the single path for explicit and unexpected disconnects:
// close the link, drop the session, notify listeners.
func (m *Manager) teardown(deviceID string) {
	s, ok := m.sessions.Get(deviceID)
	if !ok || !m.sessions.Del(deviceID) {
		m.logger.WithField("device", deviceID).Debug("No session to tear down")
		return
	}

	if err := s.link.Close(); err != nil {
		m.logger.WithFields(logrus.Fields{"device": deviceID, "error": err}).Warn("Closing link failed")
	}
	m.logger.WithFields(logrus.Fields{
		"device":  deviceID,
		"session": s.ID,
	}).Info("Session closed")

	m.listeners.each("disconnect", func(l *Listener) {
		if l.OnDisconnect != nil {
			l.OnDisconnect(deviceID)
		}
	})
}
