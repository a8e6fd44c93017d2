package scoreboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
	"github.com/srg/scorectl/internal/gatt"
	"github.com/srg/scorectl/internal/reconnect"
	"github.com/srg/scorectl/internal/store"
)

// Display UUIDs of the scoreboard's serial service.
const (
	DisplayServiceUUID        = "ffe0"
	DisplayCharacteristicUUID = "ffe1"
)

// ErrNotReady is returned by the send methods until the connect sequence
// has found the display characteristic.
var ErrNotReady = fmt.Errorf("display not ready: %w", device.ErrNotConnected)

// Options configure a Remote.
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string
	AssemblerCapacity  int
	Configuration      Configuration
	Clock              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ServiceUUID == "" {
		o.ServiceUUID = DisplayServiceUUID
	}
	if o.CharacteristicUUID == "" {
		o.CharacteristicUUID = DisplayCharacteristicUUID
	}
	if o.Configuration == (Configuration{}) {
		o.Configuration = DefaultConfiguration()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	o.ServiceUUID = device.NormalizeUUID(o.ServiceUUID)
	o.CharacteristicUUID = device.NormalizeUUID(o.CharacteristicUUID)
	return o
}

// Remote drives one scoreboard display: it finishes the connect sequence,
// keeps the link alive through the reconnection supervisor and encodes
// commands onto the display characteristic.
type Remote struct {
	ctx        context.Context
	manager    *gatt.Manager
	supervisor *reconnect.Supervisor
	lastDevice store.LastDeviceStore
	logger     *logrus.Logger
	opts       Options

	// listener is held here; the registry only keeps a weak reference
	listener  *gatt.Listener
	sub       *gatt.Subscription
	assembler *LineAssembler

	mu        sync.Mutex
	display   string
	ready     bool
	manual    bool
	config    Configuration
	onConfig  []func(Configuration)
	onMessage []func(string)

	shuttingDown atomic.Bool
}

// NewRemote wires a Remote into manager. ctx bounds reconnection loops.
func NewRemote(ctx context.Context, manager *gatt.Manager, supervisor *reconnect.Supervisor, lastDevice store.LastDeviceStore, logger *logrus.Logger, opts Options) *Remote {
	opts = opts.withDefaults()
	r := &Remote{
		ctx:        ctx,
		manager:    manager,
		supervisor: supervisor,
		lastDevice: lastDevice,
		logger:     logger,
		opts:       opts,
		assembler:  NewLineAssembler(opts.AssemblerCapacity, logger),
		config:     opts.Configuration,
	}
	r.listener = &gatt.Listener{
		OnConnect:               r.onConnect,
		OnMTUChanged:            r.onMTUChanged,
		OnDisconnect:            r.onDisconnect,
		OnCharacteristicChanged: r.onCharacteristicChanged,
		OnNotificationsEnabled: func(id string, c *device.Characteristic) {
			r.logger.WithFields(logrus.Fields{"device": id, "uuid": c.UUID}).Info("Display notifications enabled")
		},
	}
	r.sub = manager.RegisterListener(r.listener)
	return r
}

// Display returns the current or last display id.
func (r *Remote) Display() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.display
}

// Ready reports whether commands can be sent.
func (r *Remote) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Configuration returns the last configuration reported by the display.
func (r *Remote) Configuration() Configuration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// OnConfiguration registers fn for CONFIG messages from the display.
func (r *Remote) OnConfiguration(fn func(Configuration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConfig = append(r.onConfig, fn)
}

// OnMessage registers fn for display messages that are not CONFIG.
func (r *Remote) OnMessage(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = append(r.onMessage, fn)
}

// Connect starts a user initiated connection to deviceID.
func (r *Remote) Connect(deviceID string) error {
	r.mu.Lock()
	r.manual = false
	r.display = deviceID
	r.mu.Unlock()
	return r.manager.Connect(deviceID, nil)
}

// AutoConnect starts reconnecting to the stored display. It returns the
// device id, or store.ErrNoDevice when nothing was stored.
func (r *Remote) AutoConnect() (string, error) {
	id, err := r.lastDevice.LastDevice()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.display = id
	r.manual = false
	r.mu.Unlock()

	if !r.supervisor.Start(r.ctx, id, reconnect.ReasonPersistedDevice) {
		r.logger.WithField("device", id).Info("Some reconnection already running")
	}
	return id, nil
}

// Disconnect drops the display without triggering a reconnection.
func (r *Remote) Disconnect() error {
	r.mu.Lock()
	r.manual = true
	id := r.display
	r.mu.Unlock()

	r.supervisor.Stop()
	if id == "" {
		return nil
	}
	return r.manager.Disconnect(id)
}

// SetRadioEnabled reacts to adapter power changes.
func (r *Remote) SetRadioEnabled(enabled bool) {
	if !enabled {
		r.logger.Info("Bluetooth turned off, disconnecting all devices")
		r.manager.DisconnectAll()
		return
	}

	r.mu.Lock()
	manual, id := r.manual, r.display
	r.mu.Unlock()
	if manual || r.shuttingDown.Load() {
		return
	}
	if id != "" {
		r.supervisor.Start(r.ctx, id, reconnect.ReasonLastDevice)
		return
	}
	if _, err := r.AutoConnect(); err != nil && !errors.Is(err, store.ErrNoDevice) {
		r.logger.WithField("error", err).Warn("Cannot read last device")
	}
}

// Shutdown stops reconnection and detaches from the manager.
func (r *Remote) Shutdown() {
	r.shuttingDown.Store(true)
	r.supervisor.Shutdown()
	r.sub.Unsubscribe()
}

func (r *Remote) onConnect(id string) {
	r.assembler.Reset()
	r.logger.WithField("device", id).Debug("Display link up, waiting for MTU")
}

// onMTUChanged ends the connect sequence.
func (r *Remote) onMTUChanged(id string, mtu int) {
	log := r.logger.WithFields(logrus.Fields{"device": id, "mtu": mtu})
	c := r.displayCharacteristic(id)

	r.mu.Lock()
	r.display = id
	r.ready = c != nil
	r.manual = false
	askToBond := r.config.AskToBond
	r.mu.Unlock()

	if askToBond {
		log.Debug("Bonding requested, transport pairs on demand")
	}

	if c == nil {
		log.WithField("uuid", r.opts.CharacteristicUUID).Warn("Display characteristic not found")
	} else {
		if c.IsNotifiable() || c.IsIndicatable() {
			if err := r.manager.EnableNotifications(id, c.UUID); err != nil {
				log.WithField("error", err).Warn("Cannot enable display notifications")
			}
		}
		if err := r.SendTime(); err != nil {
			log.WithField("error", err).Warn("Cannot send time")
		}
	}

	if err := r.lastDevice.SetLastDevice(id); err != nil {
		log.WithField("error", err).Warn("Cannot store last device")
	}
	r.supervisor.Stop()
	log.Info("Connected to display")
}

// displayCharacteristic resolves the display characteristic within the display service.
func (r *Remote) displayCharacteristic(id string) *device.Characteristic {
	c := r.manager.FindCharacteristic(id, r.opts.CharacteristicUUID)
	if c == nil || c.Service != r.opts.ServiceUUID {
		return nil
	}
	return c
}

func (r *Remote) onDisconnect(id string) {
	r.mu.Lock()
	if id != r.display {
		r.mu.Unlock()
		return
	}
	r.ready = false
	manual := r.manual
	r.mu.Unlock()

	r.assembler.Reset()
	log := r.logger.WithField("device", id)
	if manual || r.shuttingDown.Load() {
		log.Info("Disconnected from display")
		return
	}
	log.Warn("Display connection lost, reconnecting")
	r.supervisor.Start(r.ctx, id, reconnect.ReasonLastDevice)
}

func (r *Remote) onCharacteristicChanged(id string, c *device.Characteristic, value []byte) {
	if c.UUID != r.opts.CharacteristicUUID {
		return
	}
	for _, line := range r.assembler.Feed(value) {
		r.handleLine(id, line)
	}
}

func (r *Remote) handleLine(id, line string) {
	log := r.logger.WithField("device", id)
	msg, err := ParseMessage(line)
	if err != nil {
		log.WithField("error", err).Error("Problem decoding display message")
		return
	}

	switch msg.Kind {
	case MessageConfig:
		r.mu.Lock()
		msg.Config.AskToBond = r.config.AskToBond
		r.config = msg.Config
		callbacks := append(([]func(Configuration))(nil), r.onConfig...)
		r.mu.Unlock()

		log.WithField("config", fmt.Sprintf("%+v", msg.Config)).Info("Display configuration received")
		for _, fn := range callbacks {
			fn(msg.Config)
		}
	default:
		r.mu.Lock()
		callbacks := append(([]func(string))(nil), r.onMessage...)
		r.mu.Unlock()

		log.WithField("message", line).Debug("Display message")
		for _, fn := range callbacks {
			fn(line)
		}
	}
}

// Send writes cmd to the display, split into MTU sized chunks.
func (r *Remote) Send(cmd Command) error {
	r.mu.Lock()
	id, ready := r.display, r.ready
	r.mu.Unlock()
	if id == "" || !ready {
		return ErrNotReady
	}

	chunk := gatt.MinMTU - 3
	if s, ok := r.manager.Session(id); ok {
		chunk = s.MTU() - 3
	}
	payload := cmd.Bytes()
	r.logger.WithFields(logrus.Fields{"device": id, "command": cmd.String()}).Debug("Sending command")

	for len(payload) > 0 {
		n := min(chunk, len(payload))
		if err := r.manager.WriteCharacteristic(id, r.opts.CharacteristicUUID, payload[:n], device.WriteAuto); err != nil {
			return fmt.Errorf("failed to send %s: %w", cmd, err)
		}
		payload = payload[n:]
	}
	return nil
}

// SendScore shows s, swapped when reversed.
func (r *Remote) SendScore(s Score, reversed bool) error {
	return r.Send(ScoreCommand(s, reversed))
}

// CommitScore sends the keeper's score and confirms it on success.
func (r *Remote) CommitScore(k *Keeper) error {
	if err := r.SendScore(k.Score(), k.Reversed()); err != nil {
		return err
	}
	k.Confirm()
	return nil
}

func (r *Remote) SendTime() error {
	return r.Send(TimeCommand(r.opts.Clock()))
}

func (r *Remote) SendBrightness(level int) error {
	cmd, err := BrightnessCommand(level)
	if err != nil {
		return fmt.Errorf("%w: %v", device.ErrInvalidArgument, err)
	}
	return r.Send(cmd)
}

func (r *Remote) SetShowScore(v bool) error { return r.Send(ShowScoreCommand(v)) }
func (r *Remote) SetShowDate(v bool) error  { return r.Send(ShowDateCommand(v)) }
func (r *Remote) SetShowTime(v bool) error  { return r.Send(ShowTimeCommand(v)) }
func (r *Remote) SetScroll(v bool) error    { return r.Send(ScrollCommand(v)) }
func (r *Remote) SetAllLedsOn(v bool) error { return r.Send(AllLedsOnCommand(v)) }

// RequestConfig asks the display to report its configuration; the answer
// arrives through OnConfiguration.
func (r *Remote) RequestConfig() error { return r.Send(GetConfigCommand()) }

func (r *Remote) PersistConfig() error { return r.Send(PersistConfigCommand()) }

// ApplyConfiguration sends every display setting of c.
func (r *Remote) ApplyConfiguration(c Configuration) error {
	cmds, err := ConfigurationCommands(c)
	if err != nil {
		return fmt.Errorf("%w: %v", device.ErrInvalidArgument, err)
	}
	for _, cmd := range cmds {
		if err := r.Send(cmd); err != nil {
			return err
		}
	}
	r.mu.Lock()
	c.AskToBond = r.config.AskToBond
	r.config = c
	r.mu.Unlock()
	return nil
}
