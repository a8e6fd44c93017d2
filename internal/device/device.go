package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "session", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [charUUID] or [charUUID, descUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// Descriptor lookups are scoped by their parent characteristic
	return fmt.Sprintf("%s %q not found in characteristic %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// Capability names a characteristic or descriptor ability checked before queueing.
type Capability string

const (
	CapabilityRead   Capability = "read"
	CapabilityWrite  Capability = "write"
	CapabilityNotify Capability = "notify/indicate"
)

// CapabilityError is returned when an operation targets an attribute lacking the needed property.
type CapabilityError struct {
	UUID       string
	Capability Capability
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%q does not support %s", e.UUID, e.Capability)
}

// Is matches ErrUnsupported so callers can test the whole class at once.
func (e *CapabilityError) Is(target error) bool {
	return target == ErrUnsupported
}

// Operation errors
var (
	ErrTimeout         = errors.New("timeout")
	ErrUnsupported     = errors.New("unsupported")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("closed")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ContainsIgnoreCase checks the substring case-insensitively
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// WriteMode selects between acknowledged and unacknowledged characteristic writes.
type WriteMode int

const (
	// WriteAuto lets the connection manager pick based on characteristic properties.
	WriteAuto WriteMode = iota
	WriteWithResponse
	WriteWithoutResponse
)

func (m WriteMode) String() string {
	switch m {
	case WriteWithResponse:
		return "with-response"
	case WriteWithoutResponse:
		return "without-response"
	default:
		return "auto"
	}
}

// LinkState is the connection state reported by EventConnectionStateChanged.
type LinkState int

const (
	StateDisconnected LinkState = iota
	StateConnected
)

func (s LinkState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// EventKind tags an Event with the semantic category of the request it answers.
type EventKind int

const (
	EventConnectionStateChanged EventKind = iota
	EventServicesDiscovered
	EventMTUChanged
	EventCharacteristicRead
	EventCharacteristicWrite
	EventCharacteristicChanged
	EventDescriptorRead
	EventDescriptorWrite
)

var eventKindNames = [...]string{
	"connection-state-changed",
	"services-discovered",
	"mtu-changed",
	"characteristic-read",
	"characteristic-write",
	"characteristic-changed",
	"descriptor-read",
	"descriptor-write",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is the single multiplexed callback delivered by a Transport.
// Fields not relevant to Kind are left zero.
type Event struct {
	Kind     EventKind
	DeviceID string
	Status   Status

	State LinkState // EventConnectionStateChanged
	Link  Link      // EventConnectionStateChanged with StateConnected

	Services []*Service // EventServicesDiscovered
	MTU      int        // EventMTUChanged

	Characteristic string // normalized characteristic UUID
	Descriptor     string // normalized descriptor UUID
	Value          []byte
}

// EventHandler receives transport events. It may be called from any goroutine.
type EventHandler func(Event)

// Transport opens links to remote devices. All requests are asynchronous:
// a nil error means the request was issued, the outcome arrives as an Event.
type Transport interface {
	SetEventHandler(h EventHandler)
	Connect(ctx context.Context, deviceID string) error
}

// Link is the transport handle of one established connection.
type Link interface {
	DeviceID() string
	Services() []*Service

	DiscoverServices() error
	RequestMTU(mtu int) error
	ReadCharacteristic(c *Characteristic) error
	WriteCharacteristic(c *Characteristic, payload []byte, mode WriteMode) error
	ReadDescriptor(d *Descriptor) error
	WriteDescriptor(d *Descriptor, payload []byte) error
	// SetNotify enables or disables local delivery of notifications for c.
	// The remote side is configured separately through the CCCD.
	SetNotify(c *Characteristic, enable bool) error
	Close() error
}

// Advertisement is one received advertising report.
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Services    []string // normalized service UUIDs
	Connectable bool
}

// Scanner is implemented by transports able to listen for advertisements.
// Scan blocks until ctx ends; allowDup reports every packet instead of the
// first per address.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, fn func(Advertisement)) error
}
