package gatt

import (
	"fmt"

	"github.com/srg/scorectl/internal/device"
)

// MTU bounds accepted by MtuRequest.
const (
	MinMTU = 23
	MaxMTU = 517
)

// ClampMTU limits mtu to [MinMTU, MaxMTU].
func ClampMTU(mtu int) int {
	switch {
	case mtu < MinMTU:
		return MinMTU
	case mtu > MaxMTU:
		return MaxMTU
	default:
		return mtu
	}
}

// Kind identifies an Operation variant.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindMtuRequest
	KindCharacteristicRead
	KindCharacteristicWrite
	KindDescriptorRead
	KindDescriptorWrite
	KindEnableNotifications
	KindDisableNotifications
)

var kindNames = [...]string{
	"connect",
	"disconnect",
	"mtu-request",
	"characteristic-read",
	"characteristic-write",
	"descriptor-read",
	"descriptor-write",
	"enable-notifications",
	"disable-notifications",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Operation is one queued GATT request, always bound to a single device.
type Operation interface {
	Kind() Kind
	DeviceID() string
}

// Connect opens a connection. SessionContext is an opaque caller value
// attached to the resulting Session.
type Connect struct {
	Device         string
	SessionContext any
}

// Disconnect tears down the session of Device.
type Disconnect struct {
	Device string
}

// MtuRequest negotiates the link MTU. MTU is clamped at enqueue time.
type MtuRequest struct {
	Device string
	MTU    int
}

// CharacteristicRead reads a characteristic value.
type CharacteristicRead struct {
	Device         string
	Characteristic string
}

// CharacteristicWrite writes Payload using Mode; WriteAuto is resolved at enqueue time.
type CharacteristicWrite struct {
	Device         string
	Characteristic string
	Mode           device.WriteMode
	Payload        []byte
}

// DescriptorRead reads a descriptor. An empty Characteristic selects the
// first characteristic carrying that descriptor.
type DescriptorRead struct {
	Device         string
	Characteristic string
	Descriptor     string
}

// DescriptorWrite writes Payload to a descriptor.
type DescriptorWrite struct {
	Device         string
	Characteristic string
	Descriptor     string
	Payload        []byte
}

// EnableNotifications turns on notifications (or indications) for a characteristic.
type EnableNotifications struct {
	Device         string
	Characteristic string
}

// DisableNotifications turns them off again.
type DisableNotifications struct {
	Device         string
	Characteristic string
}

func (o *Connect) Kind() Kind              { return KindConnect }
func (o *Disconnect) Kind() Kind           { return KindDisconnect }
func (o *MtuRequest) Kind() Kind           { return KindMtuRequest }
func (o *CharacteristicRead) Kind() Kind   { return KindCharacteristicRead }
func (o *CharacteristicWrite) Kind() Kind  { return KindCharacteristicWrite }
func (o *DescriptorRead) Kind() Kind       { return KindDescriptorRead }
func (o *DescriptorWrite) Kind() Kind      { return KindDescriptorWrite }
func (o *EnableNotifications) Kind() Kind  { return KindEnableNotifications }
func (o *DisableNotifications) Kind() Kind { return KindDisableNotifications }

func (o *Connect) DeviceID() string              { return o.Device }
func (o *Disconnect) DeviceID() string           { return o.Device }
func (o *MtuRequest) DeviceID() string           { return o.Device }
func (o *CharacteristicRead) DeviceID() string   { return o.Device }
func (o *CharacteristicWrite) DeviceID() string  { return o.Device }
func (o *DescriptorRead) DeviceID() string       { return o.Device }
func (o *DescriptorWrite) DeviceID() string      { return o.Device }
func (o *EnableNotifications) DeviceID() string  { return o.Device }
func (o *DisableNotifications) DeviceID() string { return o.Device }

// describe renders an operation for log fields.
func describe(op Operation) string {
	switch o := op.(type) {
	case *MtuRequest:
		return fmt.Sprintf("%s(%d)", o.Kind(), o.MTU)
	case *CharacteristicRead:
		return fmt.Sprintf("%s(%s)", o.Kind(), o.Characteristic)
	case *CharacteristicWrite:
		return fmt.Sprintf("%s(%s,%s,%d bytes)", o.Kind(), o.Characteristic, o.Mode, len(o.Payload))
	case *DescriptorRead:
		return fmt.Sprintf("%s(%s/%s)", o.Kind(), o.Characteristic, o.Descriptor)
	case *DescriptorWrite:
		return fmt.Sprintf("%s(%s/%s)", o.Kind(), o.Characteristic, o.Descriptor)
	case *EnableNotifications:
		return fmt.Sprintf("%s(%s)", o.Kind(), o.Characteristic)
	case *DisableNotifications:
		return fmt.Sprintf("%s(%s)", o.Kind(), o.Characteristic)
	default:
		return op.Kind().String()
	}
}
