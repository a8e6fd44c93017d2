//go:build test

package testutils

import (
	"strings"

	"github.com/srg/scorectl/internal/device"
)

// Display service and characteristic of the scoreboard firmware.
const (
	DisplayService        = "ffe0"
	DisplayCharacteristic = "ffe1"
)

// PeripheralBuilder describes the GATT table a fake peripheral exposes.
//
//	testutils.NewPeripheral("AA:BB:CC:DD:EE:FF").
//	    WithService("ffe0").
//	    WithCharacteristic("ffe1", "read,write-without-response,notify")
type PeripheralBuilder struct {
	id       string
	services []*device.Service
}

// NewPeripheral starts a builder for the device with the given address.
func NewPeripheral(id string) *PeripheralBuilder {
	return &PeripheralBuilder{id: id}
}

// DisplayPeripheral is the scoreboard: one notify and write-without-response characteristic.
func DisplayPeripheral(id string) *PeripheralBuilder {
	return NewPeripheral(id).
		WithService(DisplayService).
		WithCharacteristic(DisplayCharacteristic, "read,write-without-response,notify").
		WithService("180f").
		WithCharacteristic("2a19", "read").
		WithCharacteristic("2a1a", "read,write,indicate").
		WithDescriptor("2901", true, true)
}

// ID returns the peripheral address.
func (b *PeripheralBuilder) ID() string { return b.id }

// WithService appends a service; following characteristics are added to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.services = append(b.services, &device.Service{UUID: device.NormalizeUUID(uuid)})
	return b
}

// WithCharacteristic adds a characteristic with comma separated properties
// (read, write, write-without-response, notify, indicate). A CCCD is added
// for notify and indicate.
func (b *PeripheralBuilder) WithCharacteristic(uuid, props string) *PeripheralBuilder {
	if len(b.services) == 0 {
		b.WithService("1800")
	}
	svc := b.services[len(b.services)-1]
	c := &device.Characteristic{
		UUID:       device.NormalizeUUID(uuid),
		Service:    svc.UUID,
		Properties: ParseProperties(props),
	}
	if c.IsNotifiable() || c.IsIndicatable() {
		c.Descriptors = append(c.Descriptors, &device.Descriptor{
			UUID:           device.CCCDUUID,
			Characteristic: c.UUID,
			Readable:       true,
			Writable:       true,
		})
	}
	svc.Characteristics = append(svc.Characteristics, c)
	return b
}

// WithDescriptor adds a descriptor to the last characteristic.
func (b *PeripheralBuilder) WithDescriptor(uuid string, readable, writable bool) *PeripheralBuilder {
	svc := b.services[len(b.services)-1]
	c := svc.Characteristics[len(svc.Characteristics)-1]
	c.Descriptors = append(c.Descriptors, &device.Descriptor{
		UUID:           device.NormalizeUUID(uuid),
		Characteristic: c.UUID,
		Readable:       readable,
		Writable:       writable,
	})
	return b
}

// Build returns a deep copy of the GATT table.
func (b *PeripheralBuilder) Build() []*device.Service {
	out := make([]*device.Service, 0, len(b.services))
	for _, s := range b.services {
		sc := &device.Service{UUID: s.UUID}
		for _, c := range s.Characteristics {
			cc := *c
			cc.Descriptors = nil
			for _, d := range c.Descriptors {
				dc := *d
				cc.Descriptors = append(cc.Descriptors, &dc)
			}
			sc.Characteristics = append(sc.Characteristics, &cc)
		}
		out = append(out, sc)
	}
	return out
}

// ParseProperties converts "read,notify" style strings to property bits.
func ParseProperties(s string) device.Property {
	var p device.Property
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response", "writenr":
			p |= device.PropWriteWithoutResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		}
	}
	return p
}
