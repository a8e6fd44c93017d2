package device

import (
	"sort"
	"strings"
)

// Property is a characteristic property bit as advertised by the peripheral.
type Property uint8

const (
	PropBroadcast            Property = 0x01
	PropRead                 Property = 0x02
	PropWriteWithoutResponse Property = 0x04
	PropWrite                Property = 0x08
	PropNotify               Property = 0x10
	PropIndicate             Property = 0x20
)

// Has reports whether all bits of q are set in p.
func (p Property) Has(q Property) bool {
	return p&q == q
}

func (p Property) String() string {
	var parts []string
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	for _, n := range names {
		if p.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// CCCD payloads written to enable or disable notifications and indications.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	EnableIndicationValue    = []byte{0x02, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// ----------------------------
// GATT profile value types
// ----------------------------

// Service represents a discovered GATT service.
type Service struct {
	UUID            string
	Characteristics []*Characteristic
}

// Characteristic represents a discovered characteristic.
// Handle is the transport-specific object backing it.
type Characteristic struct {
	UUID        string
	Service     string
	Properties  Property
	Descriptors []*Descriptor
	Handle      any
}

// Descriptor represents a discovered descriptor of a characteristic.
type Descriptor struct {
	UUID           string
	Characteristic string
	Readable       bool
	Writable       bool
	Handle         any
}

func (c *Characteristic) IsReadable() bool { return c.Properties.Has(PropRead) }

func (c *Characteristic) IsWritable() bool { return c.Properties.Has(PropWrite) }

func (c *Characteristic) IsWritableWithoutResponse() bool {
	return c.Properties.Has(PropWriteWithoutResponse)
}

func (c *Characteristic) IsNotifiable() bool { return c.Properties.Has(PropNotify) }

func (c *Characteristic) IsIndicatable() bool { return c.Properties.Has(PropIndicate) }

// Descriptor returns the descriptor with the given UUID, or nil.
func (c *Characteristic) Descriptor(uuid string) *Descriptor {
	n := NormalizeUUID(uuid)
	for _, d := range c.Descriptors {
		if d.UUID == n {
			return d
		}
	}
	return nil
}

// CCCD returns the Client Characteristic Configuration Descriptor, or nil.
func (c *Characteristic) CCCD() *Descriptor {
	return c.Descriptor(CCCDUUID)
}

// IsCCCD reports whether d is the notification configuration descriptor.
func (d *Descriptor) IsCCCD() bool {
	return d.UUID == CCCDUUID
}

// Profile indexes a discovered service list for lookups by UUID.
type Profile struct {
	services []*Service
	chars    map[string]*Characteristic
}

// NewProfile builds a Profile; UUIDs are normalized in place.
func NewProfile(services []*Service) *Profile {
	p := &Profile{chars: make(map[string]*Characteristic)}
	for _, s := range services {
		s.UUID = NormalizeUUID(s.UUID)
		for _, c := range s.Characteristics {
			c.UUID = NormalizeUUID(c.UUID)
			c.Service = s.UUID
			for _, d := range c.Descriptors {
				d.UUID = NormalizeUUID(d.UUID)
				d.Characteristic = c.UUID
			}
			// First occurrence wins for duplicated characteristic UUIDs
			if _, ok := p.chars[c.UUID]; !ok {
				p.chars[c.UUID] = c
			}
		}
		p.services = append(p.services, s)
	}
	sort.Slice(p.services, func(i, j int) bool {
		return p.services[i].UUID < p.services[j].UUID
	})
	return p
}

// Services returns all services sorted by UUID.
func (p *Profile) Services() []*Service {
	if p == nil {
		return nil
	}
	return p.services
}

// Characteristic finds a characteristic by UUID across all services.
func (p *Profile) Characteristic(uuid string) *Characteristic {
	if p == nil {
		return nil
	}
	return p.chars[NormalizeUUID(uuid)]
}

// Descriptor finds a descriptor. When charUUID is empty, the first
// characteristic carrying a descriptor with that UUID is used.
func (p *Profile) Descriptor(charUUID, descUUID string) *Descriptor {
	if p == nil {
		return nil
	}
	if charUUID != "" {
		c := p.Characteristic(charUUID)
		if c == nil {
			return nil
		}
		return c.Descriptor(descUUID)
	}
	for _, s := range p.services {
		for _, c := range s.Characteristics {
			if d := c.Descriptor(descUUID); d != nil {
				return d
			}
		}
	}
	return nil
}
