package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/scorectl/internal/device"
)

var propertyMap = []struct {
	from ble.Property
	to   device.Property
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
}

func convertProperties(p ble.Property) device.Property {
	var out device.Property
	for _, m := range propertyMap {
		if p&m.from != 0 {
			out |= m.to
		}
	}
	return out
}

// convertProfile turns a discovered go-ble profile into device services.
// The go-ble objects are kept as Handles so requests can be issued on them later.
func convertProfile(p *ble.Profile) []*device.Service {
	if p == nil {
		return nil
	}
	services := make([]*device.Service, 0, len(p.Services))
	for _, s := range p.Services {
		svc := &device.Service{UUID: device.NormalizeUUID(s.UUID.String())}
		for _, c := range s.Characteristics {
			props := convertProperties(c.Property)
			ch := &device.Characteristic{
				UUID:       device.NormalizeUUID(c.UUID.String()),
				Service:    svc.UUID,
				Properties: props,
				Handle:     c,
			}
			for _, d := range c.Descriptors {
				ch.Descriptors = append(ch.Descriptors, &device.Descriptor{
					UUID:           device.NormalizeUUID(d.UUID.String()),
					Characteristic: ch.UUID,
					Readable:       true,
					Writable:       true,
					Handle:         d,
				})
			}
			// Darwin hides the CCCD from discovery; expose it so notifications can be configured
			if ch.CCCD() == nil && (props.Has(device.PropNotify) || props.Has(device.PropIndicate)) {
				ch.Descriptors = append(ch.Descriptors, &device.Descriptor{
					UUID:           device.CCCDUUID,
					Characteristic: ch.UUID,
					Readable:       true,
					Writable:       true,
				})
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		services = append(services, svc)
	}
	return services
}
