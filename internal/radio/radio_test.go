package radio

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestPoweredChange(t *testing.T) {
	path := dbus.ObjectPath("/org/bluez/hci0")

	tests := []struct {
		name        string
		sig         *dbus.Signal
		wantPowered bool
		wantChanged bool
	}{
		{
			name: "powered off",
			sig: &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{
				adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}, []string{},
			}},
			wantChanged: true,
		},
		{
			name: "powered on",
			sig: &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{
				adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true), "Discovering": dbus.MakeVariant(false)}, []string{},
			}},
			wantPowered: true,
			wantChanged: true,
		},
		{
			name: "other property",
			sig: &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{
				adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}, []string{},
			}},
		},
		{
			name: "device interface",
			sig: &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{
				"org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}, []string{},
			}},
		},
		{
			name: "other adapter",
			sig: &dbus.Signal{Path: "/org/bluez/hci1", Name: propsSignal, Body: []interface{}{
				adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}, []string{},
			}},
		},
		{
			name: "wrong type",
			sig: &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{
				adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant("yes")}, []string{},
			}},
		},
		{
			name: "short body",
			sig:  &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{adapterIface}},
		},
		{
			name: "nil signal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			powered, changed := poweredChange(tt.sig, path)
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantPowered, powered)
		})
	}
}

func TestAlwaysOn(t *testing.T) {
	var w Watcher = AlwaysOn{}
	assert.True(t, w.Enabled())
	assert.NoError(t, w.Watch(context.Background(), func(bool) { t.Fatal("AlwaysOn MUST NOT report changes") }))
}

func TestOpenFallsBack(t *testing.T) {
	// Point the system bus at an address nothing listens on
	t.Setenv("DBUS_SYSTEM_BUS_ADDRESS", "unix:path=/nonexistent/scorectl-test-bus")

	w := Open("hci0", logrus.New())
	assert.IsType(t, AlwaysOn{}, w)
	assert.True(t, w.Enabled())
}

// TestHandleSignalAfterPoll
// GOAL: Verify a power change is delivered even when a poll already saw the new state
//
// TEST SCENARIO: watching while on → Enabled() refresh stores off → off signal → fn(false); repeated off → nothing; on → fn(true)
func TestHandleSignalAfterPoll(t *testing.T) {
	path := dbus.ObjectPath("/org/bluez/hci0")
	powered := func(v bool) *dbus.Signal {
		return &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{
			adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(v)}, []string{},
		}}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	b := &BlueZ{path: path, logger: logger}
	b.powered.Store(true)
	b.notified.Store(true)

	var got []bool
	fn := func(v bool) { got = append(got, v) }

	// What Enabled() stores when its read sees the adapter already off
	b.powered.Store(false)

	b.handleSignal(powered(false), fn)
	assert.Equal(t, []bool{false}, got, "MUST report power off although a poll cached it first")

	b.handleSignal(powered(false), fn)
	assert.Equal(t, []bool{false}, got, "MUST NOT repeat an unchanged state")

	b.powered.Store(true)
	b.handleSignal(powered(true), fn)
	assert.Equal(t, []bool{false, true}, got, "MUST report power on")
	assert.True(t, b.powered.Load())

	b.handleSignal(&dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{
		adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}, []string{},
	}}, fn)
	assert.Len(t, got, 2, "MUST ignore other properties")
}
