package radio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/groutine"
)

const (
	bluezBus       = "org.bluez"
	adapterIface   = "org.bluez.Adapter1"
	propsIface     = "org.freedesktop.DBus.Properties"
	propsSignal    = propsIface + ".PropertiesChanged"
	poweredProp    = "Powered"
	defaultAdapter = "hci0"
)

// BlueZ reads org.bluez.Adapter1.Powered over the system bus.
type BlueZ struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	logger  *logrus.Logger
	powered atomic.Bool // last read, refreshed by Enabled
	// notified is the state last passed to the Watch callback; only the watcher touches it.
	notified atomic.Bool

	closeOnce sync.Once
}

// NewBlueZ connects to the system bus and reads the initial power state of adapter (e.g. "hci0").
func NewBlueZ(adapter string, logger *logrus.Logger) (*BlueZ, error) {
	if adapter == "" {
		adapter = defaultAdapter
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	b := &BlueZ{
		conn:   conn,
		path:   dbus.ObjectPath("/org/bluez/" + strings.TrimPrefix(adapter, "/org/bluez/")),
		logger: logger,
	}
	powered, err := b.read()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	b.powered.Store(powered)
	return b, nil
}

func (b *BlueZ) read() (bool, error) {
	var v dbus.Variant
	err := b.conn.Object(bluezBus, b.path).Call(propsIface+".Get", 0, adapterIface, poweredProp).Store(&v)
	if err != nil {
		return false, fmt.Errorf("read %s.%s on %s: %w", adapterIface, poweredProp, b.path, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s type %T", poweredProp, v.Value())
	}
	return powered, nil
}

// Enabled queries the adapter; on a bus error the last known state is returned.
func (b *BlueZ) Enabled() bool {
	powered, err := b.read()
	if err != nil {
		b.logger.WithField("error", err).Debug("Using cached adapter state")
		return b.powered.Load()
	}
	b.powered.Store(powered)
	return powered
}

// Watch calls fn whenever the Powered property changes.
func (b *BlueZ) Watch(ctx context.Context, fn func(enabled bool)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(b.path),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := b.conn.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("radio: AddMatchSignal: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 16)
	b.conn.Signal(sigCh)
	b.notified.Store(b.powered.Load())

	groutine.Go(ctx, "radio-watch", func(ctx context.Context) {
		defer func() {
			b.conn.RemoveSignal(sigCh)
			_ = b.conn.RemoveMatchSignal(opts...)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				b.handleSignal(sig, fn)
			}
		}
	})
	return nil
}

// handleSignal calls fn when sig reports a Powered value other than the one
// last delivered to fn.
func (b *BlueZ) handleSignal(sig *dbus.Signal, fn func(enabled bool)) {
	powered, changed := poweredChange(sig, b.path)
	if !changed {
		return
	}
	b.powered.Store(powered)
	if b.notified.Swap(powered) == powered {
		return
	}
	b.logger.WithField("powered", powered).Info("Adapter power changed")
	fn(powered)
}

// poweredChange extracts Powered from an Adapter1 PropertiesChanged signal.
// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
func poweredChange(sig *dbus.Signal, path dbus.ObjectPath) (bool, bool) {
	if sig == nil || sig.Name != propsSignal || sig.Path != path || len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != adapterIface {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed[poweredProp]
	if !ok {
		return false, false
	}
	powered, ok := v.Value().(bool)
	return powered, ok
}

func (b *BlueZ) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.conn.Close()
	})
	return err
}
