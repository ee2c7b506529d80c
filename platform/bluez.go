package platform

import (
	"context"
	"fmt"
	"strings"

	"dunrelay/base"
	"dunrelay/dun"
	"dunrelay/rfcomm"
	"github.com/godbus/dbus/v5"
	"go.uber.org/atomic"
)

const (
	bluezBus        = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	propsChanged      = propsIface + ".PropertiesChanged"
	interfacesRemoved = objManagerIface + ".InterfacesRemoved"
)

// AdapterSink takes the adapter and device events the relay cares about.
type AdapterSink interface {
	AdapterStateChanged(st dun.AdapterState)
	ACLDisconnected(device string)
	BondStateChanged(device string, bonded bool)
}

// BlueZ follows one adapter over the system bus.
type BlueZ struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	state   atomic.Int32
}

func NewBlueZ(adapter string) (*BlueZ, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	b := &BlueZ{conn: conn, adapter: dbus.ObjectPath("/org/bluez/" + adapter)}
	b.state.Store(int32(b.readState()))
	return b, nil
}

func (b *BlueZ) Close() error {
	return b.conn.Close()
}

func (b *BlueZ) Adapter() dbus.ObjectPath {
	return b.adapter
}

func (b *BlueZ) State() dun.AdapterState {
	return dun.AdapterState(b.state.Load())
}

// readState prefers PowerState, older bluetoothd only has Powered.
func (b *BlueZ) readState() dun.AdapterState {
	obj := b.conn.Object(bluezBus, b.adapter)
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "PowerState").Store(&v); err == nil {
		if s, ok := v.Value().(string); ok {
			return parsePowerState(s)
		}
	}
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		base.Warn("read adapter state:", err)
		return dun.AdapterOff
	}
	if on, _ := v.Value().(bool); on {
		return dun.AdapterOn
	}
	return dun.AdapterOff
}

func parsePowerState(s string) dun.AdapterState {
	switch s {
	case "on":
		return dun.AdapterOn
	case "off-enabling":
		return dun.AdapterTurningOn
	case "on-disabling":
		return dun.AdapterTurningOff
	}
	return dun.AdapterOff
}

// Watch forwards bus signals to sink until ctx is done.
func (b *BlueZ) Watch(ctx context.Context, sink AdapterSink) error {
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace("/org/bluez"),
	); err != nil {
		return err
	}
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchInterface(objManagerIface),
		dbus.WithMatchMember("InterfacesRemoved"),
	); err != nil {
		return err
	}
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	defer b.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("system bus closed")
			}
			b.dispatch(sig, sink)
		}
	}
}

func (b *BlueZ) dispatch(sig *dbus.Signal, sink AdapterSink) {
	switch sig.Name {
	case propsChanged:
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		switch {
		case iface == adapterIface && sig.Path == b.adapter:
			b.adapterChanged(changed, sink)
		case iface == deviceIface && strings.HasPrefix(string(sig.Path), string(b.adapter)+"/dev_"):
			deviceChanged(rfcomm.AddrFromPath(sig.Path), changed, sink)
		}
	case interfacesRemoved:
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		if !strings.HasPrefix(string(path), string(b.adapter)+"/dev_") {
			return
		}
		for _, i := range ifaces {
			if i == deviceIface {
				// 设备被移除即解除配对
				sink.BondStateChanged(rfcomm.AddrFromPath(path), false)
			}
		}
	}
}

func (b *BlueZ) adapterChanged(changed map[string]dbus.Variant, sink AdapterSink) {
	var next dun.AdapterState
	if v, ok := changed["PowerState"]; ok {
		s, _ := v.Value().(string)
		next = parsePowerState(s)
	} else if v, ok := changed["Powered"]; ok {
		on, _ := v.Value().(bool)
		next = dun.AdapterOff
		if on {
			next = dun.AdapterOn
		}
	} else {
		return
	}
	prev := dun.AdapterState(b.state.Swap(int32(next)))
	if prev == next {
		return
	}
	// 只有 Powered 时没有 turning-off，补发一次让服务释放资源
	if next == dun.AdapterOff && prev != dun.AdapterTurningOff {
		sink.AdapterStateChanged(dun.AdapterTurningOff)
	}
	sink.AdapterStateChanged(next)
}

func deviceChanged(addr string, changed map[string]dbus.Variant, sink AdapterSink) {
	if v, ok := changed["Connected"]; ok {
		if connected, _ := v.Value().(bool); !connected {
			sink.ACLDisconnected(addr)
		}
	}
	for _, key := range []string{"Paired", "Bonded"} {
		if v, ok := changed[key]; ok {
			bonded, _ := v.Value().(bool)
			sink.BondStateChanged(addr, bonded)
			return
		}
	}
}
