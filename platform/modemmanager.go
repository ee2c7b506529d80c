package platform

import (
	"fmt"
	"sync"

	"dunrelay/base"
	"github.com/godbus/dbus/v5"
)

const (
	mmBus    = "org.freedesktop.ModemManager1"
	mmPath   = "/org/freedesktop/ModemManager1"
	mmModem  = mmBus + ".Modem"
	mmBearer = mmBus + ".Bearer"
)

// ModemManager switches cellular data by connecting and disconnecting the
// bearers of the first modem.
type ModemManager struct {
	conn *dbus.Conn

	mu        sync.Mutex
	suspended []dbus.ObjectPath
}

func NewModemManager() (*ModemManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &ModemManager{conn: conn}, nil
}

func (m *ModemManager) Close() error {
	return m.conn.Close()
}

func (m *ModemManager) bearers() ([]dbus.ObjectPath, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := m.conn.Object(mmBus, mmPath).Call(objManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, err
	}
	for _, ifaces := range objects {
		props, ok := ifaces[mmModem]
		if !ok {
			continue
		}
		v, ok := props["Bearers"]
		if !ok {
			continue
		}
		paths, _ := v.Value().([]dbus.ObjectPath)
		return paths, nil
	}
	return nil, fmt.Errorf("no modem found")
}

func (m *ModemManager) connected(bearer dbus.ObjectPath) (bool, error) {
	var v dbus.Variant
	err := m.conn.Object(mmBus, bearer).Call(propsIface+".Get", 0, mmBearer, "Connected").Store(&v)
	if err != nil {
		return false, err
	}
	on, _ := v.Value().(bool)
	return on, nil
}

func (m *ModemManager) DataEnabled() (bool, error) {
	bs, err := m.bearers()
	if err != nil {
		return false, err
	}
	for _, b := range bs {
		on, err := m.connected(b)
		if err != nil {
			return false, err
		}
		if on {
			return true, nil
		}
	}
	return false, nil
}

// SetDataEnabled(false) remembers the bearers it took down so that
// SetDataEnabled(true) brings back exactly those.
func (m *ModemManager) SetDataEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		for len(m.suspended) > 0 {
			b := m.suspended[0]
			if err := m.conn.Object(mmBus, b).Call(mmBearer+".Connect", 0).Err; err != nil {
				return fmt.Errorf("connect bearer %s: %w", b, err)
			}
			m.suspended = m.suspended[1:]
		}
		return nil
	}

	bs, err := m.bearers()
	if err != nil {
		return err
	}
	for _, b := range bs {
		on, err := m.connected(b)
		if err != nil || !on {
			continue
		}
		if err = m.conn.Object(mmBus, b).Call(mmBearer+".Disconnect", 0).Err; err != nil {
			return fmt.Errorf("disconnect bearer %s: %w", b, err)
		}
		base.Debug("bearer", b, "disconnected")
		m.suspended = append(m.suspended, b)
	}
	return nil
}
