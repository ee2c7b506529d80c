//go:build linux

package rfcomm

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
)

var pathCounter atomic.Uint64

// ProfileListener registers a server side org.bluez.Profile1 and receives
// the RFCOMM channels BlueZ accepts for it.
type ProfileListener struct {
	mu     sync.Mutex
	bus    *dbus.Conn
	path   dbus.ObjectPath
	prof   *profile
	modem  ModemOpts
	done   chan struct{}
	closed bool
}

type acceptResult struct {
	fd   int
	addr string
}

type profile struct {
	ch chan acceptResult
}

func (p *profile) Release() *dbus.Error { return nil }

func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection 只有 Accept 正在等待时才接收，否则拒绝并关闭 fd
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	res := acceptResult{fd: int(fd), addr: AddrFromPath(dev)}
	select {
	case p.ch <- res:
		return nil
	default:
		_ = unix.Close(res.fd)
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"busy"}}
	}
}

// Listen exports the profile and registers it with BlueZ.
func Listen(opts Options) (*ProfileListener, error) {
	o := opts.withDefaults()
	if err := o.Modem.Validate(); err != nil {
		return nil, err
	}
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("rfcomm: connect system bus: %w", err)
	}

	l := &ProfileListener{
		bus:   bus,
		path:  dbus.ObjectPath("/dunrelay/profile/p" + strconv.FormatUint(pathCounter.Inc(), 10)),
		prof:  &profile{ch: make(chan acceptResult)},
		modem: o.Modem,
		done:  make(chan struct{}),
	}
	if err = bus.Export(l.prof, l.path, profileIface); err != nil {
		bus.Close()
		return nil, fmt.Errorf("rfcomm: export profile: %w", err)
	}

	settings := map[string]dbus.Variant{
		"Name":        dbus.MakeVariant(o.Name),
		"Role":        dbus.MakeVariant("server"),
		"AutoConnect": dbus.MakeVariant(false),
	}
	if o.Channel != 0 {
		// BlueZ expects Channel as a uint16
		settings["Channel"] = dbus.MakeVariant(o.Channel)
	}
	pm := bus.Object(bluezService, "/org/bluez")
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, l.path, o.UUID, settings); call.Err != nil {
		bus.Close()
		return nil, classify(call.Err)
	}
	return l, nil
}

func (l *ProfileListener) Accept(cancel <-chan struct{}) (Socket, error) {
	select {
	case <-l.done:
		return nil, ErrClosed
	case <-cancel:
		return nil, ErrClosed
	case res := <-l.prof.ch:
		return NewSocket(res.fd, res.addr, l.modem)
	}
}

func (l *ProfileListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	_ = l.bus.Object(bluezService, "/org/bluez").Call(profileManagerIface+".UnregisterProfile", 0, l.path).Err
	_ = l.bus.Export(nil, l.path, profileIface)
	return l.bus.Close()
}

func classify(err error) error {
	var derr dbus.Error
	if errors.As(err, &derr) {
		switch derr.Name {
		case "org.freedesktop.DBus.Error.AccessDenied", "org.bluez.Error.NotPermitted", "org.bluez.Error.NotAuthorized":
			return fmt.Errorf("%w: %s", ErrPermission, derr.Error())
		}
	}
	return fmt.Errorf("rfcomm: register profile: %w", err)
}
