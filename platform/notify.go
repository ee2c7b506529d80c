package platform

import (
	"context"
	"fmt"
	"sync"

	"dunrelay/base"
	"github.com/godbus/dbus/v5"
)

const (
	notifyBus   = "org.freedesktop.Notifications"
	notifyPath  = "/org/freedesktop/Notifications"
	notifyIface = "org.freedesktop.Notifications"

	actionInvoked      = notifyIface + ".ActionInvoked"
	notificationClosed = notifyIface + ".NotificationClosed"

	actionAllow  = "allow"
	actionAlways = "always"
	actionReject = "reject"

	// NotificationClosed reason: dismissed by the user
	closedByUser = 2
)

// AuthSink takes the user's answer to an access request.
type AuthSink interface {
	AccessAllowed(device string, always bool)
	AccessDisallowed(device string)
}

// Notifier asks the desktop user about unknown DUN peers.
type Notifier struct {
	conn *dbus.Conn

	mu      sync.Mutex
	pending map[uint32]string
}

func NewNotifier() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return newNotifier(conn), nil
}

func newNotifier(conn *dbus.Conn) *Notifier {
	return &Notifier{conn: conn, pending: make(map[uint32]string)}
}

func (n *Notifier) Close() error {
	return n.conn.Close()
}

func (n *Notifier) Show(device string) error {
	actions := []string{
		actionAllow, "Allow",
		actionAlways, "Always allow",
		actionReject, "Reject",
	}
	hints := map[string]dbus.Variant{
		"urgency":  dbus.MakeVariant(byte(2)),
		"resident": dbus.MakeVariant(true),
	}
	var id uint32
	err := n.conn.Object(notifyBus, notifyPath).Call(notifyIface+".Notify", 0,
		"dunagent", uint32(0), "bluetooth",
		"Dial-up networking request",
		fmt.Sprintf("%s wants to use this device's data connection", device),
		actions, hints, int32(-1),
	).Store(&id)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.pending[id] = device
	n.mu.Unlock()
	return nil
}

// Clear withdraws the request for device, the resulting closed signal is
// ignored.
func (n *Notifier) Clear(device string) {
	n.mu.Lock()
	var ids []uint32
	for id, dev := range n.pending {
		if dev == device {
			ids = append(ids, id)
			delete(n.pending, id)
		}
	}
	n.mu.Unlock()
	for _, id := range ids {
		if err := n.conn.Object(notifyBus, notifyPath).Call(notifyIface+".CloseNotification", 0, id).Err; err != nil {
			base.Warn("close notification:", err)
		}
	}
}

func (n *Notifier) Watch(ctx context.Context, sink AuthSink) error {
	if err := n.conn.AddMatchSignal(
		dbus.WithMatchInterface(notifyIface),
		dbus.WithMatchObjectPath(notifyPath),
	); err != nil {
		return err
	}
	ch := make(chan *dbus.Signal, 16)
	n.conn.Signal(ch)
	defer n.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("session bus closed")
			}
			n.dispatch(sig, sink)
		}
	}
}

func (n *Notifier) take(id uint32) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	dev, ok := n.pending[id]
	delete(n.pending, id)
	return dev, ok
}

func (n *Notifier) dispatch(sig *dbus.Signal, sink AuthSink) {
	if len(sig.Body) < 2 {
		return
	}
	id, _ := sig.Body[0].(uint32)
	switch sig.Name {
	case actionInvoked:
		action, _ := sig.Body[1].(string)
		dev, ok := n.take(id)
		if !ok {
			return
		}
		switch action {
		case actionAllow:
			sink.AccessAllowed(dev, false)
		case actionAlways:
			sink.AccessAllowed(dev, true)
		default:
			sink.AccessDisallowed(dev)
		}
	case notificationClosed:
		reason, _ := sig.Body[1].(uint32)
		if reason != closedByUser {
			return
		}
		// 用户直接关闭通知视为拒绝
		if dev, ok := n.take(id); ok {
			sink.AccessDisallowed(dev)
		}
	}
}
