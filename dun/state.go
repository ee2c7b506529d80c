package dun

import (
	"sort"
	"time"

	"dunrelay/access"
	"dunrelay/base"
	"dunrelay/proto"
)

// setState records the transition and reports it, registry first. Repeats of
// the current state are dropped. Reports go out in transition order but
// without stateMu, so listeners may query the service.
func (s *Service) setState(device string, state State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.stateMu.Lock()
	prev := s.states[device]
	if prev == state {
		s.stateMu.Unlock()
		return
	}
	s.states[device] = state
	s.stateMu.Unlock()

	base.Info("connection state of", device, prev, "->", state)
	s.opts.Registry.ProfileStateChanged(device, state, prev)
	s.opts.Broadcaster.ConnectionStateChanged(device, prev, state)
}

func (s *Service) ConnectionState(device string) State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for dev, st := range s.states {
		if sameDevice(dev, device) {
			return st
		}
	}
	return StateDisconnected
}

func (s *Service) ConnectedDevices() []string {
	return s.DevicesMatchingConnectionStates(StateConnected)
}

// DevicesMatchingConnectionStates lists the devices seen so far whose state
// is one of states.
func (s *Service) DevicesMatchingConnectionStates(states ...State) []string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	devices := make([]string, 0)
	for dev, st := range s.states {
		for _, want := range states {
			if st == want {
				devices = append(devices, dev)
				break
			}
		}
	}
	sort.Strings(devices)
	return devices
}

// Disconnect asks the daemon to end the call with device. The daemon's
// disconnected response tears the session down.
func (s *Service) Disconnect(device string) error {
	sess := s.current()
	if sess == nil || !sameDevice(sess.Device, device) || s.ConnectionState(device) != StateConnected {
		return ErrNotConnected
	}
	if s.link.Handshake() && !s.connected.Load() {
		return ErrNotConnected
	}
	base.Info("disconnect", device)
	return s.link.SendControl(proto.CtrlDisconnectReq)
}

func (s *Service) AccessPermission(device string) access.Decision {
	return s.opts.Store.Get(device)
}

func (s *Service) SetAccessPermission(device string, d access.Decision) error {
	return s.opts.Store.Set(device, d)
}

type SessionStatus struct {
	Device        string    `json:"device"`
	Phase         string    `json:"phase"`
	Accepted      time.Time `json:"accepted"`
	BytesSent     uint64    `json:"bytesSent"`
	BytesReceived uint64    `json:"bytesReceived"`
	DataSuspended bool      `json:"dataSuspended"`
}

type Status struct {
	Transport   string         `json:"transport"`
	Adapter     string         `json:"adapter"`
	Enabled     bool           `json:"enabled"`
	Listening   bool           `json:"listening"`
	Connected   []string       `json:"connected"`
	AwaitAccess string         `json:"awaitAccess,omitempty"`
	Session     *SessionStatus `json:"session,omitempty"`
}

func (s *Service) Status() Status {
	st := Status{
		Transport: s.link.Name(),
		Adapter:   s.opts.Adapter.State().String(),
		Enabled:   s.enabled.Load(),
		Connected: s.ConnectedDevices(),
	}
	s.sockMu.Lock()
	st.Listening = s.listenSock != nil
	s.sockMu.Unlock()
	if dev, ok := s.Waiting(); ok {
		st.AwaitAccess = dev
	}
	if sess := s.current(); sess != nil {
		st.Session = &SessionStatus{
			Device:        sess.Device,
			Phase:         sess.Phase().String(),
			Accepted:      sess.Accepted,
			BytesSent:     sess.Stat.BytesSent.Load(),
			BytesReceived: sess.Stat.BytesReceived.Load(),
			DataSuspended: sess.Arbitrated(),
		}
	}
	return st
}
