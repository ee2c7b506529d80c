package dun

import (
	"context"
	"strings"
	"sync"
	"time"

	"dunrelay/access"
	"dunrelay/base"
	"dunrelay/link"
	"dunrelay/rfcomm"
	"dunrelay/session"
	"go.uber.org/atomic"
)

type msgKind int

const (
	msgStartListener msgKind = iota
	msgUserTimeout
	msgAdapterState
	msgACLDisconnected
	msgAccessAllowed
	msgAccessDisallowed
	msgBondState
)

type message struct {
	kind    msgKind
	device  string
	adapter AdapterState
	always  bool
	bonded  bool
}

// Service relays one DUN session at a time between an RFCOMM peer and the
// modem daemon. Platform events are posted to a single dispatcher goroutine.
type Service struct {
	opts Options
	link link.DaemonLink

	msgs chan message
	done chan struct{}

	// set while the service is being torn down, keeps the listener down
	interrupted atomic.Bool
	// the link is running for the adapter
	enabled atomic.Bool
	// handshake confirmed by the daemon, rpc link only
	connected atomic.Bool

	acceptMu sync.Mutex
	acceptor *worker

	sockMu     sync.Mutex
	listenSock rfcomm.Listener

	peerMu sync.Mutex
	sess   *session.Session

	authMu     sync.Mutex
	waiting    bool
	authDevice string
	authTimer  *time.Timer

	uplinkMu   sync.Mutex
	uplink     *worker
	downlinkMu sync.Mutex
	downlink   *worker
	monitorMu  sync.Mutex
	monitor    *worker

	linkMu        sync.Mutex
	connectSignal chan bool

	// notifyMu orders state reports, stateMu guards states only
	notifyMu sync.Mutex
	stateMu  sync.Mutex
	states   map[string]State
}

func New(opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		opts:   opts,
		link:   opts.Link,
		msgs:   make(chan message, 64),
		done:   make(chan struct{}),
		states: make(map[string]State),
	}
}

// Run dispatches platform events until ctx is done, then releases everything
// the way an adapter shutdown does.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)
	s.handle(message{kind: msgAdapterState, adapter: s.opts.Adapter.State()})
	for {
		select {
		case <-ctx.Done():
			s.handle(message{kind: msgAdapterState, adapter: AdapterTurningOff})
			base.Info("dun service exit")
			return nil
		case m := <-s.msgs:
			s.handle(m)
		}
	}
}

func (s *Service) post(m message) {
	select {
	case s.msgs <- m:
	case <-s.done:
	}
}

func (s *Service) AdapterStateChanged(st AdapterState) {
	s.post(message{kind: msgAdapterState, adapter: st})
}

func (s *Service) ACLDisconnected(device string) {
	s.post(message{kind: msgACLDisconnected, device: device})
}

// AccessAllowed is the user's answer to the access notification, always
// makes it permanent for the device.
func (s *Service) AccessAllowed(device string, always bool) {
	s.post(message{kind: msgAccessAllowed, device: device, always: always})
}

func (s *Service) AccessDisallowed(device string) {
	s.post(message{kind: msgAccessDisallowed, device: device})
}

func (s *Service) BondStateChanged(device string, bonded bool) {
	s.post(message{kind: msgBondState, device: device, bonded: bonded})
}

func (s *Service) handle(m message) {
	base.Debug("dispatch", m.kind, m.device)
	switch m.kind {
	case msgStartListener:
		s.startListener()
	case msgAdapterState:
		s.adapterStateChanged(m.adapter)
	case msgUserTimeout:
		s.userTimeout(m.device)
	case msgACLDisconnected:
		// 等同于用户超时
		s.userTimeout(m.device)
	case msgAccessAllowed:
		s.accessAllowed(m.device, m.always)
	case msgAccessDisallowed:
		s.accessDisallowed(m.device)
	case msgBondState:
		if !m.bonded {
			base.Info("bond removed, reset access for", m.device)
			if err := s.opts.Store.Set(m.device, access.Unknown); err != nil {
				base.Error("reset access:", err)
			}
		}
	}
}

func (s *Service) adapterStateChanged(st AdapterState) {
	base.Info("adapter", st)
	switch st {
	case AdapterOn:
		if s.enabled.Load() {
			return
		}
		s.interrupted.Store(false)
		if err := s.link.Start(); err != nil {
			base.Error("start", s.link.Name(), "daemon link:", err)
			return
		}
		s.enabled.Store(true)
		s.startListener()
	case AdapterTurningOff:
		if dev, ok := s.cancelAuthorization(); ok {
			s.opts.Broadcaster.AccessCancel(dev)
		}
		if s.enabled.Load() {
			s.link.Stop()
			s.closeDunService()
			s.enabled.Store(false)
		}
	}
}

// closeDunService releases the listener and every relay. Listener restarts
// queued by the relays are dropped while interrupted is set.
func (s *Service) closeDunService() {
	base.Debug("closeDunService")
	s.interrupted.Store(true)

	s.closeListenSocket()
	s.stopListener()

	if sess := s.takeSession(nil); sess != nil {
		sess.Close()
	}
	_ = s.link.Close()

	s.stopMonitor()
	s.stopDownlink()
	s.stopUplink()
	base.Debug("closeDunService out")
}

func (s *Service) current() *session.Session {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	return s.sess
}

// takeSession clears the active session if it is want, or whatever it is when
// want is nil.
func (s *Service) takeSession(want *session.Session) *session.Session {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	sess := s.sess
	if sess == nil || (want != nil && sess != want) {
		return nil
	}
	s.sess = nil
	return sess
}

func sameDevice(a, b string) bool {
	return strings.EqualFold(a, b)
}
