package dun

import (
	"errors"
	"fmt"
	"time"

	"dunrelay/access"
	"dunrelay/base"
	"dunrelay/rfcomm"
	"dunrelay/session"
)

// startListener runs on the dispatcher. A previous acceptor is shut down and
// joined first, and nothing is started while a session still holds the peer.
func (s *Service) startListener() {
	if s.interrupted.Load() || !s.enabled.Load() {
		base.Debug("listener not started, service stopping")
		return
	}
	if s.opts.Adapter.State() != AdapterOn {
		return
	}
	if sess := s.current(); sess != nil {
		base.Debug("listener not started, session active with", sess.Device)
		return
	}

	s.acceptMu.Lock()
	defer s.acceptMu.Unlock()
	if s.acceptor != nil {
		s.acceptor.shutdown()
		s.closeListenSocket()
		s.acceptor.join()
	}
	w := newWorker("listener")
	s.acceptor = w
	go s.acceptLoop(w)
}

func (s *Service) stopListener() {
	s.acceptMu.Lock()
	defer s.acceptMu.Unlock()
	if s.acceptor == nil {
		return
	}
	s.acceptor.shutdown()
	s.closeListenSocket()
	s.acceptor.join()
	s.acceptor = nil
}

func (s *Service) closeListenSocket() {
	s.sockMu.Lock()
	ln := s.listenSock
	s.listenSock = nil
	s.sockMu.Unlock()
	if ln == nil {
		return
	}
	base.Debug("close listen socket")
	if err := ln.Close(); err != nil {
		base.Warn("close listen socket:", err)
	}
}

// openListenSocket creates the server channel, retrying transient failures
// while the adapter is on or coming up.
func (s *Service) openListenSocket(w *worker) (rfcomm.Listener, error) {
	var err error
	for i := 0; i < s.opts.ListenRetries; i++ {
		if w.stopped() || s.interrupted.Load() {
			return nil, errInterrupted
		}
		var ln rfcomm.Listener
		ln, err = s.opts.Listen()
		if err == nil {
			s.sockMu.Lock()
			if w.stopped() || s.interrupted.Load() {
				s.sockMu.Unlock()
				_ = ln.Close()
				return nil, errInterrupted
			}
			s.listenSock = ln
			s.sockMu.Unlock()
			return ln, nil
		}
		if errors.Is(err, rfcomm.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrSecurity, err)
		}
		base.Error("create listen socket:", err)
		st := s.opts.Adapter.State()
		if st != AdapterOn && st != AdapterTurningOn {
			return nil, fmt.Errorf("%w: %v", ErrAdapterOff, err)
		}
		select {
		case <-w.stop:
			return nil, errInterrupted
		case <-time.After(s.opts.ListenBackoff):
		}
	}
	return nil, fmt.Errorf("listen socket not created after %d tries: %w", s.opts.ListenRetries, err)
}

// acceptLoop hands exactly one peer to the permission gate, then exits.
func (s *Service) acceptLoop(w *worker) {
	defer func() {
		base.Info("listener exit")
		w.finish()
	}()

	ln, err := s.openListenSocket(w)
	if err != nil {
		if !errors.Is(err, errInterrupted) {
			base.Error(err)
		}
		return
	}

	base.Info("listening for rfcomm connection...")
	sock, err := ln.Accept(w.stop)
	s.closeListenSocket()
	if err != nil {
		if !w.stopped() {
			base.Warn("accept:", err)
		}
		return
	}
	if w.stopped() || s.interrupted.Load() {
		_ = sock.Close()
		return
	}
	s.admit(sock)
}

// admit is the permission gate.
func (s *Service) admit(sock rfcomm.Socket) {
	sess := session.New(sock)
	s.peerMu.Lock()
	if s.sess != nil {
		active := s.sess.Device
		s.peerMu.Unlock()
		base.Warn("session with", active, "still active, drop", sess.Device)
		_ = sock.Close()
		return
	}
	s.sess = sess
	s.peerMu.Unlock()

	d := s.opts.Store.Get(sess.Device)
	base.Info("incoming connection from", sess.Device, "access", d)
	switch d {
	case access.Allowed:
		s.startUplink(sess)
	case access.Rejected:
		s.dropSession(sess)
		s.post(message{kind: msgStartListener})
	default:
		s.requestAuthorization(sess)
	}
}

// dropSession closes a peer that never got to relay.
func (s *Service) dropSession(sess *session.Session) {
	s.takeSession(sess)
	sess.Close()
}
