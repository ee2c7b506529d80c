package dun

import (
	"fmt"
	"time"

	"dunrelay/base"
	"dunrelay/proto"
	"dunrelay/session"
)

func (s *Service) startUplink(sess *session.Session) {
	sess.SetPhase(session.PhaseRelaying)
	s.uplinkMu.Lock()
	defer s.uplinkMu.Unlock()
	if s.uplink != nil {
		s.uplink.shutdown()
		s.uplink.join()
	}
	w := newWorker("uplink")
	s.uplink = w
	go s.uplinkLoop(w, sess)
}

// stopUplink must not be called from the uplink goroutine.
func (s *Service) stopUplink() {
	s.uplinkMu.Lock()
	w := s.uplink
	s.uplink = nil
	s.uplinkMu.Unlock()
	if w == nil {
		return
	}
	w.shutdown()
	if sess := s.current(); sess != nil {
		sess.Close()
	}
	w.join()
}

// handshake asks the daemon to connect and waits for its answer. The signal
// channel exists before the request goes out so a fast reply is not lost.
func (s *Service) handshake(w *worker) error {
	signal := make(chan bool, 1)
	s.linkMu.Lock()
	s.connectSignal = signal
	s.linkMu.Unlock()
	defer func() {
		s.linkMu.Lock()
		if s.connectSignal == signal {
			s.connectSignal = nil
		}
		s.linkMu.Unlock()
	}()

	if err := s.link.SendControl(proto.CtrlConnectReq); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	base.Info("waiting for daemon connect response")
	select {
	case ok := <-signal:
		if !ok {
			return fmt.Errorf("%w: rejected by daemon", ErrHandshake)
		}
	case <-time.After(s.opts.ConnectTimeout):
		return fmt.Errorf("%w: no response in %s", ErrHandshake, s.opts.ConnectTimeout)
	case <-w.stop:
		return errInterrupted
	}
	if !s.connected.Load() {
		return ErrHandshake
	}
	return nil
}

// uplinkLoop owns the session: it brings up the downlink and the monitor,
// forwards peer bytes to the daemon and performs the teardown.
func (s *Service) uplinkLoop(w *worker, sess *session.Session) {
	// 由上行主动退出（对端断开、读写失败）时才通知 dund 并重启监听
	intExit := false
	linked := false
	leaving := func() bool { return !w.stopped() && !s.interrupted.Load() }
	defer func() {
		s.releaseSession(w, sess, intExit, linked)
		base.Info("uplink exit")
		w.finish()
	}()

	if err := s.link.Open(); err != nil {
		base.Error("open", s.link.Name(), "link:", err)
		intExit = leaving()
		return
	}
	linked = true
	s.startDownlink(sess)

	if s.link.Handshake() {
		if err := s.handshake(w); err != nil {
			base.Error(err)
			intExit = leaving()
			return
		}
	}
	s.startMonitor(sess)

	pl := getPayloadBuffer()
	defer putPayloadBuffer(pl)
	buf := pl.Data[:s.link.MaxPayload()]
	for {
		n, err := sess.Socket.Read(buf)
		if n > 0 {
			sess.Stat.BytesReceived.Add(uint64(n))
			if isDialCommand(buf[:n]) && sess.MarkDialSeen() {
				s.suspendData(sess)
			}
			if err := s.link.SendData(buf[:n]); err != nil {
				base.Error("uplink to daemon:", err)
				intExit = leaving()
				return
			}
		}
		if err != nil {
			intExit = leaving()
			if intExit {
				base.Info("rfcomm read:", err)
			}
			return
		}
	}
}

// releaseSession is the teardown shared by every way a session ends. The
// downlink and the monitor are joined before the listener is queued again.
// linked tells whether the daemon ever saw this session.
func (s *Service) releaseSession(w *worker, sess *session.Session, intExit, linked bool) {
	if intExit && linked && !sess.RemoteClosed() && (!s.link.Handshake() || s.connected.Load()) {
		if err := s.link.SendControl(proto.CtrlDisconnectReq); err != nil {
			base.Warn("send disconnect request:", err)
		}
	}
	s.connected.Store(false)

	_ = s.link.Close()
	sess.Close()
	s.setState(sess.Device, StateDisconnected)

	base.Debug("wait for downlink to close")
	s.stopDownlink()
	base.Debug("wait for monitor to close")
	s.stopMonitor()

	if sess.TakeArbitrated() {
		s.resumeData()
	}
	s.takeSession(sess)
	sess.SetRemoteModem(0)

	s.uplinkMu.Lock()
	if s.uplink == w {
		s.uplink = nil
	}
	s.uplinkMu.Unlock()

	if intExit {
		base.Debug("restart listener")
		s.post(message{kind: msgStartListener})
	}
}
