package dun

import (
	"errors"

	"dunrelay/base"
	"dunrelay/link"
	"dunrelay/proto"
	"dunrelay/session"
)

func (s *Service) startDownlink(sess *session.Session) {
	s.downlinkMu.Lock()
	defer s.downlinkMu.Unlock()
	if s.downlink != nil {
		return
	}
	w := newWorker("downlink")
	s.downlink = w
	go s.downlinkLoop(w, sess)
}

func (s *Service) stopDownlink() {
	s.downlinkMu.Lock()
	w := s.downlink
	s.downlink = nil
	s.downlinkMu.Unlock()
	if w == nil {
		return
	}
	w.shutdown()
	_ = s.link.Close()
	w.join()
}

// downlinkLoop stops quietly on any error, the uplink owns the teardown.
func (s *Service) downlinkLoop(w *worker, sess *session.Session) {
	defer func() {
		base.Info("downlink exit")
		w.finish()
	}()
	err := s.link.Serve(&downlinkSink{s: s, sess: sess})
	if err != nil && !errors.Is(err, link.ErrStopped) && !w.stopped() {
		base.Error("downlink:", err)
		_ = s.link.Close()
	}
}

// downlinkSink applies what the daemon sends to the current peer.
type downlinkSink struct {
	s    *Service
	sess *session.Session
}

func (d *downlinkSink) DownlinkData(data []byte) error {
	n, err := d.sess.Socket.Write(data)
	d.sess.Stat.BytesSent.Add(uint64(n))
	if err != nil {
		base.Warn("write to rfcomm:", err)
	}
	return err
}

func (d *downlinkSink) ControlResponse(msg byte, ok bool) error {
	s := d.s
	switch msg {
	case proto.CtrlConnectedResp:
		s.linkMu.Lock()
		signal := s.connectSignal
		s.connectSignal = nil
		s.linkMu.Unlock()

		if ok {
			base.Info("daemon connected")
			s.connected.Store(true)
			s.setState(d.sess.Device, StateConnected)
		} else {
			base.Warn("daemon refused to connect")
		}
		if signal != nil {
			signal <- ok
		}
	case proto.CtrlDisconnectedResp:
		base.Info("daemon disconnected")
		s.setState(d.sess.Device, StateDisconnected)
		s.connected.Store(false)
		d.sess.MarkRemoteClosed()
		// uplink 读失败后负责清理
		d.sess.Close()
		return link.ErrStopped
	default:
		base.Debug("unknown control response", msg)
	}
	return nil
}

// ModemStatus mirrors the daemon's control lines onto the peer.
func (d *downlinkSink) ModemStatus(status byte) {
	prev := d.sess.RemoteModem()
	if prev == status {
		return
	}
	set, clr := ModemDelta(prev, status)
	if set != 0 {
		if err := d.sess.Socket.SetModemBits(set); err != nil {
			base.Warn("set modem bits:", err)
		}
	}
	if clr != 0 {
		if err := d.sess.Socket.ClearModemBits(clr); err != nil {
			base.Warn("clear modem bits:", err)
		}
	}
	d.sess.SetRemoteModem(status)
}
