package dun

import (
	"errors"
	"time"

	"dunrelay/base"
	"dunrelay/proto"
	"dunrelay/rfcomm"
	"dunrelay/session"
)

func (s *Service) startMonitor(sess *session.Session) {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.monitor != nil {
		return
	}
	w := newWorker("monitor")
	s.monitor = w
	go s.monitorLoop(w, sess)
}

func (s *Service) stopMonitor() {
	s.monitorMu.Lock()
	w := s.monitor
	s.monitor = nil
	s.monitorMu.Unlock()
	if w == nil {
		return
	}
	w.shutdown()
	w.join()
}

// monitorLoop polls the peer's control lines and forwards the changes.
func (s *Service) monitorLoop(w *worker, sess *session.Session) {
	defer func() {
		base.Info("monitor exit")
		w.finish()
	}()

	ticker := time.NewTicker(s.opts.MonitorInterval)
	defer ticker.Stop()

	var (
		last   byte
		failed bool
	)
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
		if !sess.Connected() {
			return
		}
		bits, err := sess.Socket.ModemBits()
		if errors.Is(err, rfcomm.ErrClosed) {
			return
		}
		if err != nil {
			// 只在连续失败的第一次告警，会话仍在就继续轮询
			if !failed {
				base.Warn("get modem bits:", err)
				failed = true
			}
			continue
		}
		failed = false
		if bits == last {
			continue
		}
		set, clr := ModemDelta(last, bits)
		if set != 0 {
			if err = s.link.SendModemStatus(proto.ModemSet, set); err != nil {
				base.Warn("send modem status:", err)
			}
		}
		if clr != 0 {
			if err = s.link.SendModemStatus(proto.ModemClr, clr); err != nil {
				base.Warn("send modem status:", err)
			}
		}
		last = bits
	}
}
