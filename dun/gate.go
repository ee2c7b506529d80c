package dun

import (
	"time"

	"dunrelay/access"
	"dunrelay/base"
	"dunrelay/session"
)

func (s *Service) requestAuthorization(sess *session.Session) {
	dev := sess.Device
	s.authMu.Lock()
	s.waiting = true
	s.authDevice = dev
	s.authTimer = time.AfterFunc(s.opts.UserConfirmTimeout, func() {
		s.post(message{kind: msgUserTimeout, device: dev})
	})
	s.authMu.Unlock()

	if err := s.opts.Notifier.Show(dev); err != nil {
		// 通知失败时由超时处理
		base.Error("show access request:", err)
	}
	base.Info("awaiting authorization for", dev)
}

// resolveAuthorization claims the pending request for device. Only the first
// of allow, reject, ACL loss or timeout gets true.
func (s *Service) resolveAuthorization(device string) bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	if !s.waiting || !sameDevice(device, s.authDevice) {
		return false
	}
	s.waiting = false
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	return true
}

// cancelAuthorization drops whatever request is pending.
func (s *Service) cancelAuthorization() (string, bool) {
	s.authMu.Lock()
	if !s.waiting {
		s.authMu.Unlock()
		return "", false
	}
	dev := s.authDevice
	s.authMu.Unlock()
	if !s.resolveAuthorization(dev) {
		return "", false
	}
	s.opts.Notifier.Clear(dev)
	return dev, true
}

// Waiting returns the device whose access request is pending.
func (s *Service) Waiting() (string, bool) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.authDevice, s.waiting
}

func (s *Service) accessAllowed(device string, always bool) {
	if !s.resolveAuthorization(device) {
		base.Debug("access reply for", device, "not expected")
		return
	}
	s.opts.Notifier.Clear(device)
	if always {
		if err := s.opts.Store.Set(device, access.Allowed); err != nil {
			base.Error("save access:", err)
		}
	}
	sess := s.current()
	if sess == nil || !sameDevice(sess.Device, device) {
		base.Warn("peer", device, "gone before access was granted")
		s.startListener()
		return
	}
	s.startUplink(sess)
}

func (s *Service) accessDisallowed(device string) {
	if !s.resolveAuthorization(device) {
		base.Debug("access reply for", device, "not expected")
		return
	}
	s.opts.Notifier.Clear(device)
	s.rejectPending(device)
}

func (s *Service) userTimeout(device string) {
	if !s.resolveAuthorization(device) {
		return
	}
	base.Info("authorization timeout for", device)
	s.opts.Broadcaster.UserConfirmTimeout(device)
	s.opts.Notifier.Clear(device)
	s.rejectPending(device)
}

// rejectPending closes the peer that was waiting and listens again.
func (s *Service) rejectPending(device string) {
	if sess := s.current(); sess != nil && sameDevice(sess.Device, device) &&
		sess.Phase() == session.PhaseAuthorizing {
		s.dropSession(sess)
	}
	s.startListener()
}
