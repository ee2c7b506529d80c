package dun

import (
	"bytes"

	"dunrelay/base"
	"dunrelay/session"
)

// dial strings that start a packet data call
var dialCommands = [][]byte{
	[]byte("ATDT*98"),
	[]byte("ATDT*99"),
	[]byte("ATDT#777"),
	[]byte("ATD*98"),
	[]byte("ATD*99"),
	[]byte("ATD#777"),
}

func isDialCommand(p []byte) bool {
	for _, c := range dialCommands {
		if bytes.Contains(p, c) {
			return true
		}
	}
	return false
}

// ModemDelta splits the change from prev to cur into the bits that came up
// and the bits that went down.
func ModemDelta(prev, cur byte) (set, clr byte) {
	diff := prev ^ cur
	return ^prev & diff, prev & diff
}

// suspendData turns cellular data off for the DUN call. The session
// remembers it only when the switch actually happened.
func (s *Service) suspendData(sess *session.Session) {
	dc := s.opts.Data
	if dc == nil {
		return
	}
	enabled, err := dc.DataEnabled()
	if err != nil {
		base.Error("query data state:", err)
		return
	}
	if !enabled {
		base.Info("data call was already disabled")
		return
	}
	if s.setDataEnabled(false) {
		sess.SetArbitrated(true)
	}
}

func (s *Service) resumeData() {
	if s.opts.Data == nil {
		return
	}
	s.setDataEnabled(true)
}

func (s *Service) setDataEnabled(enabled bool) bool {
	var err error
	for i := 0; i < s.opts.DataRetries; i++ {
		if err = s.opts.Data.SetDataEnabled(enabled); err == nil {
			base.Info("data connectivity enabled:", enabled)
			return true
		}
		base.Warn("set data connectivity", enabled, "try", i+1, err)
	}
	base.Error("set data connectivity", enabled, "failed:", err)
	return false
}
