package link

import (
	"fmt"

	"dunrelay/proto"
)

// recSink records what a link delivers, one line per callback.
type recSink struct {
	events chan string
}

func newRecSink() *recSink {
	return &recSink{events: make(chan string, 16)}
}

func (s *recSink) DownlinkData(data []byte) error {
	s.events <- "data " + string(data)
	return nil
}

func (s *recSink) ControlResponse(msg byte, ok bool) error {
	s.events <- fmt.Sprintf("ctrl %d %v", msg, ok)
	if msg == proto.CtrlDisconnectedResp {
		return ErrStopped
	}
	return nil
}

func (s *recSink) ModemStatus(status byte) {
	s.events <- fmt.Sprintf("modem %d", status)
}
