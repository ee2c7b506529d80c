package link

import (
	"strings"
	"sync"

	"dunrelay/proto"
)

// ModemWire is how a modem status update reaches the daemon.
type ModemWire int

const (
	// ModemWireStatus sends the whole status byte after each update, the
	// form stock dund understands.
	ModemWireStatus ModemWire = iota
	// ModemWireDelta sends the update itself as [op, bits].
	ModemWireDelta
)

func ParseModemWire(s string) ModemWire {
	if strings.EqualFold(strings.TrimSpace(s), "delta") {
		return ModemWireDelta
	}
	return ModemWireStatus
}

func (w ModemWire) String() string {
	if w == ModemWireDelta {
		return "delta"
	}
	return "status"
}

// modemState folds SET/CLR updates into the status byte last sent for the
// session.
type modemState struct {
	mu     sync.Mutex
	status byte
}

func (m *modemState) apply(op, bits byte) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch op {
	case proto.ModemSet:
		m.status |= bits
	case proto.ModemClr:
		m.status &^= bits
	}
	return m.status
}

func (m *modemState) reset() {
	m.mu.Lock()
	m.status = 0
	m.mu.Unlock()
}
