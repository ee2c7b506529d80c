package rfcomm

import (
	"errors"
	"fmt"
	"io"
)

const (
	UUID        = "00001103-0000-1000-8000-00805F9B34FB"
	ServiceName = "Dial up Networking"
)

// SolRFCOMM is the RFCOMM socket option level.
const SolRFCOMM = 18

// ModemOpts names the socket options that read, raise and drop the modem
// control lines of a channel. Mainline kernels have no such options (at
// SOL_RFCOMM 2 is RFCOMM_CONNINFO and 3 is RFCOMM_LM), so a zero Level
// turns modem line access off and every call returns ErrUnsupported.
// Kernels carrying the vendor DUN patch use VendorModemOpts.
type ModemOpts struct {
	Level int
	Get   int
	Set   int
	Clr   int
}

func VendorModemOpts() ModemOpts {
	return ModemOpts{Level: SolRFCOMM, Get: 1, Set: 2, Clr: 3}
}

func (m ModemOpts) Enabled() bool {
	return m.Level != 0
}

func (m ModemOpts) Validate() error {
	if !m.Enabled() {
		return nil
	}
	if m.Get <= 0 || m.Set <= 0 || m.Clr <= 0 {
		return fmt.Errorf("rfcomm: modem option numbers must be positive: %+v", m)
	}
	if m.Get == m.Set || m.Get == m.Clr || m.Set == m.Clr {
		return fmt.Errorf("rfcomm: modem option numbers must differ: %+v", m)
	}
	return nil
}

var (
	ErrClosed      = errors.New("rfcomm: closed")
	ErrPermission  = errors.New("rfcomm: permission denied")
	ErrUnsupported = errors.New("rfcomm: unsupported")
)

// Socket is one accepted RFCOMM channel.
type Socket interface {
	io.ReadWriteCloser
	// RemoteAddr is the peer's bluetooth address, AA:BB:CC:DD:EE:FF.
	RemoteAddr() string
	IsConnected() bool
	ModemBits() (byte, error)
	SetModemBits(bits byte) error
	ClearModemBits(bits byte) error
}

// Listener hands out inbound channels one at a time. Connection attempts that
// arrive while nobody is blocked in Accept are refused.
type Listener interface {
	// Accept blocks until a peer connects, the listener is closed or cancel
	// is closed.
	Accept(cancel <-chan struct{}) (Socket, error)
	Close() error
}

type Options struct {
	Name    string
	UUID    string
	Channel uint16
	Modem   ModemOpts
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Name == "" {
		out.Name = ServiceName
	}
	if out.UUID == "" {
		out.UUID = UUID
	}
	return out
}
