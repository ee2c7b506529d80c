package link

import (
	"errors"
)

var (
	ErrNoDaemon = errors.New("link: no daemon instance")
	ErrClosed   = errors.New("link: closed")
	// ErrStopped is returned by a Sink to end Serve quietly.
	ErrStopped = errors.New("link: downlink stopped")
)

// Sink receives what the daemon sends back for the current session.
type Sink interface {
	DownlinkData(data []byte) error
	ControlResponse(msg byte, ok bool) error
	ModemStatus(status byte)
}

// DaemonLink is the transport to the daemon that terminates the modem side
// of a DUN call. One implementation is chosen at startup.
type DaemonLink interface {
	Name() string
	// Handshake reports whether a session must be confirmed with a connect
	// request before any data is forwarded.
	Handshake() bool
	// MaxPayload bounds a single uplink write.
	MaxPayload() int

	// Start and Stop follow the adapter: they bring the daemon (or the
	// proxy to it) up and down.
	Start() error
	Stop()

	// Open prepares the link for a new session, Close releases it and
	// unblocks Serve. Close may be called any number of times.
	Open() error
	Close() error
	// Serve delivers daemon traffic to sink until Close or a transport error.
	Serve(sink Sink) error

	SendData(data []byte) error
	SendControl(msg byte) error
	SendModemStatus(op, bits byte) error
}
