package dun

import (
	"errors"
	"time"

	"dunrelay/access"
	"dunrelay/base"
	"dunrelay/link"
	"dunrelay/rfcomm"
)

// State is the profile connection state of one remote device.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (st State) String() string {
	if st == StateConnected {
		return "connected"
	}
	return "disconnected"
}

type AdapterState int

const (
	AdapterOff AdapterState = iota
	AdapterTurningOn
	AdapterOn
	AdapterTurningOff
)

func (a AdapterState) String() string {
	switch a {
	case AdapterTurningOn:
		return "turning-on"
	case AdapterOn:
		return "on"
	case AdapterTurningOff:
		return "turning-off"
	}
	return "off"
}

var (
	ErrNotConnected = errors.New("dun: device not connected")
	ErrHandshake    = errors.New("dun: connect handshake failed")
	ErrSecurity     = errors.New("dun: permission denied")
	ErrAdapterOff   = errors.New("dun: adapter is off")
	errInterrupted  = errors.New("dun: interrupted")
)

type Adapter interface {
	State() AdapterState
}

// Notifier shows the access request to the local user. The answer comes back
// through Service.AccessAllowed or Service.AccessDisallowed.
type Notifier interface {
	Show(device string) error
	Clear(device string)
}

// DataController switches the default cellular data path.
type DataController interface {
	DataEnabled() (bool, error)
	SetDataEnabled(enabled bool) error
}

// Registry is told first on every connection state change.
type Registry interface {
	ProfileStateChanged(device string, state, prev State)
}

// Broadcaster publishes profile events to whoever is listening.
type Broadcaster interface {
	ConnectionStateChanged(device string, prev, state State)
	UserConfirmTimeout(device string)
	AccessCancel(device string)
}

type AccessStore interface {
	Get(addr string) access.Decision
	Set(addr string, d access.Decision) error
}

// ListenFunc opens the DUN server channel.
type ListenFunc func() (rfcomm.Listener, error)

type Options struct {
	Link        link.DaemonLink
	Listen      ListenFunc
	Adapter     Adapter
	Store       AccessStore
	Notifier    Notifier
	Data        DataController // nil disables data arbitration
	Registry    Registry
	Broadcaster Broadcaster

	ListenRetries      int
	ListenBackoff      time.Duration
	UserConfirmTimeout time.Duration
	MonitorInterval    time.Duration
	ConnectTimeout     time.Duration
	DataRetries        int
}

// OptionsFromConfig fills the timings and counters from cfg, the
// collaborators are left to the caller.
func OptionsFromConfig(cfg *base.ServiceConfig) Options {
	return Options{
		ListenRetries:      cfg.ListenRetries,
		ListenBackoff:      cfg.ListenBackoffDuration(),
		UserConfirmTimeout: cfg.UserConfirmTimeoutDuration(),
		MonitorInterval:    cfg.MonitorIntervalDuration(),
		ConnectTimeout:     cfg.ConnectTimeoutDuration(),
		DataRetries:        cfg.DataRetries,
	}
}

type nopNotifier struct{}

func (nopNotifier) Show(string) error { return nil }
func (nopNotifier) Clear(string)      {}

type nopEvents struct{}

func (nopEvents) ProfileStateChanged(string, State, State)    {}
func (nopEvents) ConnectionStateChanged(string, State, State) {}
func (nopEvents) UserConfirmTimeout(string)                   {}
func (nopEvents) AccessCancel(string)                         {}

func (o Options) withDefaults() Options {
	if o.Notifier == nil {
		o.Notifier = nopNotifier{}
	}
	if o.Registry == nil {
		o.Registry = nopEvents{}
	}
	if o.Broadcaster == nil {
		o.Broadcaster = nopEvents{}
	}
	if o.ListenRetries <= 0 {
		o.ListenRetries = 10
	}
	if o.ListenBackoff <= 0 {
		o.ListenBackoff = 300 * time.Millisecond
	}
	if o.UserConfirmTimeout <= 0 {
		o.UserConfirmTimeout = 30 * time.Second
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 200 * time.Millisecond
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.DataRetries <= 0 {
		o.DataRetries = 3
	}
	return o
}
