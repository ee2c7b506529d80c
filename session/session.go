package session

import (
	"sync"
	"time"

	"dunrelay/base"
	"dunrelay/rfcomm"
	"go.uber.org/atomic"
)

type Phase int32

const (
	PhaseAuthorizing Phase = iota
	PhaseRelaying
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthorizing:
		return "authorizing"
	case PhaseRelaying:
		return "relaying"
	}
	return "closed"
}

type stat struct {
	// be sure to use the double type when parsing
	BytesSent     *atomic.Uint64 `json:"bytesSent"`
	BytesReceived *atomic.Uint64 `json:"bytesReceived"`
}

// Session 一次 DUN 连接的上下文，同一时间最多存在一个
type Session struct {
	Device   string        `json:"device"`
	Accepted time.Time     `json:"accepted"`
	Stat     *stat         `json:"stat"`
	Socket   rfcomm.Socket `json:"-"`

	phase atomic.Int32

	closeOnce sync.Once
	CloseChan chan struct{} `json:"-"`

	// the dial command has been seen on the uplink
	dialSeen atomic.Bool
	// cellular data was suspended for this session and must be restored
	arbitrated atomic.Bool
	// dund reported the disconnect itself, no DISCONNECT request is owed
	remoteClosed atomic.Bool
	// last modem status pushed by dund and applied to the peer
	remoteModem atomic.Uint32
}

func New(sock rfcomm.Socket) *Session {
	return &Session{
		Device:   sock.RemoteAddr(),
		Accepted: time.Now(),
		Socket:   sock,
		Stat: &stat{
			BytesSent:     atomic.NewUint64(0),
			BytesReceived: atomic.NewUint64(0),
		},
		CloseChan: make(chan struct{}),
	}
}

func (sess *Session) Phase() Phase {
	return Phase(sess.phase.Load())
}

func (sess *Session) SetPhase(p Phase) {
	sess.phase.Store(int32(p))
}

// Connected reports whether the peer socket is still usable.
func (sess *Session) Connected() bool {
	select {
	case <-sess.CloseChan:
		return false
	default:
	}
	return sess.Socket.IsConnected()
}

// MarkDialSeen returns true only for the first call.
func (sess *Session) MarkDialSeen() bool {
	return sess.dialSeen.CompareAndSwap(false, true)
}

func (sess *Session) SetArbitrated(v bool) {
	sess.arbitrated.Store(v)
}

func (sess *Session) Arbitrated() bool {
	return sess.arbitrated.Load()
}

// TakeArbitrated clears the flag and reports whether it was set.
func (sess *Session) TakeArbitrated() bool {
	return sess.arbitrated.Swap(false)
}

func (sess *Session) MarkRemoteClosed() {
	sess.remoteClosed.Store(true)
}

func (sess *Session) RemoteClosed() bool {
	return sess.remoteClosed.Load()
}

func (sess *Session) RemoteModem() byte {
	return byte(sess.remoteModem.Load())
}

func (sess *Session) SetRemoteModem(b byte) {
	sess.remoteModem.Store(uint32(b))
}

// Close 关闭 rfcomm socket，重复调用无副作用
func (sess *Session) Close() {
	sess.closeOnce.Do(func() {
		sess.SetPhase(PhaseClosed)
		close(sess.CloseChan)
		if err := sess.Socket.Close(); err != nil {
			base.Warn("close rfcomm socket:", err)
		}
		base.Debug("session", sess.Device, "closed")
	})
}
