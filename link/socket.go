package link

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"dunrelay/base"
	"dunrelay/proto"
)

// SocketLink talks IpcFrames to dund over a local stream socket.
type SocketLink struct {
	addr    string
	command string

	mu   sync.Mutex
	conn net.Conn

	wmu  sync.Mutex
	wbuf []byte

	pmu    sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}

	wire  ModemWire
	modem modemState

	dialer func(addr string) (net.Conn, error)
}

// NewSocketLink dials addr for every session. When command is set it is
// spawned on Start and stopped on Stop.
func NewSocketLink(addr, command string) *SocketLink {
	return &SocketLink{
		addr:    addr,
		command: command,
		wbuf:    make([]byte, 0, proto.MaxIPCMsgLen),
		dialer: func(addr string) (net.Conn, error) {
			return net.DialTimeout("unix", addr, 3*time.Second)
		},
	}
}

// SetModemWire must be called before the first session.
func (l *SocketLink) SetModemWire(w ModemWire) {
	l.wire = w
}

func (l *SocketLink) Name() string {
	return "socket"
}

func (l *SocketLink) Handshake() bool {
	return false
}

func (l *SocketLink) MaxPayload() int {
	return proto.MaxMsgLen
}

func (l *SocketLink) Start() error {
	args := strings.Fields(l.command)
	if len(args) == 0 {
		return nil
	}
	l.pmu.Lock()
	defer l.pmu.Unlock()
	if l.cmd != nil {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("link: start dund: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		base.Info("dund exited:", err)
		close(exited)
	}()
	l.cmd, l.exited = cmd, exited
	base.Info("dund started, pid", cmd.Process.Pid)
	return nil
}

func (l *SocketLink) Stop() {
	l.pmu.Lock()
	cmd, exited := l.cmd, l.exited
	l.cmd, l.exited = nil, nil
	l.pmu.Unlock()
	if cmd == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		_ = cmd.Process.Kill()
		<-exited
	}
}

func (l *SocketLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	c, err := l.dialer(l.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDaemon, err)
	}
	l.conn = c
	l.modem.reset()
	base.Debug("dund socket connected:", l.addr)
	return nil
}

func (l *SocketLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func (l *SocketLink) current() net.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *SocketLink) Serve(sink Sink) error {
	c := l.current()
	if c == nil {
		return ErrClosed
	}
	fr := proto.NewReader(c)
	for {
		err := fr.ReadBatch(func(pl *proto.Payload) error {
			return dispatchFrame(sink, pl)
		})
		if err != nil {
			return err
		}
	}
}

func dispatchFrame(sink Sink, pl *proto.Payload) error {
	switch pl.Type {
	case proto.MsgDunResponse:
		return sink.DownlinkData(pl.Data)
	case proto.MsgCtrlResponse:
		if len(pl.Data) != 1 {
			base.Warn("bad control response length", len(pl.Data))
			return nil
		}
		return sink.ControlResponse(pl.Data[0], true)
	case proto.MsgModemStatus:
		if len(pl.Data) != 1 {
			base.Warn("bad modem status length", len(pl.Data))
			return nil
		}
		sink.ModemStatus(pl.Data[0])
	default:
		base.Debug("ignore frame type", pl.Type)
	}
	return nil
}

func (l *SocketLink) write(typ byte, data []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	c := l.current()
	if c == nil {
		return ErrClosed
	}
	buf, err := proto.AppendFrame(l.wbuf[:0], typ, data)
	if err != nil {
		return err
	}
	l.wbuf = buf
	_, err = c.Write(buf)
	return err
}

func (l *SocketLink) SendData(data []byte) error {
	return l.write(proto.MsgDunRequest, data)
}

func (l *SocketLink) SendControl(msg byte) error {
	if msg == proto.CtrlConnectReq {
		return nil
	}
	return l.write(proto.MsgCtrlRequest, []byte{msg})
}

func (l *SocketLink) SendModemStatus(op, bits byte) error {
	if l.wire == ModemWireDelta {
		return l.write(proto.MsgModemStatus, []byte{op, bits})
	}
	return l.write(proto.MsgModemStatus, []byte{l.modem.apply(op, bits)})
}
