package link

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"dunrelay/base"
	"dunrelay/proto"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/atomic"
)

const (
	rpcCallTimeout = 3 * time.Second
	rpcQueueSize   = 64
)

// RPCLink talks json-rpc to the rpc flavour of dund. Daemon callbacks are
// queued and consumed by Serve, one at a time and in arrival order.
type RPCLink struct {
	addr   string
	dialer func(addr string) (net.Conn, error)

	mu   sync.Mutex
	conn *jsonrpc2.Conn
	sess *rpcSession

	// bumped on every attach, a death notice is honoured only if it
	// carries the current value
	cookie atomic.Int64

	wire  ModemWire
	modem modemState
}

type rpcEvent struct {
	method string
	params json.RawMessage
}

type rpcSession struct {
	events   chan rpcEvent
	stop     chan struct{}
	stopOnce sync.Once
	served   chan struct{}
	doneOnce sync.Once
}

func newRPCSession() *rpcSession {
	return &rpcSession{
		events: make(chan rpcEvent, rpcQueueSize),
		stop:   make(chan struct{}),
		served: make(chan struct{}),
	}
}

func (s *rpcSession) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *rpcSession) finish() {
	s.doneOnce.Do(func() { close(s.served) })
}

func NewRPCLink(addr string) *RPCLink {
	return &RPCLink{
		addr: addr,
		dialer: func(addr string) (net.Conn, error) {
			return net.DialTimeout("unix", addr, rpcCallTimeout)
		},
	}
}

// SetModemWire must be called before the first session.
func (l *RPCLink) SetModemWire(w ModemWire) {
	l.wire = w
}

func (l *RPCLink) Name() string {
	return "rpc"
}

func (l *RPCLink) Handshake() bool {
	return true
}

func (l *RPCLink) MaxPayload() int {
	return proto.RPCMaxMsgLen
}

type rpcHandler struct {
	l *RPCLink
}

// Handle 在 jsonrpc2 的读协程中同步调用，保证事件顺序
func (h *rpcHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif {
		jError := jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method: " + req.Method}
		_ = conn.ReplyWithError(ctx, req.ID, &jError)
		return
	}
	ev := rpcEvent{method: req.Method}
	if req.Params != nil {
		ev.params = append(json.RawMessage(nil), *req.Params...)
	}
	h.l.enqueue(ev)
}

func (l *RPCLink) enqueue(ev rpcEvent) {
	l.mu.Lock()
	s := l.sess
	l.mu.Unlock()
	if s == nil {
		base.Debug("no session, drop", ev.method)
		return
	}
	select {
	case s.events <- ev:
	case <-s.stop:
	case <-s.served:
		base.Debug("downlink gone, drop", ev.method)
	}
}

// attach dials the daemon, registers as its client and watches for its death.
func (l *RPCLink) attach() error {
	nc, err := l.dialer(l.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDaemon, err)
	}
	stream := jsonrpc2.NewBufferedStream(nc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(context.Background(), stream, &rpcHandler{l: l}, jsonrpc2.SetLogger(base.GetBaseLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), rpcCallTimeout)
	defer cancel()
	if err = conn.Call(ctx, proto.MethodInitialize, proto.InitializeParams{Client: "dunrelay"}, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("link: initialize: %w", err)
	}

	l.mu.Lock()
	old := l.conn
	l.conn = conn
	cookie := l.cookie.Inc()
	l.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go func() {
		<-conn.DisconnectNotify()
		l.daemonDied(cookie)
	}()
	base.Info("rpc daemon attached, cookie", cookie)
	return nil
}

// daemonDied only drops the proxy, teardown is left to the relays.
func (l *RPCLink) daemonDied(cookie int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.cookie.Load()
	base.Warn("rpc daemon gone, cookie", cookie, "current", current)
	if cookie == current {
		l.conn = nil
	}
}

func (l *RPCLink) proxy() *jsonrpc2.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *RPCLink) Start() error {
	if l.proxy() != nil {
		return nil
	}
	return l.attach()
}

func (l *RPCLink) Stop() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcCallTimeout)
	defer cancel()
	if err := conn.Call(ctx, proto.MethodCloseServer, nil, nil); err != nil {
		base.Error("closeServer:", err)
	}
	_ = conn.Close()
}

// Open reattaches when the daemon died since the last session.
func (l *RPCLink) Open() error {
	if l.proxy() == nil {
		if err := l.attach(); err != nil {
			return err
		}
	}
	l.mu.Lock()
	old := l.sess
	l.sess = newRPCSession()
	l.mu.Unlock()
	l.modem.reset()
	if old != nil {
		old.close()
	}
	return nil
}

func (l *RPCLink) Close() error {
	l.mu.Lock()
	s := l.sess
	l.sess = nil
	l.mu.Unlock()
	if s != nil {
		s.close()
	}
	return nil
}

func (l *RPCLink) Serve(sink Sink) error {
	l.mu.Lock()
	s := l.sess
	l.mu.Unlock()
	if s == nil {
		return ErrClosed
	}
	defer s.finish()
	for {
		select {
		case <-s.stop:
			return nil
		case ev := <-s.events:
			if err := dispatchEvent(sink, ev); err != nil {
				return err
			}
		}
	}
}

func dispatchEvent(sink Sink, ev rpcEvent) error {
	switch ev.method {
	case proto.EventCtrlMsg:
		var p proto.CtrlMsgEvent
		if err := json.Unmarshal(ev.params, &p); err != nil {
			base.Warn("bad", ev.method, err)
			return nil
		}
		return sink.ControlResponse(p.MsgType, p.Status == proto.StatusSuccess)
	case proto.EventDownlinkData:
		var p proto.DownlinkDataEvent
		if err := json.Unmarshal(ev.params, &p); err != nil {
			base.Warn("bad", ev.method, err)
			return nil
		}
		return sink.DownlinkData(p.Data)
	case proto.EventModemStatus:
		var p proto.ModemStatusEvent
		if err := json.Unmarshal(ev.params, &p); err != nil {
			base.Warn("bad", ev.method, err)
			return nil
		}
		sink.ModemStatus(p.Status)
	default:
		base.Debug("ignore rpc event", ev.method)
	}
	return nil
}

func (l *RPCLink) call(method string, params interface{}) error {
	conn := l.proxy()
	if conn == nil {
		return ErrNoDaemon
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcCallTimeout)
	defer cancel()
	return conn.Call(ctx, method, params, nil)
}

func (l *RPCLink) notify(method string, params interface{}) error {
	conn := l.proxy()
	if conn == nil {
		return ErrNoDaemon
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcCallTimeout)
	defer cancel()
	return conn.Notify(ctx, method, params)
}

func (l *RPCLink) SendData(data []byte) error {
	if len(data) > proto.RPCMaxMsgLen {
		return fmt.Errorf("%w: %d", proto.ErrFrameTooLong, len(data))
	}
	return l.notify(proto.MethodSendUplinkData, proto.UplinkDataParams{Data: data})
}

func (l *RPCLink) SendControl(msg byte) error {
	return l.call(proto.MethodSendCtrlMsg, proto.CtrlMsgParams{Msg: msg})
}

func (l *RPCLink) SendModemStatus(op, bits byte) error {
	if l.wire == ModemWireDelta {
		return l.notify(proto.MethodSendModemStatus, proto.ModemDeltaParams{Op: op, Bits: bits})
	}
	return l.notify(proto.MethodSendModemStatus, proto.ModemStatusParams{Status: l.modem.apply(op, bits)})
}
