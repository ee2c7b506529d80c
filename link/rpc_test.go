package link

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dunrelay/proto"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRPCDaemon struct {
	addr  string
	mu    sync.Mutex
	calls []string
	modem []string
	conns chan *jsonrpc2.Conn
}

func (d *fakeRPCDaemon) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	d.mu.Lock()
	d.calls = append(d.calls, req.Method)
	if req.Method == proto.MethodSendModemStatus && req.Params != nil {
		d.modem = append(d.modem, string(*req.Params))
	}
	d.mu.Unlock()
	if !req.Notif {
		_ = conn.Reply(ctx, req.ID, "ok")
	}
}

func (d *fakeRPCDaemon) modemParams() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.modem...)
}

func (d *fakeRPCDaemon) called(method string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c == method {
			return true
		}
	}
	return false
}

func startRPCDaemon(t *testing.T) *fakeRPCDaemon {
	d := &fakeRPCDaemon{
		addr:  filepath.Join(t.TempDir(), "rpc.sock"),
		conns: make(chan *jsonrpc2.Conn, 4),
	}
	ln, err := net.Listen("unix", d.addr)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			stream := jsonrpc2.NewBufferedStream(c, jsonrpc2.VSCodeObjectCodec{})
			d.conns <- jsonrpc2.NewConn(context.Background(), stream, d)
		}
	}()
	return d
}

func TestRPCLinkSession(t *testing.T) {
	d := startRPCDaemon(t)
	l := NewRPCLink(d.addr)
	require.NoError(t, l.Start())
	srv := <-d.conns
	defer srv.Close()
	assert.True(t, d.called(proto.MethodInitialize))

	require.NoError(t, l.Open())
	sink := newRecSink()
	served := make(chan error, 1)
	go func() { served <- l.Serve(sink) }()

	require.NoError(t, l.SendControl(proto.CtrlConnectReq))
	assert.True(t, d.called(proto.MethodSendCtrlMsg))

	ctx := context.Background()
	require.NoError(t, srv.Notify(ctx, proto.EventCtrlMsg, proto.CtrlMsgEvent{MsgType: proto.CtrlConnectedResp, Status: proto.StatusSuccess}))
	require.NoError(t, srv.Notify(ctx, proto.EventDownlinkData, proto.DownlinkDataEvent{Data: []byte("CONNECT")}))
	require.NoError(t, srv.Notify(ctx, proto.EventModemStatus, proto.ModemStatusEvent{Status: 0x05}))
	assert.Equal(t, "ctrl 1 true", <-sink.events)
	assert.Equal(t, "data CONNECT", <-sink.events)
	assert.Equal(t, "modem 5", <-sink.events)

	require.NoError(t, l.SendData([]byte("ATD*99#")))
	require.NoError(t, l.SendModemStatus(proto.ModemSet, 0x01))
	assert.Eventually(t, func() bool {
		return d.called(proto.MethodSendUplinkData) && d.called(proto.MethodSendModemStatus)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, l.Close())
	assert.NoError(t, <-served)

	l.Stop()
	assert.True(t, d.called(proto.MethodCloseServer))
	assert.ErrorIs(t, l.SendControl(proto.CtrlDisconnectReq), ErrNoDaemon)
}

func TestRPCLinkConnectFailure(t *testing.T) {
	d := startRPCDaemon(t)
	l := NewRPCLink(d.addr)
	require.NoError(t, l.Open())
	srv := <-d.conns
	defer srv.Close()

	sink := newRecSink()
	go func() { _ = l.Serve(sink) }()
	require.NoError(t, srv.Notify(context.Background(), proto.EventCtrlMsg, proto.CtrlMsgEvent{MsgType: proto.CtrlConnectedResp, Status: 1}))
	assert.Equal(t, "ctrl 1 false", <-sink.events)
	require.NoError(t, l.Close())
	l.Stop()
}

func TestRPCLinkDeathAndReattach(t *testing.T) {
	d := startRPCDaemon(t)
	l := NewRPCLink(d.addr)
	require.NoError(t, l.Start())
	srv := <-d.conns
	first := l.cookie.Load()

	srv.Close()
	assert.Eventually(t, func() bool { return l.proxy() == nil }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, l.SendControl(proto.CtrlDisconnectReq), ErrNoDaemon)

	// the next session attaches again
	require.NoError(t, l.Open())
	srv = <-d.conns
	defer srv.Close()
	assert.Equal(t, first+1, l.cookie.Load())

	// a late notice about the first attachment is ignored
	l.daemonDied(first)
	assert.NotNil(t, l.proxy())

	require.NoError(t, l.Close())
	l.Stop()
}

func TestRPCLinkNoDaemon(t *testing.T) {
	l := NewRPCLink(filepath.Join(t.TempDir(), "missing.sock"))
	assert.ErrorIs(t, l.Start(), ErrNoDaemon)
	assert.ErrorIs(t, l.Open(), ErrNoDaemon)
	assert.True(t, l.Handshake())
	assert.Equal(t, proto.RPCMaxMsgLen, l.MaxPayload())
}

func TestRPCLinkModemWire(t *testing.T) {
	d := startRPCDaemon(t)
	l := NewRPCLink(d.addr)
	require.NoError(t, l.Start())
	srv := <-d.conns
	defer srv.Close()
	defer l.Stop()

	require.NoError(t, l.Open())
	require.NoError(t, l.SendModemStatus(proto.ModemSet, 0x05))
	require.NoError(t, l.SendModemStatus(proto.ModemClr, 0x01))
	require.Eventually(t, func() bool { return len(d.modemParams()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"status":5}`, `{"status":4}`}, d.modemParams())

	// a new session starts from no lines up
	require.NoError(t, l.Open())
	l.SetModemWire(ModemWireDelta)
	require.NoError(t, l.SendModemStatus(proto.ModemSet, 0x02))
	require.Eventually(t, func() bool { return len(d.modemParams()) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"op":2,"bits":2}`, d.modemParams()[2])
}
