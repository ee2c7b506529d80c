package link

import (
	"io"
	"net"
	"path/filepath"
	"testing"

	"dunrelay/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDund(t *testing.T) (string, <-chan net.Conn) {
	addr := filepath.Join(t.TempDir(), "dund.sock")
	ln, err := net.Listen("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	return addr, accepted
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

func TestSocketLinkUplinkFrames(t *testing.T) {
	addr, accepted := fakeDund(t)
	l := NewSocketLink(addr, "")
	l.SetModemWire(ModemWireDelta)
	require.NoError(t, l.Open())
	srv := <-accepted
	defer srv.Close()

	require.NoError(t, l.SendData([]byte("ATD*99#")))
	assert.Equal(t, append([]byte{proto.MsgDunRequest, 7, 0}, "ATD*99#"...), readN(t, srv, 10))

	require.NoError(t, l.SendControl(proto.CtrlDisconnectReq))
	assert.Equal(t, []byte{proto.MsgCtrlRequest, 1, 0, proto.CtrlDisconnectReq}, readN(t, srv, 4))

	require.NoError(t, l.SendModemStatus(proto.ModemClr, 0x02))
	assert.Equal(t, []byte{proto.MsgModemStatus, 2, 0, proto.ModemClr, 0x02}, readN(t, srv, 5))

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.SendData([]byte("AT")), ErrClosed)
}

func TestSocketLinkModemStatusByte(t *testing.T) {
	addr, accepted := fakeDund(t)
	l := NewSocketLink(addr, "")
	require.NoError(t, l.Open())
	srv := <-accepted
	defer srv.Close()

	require.NoError(t, l.SendModemStatus(proto.ModemSet, 0x05))
	assert.Equal(t, []byte{proto.MsgModemStatus, 1, 0, 0x05}, readN(t, srv, 4))
	require.NoError(t, l.SendModemStatus(proto.ModemSet, 0x0a))
	assert.Equal(t, []byte{proto.MsgModemStatus, 1, 0, 0x0f}, readN(t, srv, 4))
	require.NoError(t, l.SendModemStatus(proto.ModemClr, 0x05))
	assert.Equal(t, []byte{proto.MsgModemStatus, 1, 0, 0x0a}, readN(t, srv, 4))
}

func TestParseModemWire(t *testing.T) {
	assert.Equal(t, ModemWireDelta, ParseModemWire(" Delta"))
	assert.Equal(t, ModemWireStatus, ParseModemWire("status"))
	assert.Equal(t, ModemWireStatus, ParseModemWire(""))
	assert.Equal(t, "delta", ModemWireDelta.String())
}

func TestSocketLinkDownlink(t *testing.T) {
	addr, accepted := fakeDund(t)
	l := NewSocketLink(addr, "")
	require.NoError(t, l.Open())
	srv := <-accepted
	defer srv.Close()

	sink := newRecSink()
	served := make(chan error, 1)
	go func() { served <- l.Serve(sink) }()

	var out []byte
	out, _ = proto.AppendFrame(out, proto.MsgDunResponse, []byte("OK"))
	out, _ = proto.AppendFrame(out, proto.MsgCtrlResponse, []byte{proto.CtrlConnectedResp})
	out, _ = proto.AppendFrame(out, proto.MsgModemStatus, []byte{0x10})
	_, err := srv.Write(out)
	require.NoError(t, err)

	assert.Equal(t, "data OK", <-sink.events)
	assert.Equal(t, "ctrl 1 true", <-sink.events)
	assert.Equal(t, "modem 16", <-sink.events)

	require.NoError(t, l.Close())
	assert.Error(t, <-served)
}

func TestSocketLinkStopsOnDisconnected(t *testing.T) {
	addr, accepted := fakeDund(t)
	l := NewSocketLink(addr, "")
	require.NoError(t, l.Open())
	srv := <-accepted
	defer srv.Close()

	sink := newRecSink()
	served := make(chan error, 1)
	go func() { served <- l.Serve(sink) }()

	out, _ := proto.AppendFrame(nil, proto.MsgCtrlResponse, []byte{proto.CtrlDisconnectedResp})
	_, err := srv.Write(out)
	require.NoError(t, err)

	assert.Equal(t, "ctrl 2 true", <-sink.events)
	assert.ErrorIs(t, <-served, ErrStopped)
	require.NoError(t, l.Close())
}

func TestSocketLinkNoDaemon(t *testing.T) {
	l := NewSocketLink(filepath.Join(t.TempDir(), "missing.sock"), "")
	assert.ErrorIs(t, l.Open(), ErrNoDaemon)
	assert.ErrorIs(t, l.Serve(newRecSink()), ErrClosed)
	assert.False(t, l.Handshake())
	assert.Equal(t, proto.MaxMsgLen, l.MaxPayload())
}
