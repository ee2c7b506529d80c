package dun

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"dunrelay/access"
	"dunrelay/link"
	"dunrelay/proto"
	"dunrelay/rfcomm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const (
	addr1 = "00:11:22:33:44:55"
	addr2 = "66:77:88:99:AA:BB"
	wait  = 2 * time.Second
	tick  = 5 * time.Millisecond
)

type eventLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *eventLog) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func (l *eventLog) count(line string) int {
	n := 0
	for _, v := range l.snapshot() {
		if v == line {
			n++
		}
	}
	return n
}

// fakeSocket is the service's end of a net.Pipe, tests drive the other end.
type fakeSocket struct {
	conn   net.Conn
	addr   string
	closed atomic.Bool
	bits   atomic.Uint32
	// ModemBits fails this many times before answering
	bitsErrs atomic.Int32

	mu  sync.Mutex
	set []byte
	clr []byte
}

func newPeer(addr string) (*fakeSocket, net.Conn) {
	a, b := net.Pipe()
	return &fakeSocket{conn: a, addr: addr}, b
}

func (s *fakeSocket) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *fakeSocket) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *fakeSocket) RemoteAddr() string          { return s.addr }
func (s *fakeSocket) IsConnected() bool           { return !s.closed.Load() }

func (s *fakeSocket) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

func (s *fakeSocket) ModemBits() (byte, error) {
	if s.closed.Load() {
		return 0, rfcomm.ErrClosed
	}
	if n := s.bitsErrs.Load(); n > 0 && s.bitsErrs.CompareAndSwap(n, n-1) {
		return 0, rfcomm.ErrUnsupported
	}
	return byte(s.bits.Load()), nil
}

func (s *fakeSocket) SetModemBits(bits byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = append(s.set, bits)
	return nil
}

func (s *fakeSocket) ClearModemBits(bits byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clr = append(s.clr, bits)
	return nil
}

func (s *fakeSocket) applied() ([]byte, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.set...), append([]byte(nil), s.clr...)
}

// fakeBus hands a dialed socket to whoever is blocked in Accept, and refuses
// it when nobody is.
type fakeBus struct {
	incoming chan rfcomm.Socket
	log      *eventLog
	opens    atomic.Int32
	failures atomic.Int32
	failErr  error

	mu       sync.Mutex
	onAccept func()
}

func (b *fakeBus) listen() (rfcomm.Listener, error) {
	if n := b.opens.Inc(); n <= b.failures.Load() {
		return nil, b.failErr
	}
	return &fakeListener{bus: b, closed: make(chan struct{})}, nil
}

func (b *fakeBus) setOnAccept(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAccept = fn
}

func (b *fakeBus) dial(sock rfcomm.Socket, timeout time.Duration) bool {
	select {
	case b.incoming <- sock:
		return true
	case <-time.After(timeout):
		return false
	}
}

type fakeListener struct {
	bus       *fakeBus
	closeOnce sync.Once
	closed    chan struct{}
}

func (l *fakeListener) Accept(cancel <-chan struct{}) (rfcomm.Socket, error) {
	l.bus.mu.Lock()
	hook := l.bus.onAccept
	l.bus.mu.Unlock()
	if hook != nil {
		hook()
	}
	l.bus.log.add("accept")
	select {
	case sock := <-l.bus.incoming:
		return sock, nil
	case <-cancel:
		return nil, rfcomm.ErrClosed
	case <-l.closed:
		return nil, rfcomm.ErrClosed
	}
}

func (l *fakeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

const (
	replyNever int32 = iota
	replyOK
	replyRefuse
)

type fakeLink struct {
	handshake bool
	reply     atomic.Int32
	log       *eventLog
	openErr   error

	mu     sync.Mutex
	events chan func(link.Sink) error
	closed chan struct{}
	opens  int
	starts int
	stops  int
	data   []string
	ctrl   []byte
	modem  [][2]byte
}

func (l *fakeLink) Name() string    { return "fake" }
func (l *fakeLink) Handshake() bool { return l.handshake }
func (l *fakeLink) MaxPayload() int { return proto.MaxMsgLen }

func (l *fakeLink) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	return nil
}

func (l *fakeLink) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *fakeLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return l.openErr
	}
	l.opens++
	l.events = make(chan func(link.Sink) error, 16)
	l.closed = make(chan struct{})
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed != nil {
		select {
		case <-l.closed:
		default:
			close(l.closed)
		}
	}
	return nil
}

func (l *fakeLink) Serve(sink link.Sink) error {
	l.mu.Lock()
	events, closed := l.events, l.closed
	l.mu.Unlock()
	if closed == nil {
		return link.ErrClosed
	}
	defer l.log.add("downlink-exit")
	for {
		select {
		case <-closed:
			return nil
		case fn := <-events:
			if err := fn(sink); err != nil {
				return err
			}
		}
	}
}

func (l *fakeLink) push(fn func(link.Sink) error) {
	l.mu.Lock()
	events := l.events
	l.mu.Unlock()
	events <- fn
}

func (l *fakeLink) SendData(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = append(l.data, string(data))
	return nil
}

func (l *fakeLink) SendControl(msg byte) error {
	l.mu.Lock()
	l.ctrl = append(l.ctrl, msg)
	l.mu.Unlock()
	if msg == proto.CtrlConnectReq {
		switch l.reply.Load() {
		case replyOK:
			l.push(func(s link.Sink) error { return s.ControlResponse(proto.CtrlConnectedResp, true) })
		case replyRefuse:
			l.push(func(s link.Sink) error { return s.ControlResponse(proto.CtrlConnectedResp, false) })
		}
	}
	return nil
}

func (l *fakeLink) SendModemStatus(op, bits byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modem = append(l.modem, [2]byte{op, bits})
	return nil
}

func (l *fakeLink) sent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.data...)
}

func (l *fakeLink) controls() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.ctrl...)
}

func (l *fakeLink) modemUpdates() [][2]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]byte(nil), l.modem...)
}

func (l *fakeLink) counts() (opens, starts, stops int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens, l.starts, l.stops
}

type fakeAdapter struct {
	state atomic.Int32
}

func (a *fakeAdapter) State() AdapterState {
	return AdapterState(a.state.Load())
}

type fakeStore struct {
	mu    sync.Mutex
	prefs map[string]access.Decision
	sets  map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{prefs: make(map[string]access.Decision), sets: make(map[string]int)}
}

func (s *fakeStore) Get(addr string) access.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs[strings.ToUpper(addr)]
}

func (s *fakeStore) Set(addr string, d access.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr = strings.ToUpper(addr)
	s.sets[addr]++
	if d == access.Unknown {
		delete(s.prefs, addr)
		return nil
	}
	s.prefs[addr] = d
	return nil
}

func (s *fakeStore) setCount(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[strings.ToUpper(addr)]
}

type fakeNotifier struct {
	mu      sync.Mutex
	shows   []string
	cleared []string
}

func (n *fakeNotifier) Show(device string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shows = append(n.shows, device)
	return nil
}

func (n *fakeNotifier) Clear(device string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, device)
}

func (n *fakeNotifier) shown() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.shows...)
}

func (n *fakeNotifier) clears() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.cleared...)
}

type fakeData struct {
	mu          sync.Mutex
	enabled     bool
	failDisable int
	calls       []bool
}

func (d *fakeData) DataEnabled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled, nil
}

func (d *fakeData) SetDataEnabled(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, enabled)
	if !enabled && d.failDisable > 0 {
		d.failDisable--
		return io.ErrUnexpectedEOF
	}
	d.enabled = enabled
	return nil
}

func (d *fakeData) history() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.calls...)
}

// recorder is both the registry and the broadcaster.
type recorder struct {
	eventLog
}

func (r *recorder) ProfileStateChanged(device string, state, prev State) {
	r.add("registry " + device + " " + state.String() + " " + prev.String())
}

func (r *recorder) ConnectionStateChanged(device string, prev, state State) {
	r.add("broadcast " + device + " " + prev.String() + " " + state.String())
}

func (r *recorder) UserConfirmTimeout(device string) {
	r.add("timeout " + device)
}

func (r *recorder) AccessCancel(device string) {
	r.add("cancel " + device)
}

// queryingRecorder reads the service back from inside the callbacks.
type queryingRecorder struct {
	recorder
	svc *Service
}

func (r *queryingRecorder) ProfileStateChanged(device string, state, prev State) {
	r.add("registry sees " + r.svc.ConnectionState(device).String())
}

func (r *queryingRecorder) ConnectionStateChanged(device string, prev, state State) {
	r.add("broadcast sees " + strings.Join(r.svc.ConnectedDevices(), ","))
}

type harness struct {
	t        *testing.T
	svc      *Service
	bus      *fakeBus
	link     *fakeLink
	adapter  *fakeAdapter
	store    *fakeStore
	notifier *fakeNotifier
	data     *fakeData
	events   *recorder
	log      *eventLog

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newHarness(t *testing.T, handshake bool, tune ...func(o *Options)) *harness {
	log := &eventLog{}
	h := &harness{
		t:        t,
		bus:      &fakeBus{incoming: make(chan rfcomm.Socket), log: log},
		link:     &fakeLink{handshake: handshake, log: log},
		adapter:  &fakeAdapter{},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		data:     &fakeData{enabled: true},
		events:   &recorder{},
		log:      log,
		done:     make(chan struct{}),
	}
	h.adapter.state.Store(int32(AdapterOn))
	opts := Options{
		Link:               h.link,
		Listen:             h.bus.listen,
		Adapter:            h.adapter,
		Store:              h.store,
		Notifier:           h.notifier,
		Data:               h.data,
		Registry:           h.events,
		Broadcaster:        h.events,
		ListenRetries:      10,
		ListenBackoff:      time.Millisecond,
		UserConfirmTimeout: 10 * time.Second,
		MonitorInterval:    tick,
		ConnectTimeout:     time.Second,
		DataRetries:        3,
	}
	for _, fn := range tune {
		fn(&opts)
	}
	h.svc = New(opts)
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.svc.Run(ctx)
		close(h.done)
	}()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
	})
}

// flush returns once the dispatcher has handled everything posted before.
func (h *harness) flush() {
	n := h.store.setCount("FLUSH")
	h.svc.BondStateChanged("FLUSH", false)
	require.Eventually(h.t, func() bool { return h.store.setCount("FLUSH") > n }, wait, tick)
}

func (h *harness) waitAccepts(n int) {
	require.Eventually(h.t, func() bool { return h.log.count("accept") >= n }, wait, tick)
}

func (h *harness) connect(addr string) (*fakeSocket, net.Conn) {
	sock, peer := newPeer(addr)
	return sock, h.dial(sock, peer)
}

func (h *harness) dial(sock *fakeSocket, peer net.Conn) net.Conn {
	h.t.Cleanup(func() { peer.Close() })
	require.True(h.t, h.bus.dial(sock, wait), "no one accepting")
	return peer
}

func (h *harness) write(peer net.Conn, s string) {
	require.NoError(h.t, peer.SetWriteDeadline(time.Now().Add(wait)))
	_, err := peer.Write([]byte(s))
	require.NoError(h.t, err)
}

func (h *harness) read(peer net.Conn, n int) string {
	require.NoError(h.t, peer.SetReadDeadline(time.Now().Add(wait)))
	buf := make([]byte, n)
	_, err := io.ReadFull(peer, buf)
	require.NoError(h.t, err)
	return string(buf)
}

// waitHangup returns once the service has closed its end. A pipe refuses
// deadlines after the other end is gone, Read then reports EOF right away.
func (h *harness) waitHangup(peer net.Conn) {
	if err := peer.SetReadDeadline(time.Now().Add(wait)); err != nil {
		require.ErrorIs(h.t, err, io.ErrClosedPipe)
	}
	_, err := peer.Read(make([]byte, 16))
	assert.ErrorIs(h.t, err, io.EOF)
}

func (h *harness) waitSent(s string) {
	require.Eventually(h.t, func() bool {
		for _, v := range h.link.sent() {
			if v == s {
				return true
			}
		}
		return false
	}, wait, tick)
}
