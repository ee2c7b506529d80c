package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"

	"dunrelay/access"
	"dunrelay/base"
	"dunrelay/dun"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	ws "github.com/sourcegraph/jsonrpc2/websocket"
)

// 请求 ID 即方法，PROFILE 之后的 ID 只用于服务端推送
const (
	STATUS = iota
	CONFIG
	DISCONNECT
	ALLOW
	REJECT
	DEVICES
	ACCESS
	STATE
	PROFILE
	TIMEOUT
	CANCEL
)

// Controller is the part of the relay service exposed to control clients.
type Controller interface {
	Status() dun.Status
	ConnectionState(device string) dun.State
	ConnectedDevices() []string
	DevicesMatchingConnectionStates(states ...dun.State) []string
	Disconnect(device string) error
	AccessAllowed(device string, always bool)
	AccessDisallowed(device string)
	AccessPermission(device string) access.Decision
	SetAccessPermission(device string, d access.Decision) error
}

type DeviceParams struct {
	Device string `json:"device"`
	Always bool   `json:"always,omitempty"`
}

// AccessParams reads the stored decision when Decision is empty.
type AccessParams struct {
	Device   string `json:"device"`
	Decision string `json:"decision,omitempty"`
}

type StatesParams struct {
	States []string `json:"states"`
}

type StateEvent struct {
	Device string `json:"device"`
	Prev   string `json:"prev"`
	State  string `json:"state"`
}

type DeviceEvent struct {
	Device string `json:"device"`
}

// Hub serves control clients and pushes profile events to all of them.
type Hub struct {
	ctl Controller

	mu       sync.Mutex
	clients  []*jsonrpc2.Conn
	profiles map[string]dun.State

	ln  net.Listener
	srv *http.Server
}

func NewHub() *Hub {
	return &Hub{profiles: make(map[string]dun.State)}
}

// Start listens on addr and serves /rpc until Stop.
func (h *Hub) Start(addr string, ctl Controller) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	h.ctl = ctl
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", h.rpc)
	h.ln = ln
	h.srv = &http.Server{Handler: mux}
	go func() {
		err := h.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			base.Error("rpc server:", err)
		}
	}()
	base.Info("control rpc listening on", ln.Addr())
	return nil
}

func (h *Hub) Addr() string {
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}

func (h *Hub) Stop() {
	if h.srv == nil {
		return
	}
	_ = h.srv.Close()
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
}

func (h *Hub) rpc(resp http.ResponseWriter, req *http.Request) {
	up := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := up.Upgrade(resp, req, nil)
	if err != nil {
		base.Error(err)
		return
	}
	defer conn.Close()

	jsonStream := ws.NewObjectStream(conn)
	rpcConn := jsonrpc2.NewConn(req.Context(), jsonStream, h, jsonrpc2.SetLogger(base.GetBaseLogger()))
	h.mu.Lock()
	h.clients = append(h.clients, rpcConn)
	snapshot := h.snapshotLocked()
	h.mu.Unlock()
	// 新客户端先收到已连接设备
	for _, ev := range snapshot {
		_ = rpcConn.Reply(req.Context(), jsonrpc2.ID{Num: PROFILE}, ev)
	}

	<-rpcConn.DisconnectNotify()
	h.mu.Lock()
	for i, c := range h.clients {
		if c == rpcConn {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			base.Debug(fmt.Sprintf("client %d disconnected", i))
			break
		}
	}
	h.mu.Unlock()
}

func replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, msg string) {
	jError := jsonrpc2.Error{Code: 1, Message: msg}
	_ = conn.ReplyWithError(ctx, id, &jError)
}

func decode(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return errors.New("missing params")
	}
	return json.Unmarshal(*req.Params, v)
}

// Handle ID 即方法
func (h *Hub) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if h.ctl == nil {
		replyError(ctx, conn, req.ID, "service not ready")
		return
	}
	switch req.ID.Num {
	case STATUS:
		_ = conn.Reply(ctx, req.ID, h.ctl.Status())
	case CONFIG:
		if req.Params == nil {
			_ = conn.Reply(ctx, req.ID, base.Cfg)
			return
		}
		logLevel := base.Cfg.LogLevel
		logPath := base.Cfg.LogPath
		err := json.Unmarshal(*req.Params, base.Cfg)
		if err != nil {
			replyError(ctx, conn, req.ID, err.Error())
			return
		}
		_ = conn.Reply(ctx, req.ID, base.Cfg)
		// 只有日志配置立即生效，其它配置在下次启动时生效
		if logLevel != base.Cfg.LogLevel || logPath != base.Cfg.LogPath {
			base.InitLog()
		}
	case DISCONNECT:
		var p DeviceParams
		if err := decode(req, &p); err != nil {
			replyError(ctx, conn, req.ID, err.Error())
			return
		}
		if err := h.ctl.Disconnect(p.Device); err != nil {
			replyError(ctx, conn, req.ID, err.Error())
			return
		}
		_ = conn.Reply(ctx, req.ID, "disconnecting "+p.Device)
	case ALLOW:
		var p DeviceParams
		if err := decode(req, &p); err != nil {
			replyError(ctx, conn, req.ID, err.Error())
			return
		}
		h.ctl.AccessAllowed(p.Device, p.Always)
		_ = conn.Reply(ctx, req.ID, "allowed "+p.Device)
	case REJECT:
		var p DeviceParams
		if err := decode(req, &p); err != nil {
			replyError(ctx, conn, req.ID, err.Error())
			return
		}
		h.ctl.AccessDisallowed(p.Device)
		_ = conn.Reply(ctx, req.ID, "rejected "+p.Device)
	case DEVICES:
		var p StatesParams
		if req.Params != nil {
			if err := decode(req, &p); err != nil {
				replyError(ctx, conn, req.ID, err.Error())
				return
			}
		}
		if len(p.States) == 0 {
			_ = conn.Reply(ctx, req.ID, nonNil(h.ctl.ConnectedDevices()))
			return
		}
		states := make([]dun.State, 0, len(p.States))
		for _, s := range p.States {
			st, err := parseState(s)
			if err != nil {
				replyError(ctx, conn, req.ID, err.Error())
				return
			}
			states = append(states, st)
		}
		_ = conn.Reply(ctx, req.ID, nonNil(h.ctl.DevicesMatchingConnectionStates(states...)))
	case ACCESS:
		var p AccessParams
		if err := decode(req, &p); err != nil {
			replyError(ctx, conn, req.ID, err.Error())
			return
		}
		if p.Decision != "" {
			d, err := access.ParseDecision(p.Decision)
			if err == nil {
				err = h.ctl.SetAccessPermission(p.Device, d)
			}
			if err != nil {
				replyError(ctx, conn, req.ID, err.Error())
				return
			}
		}
		_ = conn.Reply(ctx, req.ID, AccessParams{Device: p.Device, Decision: h.ctl.AccessPermission(p.Device).String()})
	case STATE:
		var p DeviceParams
		if err := decode(req, &p); err != nil {
			replyError(ctx, conn, req.ID, err.Error())
			return
		}
		_ = conn.Reply(ctx, req.ID, h.ctl.ConnectionState(p.Device).String())
	default:
		base.Debug("receive rpc call:", req)
		replyError(ctx, conn, req.ID, "unknown method: "+req.Method)
	}
}

func parseState(s string) (dun.State, error) {
	switch strings.ToLower(s) {
	case "connected":
		return dun.StateConnected, nil
	case "disconnected":
		return dun.StateDisconnected, nil
	}
	return dun.StateDisconnected, fmt.Errorf("unknown state %q", s)
}

func nonNil(devices []string) []string {
	if devices == nil {
		return []string{}
	}
	return devices
}

func (h *Hub) push(id uint64, v interface{}) {
	h.mu.Lock()
	clients := make([]*jsonrpc2.Conn, len(h.clients))
	copy(clients, h.clients)
	h.mu.Unlock()

	ctx := context.Background()
	for _, conn := range clients {
		_ = conn.Reply(ctx, jsonrpc2.ID{Num: id}, v)
	}
}

func (h *Hub) snapshotLocked() []StateEvent {
	var out []StateEvent
	for dev, st := range h.profiles {
		if st == dun.StateConnected {
			out = append(out, StateEvent{Device: dev, Prev: dun.StateDisconnected.String(), State: st.String()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// ProfileStateChanged 更新注册表，先于广播
func (h *Hub) ProfileStateChanged(device string, state, prev dun.State) {
	h.mu.Lock()
	if state == dun.StateDisconnected {
		delete(h.profiles, device)
	} else {
		h.profiles[device] = state
	}
	h.mu.Unlock()
	base.Debug("profile state", device, prev, "->", state)
}

func (h *Hub) ConnectionStateChanged(device string, prev, state dun.State) {
	h.push(PROFILE, StateEvent{Device: device, Prev: prev.String(), State: state.String()})
}

func (h *Hub) UserConfirmTimeout(device string) {
	h.push(TIMEOUT, DeviceEvent{Device: device})
}

func (h *Hub) AccessCancel(device string) {
	h.push(CANCEL, DeviceEvent{Device: device})
}
