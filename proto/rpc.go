package proto

// json-rpc methods served by the rpc flavour of dund
const (
	MethodInitialize      = "initialize"
	MethodSendCtrlMsg     = "sendCtrlMsg"
	MethodSendUplinkData  = "sendUplinkData"
	MethodSendModemStatus = "sendModemStatus"
	MethodCloseServer     = "closeServer"
)

// notifications pushed by dund
const (
	EventCtrlMsg      = "ctrlMsgEvent"
	EventDownlinkData = "downlinkDataEvent"
	EventModemStatus  = "modemStatusChangeEvent"
)

const StatusSuccess byte = 0

type InitializeParams struct {
	Client string `json:"client"`
}

type CtrlMsgParams struct {
	Msg byte `json:"msg"`
}

// UplinkDataParams Data 按 base64 编码
type UplinkDataParams struct {
	Data []byte `json:"data"`
}

type ModemStatusParams struct {
	Status byte `json:"status"`
}

type ModemDeltaParams struct {
	Op   byte `json:"op"`
	Bits byte `json:"bits"`
}

type CtrlMsgEvent struct {
	MsgType byte `json:"msg_type"`
	Status  byte `json:"status"`
}

type DownlinkDataEvent struct {
	Data []byte `json:"data"`
}

type ModemStatusEvent struct {
	Status byte `json:"status"`
}
