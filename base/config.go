package base

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var Cfg = &ServiceConfig{}

type ServiceConfig struct {
	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`

	// auto, socket or rpc
	DaemonTransport string   `json:"daemon_transport"`
	RPCPlatforms    []string `json:"rpc_platforms"`
	DundAddress     string   `json:"dund_address"`
	DundCommand     string   `json:"dund_command"`
	RPCAddress      string   `json:"rpc_address"`

	// status sends the whole modem status byte to dund, delta sends [op,bits]
	ModemWire string `json:"modem_wire"`

	Adapter        string `json:"adapter"`
	RFCOMMChannel  uint16 `json:"rfcomm_channel"`
	AccessFile     string `json:"access_file"`
	ControlAddress string `json:"control_address"`

	// modem control line sockopts on the rfcomm socket, level 0 turns them
	// off. The vendor DUN kernel patch uses level 18 with 1, 2 and 3.
	ModemOptLevel int `json:"modem_opt_level"`
	ModemOptGet   int `json:"modem_opt_get"`
	ModemOptSet   int `json:"modem_opt_set"`
	ModemOptClr   int `json:"modem_opt_clr"`

	// none, modemmanager or netlink
	DataController string `json:"data_controller"`
	WWANInterface  string `json:"wwan_interface"`

	UserConfirmTimeout int `json:"user_confirm_timeout"` // seconds
	MonitorInterval    int `json:"monitor_interval"`     // milliseconds
	ListenRetries      int `json:"listen_retries"`
	ListenBackoff      int `json:"listen_backoff"`  // milliseconds
	ConnectTimeout     int `json:"connect_timeout"` // milliseconds
	DataRetries        int `json:"data_retries"`
}

func initCfg() {
	Cfg.LogLevel = "Info"
	Cfg.LogPath = ""
	Cfg.DaemonTransport = "auto"
	Cfg.RPCPlatforms = []string{"android"}
	Cfg.DundAddress = "@qcom.dun.server"
	Cfg.DundCommand = ""
	Cfg.RPCAddress = "/run/dund/rpc.sock"
	Cfg.ModemWire = "status"
	Cfg.Adapter = "hci0"
	Cfg.RFCOMMChannel = 0
	Cfg.AccessFile = "/var/lib/dunagent/access"
	Cfg.ControlAddress = "127.0.0.1:6211"
	Cfg.ModemOptLevel = 0
	Cfg.ModemOptGet = 1
	Cfg.ModemOptSet = 2
	Cfg.ModemOptClr = 3
	Cfg.DataController = "none"
	Cfg.WWANInterface = "wwan0"
	Cfg.UserConfirmTimeout = 30
	Cfg.MonitorInterval = 200
	Cfg.ListenRetries = 10
	Cfg.ListenBackoff = 300
	Cfg.ConnectTimeout = 2000
	Cfg.DataRetries = 3
}

// 环境变量覆盖配置文件之前的默认值
var envKeys = map[string]func(v string){
	"DUN_LOG_LEVEL":       func(v string) { Cfg.LogLevel = v },
	"DUN_LOG_PATH":        func(v string) { Cfg.LogPath = v },
	"DUN_TRANSPORT":       func(v string) { Cfg.DaemonTransport = v },
	"DUN_RPC_PLATFORMS":   func(v string) { Cfg.RPCPlatforms = strings.Split(v, ",") },
	"DUN_DUND_ADDRESS":    func(v string) { Cfg.DundAddress = v },
	"DUN_DUND_COMMAND":    func(v string) { Cfg.DundCommand = v },
	"DUN_RPC_ADDRESS":     func(v string) { Cfg.RPCAddress = v },
	"DUN_ADAPTER":         func(v string) { Cfg.Adapter = v },
	"DUN_MODEM_WIRE":      func(v string) { Cfg.ModemWire = v },
	"DUN_ACCESS_FILE":     func(v string) { Cfg.AccessFile = v },
	"DUN_CONTROL_ADDRESS": func(v string) { Cfg.ControlAddress = v },
	"DUN_DATA_CONTROLLER": func(v string) { Cfg.DataController = v },
	"DUN_WWAN_INTERFACE":  func(v string) { Cfg.WWANInterface = v },
	"DUN_RFCOMM_CHANNEL": func(v string) {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			Cfg.RFCOMMChannel = uint16(n)
		}
	},
	"DUN_MODEM_OPT_LEVEL": func(v string) {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			Cfg.ModemOptLevel = n
		}
	},
	"DUN_USER_CONFIRM_TIMEOUT": func(v string) {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			Cfg.UserConfirmTimeout = n
		}
	},
}

func applyEnv() {
	for k, set := range envKeys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			set(v)
		}
	}
}

// LoadConfig 默认值 -> .env/环境变量 -> JSON 配置文件
func LoadConfig(file string) error {
	initCfg()
	// .env 不存在时忽略
	_ = godotenv.Load()
	applyEnv()
	if file == "" {
		return nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, Cfg)
}

func (c *ServiceConfig) UserConfirmTimeoutDuration() time.Duration {
	return time.Duration(c.UserConfirmTimeout) * time.Second
}

func (c *ServiceConfig) MonitorIntervalDuration() time.Duration {
	return time.Duration(c.MonitorInterval) * time.Millisecond
}

func (c *ServiceConfig) ListenBackoffDuration() time.Duration {
	return time.Duration(c.ListenBackoff) * time.Millisecond
}

func (c *ServiceConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Millisecond
}
