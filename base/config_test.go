package base

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	require.NoError(t, LoadConfig(""))

	assert.Equal(t, "auto", Cfg.DaemonTransport)
	assert.Equal(t, "@qcom.dun.server", Cfg.DundAddress)
	assert.Equal(t, 30*time.Second, Cfg.UserConfirmTimeoutDuration())
	assert.Equal(t, 200*time.Millisecond, Cfg.MonitorIntervalDuration())
	assert.Equal(t, 300*time.Millisecond, Cfg.ListenBackoffDuration())
	assert.Equal(t, 2*time.Second, Cfg.ConnectTimeoutDuration())
	assert.Equal(t, 10, Cfg.ListenRetries)
	assert.Equal(t, 3, Cfg.DataRetries)
	assert.Equal(t, "status", Cfg.ModemWire)
	assert.Equal(t, 0, Cfg.ModemOptLevel)
	assert.Equal(t, []int{1, 2, 3}, []int{Cfg.ModemOptGet, Cfg.ModemOptSet, Cfg.ModemOptClr})
}

func TestLoadConfigModemOptions(t *testing.T) {
	t.Setenv("DUN_MODEM_OPT_LEVEL", "18")
	t.Setenv("DUN_MODEM_WIRE", "delta")
	require.NoError(t, LoadConfig(""))
	assert.Equal(t, 18, Cfg.ModemOptLevel)
	assert.Equal(t, "delta", Cfg.ModemWire)
}

func TestLoadConfigEnvThenFile(t *testing.T) {
	t.Setenv("DUN_TRANSPORT", "rpc")
	t.Setenv("DUN_RFCOMM_CHANNEL", "5")
	t.Setenv("DUN_USER_CONFIRM_TIMEOUT", "12")

	file := filepath.Join(t.TempDir(), "dun.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"log_level":"debug","data_controller":"netlink"}`), 0644))

	require.NoError(t, LoadConfig(file))
	assert.Equal(t, "rpc", Cfg.DaemonTransport)
	assert.Equal(t, uint16(5), Cfg.RFCOMMChannel)
	assert.Equal(t, 12*time.Second, Cfg.UserConfirmTimeoutDuration())
	assert.Equal(t, "debug", Cfg.LogLevel)
	assert.Equal(t, "netlink", Cfg.DataController)
}

func TestLoadConfigMissingFile(t *testing.T) {
	err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	// defaults survive
	assert.Equal(t, "Info", Cfg.LogLevel)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, _Debug, logLevel2Int("DEBUG"))
	assert.Equal(t, _Warn, logLevel2Int("warn"))
	assert.Equal(t, _Info, logLevel2Int("verbose"))
}

func TestInitLogFile(t *testing.T) {
	initCfg()
	Cfg.LogPath = t.TempDir()
	Cfg.LogLevel = "debug"
	InitLog()
	defer func() {
		Cfg.LogPath = ""
		InitLog()
	}()

	Info("hello", 42)
	b, err := os.ReadFile(filepath.Join(Cfg.LogPath, logName))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello 42")
	assert.Contains(t, string(b), "config_test.go")
}
