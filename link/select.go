package link

import (
	"strings"

	"dunrelay/base"
	"dunrelay/utils"
	"github.com/elastic/go-sysinfo"
	"github.com/elastic/go-sysinfo/types"
)

// Select picks the daemon transport once for the process lifetime.
// "auto" uses the rpc daemon when the host matches one of the configured
// rpc platforms.
func Select(cfg *base.ServiceConfig) DaemonLink {
	wire := ParseModemWire(cfg.ModemWire)
	rpcLink := func() DaemonLink {
		l := NewRPCLink(cfg.RPCAddress)
		l.SetModemWire(wire)
		return l
	}
	socketLink := func() DaemonLink {
		l := NewSocketLink(cfg.DundAddress, cfg.DundCommand)
		l.SetModemWire(wire)
		return l
	}

	switch strings.ToLower(cfg.DaemonTransport) {
	case "rpc":
		return rpcLink()
	case "socket":
		return socketLink()
	}

	host, err := sysinfo.Host()
	if err != nil {
		base.Warn("host info:", err, "fall back to socket transport")
		return socketLink()
	}
	info := host.Info()
	if rpcCapable(info, cfg.RPCPlatforms) {
		base.Info("rpc transport selected for", platformOf(info))
		return rpcLink()
	}
	base.Info("socket transport selected for", platformOf(info))
	return socketLink()
}

func platformOf(info types.HostInfo) string {
	if info.OS == nil {
		return "unknown/" + info.Architecture
	}
	return info.OS.Platform + "/" + info.Architecture
}

func rpcCapable(info types.HostInfo, platforms []string) bool {
	if info.OS != nil {
		if utils.InArrayFold(platforms, info.OS.Platform) || utils.InArrayFold(platforms, info.OS.Family) {
			return true
		}
	}
	return utils.InArrayFold(platforms, info.Architecture)
}
