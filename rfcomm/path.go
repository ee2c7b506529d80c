package rfcomm

import (
	"strings"

	dbus "github.com/godbus/dbus/v5"
)

// AddrFromPath turns /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF into AA:BB:CC:DD:EE:FF.
func AddrFromPath(p dbus.ObjectPath) string {
	s := string(p)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	s = s[i+len("/dev_"):]
	if j := strings.IndexByte(s, '/'); j >= 0 {
		s = s[:j]
	}
	return strings.ReplaceAll(s, "_", ":")
}

// PathFromAddr is the inverse of AddrFromPath for the given adapter path.
func PathFromAddr(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}
