package platform

import (
	"dunrelay/base"
	"dunrelay/dun"
)

// NewDataController picks the data arbitration backend named in cfg. A nil
// controller turns arbitration off.
func NewDataController(cfg *base.ServiceConfig) dun.DataController {
	switch cfg.DataController {
	case "modemmanager":
		mm, err := NewModemManager()
		if err != nil {
			base.Error("modemmanager:", err)
			return nil
		}
		return mm
	case "netlink":
		return NewLinkController(cfg.WWANInterface)
	}
	return nil
}
