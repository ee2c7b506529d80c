//go:build linux

package platform

import (
	"net"

	"github.com/vishvananda/netlink"
)

// LinkController switches cellular data by taking the wwan link down.
type LinkController struct {
	name string
}

func NewLinkController(name string) *LinkController {
	return &LinkController{name: name}
}

func (c *LinkController) DataEnabled() (bool, error) {
	l, err := netlink.LinkByName(c.name)
	if err != nil {
		return false, err
	}
	return l.Attrs().Flags&net.FlagUp != 0, nil
}

func (c *LinkController) SetDataEnabled(enabled bool) error {
	l, err := netlink.LinkByName(c.name)
	if err != nil {
		return err
	}
	if enabled {
		return netlink.LinkSetUp(l)
	}
	return netlink.LinkSetDown(l)
}
