//go:build !linux

package platform

import "errors"

type LinkController struct {
	name string
}

func NewLinkController(name string) *LinkController {
	return &LinkController{name: name}
}

func (c *LinkController) DataEnabled() (bool, error) {
	return false, errors.New("netlink: unsupported platform")
}

func (c *LinkController) SetDataEnabled(bool) error {
	return errors.New("netlink: unsupported platform")
}
