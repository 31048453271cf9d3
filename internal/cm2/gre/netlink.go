package gre

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// ErrNoDevice mirrors the sentinel the rest of this codebase's netlink
// wrappers use for "the device isn't there to remove".
var ErrNoDevice = errors.New("gre: no such device")

// netlinkApplier is the production TunnelApplier: it drives the kernel's
// GRE tunnel device the same way this codebase's other netlink wrapper
// does (LinkByName/LinkAdd/LinkDel, wrapped errors naming the op and the
// device).
type netlinkApplier struct{}

// NewNetlinkApplier returns a TunnelApplier backed by vishvananda/netlink.
func NewNetlinkApplier() TunnelApplier { return netlinkApplier{} }

func (netlinkApplier) Apply(ifName string, local, remote net.IP, mtu int) error {
	existing, err := netlink.LinkByName(ifName)
	if err == nil {
		if err := netlink.LinkDel(existing); err != nil {
			return fmt.Errorf("gre: LinkDel(%s) before re-apply: %w", ifName, err)
		}
	}

	link := &netlink.Gretun{
		LinkAttrs: netlink.LinkAttrs{Name: ifName, MTU: mtu},
		Local:     local,
		Remote:    remote,
		Ttl:       64,
		PMtuDisc:  1,
	}
	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("gre: LinkAdd(%s): %w", ifName, err)
	}

	added, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("gre: LinkByName(%s) after add: %w", ifName, err)
	}
	if err := netlink.LinkSetUp(added); err != nil {
		return fmt.Errorf("gre: LinkSetUp(%s): %w", ifName, err)
	}
	return nil
}

func (netlinkApplier) Remove(ifName string) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("gre: LinkByName(%s): %w", ifName, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("gre: LinkDel(%s): %w", ifName, err)
	}
	return nil
}
