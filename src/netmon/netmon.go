// Package netmon is the netlink-backed link directory, used when the dbus
// describe path is unavailable or disabled. Listing and index resolution come
// straight from rtnetlink; per-link description is delegated to networkctl.
package netmon

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/OpenTollGate/networkd-broker-go/src/extcommand"
	"github.com/OpenTollGate/networkd-broker-go/src/link"
)

var logger = logrus.WithField("module", "netmon")

// Directory resolves links through rtnetlink. It implements link.Directory.
type Directory struct{}

// NewDirectory returns a netlink-backed link directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// ListLinks enumerates all links known to the kernel. Object paths are
// synthesized with the same escaping networkd uses, so paths taken from bus
// notifications resolve against this listing too.
func (d *Directory) ListLinks(ctx context.Context) ([]link.Link, error) {
	handles, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}

	links := make([]link.Link, 0, len(handles))
	for _, h := range handles {
		attrs := h.Attrs()
		if attrs == nil {
			continue
		}
		links = append(links, link.Link{
			Index: int32(attrs.Index),
			Name:  attrs.Name,
			Path:  ObjectPath(int32(attrs.Index)),
		})
	}

	logger.WithField("count", len(links)).Debug("Listed links via netlink")
	return links, nil
}

// DescribeLink resolves the index to a name through netlink and scrapes the
// link description from networkctl.
func (d *Directory) DescribeLink(ctx context.Context, index int32) (string, error) {
	h, err := netlink.LinkByIndex(int(index))
	if err != nil {
		return "", fmt.Errorf("netlink link by index %d: %w", index, err)
	}
	return extcommand.DescribeLink(ctx, h.Attrs().Name)
}

// ObjectPath builds the networkd bus object path for a link index. networkd
// escapes the leading digit of the index as _XX hex, remaining digits are
// kept literal.
func ObjectPath(index int32) string {
	digits := fmt.Sprintf("%d", index)
	return fmt.Sprintf("/org/freedesktop/network1/link/_%x%s", digits[0], digits[1:])
}
