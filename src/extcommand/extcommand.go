// Package extcommand scrapes the auxiliary OS tools (networkctl, iw) that back
// the netlink resolver variant. Output parsing is kept separate from command
// invocation so the parsers stay testable with canned fixtures.
package extcommand

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/OpenTollGate/networkd-broker-go/src/link"
)

var logger = logrus.WithField("module", "extcommand")

var (
	networkctlListPattern = regexp.MustCompile(
		`^\s*(?P<idx>\d+)\s+(?P<iface>\S+)\s+(?P<type>\S+)\s+(?P<operational>\S+)\s+(?P<setup>\S+)`)

	iwLinkPattern = regexp.MustCompile(
		`Connected to (?P<station>[0-9a-fA-F:]{17}).*\n(?:\s+SSID:\s+(?P<ssid>.+))?`)
)

// WirelessInfo carries the fields scraped from `iw dev <iface> link` for a
// connected wireless link.
type WirelessInfo struct {
	SSID    string
	Station string
}

// LinkList lists links by calling `networkctl list --no-pager --no-legend`.
func LinkList(ctx context.Context) ([]link.Link, error) {
	output, err := exec.CommandContext(ctx, "networkctl", "list", "--no-pager", "--no-legend").Output()
	if err != nil {
		return nil, fmt.Errorf("invoke `networkctl list`: %w", err)
	}
	return ParseLinkList(string(output))
}

// ParseLinkList extracts (index, name) pairs from networkctl list output.
func ParseLinkList(output string) ([]link.Link, error) {
	var links []link.Link
	for _, line := range strings.Split(output, "\n") {
		m := networkctlListPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		idx, err := strconv.ParseInt(m[networkctlListPattern.SubexpIndex("idx")], 10, 32)
		if err != nil {
			continue
		}

		links = append(links, link.Link{
			Index: int32(idx),
			Name:  m[networkctlListPattern.SubexpIndex("iface")],
		})
	}
	return links, nil
}

// DescribeLink fetches the JSON description of one link through
// `networkctl status --json=short`.
func DescribeLink(ctx context.Context, iface string) (string, error) {
	output, err := exec.CommandContext(ctx, "networkctl", "status", "--no-pager", "--json=short", iface).Output()
	if err != nil {
		return "", fmt.Errorf("invoke `networkctl status %s`: %w", iface, err)
	}
	if len(output) == 0 {
		return "", fmt.Errorf("`networkctl status %s` returned no output", iface)
	}
	return string(output), nil
}

// IsWireless reports whether the interface has an 802.11 stack attached.
func IsWireless(iface string) bool {
	_, err := os.Stat("/sys/class/net/" + iface + "/wireless")
	return err == nil
}

// IwLink scrapes SSID and station MAC from `iw dev <iface> link`. Returns an
// error for non-wireless or unassociated links.
func IwLink(ctx context.Context, iface string) (*WirelessInfo, error) {
	output, err := exec.CommandContext(ctx, "iw", "dev", iface, "link").Output()
	if err != nil {
		return nil, fmt.Errorf("invoke `iw dev %s link`: %w", iface, err)
	}

	if strings.TrimSpace(string(output)) == "Not connected." {
		return nil, fmt.Errorf("link %s is not connected", iface)
	}

	return ParseIwLink(string(output))
}

// ParseIwLink extracts the station MAC and SSID from iw link output.
func ParseIwLink(output string) (*WirelessInfo, error) {
	m := iwLinkPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("parse `iw link` output failed: %q", output)
	}

	return &WirelessInfo{
		Station: m[iwLinkPattern.SubexpIndex("station")],
		SSID:    strings.TrimSpace(m[iwLinkPattern.SubexpIndex("ssid")]),
	}, nil
}

// Enrich fills SSID and station fields of a wireless link's details in place.
// Failures only produce a debug log; wired links are left untouched.
func Enrich(ctx context.Context, iface string, details *link.Details) {
	if !IsWireless(iface) {
		return
	}

	info, err := IwLink(ctx, iface)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"iface": iface,
			"error": err,
		}).Debug("Wireless enrichment skipped")
		return
	}

	details.SSID = info.SSID
	details.Station = info.Station
}
