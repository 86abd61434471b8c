// Package networkd talks to systemd-networkd over the system bus. It is the
// default Directory implementation and the only source of link property-change
// notifications.
package networkd

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/OpenTollGate/networkd-broker-go/src/link"
)

var logger = logrus.WithField("module", "networkd")

const (
	busName     = "org.freedesktop.network1"
	managerPath = "/org/freedesktop/network1"
	managerIfc  = "org.freedesktop.network1.Manager"

	// linkPathNamespace scopes the signal match rule so the subscription
	// only ever carries link property changes.
	linkPathNamespace = "/org/freedesktop/network1/link"

	propertiesMember = "PropertiesChanged"
)

// Conn wraps a system bus connection to networkd's manager object.
type Conn struct {
	bus     *dbus.Conn
	manager dbus.BusObject
}

// Connect opens the system bus and binds the networkd manager object.
func Connect() (*Conn, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	logger.Debug("Connected to system bus")

	return &Conn{
		bus:     bus,
		manager: bus.Object(busName, dbus.ObjectPath(managerPath)),
	}, nil
}

// Close releases the bus connection.
func (c *Conn) Close() error {
	return c.bus.Close()
}

type linkEntry struct {
	Index int32
	Name  string
	Path  dbus.ObjectPath
}

// ListLinks returns the links currently tracked by networkd.
func (c *Conn) ListLinks(ctx context.Context) ([]link.Link, error) {
	var entries []linkEntry
	call := c.manager.CallWithContext(ctx, managerIfc+".ListLinks", 0)
	if err := call.Store(&entries); err != nil {
		return nil, fmt.Errorf("ListLinks: %w", err)
	}

	links := make([]link.Link, 0, len(entries))
	for _, e := range entries {
		links = append(links, link.Link{
			Index: e.Index,
			Name:  e.Name,
			Path:  string(e.Path),
		})
	}
	return links, nil
}

// DescribeLink returns the raw JSON attribute set of the link with the given
// index, verbatim as networkd serialized it.
func (c *Conn) DescribeLink(ctx context.Context, index int32) (string, error) {
	var raw string
	call := c.manager.CallWithContext(ctx, managerIfc+".DescribeLink", 0, index)
	if err := call.Store(&raw); err != nil {
		return "", fmt.Errorf("DescribeLink %d: %w", index, err)
	}
	return raw, nil
}

// Subscribe installs a match rule for link property changes and returns the
// notification stream. The stream closes when the bus connection is lost.
func (c *Conn) Subscribe() (link.Subscription, error) {
	err := c.bus.AddMatchSignal(
		dbus.WithMatchInterface(link.PropertiesInterface),
		dbus.WithMatchMember(propertiesMember),
		dbus.WithMatchPathNamespace(dbus.ObjectPath(linkPathNamespace)),
	)
	if err != nil {
		return nil, fmt.Errorf("add signal match: %w", err)
	}

	signals := make(chan *dbus.Signal, 64)
	c.bus.Signal(signals)

	sub := &subscription{
		conn:          c,
		signals:       signals,
		notifications: make(chan link.Notification, 64),
		done:          make(chan struct{}),
	}
	go sub.pump()

	logger.WithField("path_namespace", linkPathNamespace).Debug("Subscribed to link property changes")
	return sub, nil
}

type subscription struct {
	conn          *Conn
	signals       chan *dbus.Signal
	notifications chan link.Notification
	done          chan struct{}
	closeOnce     sync.Once
}

func (s *subscription) Notifications() <-chan link.Notification {
	return s.notifications
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		// done first, so a pump blocked on a consumer that already left
		// unblocks before the signal channel drains.
		close(s.done)
		s.conn.bus.RemoveSignal(s.signals)
		close(s.signals)
	})
	return nil
}

// pump converts bus signals into neutral notifications until the signal
// channel closes. Once Close fires, pending signals are dropped instead of
// waiting on a consumer that is no longer receiving.
func (s *subscription) pump() {
	for sig := range s.signals {
		ifc, member := splitMember(sig.Name)
		select {
		case s.notifications <- link.Notification{
			Kind:      link.KindSignal,
			Interface: ifc,
			Member:    member,
			Path:      string(sig.Path),
		}:
		case <-s.done:
		}
	}
	close(s.notifications)
}

func splitMember(name string) (string, string) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return name, ""
	}
	return name[:dot], name[dot+1:]
}
