package link

import "context"

// NotificationKind is the bus message kind a notification was derived from.
type NotificationKind int

const (
	KindSignal NotificationKind = iota
	KindMethodCall
	KindMethodReturn
	KindError
)

func (k NotificationKind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindMethodCall:
		return "method-call"
	case KindMethodReturn:
		return "method-return"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is the neutral form of one raw property-change message as it
// arrives from the bus, before any validation.
type Notification struct {
	Kind      NotificationKind
	Interface string
	Member    string
	Path      string
}

// Directory resolves the current set of links and their state attributes.
// Implemented by the dbus proxy and by the netlink/networkctl variant.
type Directory interface {
	// ListLinks returns the current set of links known to the service.
	ListLinks(ctx context.Context) ([]Link, error)

	// DescribeLink returns the raw serialized attribute set of one link.
	DescribeLink(ctx context.Context, index int32) (string, error)
}

// Subscription yields property-change notifications scoped to link objects.
// The channel closes when the underlying connection is lost.
type Subscription interface {
	Notifications() <-chan Notification
	Close() error
}
