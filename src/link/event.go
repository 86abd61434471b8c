package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("module", "link")

// PropertiesInterface is the only bus interface link events are accepted from.
const PropertiesInterface = "org.freedesktop.DBus.Properties"

// Conversion failures. All of them are recoverable; the broker logs and moves
// on to the next notification.
var (
	ErrNotSignal      = errors.New("notification is not a signal")
	ErrWrongInterface = errors.New("notification is not from " + PropertiesInterface)
	ErrMissingPath    = errors.New("notification has no object path")
	ErrUnknownLink    = errors.New("no link found for object path")
)

// EventFromNotification validates a raw notification and builds a full Event
// from it, resolving the affected link and fetching its current attribute set
// through the directory.
//
// Validation order: signal kind, properties interface, object path, known
// link. A describe or parse failure after that point is reported as a plain
// error and must not take the process down.
func EventFromNotification(ctx context.Context, notif Notification, directory Directory) (*Event, error) {
	if notif.Kind != KindSignal {
		return nil, fmt.Errorf("%w: got %s", ErrNotSignal, notif.Kind)
	}

	if notif.Interface != PropertiesInterface {
		return nil, fmt.Errorf("%w: got %q", ErrWrongInterface, notif.Interface)
	}

	if notif.Path == "" {
		return nil, ErrMissingPath
	}

	target, err := linkFromPath(ctx, notif.Path, directory)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"iface": target.Name,
		"index": target.Index,
	}).Debug("Fetching link details")

	raw, err := directory.DescribeLink(ctx, target.Index)
	if err != nil {
		return nil, fmt.Errorf("describe link %s: %w", target.Name, err)
	}

	details, err := ParseDetails(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot get link state of %s: %w", target.Name, err)
	}

	if !IsKnownOperationalState(details.OperationalState) {
		logger.WithFields(logrus.Fields{
			"iface": target.Name,
			"state": details.OperationalState,
		}).Debug("Unrecognized operational state, passing through")
	}

	return &Event{
		Iface:       target.Name,
		State:       details.OperationalState,
		Path:        notif.Path,
		Details:     details,
		DetailsJSON: raw,
	}, nil
}

func linkFromPath(ctx context.Context, path string, directory Directory) (*Link, error) {
	links, err := directory.ListLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	for i := range links {
		if links[i].Path == path {
			return &links[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownLink, path)
}
