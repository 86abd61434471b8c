// Package broker wires the event pipeline together: bus notification ->
// validated link event -> dedupe against the state cache -> hook discovery ->
// launcher queue.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"

	"github.com/OpenTollGate/networkd-broker-go/src/launcher"
	"github.com/OpenTollGate/networkd-broker-go/src/link"
	"github.com/OpenTollGate/networkd-broker-go/src/script"
)

var logger = logrus.WithField("module", "broker")

// ErrSubscriptionLost is the only per-run failure that takes the daemon down:
// the notification stream closed underneath us.
var ErrSubscriptionLost = errors.New("link event subscription lost")

// Submitter is the slice of the launcher the broker needs.
type Submitter interface {
	Submit(launcher.Job) error
}

// EnrichFunc optionally augments freshly fetched link details, e.g. wireless
// SSID/station scraping. Failures are the func's own business; it must not
// block longer than a describe call would.
type EnrichFunc func(ctx context.Context, iface string, details *link.Details)

// Options configure a Broker.
type Options struct {
	// ScriptDir is the hook root; state hooks live in <ScriptDir>/<state>.d.
	ScriptDir string

	// Timeout applies to every wait-policy script.
	Timeout time.Duration

	// DescribeTimeout bounds each describe call against the directory.
	DescribeTimeout time.Duration

	// IncludeJSON passes the raw describe payload to hooks via NWD_JSON.
	IncludeJSON bool

	// Policy is the script eligibility gate. Zero value means root-owned.
	Policy script.Policy

	// Enrich, when set, runs after each successful describe.
	Enrich EnrichFunc
}

// Broker consumes link events and dispatches hook scripts for them.
type Broker struct {
	directory link.Directory
	launcher  Submitter
	discovery *script.Discovery
	opts      Options

	// linkStateCache maps interface name to the last dispatched
	// operational state. Touched only by the event-processing path.
	linkStateCache map[string]string
}

// New builds a broker around a link directory and a launcher.
func New(directory link.Directory, launch Submitter, opts Options) *Broker {
	if opts.Timeout <= 0 {
		opts.Timeout = launcher.DefaultTimeout
	}
	if opts.DescribeTimeout <= 0 {
		opts.DescribeTimeout = 10 * time.Second
	}

	discovery := script.NewDiscovery(opts.ScriptDir)
	if opts.Policy != (script.Policy{}) {
		discovery.Policy = opts.Policy
	}

	return &Broker{
		directory:      directory,
		launcher:       launch,
		discovery:      discovery,
		opts:           opts,
		linkStateCache: make(map[string]string),
	}
}

// InitCache seeds the state cache with the current operational state of every
// link. A failure here is fatal to startup: without a seeded cache the dedupe
// invariant cannot hold.
func (b *Broker) InitCache(ctx context.Context) error {
	links, err := b.directory.ListLinks(ctx)
	if err != nil {
		return err
	}

	for _, l := range links {
		details, _, err := b.describe(ctx, l)
		if err != nil {
			return err
		}
		b.linkStateCache[l.Name] = details.OperationalState
	}

	logger.WithField("links", len(links)).Debug("Link state cache initialized")
	return nil
}

// TriggerAll synthesizes one event per existing link from its current state
// and feeds it through the normal dispatch path. A link that cannot be
// described is reported and skipped; the pass continues.
func (b *Broker) TriggerAll(ctx context.Context) error {
	links, err := b.directory.ListLinks(ctx)
	if err != nil {
		return err
	}

	for _, l := range links {
		logger.WithField("iface", l.Name).Info("run-startup-triggers")

		details, raw, err := b.describe(ctx, l)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"iface": l.Name,
				"error": err,
			}).Warn("Cannot get link state, skipping startup trigger")
			continue
		}

		event := &link.Event{
			Iface:       l.Name,
			State:       details.OperationalState,
			Path:        l.Path,
			Details:     details,
			DetailsJSON: raw,
		}

		if err := b.respond(event); err != nil {
			logger.WithError(err).Warn("Startup trigger dispatch failed")
		}
	}

	logger.Info("Finished 'run-startup-triggers'")
	return nil
}

// Listen processes notifications until the context is cancelled or the
// subscription is lost. Every per-event failure is recovered locally.
func (b *Broker) Listen(ctx context.Context, sub link.Subscription) error {
	notifyReady()

	logger.Info("Start listening for link event...")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case notif, ok := <-sub.Notifications():
			if !ok {
				return ErrSubscriptionLost
			}
			b.handle(ctx, notif)
		}
	}
}

// handle converts and dispatches one notification. Never fails the loop.
func (b *Broker) handle(ctx context.Context, notif link.Notification) {
	describeCtx, cancel := context.WithTimeout(ctx, b.opts.DescribeTimeout)
	defer cancel()

	event, err := link.EventFromNotification(describeCtx, notif, b.directory)
	if err != nil {
		logger.WithError(err).Debug("Discarding notification")
		return
	}

	logger.WithFields(logrus.Fields{
		"iface": event.Iface,
		"state": event.State,
	}).Debug("Link event")

	if previous, ok := b.linkStateCache[event.Iface]; ok {
		if previous == event.State {
			logger.Debug("Skip event, no change in OperationalState")
			return
		}
		b.linkStateCache[event.Iface] = event.State
	} else {
		b.linkStateCache[event.Iface] = event.State
	}

	if b.opts.Enrich != nil {
		b.opts.Enrich(describeCtx, event.Iface, event.Details)
	}

	if err := b.respond(event); err != nil {
		logger.WithError(err).Warn("Event dispatch failed")
	}
}

// respond discovers the hooks for an event's state and queues one job per
// script. A submit failure is logged and does not block subsequent scripts.
func (b *Broker) respond(event *link.Event) error {
	logger.WithFields(logrus.Fields{
		"state": event.State,
		"iface": event.Iface,
	}).Info("Respond to link event")

	scripts, err := b.discovery.ScriptsFor(event.State)
	if err != nil {
		return err
	}

	if len(scripts) == 0 {
		logger.WithField("dir", b.discovery.StateDir(event.State)).Debug("No hook script for state")
		return nil
	}

	envs := script.NewEnvironments().PackFromEvent(event, b.opts.IncludeJSON)

	for _, s := range scripts {
		job := launcher.Job{
			Path:    s.Path,
			Args:    []string{event.State, event.Iface},
			Env:     envs,
			NoWait:  s.NoWait,
			Timeout: b.opts.Timeout,
		}

		if err := b.launcher.Submit(job); err != nil {
			logger.WithFields(logrus.Fields{
				"script": s.Path,
				"error":  err,
			}).Warn("Submit failed")
		}
	}

	return nil
}

// CachedState returns the last dispatched state for an interface.
func (b *Broker) CachedState(iface string) (string, bool) {
	state, ok := b.linkStateCache[iface]
	return state, ok
}

func (b *Broker) describe(ctx context.Context, l link.Link) (*link.Details, string, error) {
	describeCtx, cancel := context.WithTimeout(ctx, b.opts.DescribeTimeout)
	defer cancel()

	raw, err := b.directory.DescribeLink(describeCtx, l.Index)
	if err != nil {
		return nil, "", err
	}

	details, err := link.ParseDetails(raw)
	if err != nil {
		return nil, "", err
	}

	if b.opts.Enrich != nil {
		b.opts.Enrich(describeCtx, l.Name, details)
	}

	return details, raw, nil
}

// notifyReady tells systemd we are up. A missing NOTIFY_SOCKET is not an
// error; the daemon also runs outside a unit.
func notifyReady() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.WithError(err).Warn("sd_notify failed")
		return
	}
	_, _ = daemon.SdNotify(false, "STATUS=Listening for link events")
}
